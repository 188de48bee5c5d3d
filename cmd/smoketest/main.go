package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/myrjola/callagent/internal/e2etest"
	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/logging"
	"github.com/myrjola/callagent/internal/models"
)

// TestInvestigationLifecycle creates a draft investigation and reads its
// results back. It does not start calls, so it is safe against production.
func TestInvestigationLifecycle(client *e2etest.Client) error {
	ctx := context.Background()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second) //nolint:mnd // 10 seconds
	defer cancel()
	var err error

	if err = client.Healthy(ctx); err != nil {
		return errors.Wrap(err, "health check")
	}

	var investigationID string
	if investigationID, err = client.CreateInvestigation(ctx,
		"Smoke test requirement, do not call", 1,
		[]models.ContactInput{{Name: "Smoke Test", Phone: "+10000000000", Language: "english"}},
	); err != nil {
		return errors.Wrap(err, "create investigation")
	}
	if _, err = client.Results(ctx, investigationID); err != nil {
		return errors.Wrap(err, "fetch results")
	}
	return nil
}

func main() {
	loggerHandler := logging.NewContextHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource:   false,
		Level:       slog.LevelDebug,
		ReplaceAttr: nil,
	}))
	logger := slog.New(loggerHandler)
	ctx := context.Background()

	if len(os.Args) != 2 { //nolint:mnd // we expect only the base URL to be passed as argument.
		logger.LogAttrs(ctx, slog.LevelError, "usage: smoketest <base-url>")
		os.Exit(1)
	}

	url := os.Args[1]
	ctx = logging.WithAttrs(ctx, slog.String("url", url))
	client := e2etest.NewClient(url)

	if err := client.WaitForReady(ctx, "/api/healthy"); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "server not ready", errors.SlogError(err))
		os.Exit(1)
	}
	if err := TestInvestigationLifecycle(client); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error testing investigation lifecycle", errors.SlogError(err))
		os.Exit(1)
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "Smoke test successful 🙌")
	os.Exit(0)
}
