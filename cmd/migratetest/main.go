package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/myrjola/callagent/db"
	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/testhelpers"
)

// Opens an existing database file and runs the declarative schema migration
// against it. Meant to be pointed at a copy of a production database before
// deploying a schema change.
func main() {
	logger := testhelpers.NewLogger(os.Stdout)
	var (
		err       error
		start     = time.Now()
		ctx       context.Context
		sqliteURL string
		ok        bool
		cancel    context.CancelFunc
	)
	ctx = context.Background()
	ctx, cancel = context.WithTimeout(ctx, 5*time.Second) //nolint:mnd // 5 seconds

	if sqliteURL, ok = os.LookupEnv("CALLAGENT_SQLITE_URL"); !ok {
		logger.LogAttrs(ctx, slog.LevelError, "CALLAGENT_SQLITE_URL not set")
		os.Exit(1)
	}

	var dbs *db.Database
	if dbs, err = db.NewDatabase(ctx, sqliteURL, logger); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error creating database",
			slog.String("url", sqliteURL), errors.SlogError(err))
		os.Exit(1)
	}

	// Count the appended events as a simple smoke test that the migrated
	// schema still serves the hot path.
	row := dbs.ReadWrite.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log`)
	var count int
	if err = row.Scan(&count); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error fetching event count", errors.SlogError(err))
		os.Exit(1)
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "event count", slog.Int("count", count))

	logger.LogAttrs(ctx, slog.LevelInfo, "Migration test successful 🙌", slog.Duration("duration", time.Since(start)))
	cancel()
	os.Exit(0)
}
