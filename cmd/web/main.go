package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/myrjola/callagent/db"
	"github.com/myrjola/callagent/internal/ai"
	"github.com/myrjola/callagent/internal/envstruct"
	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/feed"
	"github.com/myrjola/callagent/internal/logging"
	"github.com/myrjola/callagent/internal/orchestrator"
	"github.com/myrjola/callagent/internal/pprofserver"
	"github.com/myrjola/callagent/internal/repositories"
	"github.com/myrjola/callagent/internal/runner"
	"github.com/myrjola/callagent/internal/telephony"
)

type config struct {
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
}

type application struct {
	logger         *slog.Logger
	investigations *repositories.InvestigationRepository
	calls          *repositories.CallRepository
	tailer         *feed.Tailer
	orchestrator   *orchestrator.Orchestrator
	aiClient       ai.Client
}

func main() {
	addr := flag.String("addr", "localhost:4000", "HTTP network address")
	pprofPort := flag.String("pprof-port", ":6060", "Port for pprof listening on localhost")
	dbURL := flag.String("sqlite-url", "./callagent.sqlite", "SQLite URL")
	flag.Parse()

	logger := slog.New(logging.NewContextHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	})))
	ctx := context.Background()

	// Initialise pprof listening on localhost so that it's not open to the world
	pprofserver.Launch(*pprofPort, logger)

	if err := godotenv.Load(); err != nil {
		logger.LogAttrs(ctx, slog.LevelWarn, "no .env file loaded", errors.SlogError(err))
	}

	var cfg config
	if err := envstruct.Populate(&cfg, os.LookupEnv); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "parse configuration", errors.SlogError(err))
		os.Exit(1)
	}
	var telephonyConfig telephony.Config
	if err := envstruct.Populate(&telephonyConfig, os.LookupEnv); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "parse telephony configuration", errors.SlogError(err))
		os.Exit(1)
	}

	dbs, err := db.NewDatabase(ctx, *dbURL, logger)
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "connect database", errors.SlogError(err))
		os.Exit(1)
	}
	defer dbs.Close()
	logger.LogAttrs(ctx, slog.LevelInfo, "connected to db", slog.String("url", *dbURL))

	notifier := feed.NewNotifier()
	go notifier.Start()
	defer notifier.Stop()

	events := repositories.NewEventLogRepository(dbs, logger)
	events.OnAppend(notifier.Notify)
	calls := repositories.NewCallRepository(dbs, events, logger)
	investigations := repositories.NewInvestigationRepository(dbs, events, logger)

	telephonyClient := telephony.NewClient(telephonyConfig, logger)
	aiClient := ai.NewClient(cfg.OpenAIAPIKey)
	callRunner := runner.New(telephonyClient, telephonyClient, &aiClient, calls, runner.DefaultConfig(), logger)

	app := application{
		logger:         logger,
		investigations: investigations,
		calls:          calls,
		tailer:         feed.NewTailer(events, notifier, logger),
		orchestrator:   orchestrator.New(investigations, calls, callRunner, orchestrator.DefaultRetryPolicy(), logger),
		aiClient:       aiClient,
	}

	if err = app.configureAndStartServer(ctx, *addr); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "server exited", errors.SlogError(err))
		os.Exit(1)
	}
}
