package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/scipush/scipush/internal/app"
	"github.com/scipush/scipush/internal/platform/config"
	"github.com/scipush/scipush/internal/storage"
	"github.com/scipush/scipush/internal/storage/postgres"
	"github.com/scipush/scipush/internal/storage/sqlite"
)

func main() {
	mode := flag.String("mode", "serve", "Run mode (serve, run-once, fetch-only, process-pending)")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	application, err := app.New(cfg, store, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire application")
	}

	if *mode == "serve" {
		go func() {
			if err := application.StartHealthServer(ctx); err != nil {
				logger.Error().Err(err).Msg("health check server error")
			}
		}()
	}

	if err := runMode(ctx, application, *mode); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")

			return
		}

		logger.Fatal().Err(err).Msg("application error")
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (storage.Store, error) {
	if strings.ToLower(cfg.StorageBackend) == config.BackendPostgres {
		return postgres.New(ctx, cfg.PostgresDSN, logger)
	}

	return sqlite.Open(ctx, cfg.SQLitePath)
}

func runMode(ctx context.Context, application *app.App, mode string) error {
	switch mode {
	case "serve":
		return application.RunServe(ctx)
	case "run-once":
		return application.RunOnce(ctx)
	case "fetch-only":
		return application.RunFetchOnly(ctx)
	case "process-pending":
		return application.RunProcessPending(ctx)
	default:
		log.Fatalf("Usage: %s --mode=[serve|run-once|fetch-only|process-pending]", os.Args[0])

		return nil
	}
}
