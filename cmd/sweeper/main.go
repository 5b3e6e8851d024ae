package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"creatorhub/internal/adapter"
	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
	"creatorhub/internal/jobs"
	"creatorhub/internal/notify"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "sweeper").Logger()

	if cfg.StoreDriver == infra.StoreMemory {
		logger.Fatal().Msg("sweeper: the memory store is process local, run the sweeper inside the api with SWEEPER_ENABLED=true")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := adapter.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: failed to open store")
	}
	defer stores.Close()

	var notifier domain.Notifier = notify.NewLog(logger)
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.Multi{notifier, notify.NewHTTP(cfg.NotifyWebhookURL, &http.Client{Timeout: 10 * time.Second})}
	}

	sweeper := jobs.NewSweeper(stores.Jobs, notifier, cfg.JobStaleAfter, cfg.SweepInterval, logger)
	if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("sweeper: stopped with error")
	}
	logger.Info().Msg("sweeper: stopped")
}
