package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rl1809/order-pipeline/internal/app"
	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/logging"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}

	a, err := app.New(cfg, infra, log)
	if err != nil {
		infra.Close()
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
}
