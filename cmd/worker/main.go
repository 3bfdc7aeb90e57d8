package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"settlement-engine/config"
	"settlement-engine/internal/bootstrap"
	"settlement-engine/internal/service"
	"settlement-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("SETTLE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty, "settlement-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, "settlement-worker", log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect dependencies")
	}
	defer infra.Close()

	if pending, err := infra.Queue.Len(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not read reconcile queue length")
	} else {
		log.Info().Int64("pending", pending).Msg("Reconcile queue loaded")
	}

	svcs := bootstrap.NewServices(infra, cfg, log)
	worker := service.NewReconcileWorker(
		infra.Queue,
		infra.Gateway,
		svcs.Orders,
		svcs.Ledger,
		infra.Notifier,
		bootstrap.ReconcileOptions(cfg.Reconcile),
		log,
	)

	if err := worker.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Reconcile worker stopped with error")
	}
	log.Info().Msg("Worker exited")
}
