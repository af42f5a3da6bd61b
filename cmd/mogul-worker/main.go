package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mogul/internal/config"
	"mogul/internal/db"
	"mogul/internal/econ"
	"mogul/internal/metrics"
	"mogul/internal/store"
)

// The worker runs the two periodic jobs: market-wide price fluctuation
// and the overdue-loan late fee sweep. Each job is idempotent per tick
// and a tick never overlaps itself; the two jobs are independent.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	ledger := store.NewPostgres(pool)
	if err := ledger.EnsureSchema(ctx); err != nil {
		logger.Error("schema init failed", "err", err)
		os.Exit(1)
	}
	engine := econ.NewService(ledger, logger, metrics.New())

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("MOGUL_WORKER_RUN_ONCE")), "true")
	if runOnce {
		if _, err := engine.Fluctuate(ctx); err != nil {
			logger.Error("fluctuation failed", "err", err)
			os.Exit(1)
		}
		if _, err := engine.AccrueLateFees(ctx); err != nil {
			logger.Error("late fee sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	fluctuate := time.NewTicker(cfg.FluctuateEvery)
	defer fluctuate.Stop()
	lateFees := time.NewTicker(cfg.LateFeeEvery)
	defer lateFees.Stop()

	logger.Info("worker started",
		"fluctuate_every", cfg.FluctuateEvery.String(),
		"late_fees_every", cfg.LateFeeEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-fluctuate.C:
			moves, err := engine.Fluctuate(ctx)
			if err != nil {
				logger.Error("fluctuation failed", "err", err)
				continue
			}
			logger.Info("fluctuation tick complete", "stocks", len(moves))
		case <-lateFees.C:
			updated, err := engine.AccrueLateFees(ctx)
			if err != nil {
				logger.Error("late fee sweep failed", "err", err)
				continue
			}
			logger.Info("late fee sweep complete", "loans_updated", updated)
		}
	}
}
