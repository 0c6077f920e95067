package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/ledgerbridge/ledgerbridge/internal/app"
	"github.com/ledgerbridge/ledgerbridge/internal/booking"
	"github.com/ledgerbridge/ledgerbridge/internal/coordinator"
	"github.com/ledgerbridge/ledgerbridge/internal/journal"
	"github.com/ledgerbridge/ledgerbridge/internal/ledger"
	"github.com/ledgerbridge/ledgerbridge/internal/numbering"
	"github.com/ledgerbridge/ledgerbridge/internal/platform/cache"
	"github.com/ledgerbridge/ledgerbridge/internal/platform/db"
	"github.com/ledgerbridge/ledgerbridge/internal/posting"
	"github.com/ledgerbridge/ledgerbridge/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var factory ledger.Factory
	if cfg.LedgerBridgeURL != "" {
		factory = ledger.NewGateway(cfg.LedgerBridgeURL, logger)
	} else {
		logger.Warn("no ledger bridge configured, replays stay local")
		factory = ledger.NopFactory()
	}

	base := coordinator.Config{
		Registry:              numbering.NewRedisRegistry(redisClient, "ledgerbridge:numbering"),
		Lock:                  numbering.NewRedisLock(redisClient, cfg.PostingLockKey, cfg.PostingLockTTL),
		Ledger:                factory,
		Rules:                 booking.Rules{AmountEpsilon: cfg.AmountEpsilon},
		Logger:                logger,
		SupplierAccountOffset: cfg.SupplierAccountOffset,
		CustomerAccountOffset: cfg.CustomerAccountOffset,
	}
	postingService := posting.NewService(journal.NewRepository(pool), base, logger, nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypePostingReplay, Handler: jobs.NewPostingReplayHandler(postingService, logger)},
		},
	})
	if err != nil {
		logger.Error("configure worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
