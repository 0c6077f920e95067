package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerbridge/ledgerbridge/internal/app"
	"github.com/ledgerbridge/ledgerbridge/internal/booking"
	"github.com/ledgerbridge/ledgerbridge/internal/coordinator"
	"github.com/ledgerbridge/ledgerbridge/internal/journal"
	"github.com/ledgerbridge/ledgerbridge/internal/ledger"
	"github.com/ledgerbridge/ledgerbridge/internal/numbering"
	"github.com/ledgerbridge/ledgerbridge/internal/observability"
	"github.com/ledgerbridge/ledgerbridge/internal/platform/cache"
	"github.com/ledgerbridge/ledgerbridge/internal/platform/db"
	"github.com/ledgerbridge/ledgerbridge/internal/posting"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
		logger.Warn("no ledger bridge configured, postings stay local")
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

	metrics := observability.NewMetrics()
	postingService := posting.NewService(journal.NewRepository(dbpool), base, logger, metrics)
	postingHandler := posting.NewHandler(logger, postingService)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		PostingHandler: postingHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
