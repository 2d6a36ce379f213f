package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"referral-bot/internal/bot"
	"referral-bot/internal/config"
	"referral-bot/internal/database"
	"referral-bot/internal/logging"
	"referral-bot/internal/metrics"
	"referral-bot/internal/session"
	"referral-bot/internal/worker"
	"referral-bot/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(cfg, logger)
	if err != nil {
		logger.Error("could not connect to database", "error", err)
		os.Exit(1)
	}

	rdb, err := database.ConnectRedis(ctx, cfg, logger)
	if err != nil {
		logger.Error("could not connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := database.NewStore(db, cfg.RetryAttempts)

	svc := workflow.NewService(store, cfg.Tiers, workflow.Options{
		AllowNegativeBalance: cfg.AllowNegativeBalance,
		RetryAttempts:        cfg.RetryAttempts,
		BroadcastConcurrency: cfg.BroadcastConcurrency,
		BroadcastRate:        cfg.BroadcastRate,
	}, logger)

	tgBot, err := bot.NewBot(cfg.BotToken, svc, session.NewRedisStore(rdb, cfg.SessionTTL), cfg.AdminIDs, logger)
	if err != nil {
		logger.Error("could not create bot", "error", err)
		os.Exit(1)
	}
	svc.SetDeliverer(tgBot)

	reconciler := worker.NewReconciler(store, rdb, cfg.ReconcileInterval, logger)
	go reconciler.Start(ctx)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, cfg.MetricsAllowedCIDRs)
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	logger.Info("service started", "tiers", cfg.Tiers.String(), "admins", len(cfg.AdminIDs))

	if err := tgBot.Start(ctx); err != nil {
		logger.Error("bot stopped unexpectedly", "error", err)
		stop()
	}
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", "error", err)
	}
}
