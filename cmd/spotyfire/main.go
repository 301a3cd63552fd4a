package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pireu2/spotyfire-backend/internal/adapter/earthengine"
	"github.com/pireu2/spotyfire-backend/internal/adapter/firms"
	"github.com/pireu2/spotyfire-backend/internal/adapter/httpapi"
	kafkaadapter "github.com/pireu2/spotyfire-backend/internal/adapter/kafka"
	"github.com/pireu2/spotyfire-backend/internal/adapter/stackauth"
	"github.com/pireu2/spotyfire-backend/internal/config"
	"github.com/pireu2/spotyfire-backend/internal/estimator"
	"github.com/pireu2/spotyfire-backend/internal/monitor"
	"github.com/pireu2/spotyfire-backend/internal/observability"
	"github.com/pireu2/spotyfire-backend/internal/storage"
)

func main() {
	// A missing .env is fine in deployed environments.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	db, err := storage.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := storage.AutoMigrate(db); err != nil {
		logger.Error("schema migration failed", "error", err)
		os.Exit(1)
	}
	store := storage.NewStore(db)

	imagery := earthengine.NewClient(cfg.EEKeyPath, cfg.EEBaseURL, cfg.EEServiceArea, cfg.EETimeout, logger, metrics)
	est := estimator.New(imagery, cfg.ChangeRatioThreshold, logger, metrics)
	fireSource := firms.NewClient(cfg.FIRMSAPIKey, cfg.FIRMSSource, cfg.FIRMSBaseURL, cfg.FIRMSTimeout, logger, metrics)
	directory := stackauth.NewClient(cfg.StackProjectID, cfg.StackSecretServerKey, cfg.StackBaseURL, cfg.StackTimeout, logger)

	var dispatcher monitor.Dispatcher
	var notifier *kafkaadapter.Notifier
	if cfg.NotificationsEnabled {
		notifier = kafkaadapter.NewNotifier(cfg, logger)
		dispatcher = notifier
		logger.Info("kafka notifications enabled", "topic", cfg.KafkaNotificationsTopic)
	} else {
		dispatcher = &monitor.LogDispatcher{Logger: logger}
		logger.Info("kafka notifications disabled")
	}

	mon := monitor.New(store, store, directory, dispatcher, logger, metrics,
		nil, cfg.MonitorInterval, cfg.ProximityFloorKm)

	srv := httpapi.NewServer(cfg, store, est, fireSource, mon, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := mon.Run(ctx); err != nil {
			logger.Error("alert monitor error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Error("kafka notifier close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
