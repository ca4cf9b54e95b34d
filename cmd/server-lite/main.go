// Package main provides the standalone entry point for the report tracking
// server. It needs no external services: state lives in a SQLite file and
// notifications are written to the log.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/api"
	"github.com/report-tracking-server/internal/config"
	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/events"
	"github.com/report-tracking-server/internal/metrics"
	"github.com/report-tracking-server/internal/notification"
	"github.com/report-tracking-server/internal/repository"
	"github.com/report-tracking-server/internal/tracking"
)

func main() {
	cfg := config.LoadLiteConfig()
	logger := config.NewLogger(domain.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := cfg.EnsureDataDir(); err != nil {
		logger.WithError(err).Fatal("Failed to create data directory")
	}

	sqlite, err := repository.NewSQLiteStore(cfg.DatabasePath(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open tracking database")
	}
	store := repository.NewCachedStore(sqlite, cfg.CacheMaxItems, cfg.CacheTTL, logger)
	defer store.Close()

	bus := events.NewBus(logger)
	defer bus.Close()
	m := metrics.New()

	engine := tracking.NewEngine(store, notification.NewLogMailer(logger), logger, tracking.Options{
		Events:   bus,
		Recorder: m,
	})
	server := api.NewServer(api.Options{
		Server: domain.ServerConfig{
			Host:           cfg.HTTPHost,
			Port:           cfg.HTTPPort,
			RequestTimeout: cfg.RequestTimeout,
		},
		Auth: domain.AuthConfig{
			JWTSecret:       cfg.JWTSecret,
			AllowUserHeader: cfg.AllowUserHeader,
		},
		Engine:  engine,
		Events:  bus,
		Metrics: m,
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"data_dir": cfg.DataDir,
		"port":     cfg.HTTPPort,
	}).Info("Starting report tracking server (lite)")
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Report tracking server (lite) stopped")
}
