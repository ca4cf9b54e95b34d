package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/api"
	"github.com/report-tracking-server/internal/config"
	"github.com/report-tracking-server/internal/database"
	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/events"
	"github.com/report-tracking-server/internal/metrics"
	"github.com/report-tracking-server/internal/notification"
	"github.com/report-tracking-server/internal/repository"
	"github.com/report-tracking-server/internal/tracking"
)

func main() {
	// Load configuration; REPORT_TRACKING_CONFIG names an explicit file
	configManager, err := config.NewManager(os.Getenv("REPORT_TRACKING_CONFIG"))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()
	logger := config.NewLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) error {
	dbConfig := database.ConfigFrom(cfg.Database)
	db, err := database.NewConnection(ctx, dbConfig, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		runner, err := database.NewMigrationRunner(dbConfig.URL(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			return err
		}
		err = runner.Up(ctx)
		runner.Close()
		if err != nil {
			return err
		}
	}

	var store domain.Store = repository.NewPostgresStore(db, logger)
	store = repository.NewCachedStore(store, cfg.Cache.DefinitionItems, cfg.Cache.DefinitionTTL, logger)
	defer store.Close()

	mailer, err := notification.NewMailer(cfg.Notification, logger)
	if err != nil {
		return err
	}

	bus := events.NewBus(logger)
	defer bus.Close()
	var publisher domain.EventPublisher = bus
	if cfg.Cache.RedisURL != "" {
		relay, err := events.NewRedisRelay(cfg.Cache, bus, logger)
		if err != nil {
			return err
		}
		defer relay.Close()
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.WithError(err).Error("Event relay stopped")
			}
		}()
		publisher = relay
	}

	opts := tracking.Options{
		Events:     publisher,
		HTTPClient: &http.Client{Timeout: cfg.Notification.WebhookTimeout},
	}
	var m *metrics.Tracking
	if cfg.Server.EnableMetrics {
		m = metrics.New()
		opts.Recorder = m
	}
	engine := tracking.NewEngine(store, mailer, logger, opts)

	server := api.NewServer(api.Options{
		Server:  cfg.Server,
		Auth:    cfg.Auth,
		Engine:  engine,
		Events:  bus,
		Metrics: m,
		Logger:  logger,
	})

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
		"mailer":      cfg.Notification.Mode,
		"redis":       cfg.Cache.RedisURL != "",
	}).Info("Starting report tracking server")
	return server.Start(ctx)
}
