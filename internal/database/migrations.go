package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// MigrationRunner applies the tracking schema migrations
type MigrationRunner struct {
	migrate *migrate.Migrate
	log     *logrus.Logger
}

// migrateLogger routes golang-migrate output through logrus
type migrateLogger struct {
	log *logrus.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debugf("migrate: "+strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool {
	return l.log.IsLevelEnabled(logrus.DebugLevel)
}

// NewMigrationRunner creates a migration runner for the migrations directory
// at migrationsPath against databaseURL
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsPath),
		databaseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}
	m.Log = migrateLogger{log: logger}

	return &MigrationRunner{
		migrate: m,
		log:     logger,
	}, nil
}

// Up applies all pending migrations. Cancelling ctx stops after the
// migration in progress.
func (mr *MigrationRunner) Up(ctx context.Context) error {
	mr.log.Info("Running database migrations up")
	return mr.run(ctx, "up", mr.migrate.Up)
}

// Down rolls back one migration
func (mr *MigrationRunner) Down(ctx context.Context) error {
	mr.log.Info("Rolling back one migration")
	return mr.run(ctx, "down", func() error { return mr.migrate.Steps(-1) })
}

func (mr *MigrationRunner) run(ctx context.Context, direction string, step func() error) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mr.migrate.GracefulStop <- true
		case <-done:
		}
	}()

	if err := step(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mr.log.WithField("direction", direction).Info("No migrations to apply")
			return nil
		}
		return fmt.Errorf("running migrations %s: %w", direction, err)
	}

	version, dirty, err := mr.migrate.Version()
	if err != nil {
		mr.log.WithError(err).Warnf("Could not get migration version after %s", direction)
		return nil
	}
	mr.log.WithFields(logrus.Fields{
		"direction": direction,
		"version":   version,
		"dirty":     dirty,
	}).Info("Migrations applied")
	return nil
}

// Version returns the current migration version
func (mr *MigrationRunner) Version() (uint, bool, error) {
	return mr.migrate.Version()
}

// Close closes the migration runner
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database: %w", dbErr)
	}
	return nil
}
