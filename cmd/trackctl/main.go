// Command trackctl administers a report tracking deployment: schema
// migrations, state definition and hook import, tracking generation and
// manual check-ins.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/report-tracking-server/internal/config"
	"github.com/report-tracking-server/internal/database"
	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/notification"
	"github.com/report-tracking-server/internal/repository"
	"github.com/report-tracking-server/internal/tracking"
)

var Version = "dev"

type globalFlags struct {
	configFile string
	sqlitePath string
	jsonOutput bool
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "trackctl",
		Short:         "Administer the report tracking server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (default: config.yaml search paths)")
	root.PersistentFlags().StringVar(&flags.sqlitePath, "sqlite", "", "use the SQLite database at this path instead of PostgreSQL")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "print JSON instead of tables")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		migrateCmd(flags),
		definitionsCmd(flags),
		hooksCmd(flags),
		generateCmd(flags),
		statesCmd(flags),
		checkinCmd(flags),
		tokenCmd(flags),
	)
	return root
}

func (f *globalFlags) loadConfig() (*domain.Config, *logrus.Logger, error) {
	manager, err := config.NewManager(f.configFile)
	if err != nil {
		return nil, nil, err
	}
	cfg := manager.GetConfig()
	logging := cfg.Logging
	logging.Level = f.logLevel
	logging.Format = "text"
	logging.Output = "stderr"
	return cfg, config.NewLogger(logging), nil
}

// withEngine opens the configured store, builds a tracking engine with a log
// mailer and runs fn
func (f *globalFlags) withEngine(ctx context.Context, fn func(ctx context.Context, e *tracking.Engine) error) error {
	cfg, logger, err := f.loadConfig()
	if err != nil {
		return err
	}

	var store domain.Store
	if f.sqlitePath != "" {
		s, err := repository.NewSQLiteStore(f.sqlitePath, logger)
		if err != nil {
			return err
		}
		store = s
	} else {
		db, err := database.NewConnection(ctx, database.ConfigFrom(cfg.Database), logger)
		if err != nil {
			return err
		}
		defer db.Close()
		store = repository.NewPostgresStore(db, logger)
	}
	defer store.Close()

	return fn(ctx, tracking.NewEngine(store, notification.NewLogMailer(logger), logger, tracking.Options{}))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
