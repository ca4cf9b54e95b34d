package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/report-tracking-server/internal/api"
	"github.com/report-tracking-server/internal/database"
	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/tracking"
)

func migrateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations",
	}

	withRunner := func(fn func(ctx context.Context, mr *database.MigrationRunner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if flags.sqlitePath != "" {
				return errors.New("migrations apply to PostgreSQL only; the SQLite schema is created on open")
			}
			cfg, logger, err := flags.loadConfig()
			if err != nil {
				return err
			}
			mr, err := database.NewMigrationRunner(database.ConfigFrom(cfg.Database).URL(), cfg.Database.MigrationsPath, logger)
			if err != nil {
				return err
			}
			defer mr.Close()
			return fn(cmd.Context(), mr)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withRunner(func(ctx context.Context, mr *database.MigrationRunner) error {
				return mr.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: withRunner(func(ctx context.Context, mr *database.MigrationRunner) error {
				return mr.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: withRunner(func(ctx context.Context, mr *database.MigrationRunner) error {
				version, dirty, err := mr.Version()
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(map[string]interface{}{"version": version, "dirty": dirty})
				}
				fmt.Printf("version %d (dirty: %t)\n", version, dirty)
				return nil
			}),
		},
	)
	return cmd
}

func hooksCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect status hooks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withEngine(cmd.Context(), func(ctx context.Context, e *tracking.Engine) error {
				hooks, err := e.Hooks.List(ctx)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(hooks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Ident", "Name", "State", "Status", "Task", "Action", "Target", "Enabled"})
				for _, h := range hooks {
					task := ""
					if h.TaskName != nil {
						task = *h.TaskName
					}
					tw.AppendRow(table.Row{h.Ident, h.Name, h.StateName, h.Status, task, h.Action, h.Target, h.Enabled})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func generateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <analysis-ident> [definition-slug...]",
		Short: "Create tracking states for an analysis",
		Long: "Create tracking states for an analysis. With no slugs every visible " +
			"state definition is generated; otherwise only the named ones.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withEngine(cmd.Context(), func(ctx context.Context, e *tracking.Engine) error {
				analysis, err := e.Store().Analyses().GetByIdent(ctx, args[0])
				if err != nil {
					return fmt.Errorf("analysis %s: %w", args[0], err)
				}

				var states []*domain.State
				if len(args) == 1 {
					states, err = e.Generator.GenerateAll(ctx, analysis.ID, nil)
				} else {
					targets := make([]domain.NextStateTarget, 0, len(args)-1)
					for _, slug := range args[1:] {
						targets = append(targets, domain.NextStateTarget{Slug: slug})
					}
					states, err = e.Generator.GenerateTrackingStates(ctx, analysis.ID, targets, nil)
				}
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(states)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "generated %d states for analysis %s\n", len(states), analysis.Ident)
				return nil
			})
		},
	}
}

func statesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "states <analysis-ident>",
		Short: "Show the tracking states and tasks of an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withEngine(cmd.Context(), func(ctx context.Context, e *tracking.Engine) error {
				states, err := e.States.ListByAnalysis(ctx, args[0])
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(states)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"State", "Status", "Task", "Task Status", "Check-ins", "Ident"})
				for _, s := range states {
					tw.AppendRow(table.Row{s.Slug, s.Status, "", "", "", s.Ident})
					for _, t := range s.Tasks {
						progress := fmt.Sprintf("%d/%d", len(t.Checkins), t.CheckInsTarget)
						tw.AppendRow(table.Row{"", "", t.Slug, t.Status, progress, t.Ident})
					}
					tw.AppendSeparator()
				}
				tw.Render()
				return nil
			})
		},
	}
}

func checkinCmd(flags *globalFlags) *cobra.Command {
	var (
		username string
		outcome  string
		override bool
	)
	cmd := &cobra.Command{
		Use:   "checkin <task-ident>",
		Short: "Check in a task on behalf of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withEngine(cmd.Context(), func(ctx context.Context, e *tracking.Engine) error {
				user, err := e.Store().Users().GetByUsername(ctx, username)
				if errors.Is(err, domain.ErrNotFound) {
					return domain.NewError(domain.KindUserNotFound, "unable to find user %q", username)
				}
				if err != nil {
					return err
				}
				task, err := e.Tasks.GetTask(ctx, args[0])
				if err != nil {
					return err
				}

				result, err := e.Tasks.CheckIn(ctx, task, user, parseOutcome(outcome), override, true)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "task %s is %s (%d/%d check-ins)\n",
					result.Slug, result.Status, len(result.Checkins), result.CheckInsTarget)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username checking in")
	cmd.Flags().StringVar(&outcome, "outcome", "", "outcome value; JSON literals are decoded")
	cmd.Flags().BoolVar(&override, "override", false, "allow check-ins beyond the target")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// parseOutcome decodes s as JSON when it is a JSON literal and otherwise
// passes it through as a string. An empty flag means no outcome.
func parseOutcome(s string) interface{} {
	if s == "" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func tokenCmd(flags *globalFlags) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Issue an API bearer token for a user ident or username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}
			token, err := api.IssueToken(cfg.Auth, args[0], ttl)
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
