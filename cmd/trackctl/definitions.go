package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/report-tracking-server/internal/domain"
	"github.com/report-tracking-server/internal/tracking"
)

// workflowFile is the YAML document imported by `definitions import`
type workflowFile struct {
	Definitions []definitionEntry `yaml:"definitions"`
	Hooks       []hookEntry       `yaml:"hooks"`
}

type definitionEntry struct {
	Slug              string                  `yaml:"slug"`
	Name              string                  `yaml:"name"`
	Ordinal           int                     `yaml:"ordinal"`
	Description       string                  `yaml:"description"`
	Hidden            bool                    `yaml:"hidden"`
	Group             string                  `yaml:"group"` // group ident
	Tasks             []domain.TaskDefinition `yaml:"tasks"`
	NextStateOnStatus domain.NextStateMap     `yaml:"next_state_on_status"`
}

type hookEntry struct {
	Name      string             `yaml:"name"`
	StateName string             `yaml:"state_name"`
	Status    string             `yaml:"status"`
	TaskName  string             `yaml:"task_name"`
	Enabled   *bool              `yaml:"enabled"`
	Action    domain.HookAction  `yaml:"action"`
	Target    string             `yaml:"target"`
	Payload   domain.HookPayload `yaml:"payload"`
}

func (d definitionEntry) definition() *domain.StateDefinition {
	return &domain.StateDefinition{
		Slug:              d.Slug,
		Name:              d.Name,
		Ordinal:           d.Ordinal,
		Description:       d.Description,
		Hidden:            d.Hidden,
		Tasks:             d.Tasks,
		NextStateOnStatus: d.NextStateOnStatus,
	}
}

func (h hookEntry) hook() *domain.Hook {
	hook := &domain.Hook{
		Name:      h.Name,
		StateName: h.StateName,
		Status:    h.Status,
		Enabled:   h.Enabled == nil || *h.Enabled,
		Action:    h.Action,
		Target:    h.Target,
		Payload:   h.Payload,
	}
	if h.TaskName != "" {
		name := h.TaskName
		hook.TaskName = &name
	}
	return hook
}

func loadWorkflowFile(path string) (*workflowFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	var wf workflowFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &wf, nil
}

// importResult counts what an import did
type importResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Hooks   int `json:"hooks"`
}

// importWorkflow creates missing definitions and hooks. Existing definitions
// are left alone unless update is set. Hooks are matched by name.
func importWorkflow(ctx context.Context, e *tracking.Engine, wf *workflowFile, update bool) (importResult, error) {
	var res importResult
	for _, entry := range wf.Definitions {
		def, err := importDefinition(ctx, e, entry, update, &res)
		if err != nil {
			return res, err
		}
		if entry.Group != "" {
			if _, err := e.Definitions.UpdateGroup(ctx, def, entry.Group); err != nil {
				return res, err
			}
		}
	}

	existing, err := e.Hooks.List(ctx)
	if err != nil {
		return res, err
	}
	names := make(map[string]bool, len(existing))
	for _, h := range existing {
		names[h.Name] = true
	}
	for _, entry := range wf.Hooks {
		if names[entry.Name] {
			continue
		}
		if _, err := e.Hooks.Create(ctx, entry.hook()); err != nil {
			return res, err
		}
		names[entry.Name] = true
		res.Hooks++
	}
	return res, nil
}

func importDefinition(ctx context.Context, e *tracking.Engine, entry definitionEntry, update bool, res *importResult) (*domain.StateDefinition, error) {
	current, err := e.Definitions.Get(ctx, entry.Slug)
	if errors.Is(err, domain.ErrNotFound) {
		created, err := e.Definitions.Create(ctx, entry.definition())
		if err != nil {
			return nil, err
		}
		res.Created++
		return created, nil
	}
	if err != nil {
		return nil, err
	}
	if !update {
		res.Skipped++
		return current, nil
	}

	next := entry.NextStateOnStatus
	if next == nil {
		next = domain.NextStateMap{}
	}
	updated, err := e.Definitions.Update(ctx, current, tracking.DefinitionPatch{
		Name:              &entry.Name,
		Ordinal:           &entry.Ordinal,
		Description:       &entry.Description,
		Hidden:            &entry.Hidden,
		NextStateOnStatus: &next,
	})
	if err != nil {
		return nil, err
	}
	if updated, err = e.Definitions.UpdateTasks(ctx, updated, entry.Tasks, true); err != nil {
		return nil, err
	}
	res.Updated++
	return updated, nil
}

func definitionsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definitions",
		Aliases: []string{"defs"},
		Short:   "Manage state definitions",
	}
	cmd.AddCommand(definitionsImportCmd(flags), definitionsListCmd(flags))
	return cmd
}

func definitionsImportCmd(flags *globalFlags) *cobra.Command {
	var update bool
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import state definitions and hooks from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := loadWorkflowFile(args[0])
			if err != nil {
				return err
			}
			return flags.withEngine(cmd.Context(), func(ctx context.Context, e *tracking.Engine) error {
				res, err := importWorkflow(ctx, e, wf, update)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "definitions: %d created, %d updated, %d unchanged; hooks: %d created\n",
					res.Created, res.Updated, res.Skipped, res.Hooks)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&update, "update", false, "overwrite definitions that already exist")
	return cmd
}

func definitionsListCmd(flags *globalFlags) *cobra.Command {
	var hidden bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List state definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withEngine(cmd.Context(), func(ctx context.Context, e *tracking.Engine) error {
				defs, err := e.Definitions.List(ctx, hidden)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(defs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Ordinal", "Slug", "Name", "Tasks", "Hidden", "Group"})
				for _, d := range defs {
					group := ""
					if d.Group != nil {
						group = d.Group.Name
					}
					tw.AppendRow(table.Row{d.Ordinal, d.Slug, d.Name, len(d.Tasks), d.Hidden, group})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&hidden, "hidden", false, "include hidden definitions")
	return cmd
}
