package tracking

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/report-tracking-server/internal/domain"
)

// Generator instantiates states and their tasks from state definitions
type Generator struct {
	e *Engine
}

// GenerateTrackingStates creates one state per non-hidden definition named in
// targets, at the target's status (or the definition default when empty).
// Existing states are not checked for duplicates. It returns every state the
// analysis now has.
func (g *Generator) GenerateTrackingStates(ctx context.Context, analysisID int64, targets []domain.NextStateTarget, createdBy *int64) ([]*domain.State, error) {
	statusBySlug := make(map[string]domain.StateStatus, len(targets))
	slugs := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.Status != "" && !t.Status.IsValid() {
			return nil, domain.NewError(domain.KindInvalidStateStatus, "target %q has invalid status %q", t.Slug, t.Status)
		}
		if _, ok := statusBySlug[t.Slug]; ok {
			continue
		}
		statusBySlug[t.Slug] = t.Status
		slugs = append(slugs, t.Slug)
	}
	if len(slugs) == 0 {
		return g.listStates(ctx, analysisID)
	}

	defs, err := g.e.store.Definitions().List(ctx, domain.DefinitionFilter{Slugs: slugs})
	if err != nil {
		return nil, fmt.Errorf("loading definitions for generation: %w", err)
	}
	if err := g.createAll(ctx, analysisID, defs, statusBySlug, createdBy); err != nil {
		return nil, err
	}
	return g.listStates(ctx, analysisID)
}

// GenerateAll bootstraps an analysis with every non-hidden definition at its
// default status
func (g *Generator) GenerateAll(ctx context.Context, analysisID int64, createdBy *int64) ([]*domain.State, error) {
	defs, err := g.e.store.Definitions().List(ctx, domain.DefinitionFilter{})
	if err != nil {
		return nil, fmt.Errorf("loading definitions for generation: %w", err)
	}
	if err := g.createAll(ctx, analysisID, defs, nil, createdBy); err != nil {
		return nil, err
	}
	return g.listStates(ctx, analysisID)
}

func (g *Generator) createAll(ctx context.Context, analysisID int64, defs []*domain.StateDefinition, statusBySlug map[string]domain.StateStatus, createdBy *int64) error {
	var (
		eg      errgroup.Group
		mu      sync.Mutex
		created int
	)
	for _, def := range defs {
		var status *domain.StateStatus
		if s := statusBySlug[def.Slug]; s != "" {
			status = &s
		}
		eg.Go(func() error {
			if _, err := g.CreateState(ctx, analysisID, def, status, createdBy); err != nil {
				return err
			}
			mu.Lock()
			created++
			mu.Unlock()
			return nil
		})
	}
	err := eg.Wait()

	g.e.log.WithFields(logrus.Fields{
		"analysis_id": analysisID,
		"requested":   len(defs),
		"created":     created,
	}).Info("Tracking states generated")
	return err
}

// CreateState creates a state from def and one task per task definition, in
// order. Without an explicit status the entry definition starts active and
// every other one pending. Task creation is not transactional with the state.
func (g *Generator) CreateState(ctx context.Context, analysisID int64, def *domain.StateDefinition, status *domain.StateStatus, createdBy *int64) (*domain.State, error) {
	initial := domain.StatePending
	if def.IsEntryState() {
		initial = domain.StateActive
	}
	if status != nil {
		initial = *status
	}

	now := g.e.now()
	state := applyStateStatus(domain.State{
		Ident:       uuid.New().String(),
		AnalysisID:  analysisID,
		Name:        def.Name,
		Slug:        def.Slug,
		Description: def.Description,
		Ordinal:     def.Ordinal,
		CreatedByID: createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, initial, now)

	if err := g.e.store.States().Create(ctx, &state); err != nil {
		g.e.log.WithFields(logrus.Fields{
			"slug":        def.Slug,
			"analysis_id": analysisID,
			"error":       err,
		}).Error("Failed to create tracking state")
		return nil, domain.WrapError(domain.KindInvalidStateDefinition, err, "unable to create state %s", def.Slug)
	}

	for i, td := range def.Tasks {
		task := &domain.Task{
			Ident:          uuid.New().String(),
			StateID:        state.ID,
			Name:           td.Name,
			Slug:           td.Slug,
			Description:    td.Description,
			Ordinal:        i + 1,
			Status:         domain.TaskPending,
			OutcomeType:    td.OutcomeType,
			CheckInsTarget: td.CheckInsTarget,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := g.e.store.Tasks().Create(ctx, task); err != nil {
			return nil, fmt.Errorf("creating task %s of state %s: %w", td.Slug, def.Slug, err)
		}
	}

	g.e.recorder.StateTransition(string(state.Status))
	g.e.publish(ctx, domain.EventStateStatusChange, &state, nil, string(state.Status))
	return &state, nil
}

func (g *Generator) listStates(ctx context.Context, analysisID int64) ([]*domain.State, error) {
	states, err := g.e.store.States().ListByAnalysis(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("listing states of analysis: %w", err)
	}
	return states, nil
}
