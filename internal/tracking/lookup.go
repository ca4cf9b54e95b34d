package tracking

import (
	"context"
	"fmt"

	"github.com/report-tracking-server/internal/domain"
)

// GetState loads a state by ident
func (m *StateManager) GetState(ctx context.Context, ident string) (*domain.State, error) {
	state, err := m.e.store.States().Get(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("loading state %s: %w", ident, err)
	}
	return state, nil
}

// FindState loads the live state with slug of the named analysis of a patient
func (m *StateManager) FindState(ctx context.Context, patientID, analysisName, slug string) (*domain.State, error) {
	analysis, err := m.e.store.Analyses().Find(ctx, patientID, analysisName)
	if err != nil {
		return nil, fmt.Errorf("loading analysis %s/%s: %w", patientID, analysisName, err)
	}
	state, err := m.e.store.States().FindLive(ctx, analysis.ID, slug)
	if err != nil {
		return nil, fmt.Errorf("loading state %s of analysis %s: %w", slug, analysis.Ident, err)
	}
	return state, nil
}

// ListByAnalysis returns the public views of an analysis's states in ordinal order
func (m *StateManager) ListByAnalysis(ctx context.Context, analysisIdent string) ([]*domain.StatePublic, error) {
	analysis, err := m.e.store.Analyses().GetByIdent(ctx, analysisIdent)
	if err != nil {
		return nil, fmt.Errorf("loading analysis %s: %w", analysisIdent, err)
	}
	states, err := m.e.store.States().ListByAnalysis(ctx, analysis.ID)
	if err != nil {
		return nil, fmt.Errorf("listing states of analysis %s: %w", analysisIdent, err)
	}

	out := make([]*domain.StatePublic, 0, len(states))
	for _, s := range states {
		pub, err := m.Public(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, pub)
	}
	return out, nil
}

// Delete soft-deletes a state
func (m *StateManager) Delete(ctx context.Context, ident string) error {
	if err := m.e.store.States().Delete(ctx, ident); err != nil {
		return fmt.Errorf("deleting state %s: %w", ident, err)
	}
	return nil
}

// GetTask loads a task by ident
func (m *TaskManager) GetTask(ctx context.Context, ident string) (*domain.Task, error) {
	task, err := m.e.store.Tasks().Get(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", ident, err)
	}
	return task, nil
}

// FindTask loads a task by its slug within a state located like FindState
func (m *TaskManager) FindTask(ctx context.Context, patientID, analysisName, stateSlug, taskSlug string) (*domain.Task, error) {
	state, err := m.e.States.FindState(ctx, patientID, analysisName, stateSlug)
	if err != nil {
		return nil, err
	}
	task, err := m.e.store.Tasks().FindBySlug(ctx, state.ID, taskSlug)
	if err != nil {
		return nil, fmt.Errorf("loading task %s of state %s: %w", taskSlug, state.Ident, err)
	}
	return task, nil
}
