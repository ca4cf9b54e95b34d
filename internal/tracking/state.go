package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// StatePatch carries the fields updateAll may change in one pass
type StatePatch struct {
	AssignedTo  *string             `json:"assignedTo,omitempty"`
	Name        *string             `json:"name,omitempty"`
	Description *string             `json:"description,omitempty"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
	Jira        *string             `json:"jira,omitempty"`
	Status      *domain.StateStatus `json:"status,omitempty"`
}

// StateManager owns the state lifecycle: status, assignment, completion
// detection and successor resolution
type StateManager struct {
	e *Engine
}

// SetStatus sets the state's status. With save the change is persisted,
// successor states are created and hooks fire. Without save nothing is
// persisted but matching hooks still fire (see PreviewStatus).
func (m *StateManager) SetStatus(ctx context.Context, state *domain.State, status domain.StateStatus, save bool) (*domain.State, error) {
	if !save {
		return m.PreviewStatus(ctx, state, status)
	}
	if !status.IsValid() {
		return nil, domain.NewError(domain.KindInvalidStateStatus, "the provided status %q is not valid", status)
	}

	next := applyStateStatus(*state, status, m.e.now())
	if err := m.save(ctx, &next); err != nil {
		return nil, err
	}
	if _, err := m.CreateNextState(ctx, &next); err != nil {
		return nil, err
	}
	if err := m.e.Hooks.CheckAndInvoke(ctx, &next, string(status), nil, true); err != nil {
		return nil, err
	}
	return &next, nil
}

// PreviewStatus computes the state as it would be with status and fires the
// hooks for that status. The store is not written.
func (m *StateManager) PreviewStatus(ctx context.Context, state *domain.State, status domain.StateStatus) (*domain.State, error) {
	if !status.IsValid() {
		return nil, domain.NewError(domain.KindInvalidStateStatus, "the provided status %q is not valid", status)
	}
	next := applyStateStatus(*state, status, m.e.now())
	if err := m.e.Hooks.CheckAndInvoke(ctx, &next, string(status), nil, true); err != nil {
		return nil, err
	}
	return &next, nil
}

// activate forces the state active, persisting only if something changed
func (m *StateManager) activate(ctx context.Context, state *domain.State) (*domain.State, error) {
	next := applyStateStatus(*state, domain.StateActive, m.e.now())
	if !stateChanged(next, *state) {
		return state, nil
	}
	if err := m.save(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// CheckCompleted forces the state active and marks it complete when every
// task is complete. On completion complete hooks fire and successor states
// are created. A state that is already complete with all tasks complete is
// left untouched.
func (m *StateManager) CheckCompleted(ctx context.Context, state *domain.State) (bool, *domain.State, error) {
	tasks, err := m.e.store.Tasks().ListByState(ctx, state.ID)
	if err != nil {
		return false, nil, fmt.Errorf("listing tasks of state %s: %w", state.Ident, err)
	}

	complete := allTasksComplete(tasks)
	if complete && state.Status == domain.StateComplete {
		return true, state, nil
	}

	now := m.e.now()
	forced := applyStateStatus(*state, domain.StateActive, now)
	if !complete {
		if stateChanged(forced, *state) {
			if err := m.save(ctx, &forced); err != nil {
				return false, nil, err
			}
		}
		return false, &forced, nil
	}

	done := applyStateStatus(forced, domain.StateComplete, now)
	if err := m.save(ctx, &done); err != nil {
		return false, nil, err
	}
	if err := m.e.Hooks.CheckAndInvoke(ctx, &done, string(domain.StateComplete), nil, true); err != nil {
		return true, nil, err
	}
	if _, err := m.CreateNextState(ctx, &done); err != nil {
		return true, nil, err
	}

	m.e.log.WithFields(logrus.Fields{
		"state": done.Ident,
		"slug":  done.Slug,
		"tasks": len(tasks),
	}).Info("State completed")
	return true, &done, nil
}

// AssignUser assigns the state and every one of its tasks to the user named by
// ident or username. An empty reference is a no-op, as is assigning the
// current assignee.
func (m *StateManager) AssignUser(ctx context.Context, state *domain.State, userRef string) (*domain.State, error) {
	if userRef == "" {
		return state, nil
	}

	user, err := m.resolveAssignee(ctx, userRef)
	if err != nil {
		return nil, err
	}

	if state.AssignedToID != nil && *state.AssignedToID == user.ID {
		return state, nil
	}

	next := applyStateAssignment(*state, user.ID)
	if err := m.e.store.States().Update(ctx, &next); err != nil {
		return nil, fmt.Errorf("assigning state %s: %w", state.Ident, err)
	}
	if err := m.e.store.Tasks().AssignAll(ctx, state.ID, &user.ID); err != nil {
		return nil, fmt.Errorf("assigning tasks of state %s: %w", state.Ident, err)
	}

	m.e.log.WithFields(logrus.Fields{
		"state": state.Ident,
		"user":  user.Username,
	}).Info("State assigned")
	return &next, nil
}

func (m *StateManager) resolveAssignee(ctx context.Context, userRef string) (*domain.User, error) {
	user, err := m.e.store.Users().GetByIdent(ctx, userRef)
	if errors.Is(err, domain.ErrNotFound) {
		user, err = m.e.store.Users().GetByUsername(ctx, userRef)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.KindUserNotFound, "unable to find the specified user %q", userRef)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user %q: %w", userRef, err)
	}
	return user, nil
}

// UpdateAll applies assignment, unprotected fields and status in one pass,
// persists once and resolves successors. The status is applied directly
// without the hook side effects of SetStatus.
func (m *StateManager) UpdateAll(ctx context.Context, state *domain.State, patch StatePatch) (*domain.StatePublic, error) {
	if patch.Status != nil && !patch.Status.IsValid() {
		return nil, domain.NewError(domain.KindInvalidStateStatus, "the provided status %q is not valid", *patch.Status)
	}

	next := *state
	var reassignTo *int64
	if patch.AssignedTo != nil && *patch.AssignedTo != "" {
		user, err := m.resolveAssignee(ctx, *patch.AssignedTo)
		if err != nil {
			return nil, err
		}
		if next.AssignedToID == nil || *next.AssignedToID != user.ID {
			next = applyStateAssignment(next, user.ID)
			reassignTo = &user.ID
		}
	}

	next = applyStatePatch(next, patch)
	if patch.Status != nil {
		next = applyStateStatus(next, *patch.Status, m.e.now())
	}

	if err := m.e.store.States().Update(ctx, &next); err != nil {
		m.e.log.WithFields(logrus.Fields{
			"state": state.Ident,
			"error": err,
		}).Error("Failed to update state")
		return nil, fmt.Errorf("updating state %s: %w", state.Ident, err)
	}
	if reassignTo != nil {
		if err := m.e.store.Tasks().AssignAll(ctx, state.ID, reassignTo); err != nil {
			return nil, fmt.Errorf("assigning tasks of state %s: %w", state.Ident, err)
		}
	}
	if next.Status != state.Status {
		m.e.recorder.StateTransition(string(next.Status))
		m.e.publish(ctx, domain.EventStateStatusChange, &next, nil, string(next.Status))
	}

	if _, err := m.CreateNextState(ctx, &next); err != nil {
		return nil, err
	}
	return m.Public(ctx, &next)
}

// CreateNextState resolves the successors configured for the state's current
// status. Targets with a live state for the analysis are moved to their target
// status; the rest are generated. It returns the successor states, or nil when
// the definition has no mapping for the status.
func (m *StateManager) CreateNextState(ctx context.Context, state *domain.State) ([]*domain.State, error) {
	def, err := m.e.store.Definitions().GetBySlug(ctx, state.Slug)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading definition %s: %w", state.Slug, err)
	}

	targets := def.NextStateOnStatus[state.Status]
	if len(targets) == 0 {
		return nil, nil
	}

	existing, err := m.e.store.States().ListByAnalysis(ctx, state.AnalysisID)
	if err != nil {
		return nil, fmt.Errorf("listing states of analysis: %w", err)
	}
	found, missing := partitionTargets(targets, existing)

	// Missing states are generated first and existing ones are moved one at
	// a time, so a successor chain started by a move sees every state created
	// before it and never generates the same slug twice.
	var created []*domain.State
	if len(missing) > 0 {
		all, err := m.e.Generator.GenerateTrackingStates(ctx, state.AnalysisID, missing, state.CreatedByID)
		if err != nil {
			return nil, err
		}
		created = pickSlugs(all, missing)
	}

	updated := make([]*domain.State, 0, len(found))
	for _, t := range found {
		current, err := m.e.store.States().GetByID(ctx, t.state.ID)
		if err != nil {
			return nil, fmt.Errorf("reloading state %s: %w", t.state.Ident, err)
		}
		s, err := m.SetStatus(ctx, current, t.status, true)
		if err != nil {
			return nil, fmt.Errorf("moving state %s to %s: %w", t.state.Slug, t.status, err)
		}
		updated = append(updated, s)
	}

	m.e.log.WithFields(logrus.Fields{
		"state":     state.Ident,
		"status":    state.Status,
		"activated": len(updated),
		"created":   len(created),
	}).Debug("Successor states resolved")
	return append(updated, created...), nil
}

func pickSlugs(states []*domain.State, targets []domain.NextStateTarget) []*domain.State {
	want := make(map[string]bool, len(targets))
	for _, t := range targets {
		want[t.Slug] = true
	}
	var out []*domain.State
	for _, s := range states {
		if want[s.Slug] {
			out = append(out, s)
		}
	}
	return out
}

// Public returns the state with its analysis, assignee and ordered tasks
func (m *StateManager) Public(ctx context.Context, state *domain.State) (*domain.StatePublic, error) {
	users := m.e.newUserCache()
	pub := &domain.StatePublic{State: *state, Tasks: []domain.TaskPublic{}}

	analysis, err := m.e.store.Analyses().GetByID(ctx, state.AnalysisID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("loading analysis of state %s: %w", state.Ident, err)
	}
	pub.Analysis = analysis

	assignee, err := users.get(ctx, state.AssignedToID)
	if err != nil {
		return nil, err
	}
	pub.AssignedTo = assignee

	tasks, err := m.e.store.Tasks().ListByState(ctx, state.ID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks of state %s: %w", state.Ident, err)
	}
	for _, t := range tasks {
		tp, err := m.e.taskPublicWith(ctx, t, users)
		if err != nil {
			return nil, err
		}
		pub.Tasks = append(pub.Tasks, *tp)
	}
	return pub, nil
}

func (m *StateManager) save(ctx context.Context, state *domain.State) error {
	if err := m.e.store.States().Update(ctx, state); err != nil {
		m.e.log.WithFields(logrus.Fields{
			"state":  state.Ident,
			"status": state.Status,
			"error":  err,
		}).Error("Failed to update state status")
		return fmt.Errorf("updating state %s status: %w", state.Ident, err)
	}
	m.e.recorder.StateTransition(string(state.Status))
	m.e.publish(ctx, domain.EventStateStatusChange, state, nil, string(state.Status))
	return nil
}
