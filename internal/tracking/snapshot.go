package tracking

import (
	"time"

	"github.com/report-tracking-server/internal/domain"
)

// The functions below compute new snapshots from old ones without touching the
// store. Callers persist the result.

// applyStateStatus sets the status and stamps startedAt/completedAt the first
// time the state becomes active/complete.
func applyStateStatus(s domain.State, status domain.StateStatus, now time.Time) domain.State {
	s.Status = status
	switch status {
	case domain.StateActive:
		if s.StartedAt == nil {
			t := now
			s.StartedAt = &t
		}
	case domain.StateComplete:
		if s.CompletedAt == nil {
			t := now
			s.CompletedAt = &t
		}
	case domain.StatePending, domain.StateHold, domain.StateFailed, domain.StateCancelled:
	}
	return s
}

func applyStateAssignment(s domain.State, userID int64) domain.State {
	id := userID
	s.AssignedToID = &id
	return s
}

// applyStatePatch copies the unprotected fields of a patch
func applyStatePatch(s domain.State, patch StatePatch) domain.State {
	if patch.Name != nil {
		s.Name = *patch.Name
	}
	if patch.Description != nil {
		s.Description = *patch.Description
	}
	if patch.StartedAt != nil {
		t := *patch.StartedAt
		s.StartedAt = &t
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		s.CompletedAt = &t
	}
	if patch.Jira != nil {
		s.Jira = *patch.Jira
	}
	return s
}

func applyTaskStatus(t domain.Task, status domain.TaskStatus) domain.Task {
	t.Status = status
	return t
}

func applyTaskAssignment(t domain.Task, userID int64) domain.Task {
	id := userID
	t.AssignedToID = &id
	return t
}

// applyTaskPatch whitelist-copies checkInsTarget, description, status and
// assignedTo_id
func applyTaskPatch(t domain.Task, patch TaskPatch) domain.Task {
	if patch.CheckInsTarget != nil {
		t.CheckInsTarget = *patch.CheckInsTarget
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.AssignedToID != nil {
		id := *patch.AssignedToID
		t.AssignedToID = &id
	}
	return t
}

// statusAfterCancel recomputes a task status once check-ins were revoked
func statusAfterCancel(t domain.Task, remaining int) domain.TaskStatus {
	switch {
	case remaining == 0:
		return domain.TaskPending
	case remaining < t.CheckInsTarget:
		return domain.TaskActive
	default:
		return t.Status
	}
}

func allTasksComplete(tasks []*domain.Task) bool {
	for _, t := range tasks {
		if t.Status != domain.TaskComplete {
			return false
		}
	}
	return true
}

func stateChanged(a, b domain.State) bool {
	return a.Status != b.Status ||
		!sameTime(a.StartedAt, b.StartedAt) ||
		!sameTime(a.CompletedAt, b.CompletedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// statusTarget pairs an existing state with the status it should move to
type statusTarget struct {
	state  *domain.State
	status domain.StateStatus
}

// partitionTargets splits successor targets into those with a live state for
// the analysis and those that still have to be created. Duplicate slugs keep
// their first occurrence.
func partitionTargets(targets []domain.NextStateTarget, existing []*domain.State) ([]statusTarget, []domain.NextStateTarget) {
	bySlug := make(map[string]*domain.State, len(existing))
	for _, s := range existing {
		if _, ok := bySlug[s.Slug]; !ok {
			bySlug[s.Slug] = s
		}
	}

	seen := make(map[string]bool, len(targets))
	var found []statusTarget
	var missing []domain.NextStateTarget
	for _, t := range targets {
		if seen[t.Slug] {
			continue
		}
		seen[t.Slug] = true
		if s, ok := bySlug[t.Slug]; ok {
			found = append(found, statusTarget{state: s, status: t.Status})
			continue
		}
		missing = append(missing, t)
	}
	return found, missing
}
