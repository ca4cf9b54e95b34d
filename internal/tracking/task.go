package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// TaskPatch carries the fields of a task that may be set from untrusted input
type TaskPatch struct {
	CheckInsTarget *int               `json:"checkInsTarget,omitempty"`
	Description    *string            `json:"description,omitempty"`
	Status         *domain.TaskStatus `json:"status,omitempty"`
	AssignedToID   *int64             `json:"assignedTo_id,omitempty"`
}

// TaskManager owns the task lifecycle: status, assignment and check-ins
type TaskManager struct {
	e *Engine
}

// CheckIn records a check-in by user. Without limitOverride a check-in that
// would exceed the task's target is rejected with TooManyCheckIns. When
// checkStateComplete is set the parent state is re-evaluated afterwards.
func (m *TaskManager) CheckIn(ctx context.Context, task *domain.Task, user *domain.User, payload interface{}, limitOverride, checkStateComplete bool) (*domain.TaskPublic, error) {
	if user == nil {
		return nil, domain.NewError(domain.KindInvalidTaskOperation, "a check-in requires a user")
	}

	count, err := m.e.store.Checkins().CountByTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("counting checkins for task %s: %w", task.Ident, err)
	}
	if !limitOverride && count+1 > task.CheckInsTarget {
		return nil, domain.NewError(domain.KindTooManyCheckIns,
			"too many check ins for task %s: max %d, attempted %d", task.Ident, task.CheckInsTarget, count+1)
	}

	if _, err := m.e.Checkins.Create(ctx, task, user, payload); err != nil {
		return nil, err
	}

	updated, _, err := m.CheckCompletion(ctx, task)
	if err != nil {
		return nil, err
	}

	if checkStateComplete {
		state, err := m.e.store.States().GetByID(ctx, updated.StateID)
		if err != nil {
			return nil, fmt.Errorf("loading state of task %s: %w", task.Ident, err)
		}
		if _, _, err := m.e.States.CheckCompleted(ctx, state); err != nil {
			return nil, err
		}
	}

	return m.Public(ctx, updated)
}

// CheckCompletion completes the task once its persisted check-in count reaches
// the target. This is the only automatic completion path. A task that gains
// its first check-in below the target moves from pending to active.
func (m *TaskManager) CheckCompletion(ctx context.Context, task *domain.Task) (*domain.Task, bool, error) {
	count, err := m.e.store.Checkins().CountByTask(ctx, task.ID)
	if err != nil {
		return nil, false, fmt.Errorf("counting checkins for task %s: %w", task.Ident, err)
	}

	if count < task.CheckInsTarget {
		if count == 0 || task.Status != domain.TaskPending {
			return task, false, nil
		}
		next := applyTaskStatus(*task, domain.TaskActive)
		if err := m.save(ctx, &next); err != nil {
			return nil, false, err
		}
		return &next, false, nil
	}

	if task.Status == domain.TaskComplete {
		return task, true, nil
	}

	next := applyTaskStatus(*task, domain.TaskComplete)
	if err := m.save(ctx, &next); err != nil {
		return nil, false, err
	}

	state, err := m.e.store.States().GetByID(ctx, next.StateID)
	if err != nil {
		return nil, false, fmt.Errorf("loading state of task %s: %w", task.Ident, err)
	}
	if err := m.e.Hooks.CheckAndInvoke(ctx, state, string(domain.TaskComplete), &next, true); err != nil {
		return nil, false, err
	}
	if _, _, err := m.e.States.CheckCompleted(ctx, state); err != nil {
		return nil, false, err
	}

	m.e.log.WithFields(logrus.Fields{
		"task":     next.Ident,
		"checkins": count,
	}).Info("Task completed by check-in")
	return &next, true, nil
}

// CancelCheckIn revokes check-ins and returns the public view of the task
func (m *TaskManager) CancelCheckIn(ctx context.Context, task *domain.Task, targets []string, all bool) (*domain.TaskPublic, error) {
	updated, err := m.e.Checkins.Cancel(ctx, task, targets, all)
	if err != nil {
		return nil, err
	}
	return m.Public(ctx, updated)
}

// SetStatus sets any valid status. Pending is applied to the task alone; any
// other status forces the parent state active, fires hooks for the task and
// re-evaluates the parent state for completion.
func (m *TaskManager) SetStatus(ctx context.Context, task *domain.Task, status domain.TaskStatus) (*domain.Task, error) {
	if !status.IsValid() {
		return nil, domain.NewError(domain.KindInvalidTaskOperation, "invalid task status %q", status)
	}

	next := applyTaskStatus(*task, status)
	if status == domain.TaskPending {
		if err := m.save(ctx, &next); err != nil {
			return nil, err
		}
		return &next, nil
	}

	state, err := m.e.store.States().GetByID(ctx, task.StateID)
	if err != nil {
		return nil, fmt.Errorf("loading state of task %s: %w", task.Ident, err)
	}
	state, err = m.e.States.activate(ctx, state)
	if err != nil {
		return nil, err
	}

	if err := m.save(ctx, &next); err != nil {
		return nil, err
	}
	if err := m.e.Hooks.CheckAndInvoke(ctx, state, string(status), &next, true); err != nil {
		return nil, err
	}
	if _, _, err := m.e.States.CheckCompleted(ctx, state); err != nil {
		return nil, err
	}
	return &next, nil
}

// SetAssignedTo assigns the task to the user with the given numeric id or ident
func (m *TaskManager) SetAssignedTo(ctx context.Context, task *domain.Task, userRef string) (*domain.Task, error) {
	user, err := m.resolveUser(ctx, userRef)
	if err != nil {
		return nil, err
	}

	next := applyTaskAssignment(*task, user.ID)
	if err := m.e.store.Tasks().Update(ctx, &next); err != nil {
		m.e.log.WithFields(logrus.Fields{
			"task":  task.Ident,
			"user":  user.Ident,
			"error": err,
		}).Error("Failed to assign task")
		return nil, fmt.Errorf("assigning task %s: %w", task.Ident, err)
	}
	return &next, nil
}

func (m *TaskManager) resolveUser(ctx context.Context, userRef string) (*domain.User, error) {
	var (
		user *domain.User
		err  error
	)
	if id, convErr := strconv.ParseInt(userRef, 10, 64); convErr == nil {
		user, err = m.e.store.Users().GetByID(ctx, id)
	} else {
		user, err = m.e.store.Users().GetByIdent(ctx, userRef)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.KindUserNotFound, "unable to find user %q", userRef)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user %q: %w", userRef, err)
	}
	return user, nil
}

// SetUnprotected copies the whitelisted patch fields onto a copy of task
// without persisting it
func (m *TaskManager) SetUnprotected(task domain.Task, patch TaskPatch) domain.Task {
	return applyTaskPatch(task, patch)
}

// Update applies an untrusted patch, persists it and, when the patch carries a
// status, runs the status transition
func (m *TaskManager) Update(ctx context.Context, task *domain.Task, patch TaskPatch) (*domain.TaskPublic, error) {
	if patch.CheckInsTarget != nil && *patch.CheckInsTarget < 0 {
		return nil, domain.NewError(domain.KindInvalidCheckInTarget, "check-in target must not be negative")
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		return nil, domain.NewError(domain.KindInvalidTaskOperation, "invalid task status %q", *patch.Status)
	}

	status := patch.Status
	patch.Status = nil
	next := m.SetUnprotected(*task, patch)
	if err := m.e.store.Tasks().Update(ctx, &next); err != nil {
		return nil, fmt.Errorf("updating task %s: %w", task.Ident, err)
	}

	updated := &next
	if status != nil && *status != task.Status {
		var err error
		if updated, err = m.SetStatus(ctx, &next, *status); err != nil {
			return nil, err
		}
	}
	return m.Public(ctx, updated)
}

// UpdateCheckInsTarget changes the number of check-ins the task requires
func (m *TaskManager) UpdateCheckInsTarget(ctx context.Context, task *domain.Task, target int) (*domain.Task, error) {
	if target < 0 {
		return nil, domain.NewError(domain.KindInvalidCheckInTarget, "check-in target must not be negative, got %d", target)
	}
	next := *task
	next.CheckInsTarget = target
	if err := m.e.store.Tasks().Update(ctx, &next); err != nil {
		return nil, domain.WrapError(domain.KindInvalidCheckInTarget, err, "unable to save the updated target value")
	}
	return &next, nil
}

// Public returns the task with its state (without tasks), assignee and
// ordered check-ins
func (m *TaskManager) Public(ctx context.Context, task *domain.Task) (*domain.TaskPublic, error) {
	pub, err := m.e.taskPublic(ctx, task)
	if err != nil {
		return nil, err
	}
	state, err := m.e.store.States().GetByID(ctx, task.StateID)
	if err != nil {
		return nil, fmt.Errorf("loading state of task %s: %w", task.Ident, err)
	}
	pub.State = state
	return pub, nil
}

func (m *TaskManager) save(ctx context.Context, task *domain.Task) error {
	if err := m.e.store.Tasks().Update(ctx, task); err != nil {
		m.e.log.WithFields(logrus.Fields{
			"task":   task.Ident,
			"status": task.Status,
			"error":  err,
		}).Error("Failed to update task status")
		return fmt.Errorf("updating task %s status: %w", task.Ident, err)
	}
	m.e.recorder.TaskTransition(string(task.Status))
	m.e.publish(ctx, domain.EventTaskStatusChange, nil, task, string(task.Status))
	return nil
}
