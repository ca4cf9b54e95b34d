package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// CheckinManager creates and revokes check-ins against tasks. Quota checks
// belong to the TaskManager.
type CheckinManager struct {
	e *Engine
}

// Create records a check-in for task by user with the given outcome payload
func (m *CheckinManager) Create(ctx context.Context, task *domain.Task, user *domain.User, payload interface{}) (*domain.Checkin, error) {
	now := m.e.now()
	outcome, err := normalizeOutcome(task.OutcomeType, payload, now)
	if err != nil {
		return nil, err
	}

	checkin := &domain.Checkin{
		Ident:     uuid.New().String(),
		TaskID:    task.ID,
		UserID:    user.ID,
		Outcome:   outcome,
		CreatedAt: now,
	}
	if err := m.e.store.Checkins().Create(ctx, checkin); err != nil {
		m.e.log.WithFields(logrus.Fields{
			"task":  task.Ident,
			"user":  user.Username,
			"error": err,
		}).Error("Failed to create checkin")
		return nil, domain.WrapError(domain.KindCreateFailed, err, "creating checkin for task %s", task.Ident)
	}

	m.e.recorder.CheckinRecorded(string(task.OutcomeType))
	m.e.log.WithFields(logrus.Fields{
		"task":    task.Ident,
		"checkin": checkin.Ident,
		"user":    user.Username,
	}).Debug("Checkin recorded")
	return checkin, nil
}

// Cancel revokes check-ins of task. With all set every check-in is removed;
// otherwise each target names an outcome key (or a check-in ident) to revoke.
// A check-in whose outcome becomes empty is deleted. The task status is then
// recomputed from the remaining check-in count.
func (m *CheckinManager) Cancel(ctx context.Context, task *domain.Task, targets []string, all bool) (*domain.Task, error) {
	checkins, err := m.e.store.Checkins().ListByTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("listing checkins for task %s: %w", task.Ident, err)
	}
	if len(checkins) == 0 {
		return nil, domain.NewError(domain.KindInvalidTaskOperation, "task %s has no check-ins to cancel", task.Ident)
	}

	if all {
		if err := m.e.store.Checkins().DeleteByTask(ctx, task.ID); err != nil {
			return nil, fmt.Errorf("deleting checkins for task %s: %w", task.Ident, err)
		}
	} else {
		if err := m.revoke(ctx, task, checkins, targets); err != nil {
			return nil, err
		}
	}

	remaining, err := m.e.store.Checkins().CountByTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("counting checkins for task %s: %w", task.Ident, err)
	}

	next := *task
	next.Status = statusAfterCancel(*task, remaining)
	if next.Status == task.Status {
		return &next, nil
	}
	if err := m.e.store.Tasks().Update(ctx, &next); err != nil {
		return nil, fmt.Errorf("updating task %s after checkin cancel: %w", task.Ident, err)
	}
	m.e.recorder.TaskTransition(string(next.Status))
	m.e.publish(ctx, domain.EventTaskStatusChange, nil, &next, string(next.Status))
	return &next, nil
}

// revoke validates every target before removing anything
func (m *CheckinManager) revoke(ctx context.Context, task *domain.Task, checkins []*domain.Checkin, targets []string) error {
	if len(targets) == 0 {
		return domain.NewError(domain.KindInvalidTaskOperation, "no check-in target supplied")
	}

	owner := make(map[string]*domain.Checkin, len(targets))
	for _, target := range targets {
		c := findCheckin(checkins, target)
		if c == nil {
			return domain.NewError(domain.KindInvalidTaskOperation, "unable to find the outcome %q to revoke", target)
		}
		owner[target] = c
	}

	touched := make(map[int64]*domain.Checkin)
	for _, target := range targets {
		c := owner[target]
		if c.Ident == target {
			c.Outcome = nil
		} else {
			delete(c.Outcome, target)
		}
		touched[c.ID] = c
	}

	for id, c := range touched {
		if len(c.Outcome) == 0 {
			if err := m.e.store.Checkins().Delete(ctx, id); err != nil {
				return fmt.Errorf("deleting checkin %s: %w", c.Ident, err)
			}
			continue
		}
		if err := m.e.store.Checkins().Update(ctx, c); err != nil {
			return fmt.Errorf("updating checkin %s: %w", c.Ident, err)
		}
	}

	m.e.log.WithFields(logrus.Fields{
		"task":    task.Ident,
		"targets": targets,
	}).Info("Checkins revoked")
	return nil
}

func findCheckin(checkins []*domain.Checkin, target string) *domain.Checkin {
	for _, c := range checkins {
		if c.Ident == target {
			return c
		}
		if _, ok := c.Outcome[target]; ok {
			return c
		}
	}
	return nil
}

// Public returns the check-in with its user and task
func (m *CheckinManager) Public(ctx context.Context, checkin *domain.Checkin) (*domain.CheckinPublic, error) {
	pub := &domain.CheckinPublic{Checkin: *checkin}

	user, err := m.e.store.Users().GetByID(ctx, checkin.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading checkin user: %w", err)
	}
	pub.User = user

	task, err := m.e.store.Tasks().GetByID(ctx, checkin.TaskID)
	if err != nil {
		return nil, fmt.Errorf("loading checkin task: %w", err)
	}
	pub.Task = task
	return pub, nil
}

// normalizeOutcome coerces a payload to the task's outcome type. Object
// payloads are stored as given; scalar payloads are keyed by the check-in time.
func normalizeOutcome(outcomeType domain.OutcomeType, payload interface{}, now time.Time) (domain.Outcome, error) {
	if obj, ok := payload.(map[string]interface{}); ok {
		return domain.Outcome(obj), nil
	}
	if obj, ok := payload.(domain.Outcome); ok {
		return obj, nil
	}

	value := payload
	switch outcomeType {
	case domain.OutcomeDate:
		if payload != nil {
			t, err := parseOutcomeDate(payload)
			if err != nil {
				return nil, domain.WrapError(domain.KindInvalidTaskOperation, err, "invalid date outcome")
			}
			value = t.UTC().Format(time.RFC3339)
		}
	case domain.OutcomeBoolean:
		if payload != nil {
			b, err := parseOutcomeBool(payload)
			if err != nil {
				return nil, domain.WrapError(domain.KindInvalidTaskOperation, err, "invalid boolean outcome")
			}
			value = b
		}
	case domain.OutcomeText, domain.OutcomeLocation, domain.OutcomeString,
		domain.OutcomePassFailProceed, domain.OutcomePassFailOncopanel:
	}

	return domain.Outcome{
		now.Format(time.RFC3339Nano): map[string]interface{}{
			"type":  string(outcomeType),
			"value": value,
		},
	}, nil
}

func parseOutcomeDate(payload interface{}) (time.Time, error) {
	switch v := payload.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised date %q", v)
	default:
		return time.Time{}, fmt.Errorf("unsupported date value of type %T", payload)
	}
}

func parseOutcomeBool(payload interface{}) (bool, error) {
	switch v := payload.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("unsupported boolean value %v", payload)
}
