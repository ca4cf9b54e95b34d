package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/report-tracking-server/internal/domain"
)

type checkinRepo struct {
	s *SQLStore
}

// Create inserts a check-in
func (r *checkinRepo) Create(ctx context.Context, c *domain.Checkin) error {
	outcome, err := encodeJSON(c.Outcome)
	if err != nil {
		return err
	}
	id, err := r.s.insert(ctx,
		`INSERT INTO checkins (ident, task_id, user_id, outcome, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.Ident, c.TaskID, c.UserID, outcome, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating checkin: %w", err)
	}
	c.ID = id
	return nil
}

// ListByTask returns the check-ins of a task in creation order
func (r *checkinRepo) ListByTask(ctx context.Context, taskID int64) ([]*domain.Checkin, error) {
	rows, err := r.s.query(ctx,
		`SELECT id, ident, task_id, user_id, outcome, created_at FROM checkins WHERE task_id = ? ORDER BY id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing checkins: %w", err)
	}
	defer rows.Close()

	var checkins []*domain.Checkin
	for rows.Next() {
		var (
			c       domain.Checkin
			outcome string
		)
		if err := rows.Scan(&c.ID, &c.Ident, &c.TaskID, &c.UserID, &outcome, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning checkin: %w", err)
		}
		if err := decodeJSON(outcome, &c.Outcome); err != nil {
			return nil, err
		}
		checkins = append(checkins, &c)
	}
	return checkins, rows.Err()
}

// CountByTask counts the check-ins of a task
func (r *checkinRepo) CountByTask(ctx context.Context, taskID int64) (int, error) {
	var n int
	if err := r.s.queryRow(ctx, `SELECT COUNT(*) FROM checkins WHERE task_id = ?`, taskID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting checkins: %w", err)
	}
	return n, nil
}

// Update rewrites a check-in's outcome
func (r *checkinRepo) Update(ctx context.Context, c *domain.Checkin) error {
	outcome, err := encodeJSON(c.Outcome)
	if err != nil {
		return err
	}
	if err := r.s.execOne(ctx, "checkin", c.Ident, `UPDATE checkins SET outcome = ? WHERE id = ?`, outcome, c.ID); err != nil {
		return fmt.Errorf("updating checkin: %w", err)
	}
	return nil
}

// Delete removes a check-in
func (r *checkinRepo) Delete(ctx context.Context, id int64) error {
	if err := r.s.execOne(ctx, "checkin", fmt.Sprint(id), `DELETE FROM checkins WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting checkin: %w", err)
	}
	return nil
}

// DeleteByTask removes every check-in of a task
func (r *checkinRepo) DeleteByTask(ctx context.Context, taskID int64) error {
	if _, err := r.s.exec(ctx, `DELETE FROM checkins WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("deleting checkins: %w", err)
	}
	return nil
}

const hookColumns = `id, ident, name, state_name, status, task_name, enabled, action, target, payload, created_at, updated_at`

type hookRepo struct {
	s *SQLStore
}

func scanHook(row scanner) (*domain.Hook, error) {
	var (
		h        domain.Hook
		taskName sql.NullString
		action   string
		payload  string
	)
	err := row.Scan(
		&h.ID, &h.Ident, &h.Name, &h.StateName, &h.Status, &taskName, &h.Enabled,
		&action, &h.Target, &payload, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	h.TaskName = stringPtr(taskName)
	h.Action = domain.HookAction(action)
	if err := decodeJSON(payload, &h.Payload); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *hookRepo) list(ctx context.Context, where string, args ...interface{}) ([]*domain.Hook, error) {
	rows, err := r.s.query(ctx, `SELECT `+hookColumns+` FROM hooks WHERE `+where+` AND deleted_at IS NULL ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing hooks: %w", err)
	}
	defer rows.Close()

	var hooks []*domain.Hook
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning hook: %w", err)
		}
		hooks = append(hooks, h)
	}
	return hooks, rows.Err()
}

// Find returns live hooks matching the trigger tuple
func (r *hookRepo) Find(ctx context.Context, filter domain.HookFilter) ([]*domain.Hook, error) {
	where := "state_name = ? AND status = ?"
	args := []interface{}{filter.StateName, filter.Status}
	if filter.TaskName == nil {
		where += " AND task_name IS NULL"
	} else {
		where += " AND task_name = ?"
		args = append(args, *filter.TaskName)
	}
	if filter.EnabledOnly {
		where += " AND enabled = ?"
		args = append(args, true)
	}
	return r.list(ctx, where, args...)
}

// Get retrieves a live hook by ident
func (r *hookRepo) Get(ctx context.Context, ident string) (*domain.Hook, error) {
	h, err := scanHook(r.s.queryRow(ctx, `SELECT `+hookColumns+` FROM hooks WHERE ident = ? AND deleted_at IS NULL`, ident))
	if err != nil {
		return nil, notFoundOr(err, "hook", ident)
	}
	return h, nil
}

// List returns every live hook
func (r *hookRepo) List(ctx context.Context) ([]*domain.Hook, error) {
	return r.list(ctx, "1 = 1")
}

// Create inserts a hook
func (r *hookRepo) Create(ctx context.Context, h *domain.Hook) error {
	payload, err := encodeJSON(h.Payload)
	if err != nil {
		return err
	}
	id, err := r.s.insert(ctx, `
		INSERT INTO hooks (
			ident, name, state_name, status, task_name, enabled, action, target, payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Ident, h.Name, h.StateName, h.Status, nullString(h.TaskName), h.Enabled,
		string(h.Action), h.Target, payload, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating hook: %w", err)
	}
	h.ID = id
	return nil
}

// Update rewrites a live hook
func (r *hookRepo) Update(ctx context.Context, h *domain.Hook) error {
	payload, err := encodeJSON(h.Payload)
	if err != nil {
		return err
	}
	err = r.s.execOne(ctx, "hook", h.Ident, `
		UPDATE hooks
		SET name = ?, state_name = ?, status = ?, task_name = ?, enabled = ?,
			action = ?, target = ?, payload = ?, updated_at = ?
		WHERE ident = ? AND deleted_at IS NULL`,
		h.Name, h.StateName, h.Status, nullString(h.TaskName), h.Enabled,
		string(h.Action), h.Target, payload, h.UpdatedAt, h.Ident,
	)
	if err != nil {
		return fmt.Errorf("updating hook: %w", err)
	}
	return nil
}

// Delete soft-deletes a hook
func (r *hookRepo) Delete(ctx context.Context, ident string) error {
	err := r.s.execOne(ctx, "hook", ident,
		`UPDATE hooks SET deleted_at = ? WHERE ident = ? AND deleted_at IS NULL`, r.s.now(), ident)
	if err != nil {
		return fmt.Errorf("deleting hook: %w", err)
	}
	return nil
}
