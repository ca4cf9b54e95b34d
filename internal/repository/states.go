package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

const stateColumns = `
	id, ident, analysis_id, name, slug, description, ordinal, status,
	started_at, completed_at, assigned_to_id, created_by_id, jira, created_at, updated_at`

type stateRepo struct {
	s *SQLStore
}

func scanState(row scanner) (*domain.State, error) {
	var (
		st                    domain.State
		status                string
		startedAt, completed  sql.NullTime
		assignedTo, createdBy sql.NullInt64
	)
	err := row.Scan(
		&st.ID, &st.Ident, &st.AnalysisID, &st.Name, &st.Slug, &st.Description, &st.Ordinal, &status,
		&startedAt, &completed, &assignedTo, &createdBy, &st.Jira, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Status = domain.StateStatus(status)
	st.StartedAt = timePtr(startedAt)
	st.CompletedAt = timePtr(completed)
	st.AssignedToID = intPtr(assignedTo)
	st.CreatedByID = intPtr(createdBy)
	return &st, nil
}

func (r *stateRepo) one(ctx context.Context, key interface{}, where string, args ...interface{}) (*domain.State, error) {
	query := `SELECT ` + stateColumns + ` FROM states WHERE ` + where + ` AND deleted_at IS NULL`
	st, err := scanState(r.s.queryRow(ctx, query, args...))
	if err != nil {
		return nil, notFoundOr(err, "state", key)
	}
	return st, nil
}

// Get retrieves a live state by ident
func (r *stateRepo) Get(ctx context.Context, ident string) (*domain.State, error) {
	return r.one(ctx, ident, "ident = ?", ident)
}

// GetByID retrieves a live state by id
func (r *stateRepo) GetByID(ctx context.Context, id int64) (*domain.State, error) {
	return r.one(ctx, id, "id = ?", id)
}

// FindLive retrieves the live state of an analysis with the given slug
func (r *stateRepo) FindLive(ctx context.Context, analysisID int64, slug string) (*domain.State, error) {
	query := `SELECT ` + stateColumns + ` FROM states
		WHERE analysis_id = ? AND slug = ? AND deleted_at IS NULL
		ORDER BY id LIMIT 1`
	st, err := scanState(r.s.queryRow(ctx, query, analysisID, slug))
	if err != nil {
		return nil, notFoundOr(err, "state", slug)
	}
	return st, nil
}

// ListByAnalysis returns the live states of an analysis ordered by ordinal
func (r *stateRepo) ListByAnalysis(ctx context.Context, analysisID int64) ([]*domain.State, error) {
	rows, err := r.s.query(ctx, `SELECT `+stateColumns+` FROM states
		WHERE analysis_id = ? AND deleted_at IS NULL
		ORDER BY ordinal, id`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("listing states: %w", err)
	}
	defer rows.Close()

	var states []*domain.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// Create inserts a state
func (r *stateRepo) Create(ctx context.Context, st *domain.State) error {
	id, err := r.s.insert(ctx, `
		INSERT INTO states (
			ident, analysis_id, name, slug, description, ordinal, status,
			started_at, completed_at, assigned_to_id, created_by_id, jira, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.Ident, st.AnalysisID, st.Name, st.Slug, st.Description, st.Ordinal, string(st.Status),
		nullTime(st.StartedAt), nullTime(st.CompletedAt), nullInt(st.AssignedToID), nullInt(st.CreatedByID),
		st.Jira, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		r.s.log.WithFields(logrus.Fields{
			"slug":        st.Slug,
			"analysis_id": st.AnalysisID,
			"error":       err,
		}).Error("Failed to create state")
		return fmt.Errorf("creating state: %w", err)
	}
	st.ID = id
	return nil
}

// Update rewrites the mutable columns of a live state
func (r *stateRepo) Update(ctx context.Context, st *domain.State) error {
	st.UpdatedAt = r.s.now()
	err := r.s.execOne(ctx, "state", st.Ident, `
		UPDATE states
		SET name = ?, description = ?, status = ?, started_at = ?, completed_at = ?,
			assigned_to_id = ?, jira = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		st.Name, st.Description, string(st.Status), nullTime(st.StartedAt), nullTime(st.CompletedAt),
		nullInt(st.AssignedToID), st.Jira, st.UpdatedAt, st.ID,
	)
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	return nil
}

// Delete soft-deletes a state together with its tasks
func (r *stateRepo) Delete(ctx context.Context, ident string) error {
	st, err := r.Get(ctx, ident)
	if err != nil {
		return err
	}

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.s.now()
	if _, err := tx.ExecContext(ctx, r.s.rebind(`UPDATE tasks SET deleted_at = ? WHERE state_id = ? AND deleted_at IS NULL`), now, st.ID); err != nil {
		return fmt.Errorf("deleting tasks of state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, r.s.rebind(`UPDATE states SET deleted_at = ? WHERE id = ?`), now, st.ID); err != nil {
		return fmt.Errorf("deleting state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state delete: %w", err)
	}
	return nil
}

const taskColumns = `
	id, ident, state_id, name, slug, description, ordinal, status,
	outcome_type, check_ins_target, assigned_to_id, created_at, updated_at`

type taskRepo struct {
	s *SQLStore
}

func scanTask(row scanner) (*domain.Task, error) {
	var (
		t                   domain.Task
		status, outcomeType string
		assignedTo          sql.NullInt64
	)
	err := row.Scan(
		&t.ID, &t.Ident, &t.StateID, &t.Name, &t.Slug, &t.Description, &t.Ordinal, &status,
		&outcomeType, &t.CheckInsTarget, &assignedTo, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	t.OutcomeType = domain.OutcomeType(outcomeType)
	t.AssignedToID = intPtr(assignedTo)
	return &t, nil
}

func (r *taskRepo) one(ctx context.Context, key interface{}, where string, args ...interface{}) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + where + ` AND deleted_at IS NULL`
	t, err := scanTask(r.s.queryRow(ctx, query, args...))
	if err != nil {
		return nil, notFoundOr(err, "task", key)
	}
	return t, nil
}

// Get retrieves a live task by ident
func (r *taskRepo) Get(ctx context.Context, ident string) (*domain.Task, error) {
	return r.one(ctx, ident, "ident = ?", ident)
}

// GetByID retrieves a live task by id
func (r *taskRepo) GetByID(ctx context.Context, id int64) (*domain.Task, error) {
	return r.one(ctx, id, "id = ?", id)
}

// FindBySlug retrieves a live task of a state by slug
func (r *taskRepo) FindBySlug(ctx context.Context, stateID int64, slug string) (*domain.Task, error) {
	return r.one(ctx, slug, "state_id = ? AND slug = ?", stateID, slug)
}

// ListByState returns the live tasks of a state ordered by ordinal
func (r *taskRepo) ListByState(ctx context.Context, stateID int64) ([]*domain.Task, error) {
	rows, err := r.s.query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE state_id = ? AND deleted_at IS NULL
		ORDER BY ordinal, id`, stateID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Create inserts a task
func (r *taskRepo) Create(ctx context.Context, t *domain.Task) error {
	id, err := r.s.insert(ctx, `
		INSERT INTO tasks (
			ident, state_id, name, slug, description, ordinal, status,
			outcome_type, check_ins_target, assigned_to_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Ident, t.StateID, t.Name, t.Slug, t.Description, t.Ordinal, string(t.Status),
		string(t.OutcomeType), t.CheckInsTarget, nullInt(t.AssignedToID), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		r.s.log.WithFields(logrus.Fields{
			"slug":     t.Slug,
			"state_id": t.StateID,
			"error":    err,
		}).Error("Failed to create task")
		return fmt.Errorf("creating task: %w", err)
	}
	t.ID = id
	return nil
}

// Update rewrites the mutable columns of a live task
func (r *taskRepo) Update(ctx context.Context, t *domain.Task) error {
	t.UpdatedAt = r.s.now()
	err := r.s.execOne(ctx, "task", t.Ident, `
		UPDATE tasks
		SET description = ?, status = ?, check_ins_target = ?, assigned_to_id = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		t.Description, string(t.Status), t.CheckInsTarget, nullInt(t.AssignedToID), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

// AssignAll assigns every live task of a state to userID
func (r *taskRepo) AssignAll(ctx context.Context, stateID int64, userID *int64) error {
	_, err := r.s.exec(ctx,
		`UPDATE tasks SET assigned_to_id = ?, updated_at = ? WHERE state_id = ? AND deleted_at IS NULL`,
		nullInt(userID), r.s.now(), stateID,
	)
	if err != nil {
		return fmt.Errorf("assigning tasks: %w", err)
	}
	return nil
}

// Delete soft-deletes a task and removes its check-ins
func (r *taskRepo) Delete(ctx context.Context, ident string) error {
	t, err := r.Get(ctx, ident)
	if err != nil {
		return err
	}
	if _, err := r.s.exec(ctx, `DELETE FROM checkins WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("deleting checkins of task: %w", err)
	}
	return r.s.execOne(ctx, "task", ident,
		`UPDATE tasks SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, r.s.now(), t.ID)
}
