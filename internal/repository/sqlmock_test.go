package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-tracking-server/internal/domain"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	store := NewSQLStore(db, logger)
	t.Cleanup(func() { db.Close() })
	return store, mock
}

func TestRebind(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pg := newSQLStore(nil, dialectPostgres, logger)
	lite := newSQLStore(nil, dialectSQLite, logger)

	query := "UPDATE tasks SET status = ? WHERE id = ? AND deleted_at IS NULL"
	assert.Equal(t, "UPDATE tasks SET status = $1 WHERE id = $2 AND deleted_at IS NULL", pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}

func TestSQLStore_StateUpdate_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE states")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.States().Update(context.Background(), &domain.State{ID: 7, Ident: "s-7", Status: domain.StateActive})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CountByTask(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM checkins WHERE task_id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := store.Checkins().CountByTask(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_TaskCreate_ReturnsID(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	task := &domain.Task{Ident: "t", StateID: 1, Name: "T", Ordinal: 1, Status: domain.TaskPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Tasks().Create(context.Background(), task))
	assert.Equal(t, int64(42), task.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetState_Errors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM states WHERE ident = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM states WHERE ident = $1")).
		WithArgs("broken").
		WillReturnError(errors.New("connection reset"))

	_, err := store.States().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.States().Get(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_HookFind_StateLevel(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE state_name = $1 AND status = $2 AND task_name IS NULL AND enabled = $3")).
		WithArgs("sequencing", "complete", true).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "ident", "name", "state_name", "status", "task_name", "enabled", "action", "target", "payload", "created_at", "updated_at",
		}).AddRow(1, "h-1", "notify", "sequencing", "complete", nil, true, "email", "a@example.org", `{"subject":"s","body":"b"}`, now, now))

	hooks, err := store.Hooks().Find(context.Background(), domain.HookFilter{StateName: "sequencing", Status: "complete", EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Nil(t, hooks[0].TaskName)
	assert.Equal(t, domain.HookPayload{Subject: "s", Body: "b"}, hooks[0].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}
