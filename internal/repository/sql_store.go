// Package repository provides Store implementations for the tracking engine:
// a relational store over SQLite or PostgreSQL and an in-memory store.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/report-tracking-server/internal/database"
	"github.com/report-tracking-server/internal/domain"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements domain.Store on database/sql. Queries are written with
// ? placeholders and rebound for PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	log     *logrus.Logger
	now     func() time.Time
}

// NewSQLiteStore opens (creating if needed) a SQLite database at dbPath and
// ensures the schema exists
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("SQLite tracking store opened")
	return newSQLStore(db, dialectSQLite, logger), nil
}

// NewPostgresStore builds a store on an established pgx pool. The schema is
// managed by migrations.
func NewPostgresStore(db *database.DB, logger *logrus.Logger) *SQLStore {
	return newSQLStore(stdlib.OpenDBFromPool(db.Pool), dialectPostgres, logger)
}

// NewSQLStore wraps an open PostgreSQL handle
func NewSQLStore(db *sql.DB, logger *logrus.Logger) *SQLStore {
	return newSQLStore(db, dialectPostgres, logger)
}

func newSQLStore(db *sql.DB, d dialect, logger *logrus.Logger) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: d,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLStore) Definitions() domain.DefinitionRepository { return &definitionRepo{s} }
func (s *SQLStore) States() domain.StateRepository { return &stateRepo{s} }
func (s *SQLStore) Tasks() domain.TaskRepository { return &taskRepo{s} }
func (s *SQLStore) Checkins() domain.CheckinRepository { return &checkinRepo{s} }
func (s *SQLStore) Hooks() domain.HookRepository { return &hookRepo{s} }
func (s *SQLStore) Users() domain.UserRepository { return &userRepo{s} }
func (s *SQLStore) Groups() domain.GroupRepository { return &groupRepo{s} }
func (s *SQLStore) Analyses() domain.AnalysisRepository { return &analysisRepo{s} }

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id and returns the new id
func (s *SQLStore) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := s.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// execOne runs a statement that must affect exactly one live row
func (s *SQLStore) execOne(ctx context.Context, entity, key string, query string, args ...interface{}) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found: %w", entity, key, domain.ErrNotFound)
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func notFoundOr(err error, entity string, key interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v not found: %w", entity, key, domain.ErrNotFound)
	}
	return fmt.Errorf("getting %s %v: %w", entity, key, err)
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding json column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(raw string, v interface{}) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding json column: %w", err)
	}
	return nil
}

// createSchema creates the SQLite tables and indexes. PostgreSQL uses the
// migrations under internal/database/migrations instead.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ident TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ident TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL UNIQUE,
		first_name TEXT DEFAULT '',
		last_name TEXT DEFAULT '',
		email TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS patients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ident TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL,
		alternate_identifier TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ident TEXT NOT NULL UNIQUE,
		patient_id INTEGER NOT NULL REFERENCES patients(id),
		name TEXT NOT NULL,
		clinical_biopsy TEXT DEFAULT '',
		disease TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state_definitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ident TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		ordinal INTEGER NOT NULL DEFAULT 0,
		description TEXT DEFAULT '',
		group_id INTEGER REFERENCES user_groups(id),
		hidden INTEGER NOT NULL DEFAULT 0,
		tasks TEXT NOT NULL DEFAULT '[]',
		next_state_on_status TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_state_definitions_slug ON state_definitions(slug) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS states (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ident TEXT NOT NULL UNIQUE,
		analysis_id INTEGER NOT NULL REFERENCES analyses(id),
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		description TEXT DEFAULT '',
		ordinal INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		assigned_to_id INTEGER REFERENCES users(id),
		created_by_id INTEGER REFERENCES users(id),
		jira TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_states_analysis_slug ON states(analysis_id, slug);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ident TEXT NOT NULL UNIQUE,
		state_id INTEGER NOT NULL REFERENCES states(id),
		name TEXT NOT NULL,
		slug TEXT NOT NULL DEFAULT '',
		description TEXT DEFAULT '',
		ordinal INTEGER NOT NULL,
		status TEXT NOT NULL,
		outcome_type TEXT NOT NULL DEFAULT '',
		check_ins_target INTEGER NOT NULL DEFAULT 1,
		assigned_to_id INTEGER REFERENCES users(id),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state_id);

	CREATE TABLE IF NOT EXISTS checkins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ident TEXT NOT NULL UNIQUE,
		task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id),
		outcome TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkins_task ON checkins(task_id);

	CREATE TABLE IF NOT EXISTS hooks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ident TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		state_name TEXT NOT NULL,
		status TEXT NOT NULL,
		task_name TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		action TEXT NOT NULL,
		target TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_hooks_trigger ON hooks(state_name, status);
	`

	_, err := db.Exec(schema)
	return err
}
