package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

const definitionColumns = `
	d.id, d.ident, d.name, d.slug, d.ordinal, d.description, d.group_id, d.hidden,
	d.tasks, d.next_state_on_status, d.created_at, d.updated_at,
	g.ident, g.name`

type definitionRepo struct {
	s *SQLStore
}

func scanDefinition(row scanner) (*domain.StateDefinition, error) {
	var (
		def                 domain.StateDefinition
		groupID             sql.NullInt64
		tasks, next         string
		groupIdent, groupNm sql.NullString
	)
	err := row.Scan(
		&def.ID, &def.Ident, &def.Name, &def.Slug, &def.Ordinal, &def.Description, &groupID, &def.Hidden,
		&tasks, &next, &def.CreatedAt, &def.UpdatedAt,
		&groupIdent, &groupNm,
	)
	if err != nil {
		return nil, err
	}

	def.GroupID = intPtr(groupID)
	if groupID.Valid && groupIdent.Valid {
		def.Group = &domain.Group{ID: groupID.Int64, Ident: groupIdent.String, Name: groupNm.String}
	}
	def.Tasks = []domain.TaskDefinition{}
	if err := decodeJSON(tasks, &def.Tasks); err != nil {
		return nil, err
	}
	def.NextStateOnStatus = domain.NextStateMap{}
	if err := decodeJSON(next, &def.NextStateOnStatus); err != nil {
		return nil, err
	}
	return &def, nil
}

// GetBySlug retrieves a live definition by slug
func (r *definitionRepo) GetBySlug(ctx context.Context, slug string) (*domain.StateDefinition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM state_definitions d LEFT JOIN user_groups g ON g.id = d.group_id
		WHERE d.slug = ? AND d.deleted_at IS NULL`

	def, err := scanDefinition(r.s.queryRow(ctx, query, slug))
	if err != nil {
		return nil, notFoundOr(err, "definition", slug)
	}
	return def, nil
}

// List returns live definitions ordered by ordinal
func (r *definitionRepo) List(ctx context.Context, filter domain.DefinitionFilter) ([]*domain.StateDefinition, error) {
	var (
		where []string
		args  []interface{}
	)
	where = append(where, "d.deleted_at IS NULL")
	if !filter.IncludeHidden {
		where = append(where, "d.hidden = ?")
		args = append(args, false)
	}
	if len(filter.Slugs) > 0 {
		marks := make([]string, len(filter.Slugs))
		for i, slug := range filter.Slugs {
			marks[i] = "?"
			args = append(args, slug)
		}
		where = append(where, "d.slug IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + definitionColumns + `
		FROM state_definitions d LEFT JOIN user_groups g ON g.id = d.group_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY d.ordinal, d.slug`

	rows, err := r.s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing definitions: %w", err)
	}
	defer rows.Close()

	var defs []*domain.StateDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Create inserts a definition
func (r *definitionRepo) Create(ctx context.Context, def *domain.StateDefinition) error {
	tasks, err := encodeJSON(def.Tasks)
	if err != nil {
		return err
	}
	next, err := encodeJSON(def.NextStateOnStatus)
	if err != nil {
		return err
	}

	id, err := r.s.insert(ctx, `
		INSERT INTO state_definitions (
			ident, name, slug, ordinal, description, group_id, hidden,
			tasks, next_state_on_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.Ident, def.Name, def.Slug, def.Ordinal, def.Description, nullInt(def.GroupID), def.Hidden,
		tasks, next, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		r.s.log.WithFields(logrus.Fields{
			"slug":  def.Slug,
			"error": err,
		}).Error("Failed to create state definition")
		return fmt.Errorf("creating definition: %w", err)
	}
	def.ID = id
	return nil
}

// Update rewrites a live definition
func (r *definitionRepo) Update(ctx context.Context, def *domain.StateDefinition) error {
	tasks, err := encodeJSON(def.Tasks)
	if err != nil {
		return err
	}
	next, err := encodeJSON(def.NextStateOnStatus)
	if err != nil {
		return err
	}

	err = r.s.execOne(ctx, "definition", def.Slug, `
		UPDATE state_definitions
		SET name = ?, ordinal = ?, description = ?, group_id = ?, hidden = ?,
			tasks = ?, next_state_on_status = ?, updated_at = ?
		WHERE slug = ? AND deleted_at IS NULL`,
		def.Name, def.Ordinal, def.Description, nullInt(def.GroupID), def.Hidden,
		tasks, next, def.UpdatedAt, def.Slug,
	)
	if err != nil {
		return fmt.Errorf("updating definition: %w", err)
	}
	return nil
}

// Delete soft-deletes a definition
func (r *definitionRepo) Delete(ctx context.Context, slug string) error {
	err := r.s.execOne(ctx, "definition", slug,
		`UPDATE state_definitions SET deleted_at = ? WHERE slug = ? AND deleted_at IS NULL`,
		r.s.now(), slug,
	)
	if err != nil {
		return fmt.Errorf("deleting definition: %w", err)
	}
	return nil
}
