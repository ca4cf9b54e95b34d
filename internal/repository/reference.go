package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/report-tracking-server/internal/domain"
)

type userRepo struct {
	s *SQLStore
}

func (r *userRepo) one(ctx context.Context, key interface{}, column string) (*domain.User, error) {
	var u domain.User
	err := r.s.queryRow(ctx,
		`SELECT id, ident, username, first_name, last_name, email FROM users WHERE `+column+` = ?`, key,
	).Scan(&u.ID, &u.Ident, &u.Username, &u.FirstName, &u.LastName, &u.Email)
	if err != nil {
		return nil, notFoundOr(err, "user", key)
	}
	return &u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.one(ctx, id, "id")
}

func (r *userRepo) GetByIdent(ctx context.Context, ident string) (*domain.User, error) {
	return r.one(ctx, ident, "ident")
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.one(ctx, username, "username")
}

func (r *userRepo) Create(ctx context.Context, u *domain.User) error {
	id, err := r.s.insert(ctx,
		`INSERT INTO users (ident, username, first_name, last_name, email, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.Ident, u.Username, u.FirstName, u.LastName, u.Email, r.s.now(),
	)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	u.ID = id
	return nil
}

type groupRepo struct {
	s *SQLStore
}

func (r *groupRepo) one(ctx context.Context, key interface{}, column string) (*domain.Group, error) {
	var g domain.Group
	err := r.s.queryRow(ctx, `SELECT id, ident, name FROM user_groups WHERE `+column+` = ?`, key).
		Scan(&g.ID, &g.Ident, &g.Name)
	if err != nil {
		return nil, notFoundOr(err, "group", key)
	}
	return &g, nil
}

func (r *groupRepo) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	return r.one(ctx, id, "id")
}

func (r *groupRepo) GetByIdent(ctx context.Context, ident string) (*domain.Group, error) {
	return r.one(ctx, ident, "ident")
}

func (r *groupRepo) Create(ctx context.Context, g *domain.Group) error {
	id, err := r.s.insert(ctx, `INSERT INTO user_groups (ident, name, created_at) VALUES (?, ?, ?)`,
		g.Ident, g.Name, r.s.now())
	if err != nil {
		return fmt.Errorf("creating group: %w", err)
	}
	g.ID = id
	return nil
}

const analysisColumns = `
	a.id, a.ident, a.patient_id, a.name, a.clinical_biopsy, a.disease, a.created_at,
	p.ident, p.patient_id, p.alternate_identifier`

type analysisRepo struct {
	s *SQLStore
}

func scanAnalysis(row scanner) (*domain.Analysis, error) {
	var (
		a         domain.Analysis
		p         domain.Patient
		createdAt time.Time
		alternate sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.Ident, &a.PatientID, &a.Name, &a.ClinicalBiopsy, &a.Disease, &createdAt,
		&p.Ident, &p.PatientID, &alternate,
	)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = createdAt.UTC()
	p.ID = a.PatientID
	p.AlternateIdentifier = alternate.String
	a.Patient = &p
	return &a, nil
}

func (r *analysisRepo) one(ctx context.Context, key interface{}, where string, args ...interface{}) (*domain.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses a JOIN patients p ON p.id = a.patient_id WHERE ` + where
	a, err := scanAnalysis(r.s.queryRow(ctx, query, args...))
	if err != nil {
		return nil, notFoundOr(err, "analysis", key)
	}
	return a, nil
}

func (r *analysisRepo) GetByID(ctx context.Context, id int64) (*domain.Analysis, error) {
	return r.one(ctx, id, "a.id = ?", id)
}

func (r *analysisRepo) GetByIdent(ctx context.Context, ident string) (*domain.Analysis, error) {
	return r.one(ctx, ident, "a.ident = ?", ident)
}

// Find looks an analysis up by its patient's identifier and analysis name
func (r *analysisRepo) Find(ctx context.Context, patientID, analysisName string) (*domain.Analysis, error) {
	return r.one(ctx, patientID+"/"+analysisName, "p.patient_id = ? AND a.name = ?", patientID, analysisName)
}

func (r *analysisRepo) Create(ctx context.Context, a *domain.Analysis) error {
	id, err := r.s.insert(ctx, `
		INSERT INTO analyses (ident, patient_id, name, clinical_biopsy, disease, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Ident, a.PatientID, a.Name, a.ClinicalBiopsy, a.Disease, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating analysis: %w", err)
	}
	a.ID = id
	return nil
}

func (r *analysisRepo) CreatePatient(ctx context.Context, p *domain.Patient) error {
	id, err := r.s.insert(ctx,
		`INSERT INTO patients (ident, patient_id, alternate_identifier, created_at) VALUES (?, ?, ?, ?)`,
		p.Ident, p.PatientID, p.AlternateIdentifier, r.s.now(),
	)
	if err != nil {
		return fmt.Errorf("creating patient: %w", err)
	}
	p.ID = id
	return nil
}
