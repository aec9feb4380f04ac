package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clinpulse/platform/libs/db"
)

type TenantRepository struct {
	pool *db.Pool
}

func NewTenantRepository(pool *db.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

func (r *TenantRepository) OrganizationExists(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	return existsIn(ctx, tx, `SELECT 1 FROM organizations WHERE id = $1`, id)
}

func (r *TenantRepository) ClinicExists(ctx context.Context, tx pgx.Tx, id, organizationID string) (bool, error) {
	return existsIn(ctx, tx, `SELECT 1 FROM clinics WHERE id = $1 AND organization_id = $2`, id, organizationID)
}

func (r *TenantRepository) PatientExists(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	return existsIn(ctx, tx, `SELECT 1 FROM patient_accounts WHERE id = $1`, id)
}

func existsIn(ctx context.Context, tx pgx.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FirstOrganization returns the id of any existing organization. Used by
// the traffic generator to reuse a stable tenant across bursts.
func (r *TenantRepository) FirstOrganization(ctx context.Context) (string, bool, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM organizations ORDER BY created_at LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (r *TenantRepository) FirstClinic(ctx context.Context, organizationID string) (string, bool, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM clinics WHERE organization_id = $1 ORDER BY created_at LIMIT 1
	`, organizationID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (r *TenantRepository) CreateOrganization(ctx context.Context, name string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO organizations (name) VALUES ($1) RETURNING id
	`, name).Scan(&id)
	return id, err
}

func (r *TenantRepository) CreateClinic(ctx context.Context, organizationID, name string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO clinics (organization_id, name) VALUES ($1, $2) RETURNING id
	`, organizationID, name).Scan(&id)
	return id, err
}

func (r *TenantRepository) CreatePatient(ctx context.Context, organizationID, clinicID, displayName string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO patient_accounts (organization_id, clinic_id, display_name)
		VALUES ($1, $2, $3)
		RETURNING id
	`, organizationID, clinicID, displayName).Scan(&id)
	return id, err
}
