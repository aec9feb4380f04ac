package facts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clinpulse/platform/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, appointmentID string) (FunnelFact, bool, error) {
	var f FunnelFact
	err := r.pool.QueryRow(ctx, `
		SELECT appointment_id, organization_id, clinic_id, patient_id, modality, status,
			scheduled_at, started_at, completed_at, scheduled_to_start_seconds, start_to_complete_seconds
		FROM funnel_facts
		WHERE appointment_id = $1
	`, appointmentID).Scan(
		&f.AppointmentID,
		&f.OrganizationID,
		&f.ClinicID,
		&f.PatientID,
		&f.Modality,
		&f.Status,
		&f.ScheduledAt,
		&f.StartedAt,
		&f.CompletedAt,
		&f.ScheduledToStartSeconds,
		&f.StartToCompleteSeconds,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return FunnelFact{}, false, nil
	}
	if err != nil {
		return FunnelFact{}, false, err
	}
	return f, true, nil
}

// Upsert writes the whole row. The projector owns the merge semantics;
// the store replays exactly what it is given, so re-applying the same
// event leaves the row unchanged.
func (r *Repository) Upsert(ctx context.Context, f FunnelFact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO funnel_facts
			(appointment_id, organization_id, clinic_id, patient_id, modality, status,
			 scheduled_at, started_at, completed_at, scheduled_to_start_seconds, start_to_complete_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (appointment_id)
		DO UPDATE SET organization_id = EXCLUDED.organization_id,
		              clinic_id = EXCLUDED.clinic_id,
		              patient_id = EXCLUDED.patient_id,
		              modality = EXCLUDED.modality,
		              status = EXCLUDED.status,
		              scheduled_at = EXCLUDED.scheduled_at,
		              started_at = EXCLUDED.started_at,
		              completed_at = EXCLUDED.completed_at,
		              scheduled_to_start_seconds = EXCLUDED.scheduled_to_start_seconds,
		              start_to_complete_seconds = EXCLUDED.start_to_complete_seconds,
		              updated_at = now()
	`, f.AppointmentID, f.OrganizationID, f.ClinicID, f.PatientID, f.Modality, f.Status,
		f.ScheduledAt, f.StartedAt, f.CompletedAt, f.ScheduledToStartSeconds, f.StartToCompleteSeconds)
	return err
}

func (r *Repository) ListByTenant(ctx context.Context, organizationID, clinicID string) ([]FunnelFact, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_id, organization_id, clinic_id, patient_id, modality, status,
			scheduled_at, started_at, completed_at, scheduled_to_start_seconds, start_to_complete_seconds
		FROM funnel_facts
		WHERE organization_id = $1 AND clinic_id = $2
	`, organizationID, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FunnelFact
	for rows.Next() {
		var f FunnelFact
		if err := rows.Scan(
			&f.AppointmentID,
			&f.OrganizationID,
			&f.ClinicID,
			&f.PatientID,
			&f.Modality,
			&f.Status,
			&f.ScheduledAt,
			&f.StartedAt,
			&f.CompletedAt,
			&f.ScheduledToStartSeconds,
			&f.StartToCompleteSeconds,
		); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
