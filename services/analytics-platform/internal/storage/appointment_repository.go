package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinpulse/platform/libs/db"
	"github.com/clinpulse/platform/services/analytics-platform/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments (organization_id, clinic_id, patient_id, modality, status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, appt.OrganizationID, appt.ClinicID, appt.PatientID, appt.Modality, appt.Status, appt.ScheduledAt).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetForUpdate locks the appointment row for the duration of the
// transaction so complete-vs-complete races serialize on the aggregate.
func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	var appt model.Appointment
	err := tx.QueryRow(ctx, `
		SELECT id, organization_id, clinic_id, patient_id, modality, status, scheduled_at, started_at, completed_at, created_at
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&appt.ID,
		&appt.OrganizationID,
		&appt.ClinicID,
		&appt.PatientID,
		&appt.Modality,
		&appt.Status,
		&appt.ScheduledAt,
		&appt.StartedAt,
		&appt.CompletedAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) MarkCompleted(ctx context.Context, tx pgx.Tx, id string, startedAt, completedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    started_at = $3,
		    completed_at = $4
		WHERE id = $1
	`, id, model.StatusCompleted, startedAt, completedAt)
	return err
}

// ListScheduledBetween returns ids of tenant appointments whose
// scheduled_at falls inside [from, to).
func (r *AppointmentRepository) ListScheduledBetween(ctx context.Context, organizationID, clinicID string, from, to time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id
		FROM appointments
		WHERE organization_id = $1
			AND clinic_id = $2
			AND scheduled_at >= $3
			AND scheduled_at < $4
		ORDER BY scheduled_at
	`, organizationID, clinicID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
