package appointments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinpulse/platform/libs/db"
	"github.com/clinpulse/platform/services/analytics-platform/internal/model"
	"github.com/clinpulse/platform/services/analytics-platform/internal/outbox"
	"github.com/clinpulse/platform/services/analytics-platform/internal/storage"
)

// ScheduleCommand creates a new appointment in status SCHEDULED.
type ScheduleCommand struct {
	OrganizationID string
	ClinicID       string
	PatientID      string
	Modality       string
	ScheduledAt    time.Time
}

// CompleteCommand transitions an appointment SCHEDULED -> COMPLETED.
type CompleteCommand struct {
	AppointmentID string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Service executes business transitions and appends the matching outbox
// event in the same transaction: either both persist or neither does.
type Service struct {
	pool         *db.Pool
	appointments *storage.AppointmentRepository
	tenants      *storage.TenantRepository
	outbox       *outbox.Repository
	logger       *slog.Logger
}

func NewService(pool *db.Pool, appointments *storage.AppointmentRepository, tenants *storage.TenantRepository, outboxRepo *outbox.Repository, logger *slog.Logger) *Service {
	return &Service{
		pool:         pool,
		appointments: appointments,
		tenants:      tenants,
		outbox:       outboxRepo,
		logger:       logger,
	}
}

func (s *Service) Schedule(ctx context.Context, cmd ScheduleCommand) (model.Appointment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if ok, err := s.tenants.OrganizationExists(ctx, tx, cmd.OrganizationID); err != nil {
		return model.Appointment{}, err
	} else if !ok {
		return model.Appointment{}, fmt.Errorf("organization %s: %w", cmd.OrganizationID, model.ErrNotFound)
	}
	if ok, err := s.tenants.ClinicExists(ctx, tx, cmd.ClinicID, cmd.OrganizationID); err != nil {
		return model.Appointment{}, err
	} else if !ok {
		return model.Appointment{}, fmt.Errorf("clinic %s: %w", cmd.ClinicID, model.ErrNotFound)
	}
	if ok, err := s.tenants.PatientExists(ctx, tx, cmd.PatientID); err != nil {
		return model.Appointment{}, err
	} else if !ok {
		return model.Appointment{}, fmt.Errorf("patient %s: %w", cmd.PatientID, model.ErrNotFound)
	}

	appt := model.Appointment{
		OrganizationID: cmd.OrganizationID,
		ClinicID:       cmd.ClinicID,
		PatientID:      cmd.PatientID,
		Modality:       cmd.Modality,
		Status:         model.StatusScheduled,
		ScheduledAt:    cmd.ScheduledAt,
	}
	id, err := s.appointments.Create(ctx, tx, &appt)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.ID = id

	payload, err := json.Marshal(outbox.ScheduledPayload{
		AppointmentID:  id,
		OrganizationID: cmd.OrganizationID,
		ClinicID:       cmd.ClinicID,
		PatientID:      cmd.PatientID,
		Modality:       cmd.Modality,
		ScheduledAt:    cmd.ScheduledAt,
		Status:         model.StatusScheduled,
	})
	if err != nil {
		// Rolls back the appointment insert along with the event.
		return model.Appointment{}, fmt.Errorf("encode scheduled event: %w", err)
	}
	if err := s.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "APPOINTMENT",
		AggregateID:   id,
		EventType:     outbox.EventAppointmentScheduled,
		Payload:       payload,
		EventTime:     cmd.ScheduledAt,
	}); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	s.logger.Debug("appointment scheduled",
		"appointment_id", id,
		"organization_id", cmd.OrganizationID,
		"clinic_id", cmd.ClinicID,
		"modality", cmd.Modality,
	)
	return appt, nil
}

// Complete returns ok=false when the appointment id does not exist.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (model.Appointment, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.appointments.GetForUpdate(ctx, tx, cmd.AppointmentID)
	if storage.IsNotFound(err) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}

	if err := s.appointments.MarkCompleted(ctx, tx, appt.ID, cmd.StartedAt, cmd.CompletedAt); err != nil {
		return model.Appointment{}, false, err
	}
	appt.Status = model.StatusCompleted
	appt.StartedAt = &cmd.StartedAt
	appt.CompletedAt = &cmd.CompletedAt

	payload, err := json.Marshal(outbox.CompletedPayload{
		AppointmentID:  appt.ID,
		OrganizationID: appt.OrganizationID,
		ClinicID:       appt.ClinicID,
		PatientID:      appt.PatientID,
		Modality:       appt.Modality,
		ScheduledAt:    appt.ScheduledAt,
		StartedAt:      cmd.StartedAt,
		CompletedAt:    cmd.CompletedAt,
		Status:         model.StatusCompleted,
	})
	if err != nil {
		return model.Appointment{}, false, fmt.Errorf("encode completed event: %w", err)
	}
	if err := s.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "APPOINTMENT",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentCompleted,
		Payload:       payload,
		EventTime:     cmd.CompletedAt,
	}); err != nil {
		return model.Appointment{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, false, err
	}

	s.logger.Debug("appointment completed",
		"appointment_id", appt.ID,
		"started_at", cmd.StartedAt,
		"completed_at", cmd.CompletedAt,
	)
	return appt, true, nil
}
