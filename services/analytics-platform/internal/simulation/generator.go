// Package simulation produces synthetic clinical traffic through the real
// command service, so generated events exercise the whole pipeline.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/clinpulse/platform/services/analytics-platform/internal/appointments"
	"github.com/clinpulse/platform/services/analytics-platform/internal/model"
	"github.com/clinpulse/platform/services/analytics-platform/internal/storage"
)

var patientNames = []string{
	"Alex Rivera", "Sam Okafor", "Priya Nair", "Jordan Lee",
	"Casey Nguyen", "Morgan Diaz", "Riley Chen", "Avery Johnson",
}

type Generator struct {
	svc     *appointments.Service
	tenants *storage.TenantRepository
	logger  *slog.Logger
	rng     *rand.Rand

	organizationID string
	clinicID       string
}

func NewGenerator(svc *appointments.Service, tenants *storage.TenantRepository, logger *slog.Logger) *Generator {
	return &Generator{
		svc:     svc,
		tenants: tenants,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run emits a burst of scheduled (and some completed) appointments on a
// fixed cadence until ctx is cancelled.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.burst(ctx); err != nil {
				g.logger.Warn("simulation burst failed", "err", err)
			}
		}
	}
}

func (g *Generator) burst(ctx context.Context) error {
	if err := g.ensureTenant(ctx); err != nil {
		return err
	}

	count := 1 + g.rng.Intn(3)
	for i := 0; i < count; i++ {
		name := patientNames[g.rng.Intn(len(patientNames))]
		patientID, err := g.tenants.CreatePatient(ctx, g.organizationID, g.clinicID, name)
		if err != nil {
			return fmt.Errorf("create patient: %w", err)
		}

		modality := model.ModalityVirtual
		if g.rng.Intn(2) == 0 {
			modality = model.ModalityInPerson
		}
		scheduledAt := time.Now().UTC()

		appt, err := g.svc.Schedule(ctx, appointments.ScheduleCommand{
			OrganizationID: g.organizationID,
			ClinicID:       g.clinicID,
			PatientID:      patientID,
			Modality:       modality,
			ScheduledAt:    scheduledAt,
		})
		if err != nil {
			return fmt.Errorf("schedule: %w", err)
		}

		// Complete roughly half right away so funnel latencies show up.
		if g.rng.Intn(2) == 0 {
			startedAt := scheduledAt.Add(time.Duration(1+g.rng.Intn(5)) * time.Minute)
			completedAt := startedAt.Add(time.Duration(5+g.rng.Intn(16)) * time.Minute)
			if _, _, err := g.svc.Complete(ctx, appointments.CompleteCommand{
				AppointmentID: appt.ID,
				StartedAt:     startedAt,
				CompletedAt:   completedAt,
			}); err != nil {
				return fmt.Errorf("complete: %w", err)
			}
		}
	}

	g.logger.Info("simulated clinical activity burst", "appointments", count)
	return nil
}

func (g *Generator) ensureTenant(ctx context.Context) error {
	if g.organizationID != "" && g.clinicID != "" {
		return nil
	}

	orgID, ok, err := g.tenants.FirstOrganization(ctx)
	if err != nil {
		return err
	}
	if !ok {
		orgID, err = g.tenants.CreateOrganization(ctx, "Northwind Health")
		if err != nil {
			return err
		}
	}

	clinicID, ok, err := g.tenants.FirstClinic(ctx, orgID)
	if err != nil {
		return err
	}
	if !ok {
		clinicID, err = g.tenants.CreateClinic(ctx, orgID, "Main Clinic")
		if err != nil {
			return err
		}
	}

	g.organizationID = orgID
	g.clinicID = clinicID
	return nil
}
