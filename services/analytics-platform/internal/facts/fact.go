// Package facts holds the denormalized appointment funnel read model.
// Rows are written only by the relay projector and read by the snapshot
// aggregator.
package facts

import "time"

// FunnelFact is one read-model row, keyed by appointment id. Latency
// fields are present only when both endpoint timestamps are known.
type FunnelFact struct {
	AppointmentID           string
	OrganizationID          string
	ClinicID                string
	PatientID               string
	Modality                string
	Status                  string
	ScheduledAt             *time.Time
	StartedAt               *time.Time
	CompletedAt             *time.Time
	ScheduledToStartSeconds *int64
	StartToCompleteSeconds  *int64
}
