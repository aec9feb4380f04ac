package outbox

import "time"

// Event type tags stored on outbox rows. The projector dispatches on these,
// so every new tag needs a matching projection rule before it ships.
const (
	EventAppointmentScheduled = "APPOINTMENT_SCHEDULED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

// Event is the domain event envelope appended to the outbox table inside
// the same transaction as the aggregate mutation.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	EventTime     time.Time
}

// ScheduledPayload is the wire body of an APPOINTMENT_SCHEDULED event.
type ScheduledPayload struct {
	AppointmentID  string    `json:"appointmentId"`
	OrganizationID string    `json:"organizationId"`
	ClinicID       string    `json:"clinicId"`
	PatientID      string    `json:"patientId"`
	Modality       string    `json:"modality"`
	ScheduledAt    time.Time `json:"scheduledAt"`
	Status         string    `json:"status"`
}

// CompletedPayload is the wire body of an APPOINTMENT_COMPLETED event.
type CompletedPayload struct {
	AppointmentID  string    `json:"appointmentId"`
	OrganizationID string    `json:"organizationId"`
	ClinicID       string    `json:"clinicId"`
	PatientID      string    `json:"patientId"`
	Modality       string    `json:"modality"`
	ScheduledAt    time.Time `json:"scheduledAt"`
	StartedAt      time.Time `json:"startedAt"`
	CompletedAt    time.Time `json:"completedAt"`
	Status         string    `json:"status"`
}
