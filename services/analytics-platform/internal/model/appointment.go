package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

const (
	StatusScheduled = "SCHEDULED"
	StatusCompleted = "COMPLETED"

	ModalityVirtual  = "VIRTUAL"
	ModalityInPerson = "IN_PERSON"
)

// ParseModality validates the modality supplied at the API boundary.
func ParseModality(raw string) (string, error) {
	switch raw {
	case ModalityVirtual, ModalityInPerson:
		return raw, nil
	default:
		return "", fmt.Errorf("invalid modality %q; expected VIRTUAL or IN_PERSON", raw)
	}
}

type Appointment struct {
	ID             string
	OrganizationID string
	ClinicID       string
	PatientID      string
	Modality       string
	Status         string
	ScheduledAt    time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
}
