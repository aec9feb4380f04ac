// Package analytics computes tenant-scoped rollups from funnel facts.
package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/clinpulse/platform/services/analytics-platform/internal/facts"
	"github.com/clinpulse/platform/services/analytics-platform/internal/model"
)

// Snapshot is the read model pushed to dashboard subscribers. Averages
// are omitted, not zeroed, when no fact carries the underlying metric.
type Snapshot struct {
	OrganizationID                 string    `json:"organizationId"`
	ClinicID                       string    `json:"clinicId"`
	ScheduledCount                 int64     `json:"scheduledCount"`
	CompletedCount                 int64     `json:"completedCount"`
	VirtualCount                   int64     `json:"virtualCount"`
	InPersonCount                  int64     `json:"inPersonCount"`
	AverageScheduledToStartSeconds *float64  `json:"averageScheduledToStartSeconds,omitempty"`
	AverageStartToCompleteSeconds  *float64  `json:"averageStartToCompleteSeconds,omitempty"`
	LastUpdatedAt                  time.Time `json:"lastUpdatedAt"`
}

type FactLister interface {
	ListByTenant(ctx context.Context, organizationID, clinicID string) ([]facts.FunnelFact, error)
}

// Service is a pure reader over the fact store.
type Service struct {
	facts FactLister
	now   func() time.Time
}

func NewService(factLister FactLister) *Service {
	return &Service{facts: factLister, now: time.Now}
}

// LoadSnapshot scans all facts for the tenant pair and rolls them up.
func (s *Service) LoadSnapshot(ctx context.Context, organizationID, clinicID string) (Snapshot, error) {
	rows, err := s.facts.ListByTenant(ctx, organizationID, clinicID)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		OrganizationID: organizationID,
		ClinicID:       clinicID,
	}

	var (
		totalScheduledToStart int64
		countScheduledToStart int64
		totalStartToComplete  int64
		countStartToComplete  int64
		maxCompletedAt        *time.Time
	)

	for _, fact := range rows {
		switch fact.Status {
		case model.StatusScheduled:
			snapshot.ScheduledCount++
		case model.StatusCompleted:
			snapshot.CompletedCount++
		}

		if strings.EqualFold(fact.Modality, model.ModalityVirtual) {
			snapshot.VirtualCount++
		} else if strings.EqualFold(fact.Modality, model.ModalityInPerson) {
			snapshot.InPersonCount++
		}

		if fact.ScheduledToStartSeconds != nil {
			totalScheduledToStart += *fact.ScheduledToStartSeconds
			countScheduledToStart++
		}
		if fact.StartToCompleteSeconds != nil {
			totalStartToComplete += *fact.StartToCompleteSeconds
			countStartToComplete++
		}

		if fact.CompletedAt != nil {
			if maxCompletedAt == nil || fact.CompletedAt.After(*maxCompletedAt) {
				completedAt := *fact.CompletedAt
				maxCompletedAt = &completedAt
			}
		}
	}

	if countScheduledToStart > 0 {
		avg := float64(totalScheduledToStart) / float64(countScheduledToStart)
		snapshot.AverageScheduledToStartSeconds = &avg
	}
	if countStartToComplete > 0 {
		avg := float64(totalStartToComplete) / float64(countStartToComplete)
		snapshot.AverageStartToCompleteSeconds = &avg
	}

	if maxCompletedAt != nil {
		snapshot.LastUpdatedAt = *maxCompletedAt
	} else {
		snapshot.LastUpdatedAt = s.now()
	}
	return snapshot, nil
}
