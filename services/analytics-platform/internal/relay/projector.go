// Package relay moves outbox events downstream: the Projector folds them
// into funnel facts, the Exporter mirrors them to Kafka. Each relay owns
// one named checkpoint stream and must have a single active driver.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	otelx "github.com/clinpulse/platform/libs/otel"
	"github.com/clinpulse/platform/services/analytics-platform/internal/facts"
	"github.com/clinpulse/platform/services/analytics-platform/internal/model"
	"github.com/clinpulse/platform/services/analytics-platform/internal/observability"
	"github.com/clinpulse/platform/services/analytics-platform/internal/outbox"
)

// DefaultBatchSize bounds how many events one tick may process, which in
// turn bounds worst-case replay after a restart to one batch.
const DefaultBatchSize = 200

type EventSource interface {
	FetchAfter(ctx context.Context, afterID int64, limit int) ([]outbox.Record, error)
}

type CheckpointStore interface {
	Load(ctx context.Context, streamName string) (int64, error)
	Save(ctx context.Context, streamName string, lastProcessedEventID int64) error
}

type FactStore interface {
	Get(ctx context.Context, appointmentID string) (facts.FunnelFact, bool, error)
	Upsert(ctx context.Context, fact facts.FunnelFact) error
}

// Projector catches the funnel fact read model up from the outbox.
// Tick must never run concurrently with itself for the same stream; the
// single-goroutine Run loop guarantees that.
type Projector struct {
	stream      string
	events      EventSource
	checkpoints CheckpointStore
	facts       FactStore
	logger      *slog.Logger
	batchSize   int
}

func NewProjector(stream string, events EventSource, checkpoints CheckpointStore, factStore FactStore, logger *slog.Logger) *Projector {
	return &Projector{
		stream:      stream,
		events:      events,
		checkpoints: checkpoints,
		facts:       factStore,
		logger:      logger,
		batchSize:   DefaultBatchSize,
	}
}

// Run drives Tick on a fixed interval until ctx is cancelled.
func (p *Projector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil {
				p.logger.Error("relay tick failed", "stream", p.stream, "err", err)
			}
		}
	}
}

// Tick processes at most one batch of events past the checkpoint and
// returns how many projected cleanly. A projection failure skips that
// event only; the checkpoint still advances past it at the end of the
// batch, so a poison event cannot block the stream.
func (p *Projector) Tick(ctx context.Context) (int, error) {
	lastProcessed, err := p.checkpoints.Load(ctx, p.stream)
	if err != nil {
		return 0, err
	}

	batch, err := p.events.FetchAfter(ctx, lastProcessed, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	highestSeen := lastProcessed
	projected := 0
	for _, evt := range batch {
		if evt.ID > highestSeen {
			highestSeen = evt.ID
		}
		evtCtx := otelx.ContextWithTraceContext(ctx, evt.Traceparent, evt.Tracestate)
		if err := p.project(evtCtx, evt); err != nil {
			observability.RecordProjectionFailure()
			p.logger.Warn("projection failed; skipping event",
				"stream", p.stream,
				"event_id", evt.ID,
				"event_type", evt.EventType,
				"err", err,
			)
			continue
		}
		projected++
	}

	if err := p.checkpoints.Save(ctx, p.stream, highestSeen); err != nil {
		return projected, err
	}
	observability.RecordProjectedEvents(projected)
	p.logger.Debug("projected outbox batch", "stream", p.stream, "events", len(batch), "checkpoint", highestSeen)
	return projected, nil
}

func (p *Projector) project(ctx context.Context, evt outbox.Record) error {
	switch evt.EventType {
	case outbox.EventAppointmentScheduled:
		return p.applyScheduled(ctx, evt.Payload)
	case outbox.EventAppointmentCompleted:
		return p.applyCompleted(ctx, evt.Payload)
	default:
		return fmt.Errorf("unknown event type %q", evt.EventType)
	}
}

// applyScheduled sets every scalar field unconditionally, so re-applying
// the same event is a value-level no-op.
func (p *Projector) applyScheduled(ctx context.Context, payload []byte) error {
	var body outbox.ScheduledPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decode scheduled payload: %w", err)
	}
	if body.AppointmentID == "" {
		return fmt.Errorf("scheduled payload missing appointmentId")
	}

	fact, ok, err := p.facts.Get(ctx, body.AppointmentID)
	if err != nil {
		return err
	}
	if !ok {
		fact = facts.FunnelFact{AppointmentID: body.AppointmentID}
	}

	fact.OrganizationID = body.OrganizationID
	fact.ClinicID = body.ClinicID
	fact.PatientID = body.PatientID
	fact.Modality = body.Modality
	fact.Status = body.Status
	scheduledAt := body.ScheduledAt
	fact.ScheduledAt = &scheduledAt

	return p.facts.Upsert(ctx, fact)
}

// applyCompleted merges by field: scheduledAt is kept if already present
// (the Completed event may arrive before its Scheduled sibling), the
// completion fields are overwritten, and the latency metrics are
// recomputed whenever both operands are known.
func (p *Projector) applyCompleted(ctx context.Context, payload []byte) error {
	var body outbox.CompletedPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decode completed payload: %w", err)
	}
	if body.AppointmentID == "" {
		return fmt.Errorf("completed payload missing appointmentId")
	}

	fact, ok, err := p.facts.Get(ctx, body.AppointmentID)
	if err != nil {
		return err
	}
	if !ok {
		fact = facts.FunnelFact{AppointmentID: body.AppointmentID}
	}

	if fact.ScheduledAt == nil && !body.ScheduledAt.IsZero() {
		scheduledAt := body.ScheduledAt
		fact.ScheduledAt = &scheduledAt
	}
	startedAt := body.StartedAt
	completedAt := body.CompletedAt
	fact.StartedAt = &startedAt
	fact.CompletedAt = &completedAt
	fact.Status = model.StatusCompleted
	if body.Status != "" {
		fact.Status = body.Status
	}

	if fact.ScheduledAt != nil && fact.StartedAt != nil {
		secs := int64(fact.StartedAt.Sub(*fact.ScheduledAt) / time.Second)
		fact.ScheduledToStartSeconds = &secs
	}
	if fact.StartedAt != nil && fact.CompletedAt != nil {
		secs := int64(fact.CompletedAt.Sub(*fact.StartedAt) / time.Second)
		fact.StartToCompleteSeconds = &secs
	}

	return p.facts.Upsert(ctx, fact)
}
