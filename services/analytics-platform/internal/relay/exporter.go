package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/clinpulse/platform/libs/kafkax"
	otelx "github.com/clinpulse/platform/libs/otel"
	"github.com/clinpulse/platform/services/analytics-platform/internal/observability"
	"github.com/clinpulse/platform/services/analytics-platform/internal/outbox"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Exporter mirrors outbox events to Kafka on its own checkpoint stream.
// Delivery is at-least-once: a write failure leaves the checkpoint in
// place and the whole batch is retried on the next tick.
type Exporter struct {
	stream      string
	events      EventSource
	checkpoints CheckpointStore
	writer      messageWriter
	logger      *slog.Logger
	batchSize   int
}

func NewExporter(stream string, events EventSource, checkpoints CheckpointStore, writer messageWriter, logger *slog.Logger) *Exporter {
	return &Exporter{
		stream:      stream,
		events:      events,
		checkpoints: checkpoints,
		writer:      writer,
		logger:      logger,
		batchSize:   DefaultBatchSize,
	}
}

// NewKafkaWriter builds the writer the exporter uses in production.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
	})
}

func (e *Exporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil {
				e.logger.Error("export tick failed", "stream", e.stream, "err", err)
			}
		}
	}
}

func (e *Exporter) Tick(ctx context.Context) (int, error) {
	lastProcessed, err := e.checkpoints.Load(ctx, e.stream)
	if err != nil {
		return 0, err
	}

	batch, err := e.events.FetchAfter(ctx, lastProcessed, e.batchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	highestSeen := lastProcessed
	exported := 0
	for _, evt := range batch {
		if evt.ID > highestSeen {
			highestSeen = evt.ID
		}
		topic := topicForEvent(evt.EventType)
		if topic == "" {
			e.logger.Warn("no kafka topic for event type; skipping", "event_type", evt.EventType, "event_id", evt.ID)
			continue
		}

		msgCtx := otelx.ContextWithTraceContext(ctx, evt.Traceparent, evt.Tracestate)
		msg := kafka.Message{
			Topic:   topic,
			Key:     []byte(evt.AggregateID),
			Value:   evt.Payload,
			Headers: kafkax.EventHeaders(evt.EventID, evt.EventType),
		}
		msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
		if err := e.writer.WriteMessages(ctx, msg); err != nil {
			// Checkpoint stays put so the batch replays next tick.
			return exported, err
		}
		exported++
	}

	if err := e.checkpoints.Save(ctx, e.stream, highestSeen); err != nil {
		return exported, err
	}
	observability.RecordExportedEvents(exported)
	return exported, nil
}

func topicForEvent(eventType string) string {
	switch eventType {
	case outbox.EventAppointmentScheduled:
		return "appointment.scheduled.v1"
	case outbox.EventAppointmentCompleted:
		return "appointment.completed.v1"
	default:
		return ""
	}
}
