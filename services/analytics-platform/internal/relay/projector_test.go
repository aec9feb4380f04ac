package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/clinpulse/platform/services/analytics-platform/internal/facts"
	"github.com/clinpulse/platform/services/analytics-platform/internal/model"
	"github.com/clinpulse/platform/services/analytics-platform/internal/outbox"
)

type memEvents struct {
	records []outbox.Record
}

func (m *memEvents) FetchAfter(_ context.Context, afterID int64, limit int) ([]outbox.Record, error) {
	var out []outbox.Record
	for _, r := range m.records {
		if r.ID > afterID {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memCheckpoints struct {
	values map[string]int64
	saves  int
}

func (m *memCheckpoints) Load(_ context.Context, stream string) (int64, error) {
	return m.values[stream], nil
}

func (m *memCheckpoints) Save(_ context.Context, stream string, id int64) error {
	if m.values == nil {
		m.values = map[string]int64{}
	}
	m.values[stream] = id
	m.saves++
	return nil
}

type memFacts struct {
	rows map[string]facts.FunnelFact
}

func (m *memFacts) Get(_ context.Context, appointmentID string) (facts.FunnelFact, bool, error) {
	f, ok := m.rows[appointmentID]
	return f, ok, nil
}

func (m *memFacts) Upsert(_ context.Context, f facts.FunnelFact) error {
	if m.rows == nil {
		m.rows = map[string]facts.FunnelFact{}
	}
	m.rows[f.AppointmentID] = f
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scheduledRecord(t *testing.T, id int64, appointmentID string, scheduledAt time.Time) outbox.Record {
	t.Helper()
	payload, err := json.Marshal(outbox.ScheduledPayload{
		AppointmentID:  appointmentID,
		OrganizationID: "org-1",
		ClinicID:       "clinic-1",
		PatientID:      "patient-1",
		Modality:       model.ModalityVirtual,
		ScheduledAt:    scheduledAt,
		Status:         model.StatusScheduled,
	})
	if err != nil {
		t.Fatalf("marshal scheduled payload: %v", err)
	}
	return outbox.Record{ID: id, EventType: outbox.EventAppointmentScheduled, Payload: payload}
}

func completedRecord(t *testing.T, id int64, appointmentID string, scheduledAt, startedAt, completedAt time.Time) outbox.Record {
	t.Helper()
	payload, err := json.Marshal(outbox.CompletedPayload{
		AppointmentID:  appointmentID,
		OrganizationID: "org-1",
		ClinicID:       "clinic-1",
		PatientID:      "patient-1",
		Modality:       model.ModalityVirtual,
		ScheduledAt:    scheduledAt,
		StartedAt:      startedAt,
		CompletedAt:    completedAt,
		Status:         model.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("marshal completed payload: %v", err)
	}
	return outbox.Record{ID: id, EventType: outbox.EventAppointmentCompleted, Payload: payload}
}

func TestTickProjectsScheduledEvent(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := &memEvents{records: []outbox.Record{scheduledRecord(t, 1, "appt-1", scheduledAt)}}
	checkpoints := &memCheckpoints{}
	store := &memFacts{}
	p := NewProjector("test-stream", events, checkpoints, store, testLogger())

	n, err := p.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 projected event, got %d", n)
	}

	fact, ok := store.rows["appt-1"]
	if !ok {
		t.Fatal("expected fact row for appt-1")
	}
	if fact.Status != model.StatusScheduled {
		t.Fatalf("expected status SCHEDULED, got %s", fact.Status)
	}
	if fact.ScheduledAt == nil || !fact.ScheduledAt.Equal(scheduledAt) {
		t.Fatalf("unexpected scheduledAt: %v", fact.ScheduledAt)
	}
	if fact.ScheduledToStartSeconds != nil || fact.StartToCompleteSeconds != nil {
		t.Fatal("latency metrics must be absent before completion")
	}
	if checkpoints.values["test-stream"] != 1 {
		t.Fatalf("expected checkpoint 1, got %d", checkpoints.values["test-stream"])
	}
}

func TestProjectionIsIdempotent(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rcd := scheduledRecord(t, 1, "appt-1", scheduledAt)
	store := &memFacts{}
	p := NewProjector("test-stream", &memEvents{}, &memCheckpoints{}, store, testLogger())

	if err := p.project(context.Background(), rcd); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	first := store.rows["appt-1"]
	if err := p.project(context.Background(), rcd); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	second := store.rows["appt-1"]

	if first.Status != second.Status || first.Modality != second.Modality ||
		!first.ScheduledAt.Equal(*second.ScheduledAt) ||
		first.OrganizationID != second.OrganizationID {
		t.Fatalf("re-applying the same event changed the row: %+v vs %+v", first, second)
	}
}

func TestCheckpointAdvancesPastFailedEvents(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := &memEvents{records: []outbox.Record{
		scheduledRecord(t, 10, "appt-1", scheduledAt),
		{ID: 11, EventType: outbox.EventAppointmentScheduled, Payload: []byte("{not json")},
		{ID: 12, EventType: "APPOINTMENT_EXPLODED", Payload: []byte("{}")},
		scheduledRecord(t, 13, "appt-2", scheduledAt),
	}}
	checkpoints := &memCheckpoints{}
	store := &memFacts{}
	p := NewProjector("test-stream", events, checkpoints, store, testLogger())

	n, err := p.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 projected events, got %d", n)
	}
	if got := checkpoints.values["test-stream"]; got != 13 {
		t.Fatalf("checkpoint should advance past failed events to 13, got %d", got)
	}
	if _, ok := store.rows["appt-2"]; !ok {
		t.Fatal("events after a failure must still be projected")
	}
}

func TestCheckpointMonotonicAcrossTicks(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := &memEvents{records: []outbox.Record{scheduledRecord(t, 5, "appt-1", scheduledAt)}}
	checkpoints := &memCheckpoints{}
	p := NewProjector("test-stream", events, checkpoints, &memFacts{}, testLogger())

	if _, err := p.Tick(context.Background()); err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	saves := checkpoints.saves

	// Empty poll: no events past the checkpoint, no state change.
	n, err := p.Tick(context.Background())
	if err != nil {
		t.Fatalf("second tick failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 projected events, got %d", n)
	}
	if checkpoints.saves != saves {
		t.Fatal("empty batch must not rewrite the checkpoint")
	}
	if checkpoints.values["test-stream"] != 5 {
		t.Fatalf("checkpoint regressed to %d", checkpoints.values["test-stream"])
	}
}

func TestCompletedComputesLatencies(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	startedAt := scheduledAt.Add(5 * time.Minute)
	completedAt := scheduledAt.Add(20 * time.Minute)
	events := &memEvents{records: []outbox.Record{
		scheduledRecord(t, 1, "appt-1", scheduledAt),
		completedRecord(t, 2, "appt-1", scheduledAt, startedAt, completedAt),
	}}
	store := &memFacts{}
	p := NewProjector("test-stream", events, &memCheckpoints{}, store, testLogger())

	if _, err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	fact := store.rows["appt-1"]
	if fact.Status != model.StatusCompleted {
		t.Fatalf("expected status COMPLETED, got %s", fact.Status)
	}
	if fact.ScheduledToStartSeconds == nil || *fact.ScheduledToStartSeconds != 300 {
		t.Fatalf("expected scheduledToStartSeconds=300, got %v", fact.ScheduledToStartSeconds)
	}
	if fact.StartToCompleteSeconds == nil || *fact.StartToCompleteSeconds != 900 {
		t.Fatalf("expected startToCompleteSeconds=900, got %v", fact.StartToCompleteSeconds)
	}
}

func TestCompletedKeepsExistingScheduledAt(t *testing.T) {
	originalScheduledAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := &memFacts{rows: map[string]facts.FunnelFact{
		"appt-1": {AppointmentID: "appt-1", Status: model.StatusScheduled, ScheduledAt: &originalScheduledAt},
	}}
	p := NewProjector("test-stream", &memEvents{}, &memCheckpoints{}, store, testLogger())

	// Event carries a different scheduledAt; the row's value must win.
	drifted := originalScheduledAt.Add(time.Hour)
	rcd := completedRecord(t, 2, "appt-1", drifted, drifted.Add(5*time.Minute), drifted.Add(20*time.Minute))
	if err := p.project(context.Background(), rcd); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	fact := store.rows["appt-1"]
	if fact.ScheduledAt == nil || !fact.ScheduledAt.Equal(originalScheduledAt) {
		t.Fatalf("completed event must not overwrite an existing scheduledAt, got %v", fact.ScheduledAt)
	}
}

func TestCompletedBeforeScheduledStillProjects(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	startedAt := scheduledAt.Add(2 * time.Minute)
	completedAt := startedAt.Add(10 * time.Minute)
	store := &memFacts{}
	p := NewProjector("test-stream", &memEvents{}, &memCheckpoints{}, store, testLogger())

	rcd := completedRecord(t, 7, "appt-9", scheduledAt, startedAt, completedAt)
	if err := p.project(context.Background(), rcd); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	fact, ok := store.rows["appt-9"]
	if !ok {
		t.Fatal("completed event without a prior row must create one")
	}
	if fact.ScheduledAt == nil || !fact.ScheduledAt.Equal(scheduledAt) {
		t.Fatalf("scheduledAt should be taken from the event, got %v", fact.ScheduledAt)
	}
	if fact.ScheduledToStartSeconds == nil || *fact.ScheduledToStartSeconds != 120 {
		t.Fatalf("expected scheduledToStartSeconds=120, got %v", fact.ScheduledToStartSeconds)
	}
}
