package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clinpulse/platform/services/analytics-platform/internal/appointments"
	"github.com/clinpulse/platform/services/analytics-platform/internal/model"
)

type fakeGateway struct {
	result appointments.SubmitResult
	err    error
	last   appointments.ScheduleCommand
}

func (f *fakeGateway) Submit(_ context.Context, cmd appointments.ScheduleCommand) (appointments.SubmitResult, error) {
	f.last = cmd
	return f.result, f.err
}

type fakeCompleter struct {
	appt  model.Appointment
	found bool
	err   error
	last  appointments.CompleteCommand
}

func (f *fakeCompleter) Complete(_ context.Context, cmd appointments.CompleteCommand) (model.Appointment, bool, error) {
	f.last = cmd
	return f.appt, f.found, f.err
}

type fakeStats struct {
	ids  []string
	err  error
	from time.Time
	to   time.Time
}

func (f *fakeStats) ListScheduledBetween(_ context.Context, _, _ string, from, to time.Time) ([]string, error) {
	f.from = from
	f.to = to
	return f.ids, f.err
}

func newTestHandler(gateway *fakeGateway, completer *fakeCompleter, stats *fakeStats) *AppointmentHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewAppointmentHandler(gateway, completer, stats, logger)
	h.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return h
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestScheduleSynchronousReturnsAppointment(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gateway := &fakeGateway{result: appointments.SubmitResult{
		Appointment: model.Appointment{
			ID:             "appt-1",
			OrganizationID: "org-1",
			ClinicID:       "clinic-1",
			PatientID:      "patient-1",
			Modality:       model.ModalityVirtual,
			Status:         model.StatusScheduled,
			ScheduledAt:    scheduledAt,
		},
	}}
	h := newTestHandler(gateway, &fakeCompleter{}, &fakeStats{})

	rec := postJSON(t, h.Schedule, "/api/v1/appointments",
		`{"organizationId":"org-1","clinicId":"clinic-1","patientId":"patient-1","modality":"VIRTUAL","scheduledAt":"2026-03-02T09:00:00Z"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp appointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "appt-1" || resp.Status != model.StatusScheduled {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !gateway.last.ScheduledAt.Equal(scheduledAt) {
		t.Fatalf("scheduledAt not forwarded: %v", gateway.last.ScheduledAt)
	}
}

func TestScheduleQueuedReturnsAccepted(t *testing.T) {
	gateway := &fakeGateway{result: appointments.SubmitResult{Queued: true}}
	h := newTestHandler(gateway, &fakeCompleter{}, &fakeStats{})

	rec := postJSON(t, h.Schedule, "/api/v1/appointments",
		`{"organizationId":"org-1","clinicId":"clinic-1","patientId":"patient-1","modality":"IN_PERSON"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp acceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "accepted" {
		t.Fatalf("expected status accepted, got %q", resp.Status)
	}
}

func TestScheduleDefaultsScheduledAtToNow(t *testing.T) {
	gateway := &fakeGateway{result: appointments.SubmitResult{Queued: true}}
	h := newTestHandler(gateway, &fakeCompleter{}, &fakeStats{})

	rec := postJSON(t, h.Schedule, "/api/v1/appointments",
		`{"organizationId":"org-1","clinicId":"clinic-1","patientId":"patient-1","modality":"VIRTUAL"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	want := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if !gateway.last.ScheduledAt.Equal(want) {
		t.Fatalf("expected scheduledAt defaulted to now, got %v", gateway.last.ScheduledAt)
	}
}

func TestScheduleValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing tenant ids", `{"modality":"VIRTUAL"}`},
		{"unknown modality", `{"organizationId":"o","clinicId":"c","patientId":"p","modality":"PHONE"}`},
		{"lowercase modality", `{"organizationId":"o","clinicId":"c","patientId":"p","modality":"virtual"}`},
		{"bad scheduledAt", `{"organizationId":"o","clinicId":"c","patientId":"p","modality":"VIRTUAL","scheduledAt":"yesterday"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&fakeGateway{}, &fakeCompleter{}, &fakeStats{})
			rec := postJSON(t, h.Schedule, "/api/v1/appointments", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestScheduleErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"queue full", appointments.ErrQueueFull, http.StatusServiceUnavailable},
		{"interrupted", appointments.ErrSubmitInterrupted, http.StatusServiceUnavailable},
		{"unknown tenant", model.ErrNotFound, http.StatusNotFound},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&fakeGateway{err: tc.err}, &fakeCompleter{}, &fakeStats{})
			rec := postJSON(t, h.Schedule, "/api/v1/appointments",
				`{"organizationId":"o","clinicId":"c","patientId":"p","modality":"VIRTUAL"}`)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestScheduleRejectsNonPost(t *testing.T) {
	h := newTestHandler(&fakeGateway{}, &fakeCompleter{}, &fakeStats{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	rec := httptest.NewRecorder()
	h.Schedule(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCompleteDefaultsTimestamps(t *testing.T) {
	completer := &fakeCompleter{found: true, appt: model.Appointment{ID: "appt-1", Status: model.StatusCompleted}}
	h := newTestHandler(&fakeGateway{}, completer, &fakeStats{})

	rec := postJSON(t, h.Complete, "/api/v1/appointments/complete", `{"appointmentId":"appt-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	wantStarted := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if !completer.last.StartedAt.Equal(wantStarted) {
		t.Fatalf("startedAt should default to now, got %v", completer.last.StartedAt)
	}
	if !completer.last.CompletedAt.Equal(wantStarted.Add(15 * time.Minute)) {
		t.Fatalf("completedAt should default to startedAt+15m, got %v", completer.last.CompletedAt)
	}
}

func TestCompleteNotFound(t *testing.T) {
	h := newTestHandler(&fakeGateway{}, &fakeCompleter{found: false}, &fakeStats{})
	rec := postJSON(t, h.Complete, "/api/v1/appointments/complete", `{"appointmentId":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCompleteRequiresAppointmentID(t *testing.T) {
	h := newTestHandler(&fakeGateway{}, &fakeCompleter{}, &fakeStats{})
	rec := postJSON(t, h.Complete, "/api/v1/appointments/complete", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStatsListsWindow(t *testing.T) {
	stats := &fakeStats{ids: []string{"a1", "a2"}}
	h := newTestHandler(&fakeGateway{}, &fakeCompleter{}, stats)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/appointments/stats?organizationId=org-1&clinicId=clinic-1&from=2026-03-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	h.Stats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.AppointmentIDs) != 2 {
		t.Fatalf("unexpected stats response: %+v", resp)
	}
	if !stats.to.Equal(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("to should default to now, got %v", stats.to)
	}
}

func TestStatsRequiresTenantAndFrom(t *testing.T) {
	h := newTestHandler(&fakeGateway{}, &fakeCompleter{}, &fakeStats{})

	for _, target := range []string{
		"/api/v1/appointments/stats?clinicId=c&from=2026-03-01T00:00:00Z",
		"/api/v1/appointments/stats?organizationId=o&from=2026-03-01T00:00:00Z",
		"/api/v1/appointments/stats?organizationId=o&clinicId=c",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		h.Stats(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestStatsEmptyWindowReturnsEmptyList(t *testing.T) {
	h := newTestHandler(&fakeGateway{}, &fakeCompleter{}, &fakeStats{})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/appointments/stats?organizationId=o&clinicId=c&from=2026-03-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	h.Stats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"appointmentIds":[]`) {
		t.Fatalf("empty window must serialize an empty array, got %s", rec.Body.String())
	}
}
