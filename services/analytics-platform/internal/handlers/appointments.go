package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clinpulse/platform/services/analytics-platform/internal/appointments"
	"github.com/clinpulse/platform/services/analytics-platform/internal/model"
)

// Submitter is the command gateway surface the handler needs.
type Submitter interface {
	Submit(ctx context.Context, cmd appointments.ScheduleCommand) (appointments.SubmitResult, error)
}

// Completer executes complete commands synchronously.
type Completer interface {
	Complete(ctx context.Context, cmd appointments.CompleteCommand) (model.Appointment, bool, error)
}

// StatsLister lists appointment ids scheduled in a window for a tenant.
type StatsLister interface {
	ListScheduledBetween(ctx context.Context, organizationID, clinicID string, from, to time.Time) ([]string, error)
}

type AppointmentHandler struct {
	gateway Submitter
	svc     Completer
	stats   StatsLister
	logger  *slog.Logger
	now     func() time.Time
}

func NewAppointmentHandler(gateway Submitter, svc Completer, stats StatsLister, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		gateway: gateway,
		svc:     svc,
		stats:   stats,
		logger:  logger,
		now:     time.Now,
	}
}

type scheduleRequest struct {
	OrganizationID string `json:"organizationId"`
	ClinicID       string `json:"clinicId"`
	PatientID      string `json:"patientId"`
	Modality       string `json:"modality"`
	ScheduledAt    string `json:"scheduledAt"`
}

type appointmentResponse struct {
	ID             string  `json:"id"`
	OrganizationID string  `json:"organizationId"`
	ClinicID       string  `json:"clinicId"`
	PatientID      string  `json:"patientId"`
	Modality       string  `json:"modality"`
	Status         string  `json:"status"`
	ScheduledAt    string  `json:"scheduledAt"`
	StartedAt      *string `json:"startedAt,omitempty"`
	CompletedAt    *string `json:"completedAt,omitempty"`
}

type acceptedResponse struct {
	Status string `json:"status"`
}

type completeRequest struct {
	AppointmentID string `json:"appointmentId"`
	StartedAt     string `json:"startedAt"`
	CompletedAt   string `json:"completedAt"`
}

type statsResponse struct {
	Count          int      `json:"count"`
	AppointmentIDs []string `json:"appointmentIds"`
}

func (h *AppointmentHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.OrganizationID == "" || req.ClinicID == "" || req.PatientID == "" {
		http.Error(w, "organizationId, clinicId and patientId are required", http.StatusBadRequest)
		return
	}

	modality, err := model.ParseModality(strings.TrimSpace(req.Modality))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	scheduledAt := h.now().UTC()
	if req.ScheduledAt != "" {
		scheduledAt, err = time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			http.Error(w, "invalid scheduledAt; expected RFC3339", http.StatusBadRequest)
			return
		}
	}

	result, err := h.gateway.Submit(r.Context(), appointments.ScheduleCommand{
		OrganizationID: req.OrganizationID,
		ClinicID:       req.ClinicID,
		PatientID:      req.PatientID,
		Modality:       modality,
		ScheduledAt:    scheduledAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, appointments.ErrQueueFull):
			http.Error(w, "scheduling queue is full; please retry later", http.StatusServiceUnavailable)
		case errors.Is(err, appointments.ErrSubmitInterrupted):
			http.Error(w, "scheduling interrupted while waiting for queue capacity", http.StatusServiceUnavailable)
		case errors.Is(err, model.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			h.logger.Error("schedule failed", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	if result.Queued {
		writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(result.Appointment))
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointmentId is required", http.StatusBadRequest)
		return
	}

	startedAt := h.now().UTC()
	var err error
	if req.StartedAt != "" {
		startedAt, err = time.Parse(time.RFC3339, req.StartedAt)
		if err != nil {
			http.Error(w, "invalid startedAt; expected RFC3339", http.StatusBadRequest)
			return
		}
	}
	completedAt := startedAt.Add(15 * time.Minute)
	if req.CompletedAt != "" {
		completedAt, err = time.Parse(time.RFC3339, req.CompletedAt)
		if err != nil {
			http.Error(w, "invalid completedAt; expected RFC3339", http.StatusBadRequest)
			return
		}
	}

	appt, ok, err := h.svc.Complete(r.Context(), appointments.CompleteCommand{
		AppointmentID: req.AppointmentID,
		StartedAt:     startedAt,
		CompletedAt:   completedAt,
	})
	if err != nil {
		h.logger.Error("complete failed", "appointment_id", req.AppointmentID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	organizationID := strings.TrimSpace(q.Get("organizationId"))
	clinicID := strings.TrimSpace(q.Get("clinicId"))
	if organizationID == "" || clinicID == "" {
		http.Error(w, "organizationId and clinicId are required", http.StatusBadRequest)
		return
	}

	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from; expected RFC3339", http.StatusBadRequest)
		return
	}
	to := h.now().UTC()
	if raw := q.Get("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to; expected RFC3339", http.StatusBadRequest)
			return
		}
	}

	ids, err := h.stats.ListScheduledBetween(r.Context(), organizationID, clinicID, from, to)
	if err != nil {
		h.logger.Error("stats query failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, statsResponse{Count: len(ids), AppointmentIDs: ids})
}

func toAppointmentResponse(appt model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:             appt.ID,
		OrganizationID: appt.OrganizationID,
		ClinicID:       appt.ClinicID,
		PatientID:      appt.PatientID,
		Modality:       appt.Modality,
		Status:         appt.Status,
		ScheduledAt:    appt.ScheduledAt.UTC().Format(time.RFC3339),
	}
	if appt.StartedAt != nil {
		s := appt.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if appt.CompletedAt != nil {
		s := appt.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
