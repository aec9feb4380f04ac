package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/clinpulse/platform/services/analytics-platform/internal/stream"
)

type AnalyticsHandler struct {
	hub       *stream.Hub
	snapshots stream.SnapshotLoader
	logger    *slog.Logger
}

func NewAnalyticsHandler(hub *stream.Hub, snapshots stream.SnapshotLoader, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{hub: hub, snapshots: snapshots, logger: logger}
}

// Snapshot returns one computed rollup for a tenant pair.
func (h *AnalyticsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	organizationID := strings.TrimSpace(r.URL.Query().Get("organizationId"))
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinicId"))
	if organizationID == "" || clinicID == "" {
		http.Error(w, "organizationId and clinicId are required", http.StatusBadRequest)
		return
	}

	snapshot, err := h.snapshots.LoadSnapshot(r.Context(), organizationID, clinicID)
	if err != nil {
		h.logger.Error("snapshot load failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// Stream upgrades the request to a server-sent events stream and relays
// hub pushes until the client disconnects or the hub drops the
// subscription.
func (h *AnalyticsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	organizationID := strings.TrimSpace(r.URL.Query().Get("organizationId"))
	if organizationID == "" {
		http.Error(w, "organizationId is required", http.StatusBadRequest)
		return
	}
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinicId"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sub, err := h.hub.Subscribe(r.Context(), organizationID, clinicID)
	if err != nil {
		if errors.Is(err, stream.ErrTooManySubscribers) {
			http.Error(w, "too many live subscribers; please retry later", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("subscribe failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer h.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt stream.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", evt.Name); err != nil {
		return err
	}
	if evt.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", evt.ID); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", evt.Data)
	return err
}
