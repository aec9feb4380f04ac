// Package stream fans computed analytics snapshots out to live dashboard
// subscribers on a periodic cadence.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/clinpulse/platform/services/analytics-platform/internal/analytics"
	"github.com/clinpulse/platform/services/analytics-platform/internal/observability"
)

// ErrTooManySubscribers means the subscriber cap was reached; the
// subscription was not registered.
var ErrTooManySubscribers = errors.New("too many subscribers")

// WildcardClinic subscribes to an organization without picking a clinic.
// Wildcard subscriptions receive no broadcasts: no cross-clinic rollup
// is computed.
const WildcardClinic = "*"

// Event is one push on a subscription, shaped for the SSE wire protocol.
type Event struct {
	Name string
	ID   string
	Data []byte
}

// Subscription is the handle held by one connected dashboard client.
type Subscription struct {
	OrganizationID string
	ClinicID       string

	mu   sync.Mutex
	done bool
	ch   chan Event
}

// Events is the channel the transport drains. It is closed when the hub
// removes the subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// send is non-blocking: a subscriber that is not draining its buffer is
// treated as dead, mirroring a transport write failure.
func (s *Subscription) send(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errors.New("subscription closed")
	}
	select {
	case s.ch <- evt:
		return nil
	default:
		return errors.New("subscriber not draining")
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.ch)
	}
}

type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, organizationID, clinicID string) (analytics.Snapshot, error)
}

// Hub owns the active subscription set. Broadcast iterates a copy of the
// set, so subscribe/unsubscribe are safe during a tick.
type Hub struct {
	snapshots      SnapshotLoader
	logger         *slog.Logger
	maxSubscribers int
	now            func() time.Time

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewHub(snapshots SnapshotLoader, logger *slog.Logger, maxSubscribers int) *Hub {
	if maxSubscribers <= 0 {
		maxSubscribers = 200
	}
	return &Hub{
		snapshots:      snapshots,
		logger:         logger,
		maxSubscribers: maxSubscribers,
		now:            time.Now,
		subs:           make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a client and pushes one snapshot immediately.
// Clients that cannot be served their initial push are still registered;
// they will be dropped on the next broadcast like any dead subscriber.
func (h *Hub) Subscribe(ctx context.Context, organizationID, clinicID string) (*Subscription, error) {
	if clinicID == "" {
		clinicID = WildcardClinic
	}

	sub := &Subscription{
		OrganizationID: organizationID,
		ClinicID:       clinicID,
		ch:             make(chan Event, 4),
	}

	h.mu.Lock()
	if len(h.subs) >= h.maxSubscribers {
		h.mu.Unlock()
		h.logger.Warn("rejecting subscription; subscriber cap reached",
			"organization_id", organizationID,
			"clinic_id", clinicID,
			"max_subscribers", h.maxSubscribers,
		)
		return nil, ErrTooManySubscribers
	}
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()
	observability.RecordSubscriptionCount(count)

	if err := h.push(ctx, sub); err != nil {
		h.logger.Debug("initial snapshot push failed", "organization_id", organizationID, "clinic_id", clinicID, "err", err)
	}
	return sub, nil
}

// Unsubscribe removes the client and closes its event channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	_, present := h.subs[sub]
	delete(h.subs, sub)
	count := len(h.subs)
	h.mu.Unlock()

	if present {
		sub.close()
		observability.RecordSubscriptionCount(count)
	}
}

// SubscriberCount reports the active subscription count.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run drives Broadcast on a fixed interval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(ctx)
		}
	}
}

// Broadcast pushes one computed snapshot to every current subscription.
// A subscription that cannot accept the push is removed from the set.
func (h *Hub) Broadcast(ctx context.Context) {
	h.mu.Lock()
	current := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		current = append(current, sub)
	}
	h.mu.Unlock()

	for _, sub := range current {
		if err := h.push(ctx, sub); err != nil {
			h.logger.Debug("removing dead subscription",
				"organization_id", sub.OrganizationID,
				"clinic_id", sub.ClinicID,
				"err", err,
			)
			h.Unsubscribe(sub)
		}
	}
}

func (h *Hub) push(ctx context.Context, sub *Subscription) error {
	if sub.ClinicID == WildcardClinic {
		return nil
	}

	snapshot, err := h.snapshots.LoadSnapshot(ctx, sub.OrganizationID, sub.ClinicID)
	if err != nil {
		// Read-model trouble is not the subscriber's fault; keep it.
		h.logger.Warn("snapshot load failed", "organization_id", sub.OrganizationID, "clinic_id", sub.ClinicID, "err", err)
		return nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Warn("snapshot encode failed", "organization_id", sub.OrganizationID, "clinic_id", sub.ClinicID, "err", err)
		return nil
	}

	return sub.send(Event{
		Name: "analytics-snapshot",
		ID:   h.now().UTC().Format(time.RFC3339Nano),
		Data: data,
	})
}
