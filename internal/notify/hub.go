// Package notify fans ticket lifecycle events out to in-process subscribers
// and to external channels over Redis.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"govqueue/internal/event"
	"govqueue/pkg/domain"
)

// Hub broadcasts events to per-office subscribers. Each subscriber owns a
// bounded channel; when a subscriber falls behind, the oldest buffered event
// is dropped so the line keeps moving.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu   sync.RWMutex
	subs map[domain.OfficeID]map[string]chan event.Event
}

// HubOption configures the hub.
type HubOption func(*Hub)

// WithLogger sets the logger used for drop reporting.
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.buffer = size
		}
	}
}

// NewHub constructs a hub with a default buffer of 16 events per subscriber.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger: slog.Default(),
		buffer: 16,
		subs:   make(map[domain.OfficeID]map[string]chan event.Event),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is a live feed of one office's events. Close it when done.
type Subscription struct {
	hub      *Hub
	officeID domain.OfficeID
	id       string
	ch       chan event.Event
	once     sync.Once
}

// Events returns the receive channel. It is closed when the subscription is.
func (s *Subscription) Events() <-chan event.Event {
	return s.ch
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if subs := s.hub.subs[s.officeID]; subs != nil {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.hub.subs, s.officeID)
			}
		}
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Subscribe registers a new subscriber for one office's events.
func (h *Hub) Subscribe(officeID domain.OfficeID) *Subscription {
	sub := &Subscription{
		hub:      h,
		officeID: officeID,
		id:       uuid.NewString(),
		ch:       make(chan event.Event, h.buffer),
	}

	h.mu.Lock()
	if h.subs[officeID] == nil {
		h.subs[officeID] = make(map[string]chan event.Event)
	}
	h.subs[officeID][sub.id] = sub.ch
	h.mu.Unlock()

	return sub
}

// Publish delivers an event to every subscriber of its office. Slow
// subscribers lose their oldest buffered event, never the hub's progress.
func (h *Hub) Publish(ctx context.Context, evt event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs[evt.OfficeID] {
		select {
		case ch <- evt:
			continue
		default:
		}

		// Buffer full: evict the oldest event to make room.
		select {
		case dropped := <-ch:
			h.logger.WarnContext(ctx, "subscriber behind, dropping oldest event",
				"subscriber_id", id,
				"office_id", evt.OfficeID,
				"dropped_event_id", dropped.ID,
			)
		default:
		}
		select {
		case ch <- evt:
		default:
		}
	}
}

// SubscriberCount reports the live subscribers for an office.
func (h *Hub) SubscriberCount(officeID domain.OfficeID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[officeID])
}
