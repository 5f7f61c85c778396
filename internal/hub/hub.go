// Package hub fans normalized chat events out to every connected subscriber.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/metrics"
)

// Subscriber receives published events. Deliver must not block: delivery is
// fire-and-forget and a subscriber that cannot keep up misses events.
type Subscriber interface {
	Deliver(ev message.ChatEvent)
}

// SubscriberFunc adapts a function to Subscriber
type SubscriberFunc func(ev message.ChatEvent)

// Deliver calls f(ev)
func (f SubscriberFunc) Deliver(ev message.ChatEvent) { f(ev) }

// Hub is the registry of current subscribers
type Hub struct {
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time

	mu   sync.RWMutex
	subs map[uuid.UUID]Subscriber
}

// Option configures a Hub
type Option func(*Hub)

// WithClock replaces the clock used to stamp events
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// New creates an empty hub
func New(opts ...Option) *Hub {
	h := &Hub{
		log:      slog.Default().With("component", "hub"),
		validate: validator.New(),
		now:      time.Now,
		subs:     make(map[uuid.UUID]Subscriber),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers s and returns its id
func (h *Hub) Subscribe(s Subscriber) uuid.UUID {
	id := uuid.New()

	h.mu.Lock()
	h.subs[id] = s
	n := len(h.subs)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
	return id
}

// Unsubscribe removes the subscriber with the given id
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	delete(h.subs, id)
	n := len(h.subs)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
}

// Len returns the number of current subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish stamps ev if needed, logs it and hands it to every current
// subscriber. Events without text or with an unknown platform are dropped.
// Safe for concurrent use by many producers.
func (h *Hub) Publish(ev message.ChatEvent) {
	if !ev.Platform.Valid() {
		h.reject(ev, "unknown platform")
		return
	}
	if err := h.validate.Struct(ev); err != nil {
		h.reject(ev, err.Error())
		return
	}

	if ev.TS == 0 {
		ev.TS = h.now().UnixMilli()
	}
	if ev.Badges == nil {
		ev.Badges = []string{}
	}

	h.log.Info("[" + string(ev.Platform) + "] " + ev.Username + ": " + ev.Message)
	metrics.EventsPublished.WithLabelValues(string(ev.Platform)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		s.Deliver(ev)
	}
}

func (h *Hub) reject(ev message.ChatEvent, reason string) {
	metrics.EventsRejected.WithLabelValues(string(ev.Platform)).Inc()
	h.log.Warn("dropping invalid event", "platform", string(ev.Platform), "reason", reason)
}
