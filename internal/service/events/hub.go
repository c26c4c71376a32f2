package events

import (
	"context"
	"sync"

	domain "github.com/oshokin/alarm-groups/internal/domain/alarm"
	"github.com/oshokin/alarm-groups/internal/logger"
)

// DefaultSubscriptionBuffer is the per-subscriber queue length.
const DefaultSubscriptionBuffer = 64

// Hub fans events out to subscribers. A subscriber that cannot keep up is
// dropped and its channel closed; it has to subscribe again.
type Hub struct {
	// subscribers is the set of live subscriptions.
	subscribers map[*Subscription]struct{}
	// mu guards subscribers.
	mu sync.Mutex
}

// Subscription is a live view of the event stream.
type Subscription struct {
	// hub owns the subscription.
	hub *Hub
	// events is the delivery queue.
	events chan domain.Event
	// once closes events exactly once.
	once sync.Once
}

// NewHub creates a hub without subscribers.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscriber with the given queue length.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}

	sub := &Subscription{
		hub:    h,
		events: make(chan domain.Event, buffer),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Emit delivers the event to every subscriber without blocking.
func (h *Hub) Emit(ctx context.Context, event domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		select {
		case sub.events <- event:
		default:
			logger.WarnKV(ctx, "Dropping slow event subscriber", "kind", event.Kind)
			delete(h.subscribers, sub)
			sub.closeChannel()
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscribers)
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan domain.Event {
	return s.events
}

// Close unsubscribes and closes the channel.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subscribers, s)
	s.hub.mu.Unlock()

	s.closeChannel()
}

// closeChannel closes events once.
func (s *Subscription) closeChannel() {
	s.once.Do(func() {
		close(s.events)
	})
}
