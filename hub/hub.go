// Package hub implements the process-wide multicast point distributing
// canonical messages to all live subscribers.
package hub

import (
	"sync"

	"entity-stream/domain"
)

// DefaultBuffer is the per-subscriber channel depth. A subscriber that falls
// further behind than this loses messages rather than blocking publishers.
const DefaultBuffer = 16

// Subscription yields messages published after it was created. It performs
// no replay; catch-up is the caller's concern.
type Subscription struct {
	C <-chan domain.CanonicalMessage

	ch chan domain.CanonicalMessage
}

// Hub fans every published message out to all current subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
}

func New() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: DefaultBuffer}
}

// Subscribe registers a new listener and returns its subscription handle.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan domain.CanonicalMessage, h.buffer)
	s := &Subscription{C: ch, ch: ch}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s. It is idempotent and safe to call concurrently with
// an in-flight Publish; publishing to a removed subscription is a no-op.
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Publish delivers msg to every current subscriber. Each subscriber sees
// messages in publish order; a subscriber whose buffer is full is skipped,
// never retried.
func (h *Hub) Publish(msg domain.CanonicalMessage) {
	h.mu.Lock()
	for s := range h.subs {
		select {
		case s.ch <- msg:
		default:
		}
	}
	h.mu.Unlock()
}
