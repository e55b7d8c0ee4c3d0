// Package bus is the in-process event bus the host application raises
// committed domain mutations on. Delivery is synchronous, in-process and
// at-least-once; subscribers must not alter these semantics.
package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"entity-stream/domain"
)

// Handler consumes one domain event. Handlers own their failures; a handler
// must not panic past its own boundary.
type Handler func(ctx context.Context, ev domain.Event)

// Bus routes events to handlers registered per entity kind.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

func New() *Bus {
	return &Bus{subs: make(map[string][]Handler)}
}

// Subscribe registers h for every event raised for the given entity kind.
func (b *Bus) Subscribe(entity string, h Handler) {
	b.mu.Lock()
	b.subs[entity] = append(b.subs[entity], h)
	b.mu.Unlock()
}

// Publish delivers ev synchronously to every handler subscribed to its
// entity kind. Events without an id are assigned one.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[ev.Entity]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}
