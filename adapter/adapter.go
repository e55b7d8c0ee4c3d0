// Package adapter translates committed domain events into canonical
// cache-invalidation messages and hands them to the broadcast hub and the
// replay history.
package adapter

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"entity-stream/bus"
	"entity-stream/domain"
	"entity-stream/history"
	"entity-stream/hub"
)

// DefaultQueueSize bounds the dispatch queue between the event bus and the
// fan-out worker.
const DefaultQueueSize = 256

// Adapter maps domain events to canonical messages. Dispatch is decoupled
// from the publishing caller by a bounded queue consumed by one worker; when
// the queue is full the oldest queued message is shed so the event source is
// never blocked.
type Adapter struct {
	hub   *hub.Hub
	store history.Store
	log   *log.Logger
	jobs  chan domain.CanonicalMessage
	done  chan struct{}
}

func New(h *hub.Hub, store history.Store, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.StandardLogger()
	}
	a := &Adapter{
		hub:   h,
		store: store,
		log:   logger,
		jobs:  make(chan domain.CanonicalMessage, DefaultQueueSize),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Attach subscribes the adapter to every entity kind it knows how to map.
func (a *Adapter) Attach(b *bus.Bus) {
	for _, entity := range []string{
		domain.EventProduct,
		domain.EventProductVariant,
		domain.EventCustomer,
		domain.EventPaymentMethod,
		domain.EventOrder,
	} {
		b.Subscribe(entity, a.HandleEvent)
	}
}

// HandleEvent maps one domain event and enqueues the resulting messages.
// Nothing escapes this boundary: a bad event is logged and skipped, and one
// failed event never affects the next.
func (a *Adapter) HandleEvent(_ context.Context, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			a.log.WithField("entity", ev.Entity).Errorf("event mapping panicked: %v", r)
		}
	}()
	for _, msg := range a.mapEvent(ev) {
		a.enqueue(msg)
	}
}

func (a *Adapter) mapEvent(ev domain.Event) []domain.CanonicalMessage {
	action := domain.Action(ev.Action)
	if !action.Valid() {
		a.log.WithFields(log.Fields{"entity": ev.Entity, "action": ev.Action}).Debug("ignoring event with unmapped action")
		return nil
	}
	if ev.ChannelID == "" {
		a.log.WithFields(log.Fields{"entity": ev.Entity, "action": ev.Action}).Debug("ignoring event without a channel")
		return nil
	}
	switch ev.Entity {
	case domain.EventProduct:
		return []domain.CanonicalMessage{
			{EntityType: domain.EntityProduct, Action: action, TenantID: ev.ChannelID, EntityID: ev.EntityID},
		}
	case domain.EventProductVariant:
		// Clients cache at product granularity, so variant-level changes
		// (price updates in particular) are re-labeled as an update of the
		// parent product.
		var data domain.VariantEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil || data.ProductID == "" {
			a.log.WithField("entityId", ev.EntityID).Debug("ignoring variant event without a parent product")
			return nil
		}
		return []domain.CanonicalMessage{
			{EntityType: domain.EntityProduct, Action: domain.ActionUpdated, TenantID: ev.ChannelID, EntityID: data.ProductID},
		}
	case domain.EventCustomer:
		// Suppliers are modeled as customers upstream but cached separately
		// by clients, so every customer change invalidates both caches.
		return []domain.CanonicalMessage{
			{EntityType: domain.EntityCustomer, Action: action, TenantID: ev.ChannelID, EntityID: ev.EntityID},
			{EntityType: domain.EntitySupplier, Action: action, TenantID: ev.ChannelID, EntityID: ev.EntityID},
		}
	case domain.EventPaymentMethod:
		return []domain.CanonicalMessage{
			{EntityType: domain.EntityPaymentMethod, Action: action, TenantID: ev.ChannelID, EntityID: ev.EntityID},
		}
	case domain.EventOrder:
		return []domain.CanonicalMessage{
			{EntityType: domain.EntityOrder, Action: action, TenantID: ev.ChannelID, EntityID: ev.EntityID},
		}
	default:
		a.log.WithField("entity", ev.Entity).Debug("ignoring event for unmapped entity")
		return nil
	}
}

// enqueue hands msg to the worker without ever blocking the caller. When the
// queue is full the oldest queued message is dropped so fresh invalidations
// win over stale ones.
func (a *Adapter) enqueue(msg domain.CanonicalMessage) {
	for {
		select {
		case a.jobs <- msg:
			return
		default:
		}
		select {
		case dropped := <-a.jobs:
			a.log.WithFields(log.Fields{"channel": dropped.TenantID, "entityType": dropped.EntityType}).Warn("dispatch queue full, dropping oldest message")
		default:
		}
	}
}

// run delivers each queued message once to the hub and once to the history
// store. The two pushes are independent; the store contains its own failures
// and the hub never blocks.
func (a *Adapter) run() {
	defer close(a.done)
	for msg := range a.jobs {
		a.hub.Publish(msg)
		a.store.Push(context.Background(), msg)
	}
}

// Close drains the dispatch queue and stops the worker. Events handled after
// Close are dropped.
func (a *Adapter) Close() {
	defer func() {
		// Close after Close is a no-op.
		recover()
	}()
	close(a.jobs)
	<-a.done
}
