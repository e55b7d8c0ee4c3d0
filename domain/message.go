package domain

// EntityType identifies which client-side cache a message invalidates.
type EntityType string

const (
	EntityProduct       EntityType = "product"
	EntityCustomer      EntityType = "customer"
	EntitySupplier      EntityType = "supplier"
	EntityPaymentMethod EntityType = "payment_method"
	EntityOrder         EntityType = "order"
)

// Action describes what happened to the entity.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Valid reports whether a is one of the three recognised actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted:
		return true
	}
	return false
}

// CanonicalMessage is the unit pushed to connected clients so they can
// invalidate local caches instead of polling. It is a value type and never
// mutated after construction; messages without a channel are never built,
// the adapter drops the event instead.
type CanonicalMessage struct {
	EntityType EntityType `json:"entityType"`
	Action     Action     `json:"action"`
	TenantID   string     `json:"tenantId"`
	EntityID   string     `json:"id,omitempty"`
}
