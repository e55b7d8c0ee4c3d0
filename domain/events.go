package domain

import "encoding/json"

// Entity kinds raised by the host application's event bus.
const (
	EventProduct        = "product"
	EventProductVariant = "product-variant"
	EventCustomer       = "customer"
	EventPaymentMethod  = "payment-method"
	EventOrder          = "order"
)

// Event represents an already-committed change in the domain model as
// delivered by the event bus.
type Event struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Action   string `json:"action"`
	EntityID string `json:"entityId"`
	// ChannelID identifies the sales channel (tenant) the mutation was
	// committed under, as resolved from the originating request context.
	ChannelID string          `json:"channelId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Time      int64           `json:"time"`
}

// VariantEventData carries the variant fields the adapter needs to re-label
// a variant-level change as its parent product.
type VariantEventData struct {
	ProductID string `json:"productId"`
}
