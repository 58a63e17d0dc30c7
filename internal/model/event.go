package model

import (
	"fmt"
	"time"
)

// EventType identifies the kind of user action recorded against a product.
type EventType string

const (
	// EventView is recorded when a user opens a product page.
	EventView EventType = "view"
	// EventCart is recorded when a product is added to a cart.
	EventCart EventType = "cart"
	// EventPurchase is recorded when a product is bought.
	EventPurchase EventType = "purchase"
	// EventRemoveFromCart is recorded when a product leaves a cart.
	EventRemoveFromCart EventType = "remove_from_cart"
)

// eventWeights is the fixed affinity contribution of each event type.
var eventWeights = map[EventType]float64{
	EventView:           1.0,
	EventCart:           3.0,
	EventPurchase:       5.0,
	EventRemoveFromCart: -1.0,
}

// EventTypes returns every known event type in a stable order.
func EventTypes() []EventType {
	return []EventType{EventView, EventCart, EventPurchase, EventRemoveFromCart}
}

// ParseEventType converts a raw string into an EventType.
func ParseEventType(s string) (EventType, error) {
	et := EventType(s)
	if !et.IsValid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return et, nil
}

// IsValid reports whether the event type is one of the known types.
func (t EventType) IsValid() bool {
	_, ok := eventWeights[t]
	return ok
}

// Weight returns the affinity weight for the event type, or 0 for unknown types.
func (t EventType) Weight() float64 {
	return eventWeights[t]
}

// InteractionEvent is a single immutable entry in the interaction log.
type InteractionEvent struct {
	Timestamp time.Time
	ID        string
	UserID    string
	ProductID string
	EventType EventType
	Weight    float64
}

// NewInteractionEvent builds an event whose weight is derived from its type.
func NewInteractionEvent(id, userID, productID string, eventType EventType, at time.Time) InteractionEvent {
	return InteractionEvent{
		ID:        id,
		UserID:    userID,
		ProductID: productID,
		EventType: eventType,
		Timestamp: at,
		Weight:    eventType.Weight(),
	}
}
