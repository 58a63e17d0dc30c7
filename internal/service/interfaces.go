// Package service defines the interfaces shared between the storage layer and
// the recommendation components.
package service

import (
	"context"

	"github.com/Veraticus/affinity/internal/model"
)

// EventFilter narrows event queries. Zero values match everything.
type EventFilter struct {
	UserID     string
	EventTypes []model.EventType
	Limit      int
}

// EventStore is the append-only interaction log.
type EventStore interface {
	AppendEvent(ctx context.Context, event model.InteractionEvent) error
	AppendEvents(ctx context.Context, events []model.InteractionEvent) error
	ListEvents(ctx context.Context, filter EventFilter) ([]model.InteractionEvent, error)
	CountEvents(ctx context.Context, filter EventFilter) (int, error)
	DeleteEvents(ctx context.Context, filter EventFilter) (int64, error)
}

// PopularitySource ranks products by summed historical event weight.
type PopularitySource interface {
	PopularProducts(ctx context.Context, eventTypes []model.EventType, limit int) ([]model.PopularProduct, error)
}

// Catalog is the product collaborator the recommender validates against.
type Catalog interface {
	ProductIDs(ctx context.Context) ([]string, error)
	ProductExists(ctx context.Context, id string) (bool, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	EventStore
	PopularitySource
	Catalog

	// Product operations
	SaveProduct(ctx context.Context, product *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	// Database management
	Migrate(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)
	Close() error
}
