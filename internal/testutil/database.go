// Package testutil provides shared fixtures for tests that need a real
// SQLite-backed event store and catalog.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/service"
	"github.com/Veraticus/affinity/internal/storage"
)

// BaseTime is the timestamp of the first fixture event.
var BaseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage  service.Storage
	t        *testing.T
	Products []model.Product
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, service.Storage) error
	Products       []model.Product
	Events         []model.InteractionEvent
	SkipMigrations bool
}

// SetupTestDB creates a new in-memory test database whose catalog holds the
// given product IDs. It automatically handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t, "p1", "p2")
//	db.MustAppend(testutil.Event(0, "u1", "p1", model.EventView))
func SetupTestDB(t *testing.T, productIDs ...string) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{Products: Products(productIDs...)})
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	ctx := context.Background()

	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	for i := range opts.Products {
		if err := store.SaveProduct(ctx, &opts.Products[i]); err != nil {
			t.Fatalf("failed to seed product %q: %v", opts.Products[i].ID, err)
		}
	}

	if len(opts.Events) > 0 {
		if err := store.AppendEvents(ctx, opts.Events); err != nil {
			t.Fatalf("failed to seed events: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return &TestDB{
		Storage:  store,
		Products: opts.Products,
		t:        t,
	}
}

// Products builds catalog entries for the given IDs.
func Products(ids ...string) []model.Product {
	products := make([]model.Product, len(ids))
	for i, id := range ids {
		products[i] = model.Product{ID: id, Name: "Product " + id, CreatedAt: BaseTime}
	}
	return products
}

// Event builds the n-th fixture event, one minute after the previous one.
func Event(n int, user, product string, eventType model.EventType) model.InteractionEvent {
	return model.NewInteractionEvent(
		fmt.Sprintf("ev-%04d", n),
		user,
		product,
		eventType,
		BaseTime.Add(time.Duration(n)*time.Minute),
	)
}

// MustAppend appends events or fails the test.
func (db *TestDB) MustAppend(events ...model.InteractionEvent) {
	db.t.Helper()
	if err := db.Storage.AppendEvents(context.Background(), events); err != nil {
		db.t.Fatalf("failed to append events: %v", err)
	}
}

// EventCount returns the number of events in the log or fails the test.
func (db *TestDB) EventCount() int {
	db.t.Helper()
	n, err := db.Storage.CountEvents(context.Background(), service.EventFilter{})
	if err != nil {
		db.t.Fatalf("failed to count events: %v", err)
	}
	return n
}
