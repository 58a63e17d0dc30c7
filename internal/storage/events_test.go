package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/service"
)

func TestSQLiteStorage_AppendAndListEvents(t *testing.T) {
	store, cleanup := createTestStorageWithProducts(t, "p1", "p2")
	defer cleanup()
	ctx := context.Background()

	events := []model.InteractionEvent{
		makeEvent(1, "u1", "p1", model.EventView),
		makeEvent(2, "u1", "p1", model.EventCart),
		makeEvent(3, "u2", "p2", model.EventPurchase),
	}
	for _, ev := range events {
		require.NoError(t, store.AppendEvent(ctx, ev))
	}

	got, err := store.ListEvents(ctx, service.EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, ev := range got {
		assert.Equal(t, events[i].ID, ev.ID)
		assert.Equal(t, events[i].UserID, ev.UserID)
		assert.Equal(t, events[i].ProductID, ev.ProductID)
		assert.Equal(t, events[i].EventType, ev.EventType)
		assert.InDelta(t, events[i].Weight, ev.Weight, 1e-12)
		assert.True(t, events[i].Timestamp.Equal(ev.Timestamp), "timestamp %v != %v", events[i].Timestamp, ev.Timestamp)
	}
}

func TestSQLiteStorage_ListEventsFilter(t *testing.T) {
	store, cleanup := createTestStorageWithProducts(t, "p1", "p2")
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.AppendEvents(ctx, []model.InteractionEvent{
		makeEvent(1, "u1", "p1", model.EventView),
		makeEvent(2, "u1", "p2", model.EventPurchase),
		makeEvent(3, "u2", "p1", model.EventPurchase),
		makeEvent(4, "u2", "p2", model.EventRemoveFromCart),
	}))

	tests := []struct {
		name   string
		filter service.EventFilter
		want   []string
	}{
		{"all", service.EventFilter{}, []string{"ev-001", "ev-002", "ev-003", "ev-004"}},
		{"by user", service.EventFilter{UserID: "u2"}, []string{"ev-003", "ev-004"}},
		{"by type", service.EventFilter{EventTypes: []model.EventType{model.EventPurchase}}, []string{"ev-002", "ev-003"}},
		{"user and type", service.EventFilter{UserID: "u1", EventTypes: []model.EventType{model.EventPurchase}}, []string{"ev-002"}},
		{"limit", service.EventFilter{Limit: 2}, []string{"ev-001", "ev-002"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListEvents(ctx, tt.filter)
			require.NoError(t, err)

			ids := make([]string, len(got))
			for i, ev := range got {
				ids[i] = ev.ID
			}
			assert.Equal(t, tt.want, ids)

			count, err := store.CountEvents(ctx, service.EventFilter{UserID: tt.filter.UserID, EventTypes: tt.filter.EventTypes})
			require.NoError(t, err)
			if tt.filter.Limit == 0 {
				assert.Equal(t, len(tt.want), count)
			}
		})
	}
}

func TestSQLiteStorage_AppendEventsIsAtomic(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	duplicate := makeEvent(1, "u1", "p1", model.EventView)
	err := store.AppendEvents(ctx, []model.InteractionEvent{
		duplicate,
		makeEvent(2, "u1", "p1", model.EventCart),
		duplicate,
	})
	require.Error(t, err)

	count, err := store.CountEvents(ctx, service.EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, count, "failed batch must not leave partial rows")
}

func TestSQLiteStorage_AppendEventValidation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	bad := makeEvent(1, "", "p1", model.EventView)
	assert.ErrorIs(t, store.AppendEvent(ctx, bad), ErrInvalidEvent)

	unknown := makeEvent(2, "u1", "p1", model.EventType("wishlist"))
	assert.ErrorIs(t, store.AppendEvent(ctx, unknown), ErrInvalidEvent)

	assert.ErrorIs(t, store.AppendEvents(ctx, nil), ErrNilParameter)
	assert.ErrorIs(t, store.AppendEvents(ctx, []model.InteractionEvent{}), ErrEmptySlice)
}

func TestSQLiteStorage_ConcurrentAppends(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- store.AppendEvent(ctx, makeEvent(n, "u1", "p1", model.EventView))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	count, err := store.CountEvents(ctx, service.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func TestSQLiteStorage_DeleteEvents(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.AppendEvents(ctx, []model.InteractionEvent{
		makeEvent(1, "u1", "p1", model.EventView),
		makeEvent(2, "u2", "p1", model.EventView),
		makeEvent(3, "u2", "p2", model.EventCart),
	}))

	n, err := store.DeleteEvents(ctx, service.EventFilter{UserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.DeleteEvents(ctx, service.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := store.CountEvents(ctx, service.EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLiteStorage_PopularProducts(t *testing.T) {
	store, cleanup := createTestStorageWithProducts(t, "p1", "p2", "p3", "p4")
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.AppendEvents(ctx, []model.InteractionEvent{
		makeEvent(1, "u1", "p1", model.EventPurchase),
		makeEvent(2, "u2", "p2", model.EventPurchase),
		makeEvent(3, "u3", "p2", model.EventPurchase),
		makeEvent(4, "u1", "p3", model.EventPurchase),
		makeEvent(5, "u1", "p4", model.EventView),
		makeEvent(6, "u2", "p4", model.EventView),
		makeEvent(7, "u3", "p4", model.EventCart),
		// Not in the catalog.
		makeEvent(8, "u1", "gone", model.EventPurchase),
		makeEvent(9, "u2", "gone", model.EventPurchase),
		makeEvent(10, "u3", "gone", model.EventPurchase),
	}))

	purchases, err := store.PopularProducts(ctx, []model.EventType{model.EventPurchase}, 10)
	require.NoError(t, err)
	assert.Equal(t, []model.PopularProduct{
		{ProductID: "p2", TotalWeight: 10},
		{ProductID: "p1", TotalWeight: 5},
		{ProductID: "p3", TotalWeight: 5},
	}, purchases)

	engaged, err := store.PopularProducts(ctx, []model.EventType{model.EventPurchase, model.EventCart, model.EventView}, 2)
	require.NoError(t, err)
	assert.Equal(t, []model.PopularProduct{
		{ProductID: "p2", TotalWeight: 10},
		{ProductID: "p1", TotalWeight: 5},
	}, engaged)

	_, err = store.PopularProducts(ctx, nil, 5)
	assert.ErrorIs(t, err, ErrEmptySlice)
}
