package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvent(aggregateID models.ID, eventType string, version int) *events.Event {
	return events.NewEvent(aggregateID, eventType, map[string]interface{}{"k": "v"}).
		WithAggregateType(events.SaleSagaAggregateType).
		WithVersion(version).
		WithCorrelationID(aggregateID)
}

func TestMemoryEventStore_Append(t *testing.T) {
	ctx := context.Background()
	aggregateID := models.GenerateUUID()

	t.Run("versions must be gap-free from 1", func(t *testing.T) {
		store := NewMemoryEventStore()

		require.NoError(t, store.Append(ctx, newTestEvent(aggregateID, events.SagaStartedEvent, 1)))
		require.NoError(t, store.Append(ctx, newTestEvent(aggregateID, events.SagaStepCompletedEvent, 2)))

		version, err := store.LatestVersion(ctx, aggregateID)
		require.NoError(t, err)
		assert.Equal(t, 2, version)
	})

	t.Run("first event must be version 1", func(t *testing.T) {
		store := NewMemoryEventStore()

		err := store.Append(ctx, newTestEvent(aggregateID, events.SagaStartedEvent, 3))

		var conflict *events.VersionConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, 3, conflict.Expected)
		assert.Equal(t, 0, conflict.Actual)
	})

	t.Run("stale version is rejected with both versions reported", func(t *testing.T) {
		store := NewMemoryEventStore()
		require.NoError(t, store.Append(ctx, newTestEvent(aggregateID, events.SagaStartedEvent, 1)))
		require.NoError(t, store.Append(ctx, newTestEvent(aggregateID, events.SagaStepCompletedEvent, 2)))

		err := store.Append(ctx, newTestEvent(aggregateID, events.SagaStepCompletedEvent, 2))

		var conflict *events.VersionConflictError
		require.ErrorAs(t, err, &conflict)
		assert.True(t, events.IsVersionConflict(err))
		assert.Equal(t, aggregateID, conflict.AggregateID)
		assert.Equal(t, 2, conflict.Expected)
		assert.Equal(t, 2, conflict.Actual)
	})

	t.Run("zero version is invalid", func(t *testing.T) {
		store := NewMemoryEventStore()
		err := store.Append(ctx, newTestEvent(aggregateID, events.SagaStartedEvent, 0))
		assert.ErrorIs(t, err, events.ErrInvalidVersion)
	})
}

func TestMemoryEventStore_AppendBatch(t *testing.T) {
	ctx := context.Background()
	aggregateID := models.GenerateUUID()

	t.Run("valid batch is admitted whole", func(t *testing.T) {
		store := NewMemoryEventStore()

		err := store.AppendBatch(ctx, []*events.Event{
			newTestEvent(aggregateID, events.SagaStartedEvent, 1),
			newTestEvent(aggregateID, events.SagaStepCompletedEvent, 2),
			newTestEvent(aggregateID, events.SagaCompletedEvent, 3),
		})

		require.NoError(t, err)
		version, err := store.LatestVersion(ctx, aggregateID)
		require.NoError(t, err)
		assert.Equal(t, 3, version)
	})

	t.Run("one bad version fails the whole batch", func(t *testing.T) {
		store := NewMemoryEventStore()

		err := store.AppendBatch(ctx, []*events.Event{
			newTestEvent(aggregateID, events.SagaStartedEvent, 1),
			newTestEvent(aggregateID, events.SagaStepCompletedEvent, 3), // gap
		})

		assert.True(t, events.IsVersionConflict(err))

		version, verr := store.LatestVersion(ctx, aggregateID)
		require.NoError(t, verr)
		assert.Zero(t, version, "nothing from the failed batch may be persisted")
	})
}

func TestMemoryEventStore_Load(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()
	aggregateID := models.GenerateUUID()

	for v := 1; v <= 5; v++ {
		require.NoError(t, store.Append(ctx, newTestEvent(aggregateID, events.SagaStepCompletedEvent, v)))
	}

	t.Run("full load is ascending and gap-free", func(t *testing.T) {
		loaded, err := store.Load(ctx, aggregateID)
		require.NoError(t, err)
		require.Len(t, loaded, 5)
		for i, event := range loaded {
			assert.Equal(t, i+1, event.Version)
		}
	})

	t.Run("load from version", func(t *testing.T) {
		loaded, err := store.LoadFrom(ctx, aggregateID, 3)
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		assert.Equal(t, 3, loaded[0].Version)
	})

	t.Run("load up to version", func(t *testing.T) {
		loaded, err := store.LoadUpTo(ctx, aggregateID, 2)
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, 2, loaded[1].Version)
	})

	t.Run("unknown aggregate loads empty", func(t *testing.T) {
		loaded, err := store.Load(ctx, models.GenerateUUID())
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})
}

func TestMemoryEventStore_SecondaryQueries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()
	first := models.GenerateUUID()
	second := models.GenerateUUID()

	require.NoError(t, store.Append(ctx, newTestEvent(first, events.SagaStartedEvent, 1)))
	require.NoError(t, store.Append(ctx, newTestEvent(second, events.SagaStartedEvent, 1)))
	require.NoError(t, store.Append(ctx, newTestEvent(first, events.SagaCompletedEvent, 2)))

	t.Run("by type", func(t *testing.T) {
		found, err := store.FindByType(ctx, events.SagaStartedEvent, 0, 10)
		require.NoError(t, err)
		assert.Len(t, found, 2)
		assert.True(t, !found[1].Timestamp.Before(found[0].Timestamp))
	})

	t.Run("by type with pagination", func(t *testing.T) {
		found, err := store.FindByType(ctx, events.SagaStartedEvent, 1, 10)
		require.NoError(t, err)
		assert.Len(t, found, 1)
	})

	t.Run("by correlation id", func(t *testing.T) {
		found, err := store.FindByCorrelationID(ctx, first)
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("by time range", func(t *testing.T) {
		found, err := store.FindByTimeRange(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Len(t, found, 3)
	})

	t.Run("by criteria", func(t *testing.T) {
		eventType := events.SagaCompletedEvent
		found, err := store.FindByCriteria(ctx, events.Criteria{
			AggregateID: &first,
			EventType:   &eventType,
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, events.SagaCompletedEvent, found[0].EventType)
	})
}

// TestMemoryEventStore_ConcurrentAppends runs competing appends at the
// same base version and asserts exactly one wins per version slot.
func TestMemoryEventStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()
	aggregateID := models.GenerateUUID()

	const writers = 16
	var wg sync.WaitGroup
	conflicts := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Append(ctx, newTestEvent(aggregateID, events.SagaStartedEvent, 1)); err != nil {
				conflicts <- err
			}
		}()
	}
	wg.Wait()
	close(conflicts)

	failed := 0
	for err := range conflicts {
		assert.True(t, events.IsVersionConflict(err))
		failed++
	}
	assert.Equal(t, writers-1, failed, "exactly one concurrent append may win")

	version, err := store.LatestVersion(ctx, aggregateID)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}
