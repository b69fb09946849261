package events

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic_Matches(t *testing.T) {
	tests := []struct {
		topic   string
		pattern string
		matches bool
	}{
		{"inventory.reserved", "inventory.reserved", true},
		{"inventory.reserved", "inventory.*", true},
		{"inventory.reserved", "*.reserved", true},
		{"inventory.reserved", "#", true},
		{"inventory.reserved", "inventory#", true},
		{"payment.refunded", "#refunded", true},
		{"payment.refunded", "#payment#", true},
		{"inventory.reserved", "payment.*", false},
		{"inventory.reserved", "inventory.reserved.extra", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic+" vs "+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.matches, Topic(tt.topic).Matches(Topic(tt.pattern)))
		})
	}
}

func TestNewEvent(t *testing.T) {
	aggregateID := models.GenerateUUID()
	correlationID := models.GenerateUUID()
	causationID := models.GenerateUUID()

	event := NewEvent(aggregateID, InventoryReservedEvent, map[string]string{"reservation_id": "res-1"}).
		WithAggregateType(SaleSagaAggregateType).
		WithVersion(1).
		WithCorrelationID(correlationID).
		WithCausationID(causationID).
		WithMetadata("source", "test")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, aggregateID, event.AggregateID)
	assert.Equal(t, SaleSagaAggregateType, event.AggregateType)
	assert.Equal(t, InventoryReservedEvent, event.EventType)
	assert.Equal(t, 1, event.Version)
	assert.Equal(t, correlationID, event.CorrelationID)
	assert.Equal(t, causationID, event.CausationID)
	assert.True(t, event.Metadata.Has("source"))
}

func TestEvent_PayloadRoundTrip(t *testing.T) {
	type reservedPayload struct {
		ReservationID string `json:"reservation_id"`
		Quantity      int    `json:"quantity"`
	}

	event := NewEvent(models.GenerateUUID(), InventoryReservedEvent, reservedPayload{
		ReservationID: "res-1",
		Quantity:      2,
	})

	raw, err := event.ToJSON()
	require.NoError(t, err)

	decoded, err := FromJSON(raw)
	require.NoError(t, err)

	var payload reservedPayload
	require.NoError(t, decoded.UnmarshalPayload(&payload))
	assert.Equal(t, "res-1", payload.ReservationID)
	assert.Equal(t, 2, payload.Quantity)
}

func TestEvent_UnmarshalPayload_RequiresPointer(t *testing.T) {
	event := NewEvent(models.GenerateUUID(), InventoryReservedEvent, map[string]string{})

	var payload map[string]string
	assert.ErrorIs(t, event.UnmarshalPayload(payload), ErrInvalidReceiver)
}

func TestVersionConflictError(t *testing.T) {
	aggregateID := models.GenerateUUID()
	conflict := &VersionConflictError{AggregateID: aggregateID, Expected: 4, Actual: 5}

	assert.Contains(t, conflict.Error(), "expected version 4")
	assert.True(t, IsVersionConflict(conflict))
	assert.True(t, IsVersionConflict(errors.Wrap(conflict, "append failed")))
	assert.False(t, IsVersionConflict(errors.New("something else")))
}

func TestMetadata_SetOnNilMap(t *testing.T) {
	var m Metadata
	m.Set("source", "subscriber")

	got, ok := m.Get("source")
	require.True(t, ok, "entry set on a nil metadata map must be retained")
	assert.Equal(t, "subscriber", got)

	event := &Event{}
	event.Metadata.Set("message_id", "m-1")
	assert.True(t, event.Metadata.Has("message_id"))
}

func TestEvent_Clone(t *testing.T) {
	event := NewEvent(models.GenerateUUID(), SagaStartedEvent, "payload").
		WithVersion(3).
		WithMetadata("k", "v")

	clone := event.Clone()
	clone.Metadata.Set("k", "changed")

	assert.Equal(t, event.Version, clone.Version)
	got, _ := event.Metadata.Get("k")
	assert.Equal(t, "v", got, "clone metadata must not alias the original")
}
