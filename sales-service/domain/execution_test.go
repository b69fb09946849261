package domain

import (
	"testing"
	"time"

	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSagaExecution(t *testing.T) {
	customerID := models.GenerateUUID()
	productID := models.GenerateUUID()

	tests := []struct {
		name          string
		customerID    models.ID
		productID     models.ID
		quantity      int
		unitPrice     models.Money
		expectedError string
	}{
		{
			name:       "valid execution",
			customerID: customerID,
			productID:  productID,
			quantity:   2,
			unitPrice:  models.NewMoney(5000, "USD"),
		},
		{
			name:          "missing customer",
			customerID:    models.ID(""),
			productID:     productID,
			quantity:      2,
			unitPrice:     models.NewMoney(5000, "USD"),
			expectedError: "customer ID is required",
		},
		{
			name:          "missing product",
			customerID:    customerID,
			productID:     models.ID(""),
			quantity:      2,
			unitPrice:     models.NewMoney(5000, "USD"),
			expectedError: "product ID is required",
		},
		{
			name:          "zero quantity",
			customerID:    customerID,
			productID:     productID,
			quantity:      0,
			unitPrice:     models.NewMoney(5000, "USD"),
			expectedError: "quantity must be positive",
		},
		{
			name:          "negative price",
			customerID:    customerID,
			productID:     productID,
			quantity:      1,
			unitPrice:     models.NewMoney(-100, "USD"),
			expectedError: "unit price must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execution, err := NewSagaExecution(tt.customerID, tt.productID, tt.quantity, tt.unitPrice)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, execution)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, SaleInitiated, execution.State)
			assert.Equal(t, int64(10000), execution.Amount.Amount)
			assert.Equal(t, "USD", execution.Amount.Currency)
			assert.Equal(t, 1, execution.Version.Value)
			assert.Nil(t, execution.StockReservationID)

			require.Len(t, execution.Events(), 1)
			assert.Equal(t, events.TransactionCreatedEvent, execution.Events()[0].EventType)
			assert.Equal(t, execution.ID, execution.Events()[0].CorrelationID)
		})
	}
}

func TestSagaExecution_TransitionTo(t *testing.T) {
	newExecution := func() *SagaExecution {
		execution, err := NewSagaExecution(
			models.GenerateUUID(), models.GenerateUUID(), 1, models.NewMoney(5000, "USD"))
		require.NoError(t, err)
		execution.ClearEvents()
		return execution
	}

	t.Run("legal transition bumps version and records event", func(t *testing.T) {
		execution := newExecution()
		before := execution.Version.Value

		require.NoError(t, execution.TransitionTo(StockVerifying))

		assert.Equal(t, StockVerifying, execution.State)
		assert.Equal(t, before+1, execution.Version.Value)
		require.Len(t, execution.Events(), 1)
		assert.Equal(t, events.SagaStepCompletedEvent, execution.Events()[0].EventType)
	})

	t.Run("illegal transition is rejected", func(t *testing.T) {
		execution := newExecution()

		err := execution.TransitionTo(PaymentProcessing)

		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, SaleInitiated, invalid.From)
		assert.Equal(t, PaymentProcessing, invalid.To)
		assert.Equal(t, SaleInitiated, execution.State)
	})

	t.Run("terminal execution is immutable", func(t *testing.T) {
		execution := newExecution()
		require.NoError(t, execution.TransitionTo(SaleFailed))

		err := execution.TransitionTo(StockVerifying)
		assert.Error(t, err)
		assert.Equal(t, SaleFailed, execution.State)
	})

	t.Run("confirmed sale records sale confirmed event", func(t *testing.T) {
		execution := newExecution()
		for _, state := range []SagaState{StockVerifying, StockReserving, PaymentProcessing, OrderConfirming} {
			require.NoError(t, execution.TransitionTo(state))
		}
		execution.ClearEvents()

		require.NoError(t, execution.TransitionTo(SaleConfirmed))
		require.Len(t, execution.Events(), 1)
		assert.Equal(t, events.SaleConfirmedEvent, execution.Events()[0].EventType)
		assert.True(t, execution.IsTerminal())
	})

	t.Run("compensation entry records compensating event", func(t *testing.T) {
		execution := newExecution()
		for _, state := range []SagaState{StockVerifying, StockReserving, PaymentProcessing} {
			require.NoError(t, execution.TransitionTo(state))
		}
		execution.ClearEvents()

		require.NoError(t, execution.TransitionTo(StockReleasing))
		require.Len(t, execution.Events(), 1)
		assert.Equal(t, events.SagaCompensatingEvent, execution.Events()[0].EventType)
	})
}

func TestSagaExecution_Setters(t *testing.T) {
	execution, err := NewSagaExecution(
		models.GenerateUUID(), models.GenerateUUID(), 3, models.NewMoney(1000, "USD"))
	require.NoError(t, err)
	execution.ClearEvents()

	execution.SetStockReservation("res-123")
	require.NotNil(t, execution.StockReservationID)
	assert.Equal(t, "res-123", *execution.StockReservationID)

	execution.SetPaymentTransaction("pay-456")
	require.NotNil(t, execution.PaymentTransactionID)
	assert.Equal(t, "pay-456", *execution.PaymentTransactionID)

	execution.SetOrder("ord-789")
	require.NotNil(t, execution.OrderID)
	assert.Equal(t, "ord-789", *execution.OrderID)

	execution.SetError("payment declined")
	assert.Equal(t, "payment declined", execution.ErrorMessage)

	execution.IncrementRetry()
	assert.Equal(t, 1, execution.RetryCount)

	eventTypes := make([]string, 0)
	for _, evt := range execution.Events() {
		eventTypes = append(eventTypes, evt.EventType)
	}
	assert.Equal(t, []string{
		events.InventoryReservedEvent,
		events.PaymentProcessedEvent,
		events.OrderFulfilledEvent,
	}, eventTypes)
}

func TestSagaExecution_Age(t *testing.T) {
	execution, err := NewSagaExecution(
		models.GenerateUUID(), models.GenerateUUID(), 1, models.NewMoney(1000, "USD"))
	require.NoError(t, err)

	age := execution.Age(execution.Timestamps.CreatedAt.Add(5 * time.Minute))
	assert.Equal(t, 5*time.Minute, age)
}
