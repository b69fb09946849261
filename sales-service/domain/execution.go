package domain

import (
	"fmt"
	"time"

	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/models"
)

// InvalidTransitionError is returned when a requested transition is not
// in the state machine's legal successor set
type InvalidTransitionError struct {
	SagaID models.ID
	From   SagaState
	To     SagaState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("saga %s: invalid transition %s -> %s", e.SagaID, e.From, e.To)
}

// SagaExecution is the mutable record of one in-flight sale saga.
// It is exclusively owned by the orchestrator for its lifetime and must
// only be mutated through validated state transitions.
type SagaExecution struct {
	ID                   models.ID
	CustomerID           models.ID
	ProductID            models.ID
	Quantity             int
	Amount               models.Money
	State                SagaState
	StockReservationID   *string
	PaymentTransactionID *string
	OrderID              *string
	ErrorMessage         string
	RetryCount           int
	Timestamps           models.Timestamps
	Version              models.Version

	events []*events.Event
}

// NewSagaExecution creates a saga execution in the initial state and
// records the transaction-created event
func NewSagaExecution(customerID, productID models.ID, quantity int, unitPrice models.Money) (*SagaExecution, error) {
	if customerID.IsEmpty() {
		return nil, fmt.Errorf("customer ID is required")
	}
	if productID.IsEmpty() {
		return nil, fmt.Errorf("product ID is required")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if !unitPrice.IsPositive() {
		return nil, fmt.Errorf("unit price must be positive")
	}

	execution := &SagaExecution{
		ID:         models.GenerateUUID(),
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   quantity,
		Amount:     unitPrice.MultiplyBy(quantity),
		State:      InitialState,
		Timestamps: models.NewTimestamps(),
		Version:    models.NewVersion(),
	}

	event := events.NewEvent(execution.ID, events.TransactionCreatedEvent, TransactionCreatedData{
		SagaID:     execution.ID,
		CustomerID: execution.CustomerID,
		ProductID:  execution.ProductID,
		Quantity:   execution.Quantity,
		Amount:     execution.Amount,
	}).WithAggregateType(events.SaleSagaAggregateType).WithCorrelationID(execution.ID)

	execution.recordEvent(event)
	return execution, nil
}

// IsTerminal reports whether the execution reached a final state
func (e *SagaExecution) IsTerminal() bool {
	return e.State.IsFinal()
}

// Age returns how long the execution has been running
func (e *SagaExecution) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamps.CreatedAt)
}

// TransitionTo applies a validated state transition. A terminal
// execution is immutable and rejects every transition.
func (e *SagaExecution) TransitionTo(to SagaState) error {
	if e.IsTerminal() || !CanTransition(e.State, to) {
		return &InvalidTransitionError{SagaID: e.ID, From: e.State, To: to}
	}

	from := e.State
	e.State = to
	e.Timestamps = e.Timestamps.Update()
	e.Version = e.Version.Update()

	e.recordEvent(e.transitionEvent(from, to))
	return nil
}

// transitionEvent picks the event recorded for a transition
func (e *SagaExecution) transitionEvent(from, to SagaState) *events.Event {
	var event *events.Event

	switch to {
	case SaleConfirmed:
		event = events.NewEvent(e.ID, events.SaleConfirmedEvent, SaleConfirmedData{
			SagaID:     e.ID,
			CustomerID: e.CustomerID,
			OrderID:    e.OrderID,
			Amount:     e.Amount,
		})
	case StockReleasing:
		event = events.NewEvent(e.ID, events.SagaCompensatingEvent, SagaCompensatingData{
			SagaID:             e.ID,
			FromState:          from.String(),
			StockReservationID: e.StockReservationID,
		})
	case SaleFailed:
		event = events.NewEvent(e.ID, events.SaleFailedEvent, SaleFailedData{
			SagaID:       e.ID,
			CustomerID:   e.CustomerID,
			FromState:    from.String(),
			ErrorMessage: e.ErrorMessage,
		})
	default:
		event = events.NewEvent(e.ID, events.SagaStepCompletedEvent, SagaStepData{
			SagaID:    e.ID,
			FromState: from.String(),
			ToState:   to.String(),
		})
	}

	return event.WithAggregateType(events.SaleSagaAggregateType).WithCorrelationID(e.ID)
}

// SetStockReservation records the reservation handed back by inventory
func (e *SagaExecution) SetStockReservation(reservationID string) {
	e.StockReservationID = &reservationID
	e.Timestamps = e.Timestamps.Update()

	e.recordEvent(events.NewEvent(e.ID, events.InventoryReservedEvent, InventoryReservedData{
		SagaID:        e.ID,
		ProductID:     e.ProductID,
		Quantity:      e.Quantity,
		ReservationID: reservationID,
	}).WithAggregateType(events.SaleSagaAggregateType).WithCorrelationID(e.ID))
}

// SetPaymentTransaction records the payment reference handed back by the
// payment collaborator
func (e *SagaExecution) SetPaymentTransaction(transactionID string) {
	e.PaymentTransactionID = &transactionID
	e.Timestamps = e.Timestamps.Update()

	e.recordEvent(events.NewEvent(e.ID, events.PaymentProcessedEvent, PaymentProcessedData{
		SagaID:        e.ID,
		CustomerID:    e.CustomerID,
		Amount:        e.Amount,
		TransactionID: transactionID,
	}).WithAggregateType(events.SaleSagaAggregateType).WithCorrelationID(e.ID))
}

// SetOrder records the confirmed order id
func (e *SagaExecution) SetOrder(orderID string) {
	e.OrderID = &orderID
	e.Timestamps = e.Timestamps.Update()

	e.recordEvent(events.NewEvent(e.ID, events.OrderFulfilledEvent, OrderFulfilledData{
		SagaID:  e.ID,
		OrderID: orderID,
	}).WithAggregateType(events.SaleSagaAggregateType).WithCorrelationID(e.ID))
}

// SetError records a human readable failure reason
func (e *SagaExecution) SetError(message string) {
	e.ErrorMessage = message
	e.Timestamps = e.Timestamps.Update()
}

// IncrementRetry bumps the retry counter
func (e *SagaExecution) IncrementRetry() {
	e.RetryCount++
	e.Timestamps = e.Timestamps.Update()
}

// Events returns recorded domain events
func (e *SagaExecution) Events() []*events.Event {
	return e.events
}

// ClearEvents clears recorded domain events
func (e *SagaExecution) ClearEvents() {
	e.events = make([]*events.Event, 0)
}

func (e *SagaExecution) recordEvent(event *events.Event) {
	e.events = append(e.events, event)
}
