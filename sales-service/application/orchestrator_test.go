package application

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/sales-service/infrastructure"
	"github.com/retailcore/sales-system/sales-service/mocks"
	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sellProductFixture struct {
	useCase    *SellProduct
	repository *infrastructure.MemorySagaRepository
	publisher  *capturePublisher
	inventory  *mocks.InventoryClient
	payment    *mocks.PaymentClient
	order      *mocks.OrderClient
}

func newSellProductFixture(t *testing.T) *sellProductFixture {
	repository := infrastructure.NewMemorySagaRepository()
	publisher := &capturePublisher{}
	inventory := mocks.NewInventoryClient(t)
	payment := mocks.NewPaymentClient(t)
	order := mocks.NewOrderClient(t)

	sagaManager := NewConcurrentSagaManager(repository, publisher)
	compensation := NewCompensationService(sagaManager, inventory)

	return &sellProductFixture{
		useCase:    NewSellProduct(repository, sagaManager, compensation, inventory, payment, order, publisher),
		repository: repository,
		publisher:  publisher,
		inventory:  inventory,
		payment:    payment,
		order:      order,
	}
}

func validCommand() *SellProductCommand {
	return &SellProductCommand{
		CustomerID:    "33b070f7-4a3b-4c07-8b8a-3c8d9e2f1a01",
		ProductID:     "a1f4ddda-9ff5-42c5-9c01-2d6c0f6a7b02",
		Quantity:      2,
		UnitPrice:     2500,
		Currency:      "USD",
		PaymentMethod: "credit_card",
	}
}

func TestSellProduct_Execute_HappyPath(t *testing.T) {
	ctx := context.Background()
	f := newSellProductFixture(t)

	f.inventory.EXPECT().VerifyStock(mock.Anything, mock.Anything, 2).Return(true, nil)
	f.inventory.EXPECT().Reserve(mock.Anything, mock.Anything, 2, mock.Anything).Return("res-1", nil)
	f.payment.EXPECT().Charge(mock.Anything, mock.Anything, mock.Anything, "credit_card", mock.Anything).Return("pay-1", nil)
	f.order.EXPECT().ConfirmOrder(mock.Anything, mock.Anything, mock.Anything).Return("order-1", nil)

	response, err := f.useCase.Execute(ctx, validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.SaleConfirmed.String(), response.State)
	require.NotNil(t, response.OrderID)
	assert.Equal(t, "order-1", *response.OrderID)
	assert.Empty(t, response.ErrorMessage)

	stored, err := f.repository.FindByID(ctx, mustID(t, response.SagaID))
	require.NoError(t, err)
	assert.Equal(t, domain.SaleConfirmed, stored.State)
	require.NotNil(t, stored.StockReservationID)
	assert.Equal(t, "res-1", *stored.StockReservationID)
	require.NotNil(t, stored.PaymentTransactionID)
	assert.Equal(t, "pay-1", *stored.PaymentTransactionID)

	assertEventPublished(t, f.publisher, events.TransactionCreatedEvent)
	assertEventPublished(t, f.publisher, events.InventoryReservedEvent)
	assertEventPublished(t, f.publisher, events.PaymentProcessedEvent)
	assertEventPublished(t, f.publisher, events.SaleConfirmedEvent)
}

func TestSellProduct_Execute_StockUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newSellProductFixture(t)

	f.inventory.EXPECT().VerifyStock(mock.Anything, mock.Anything, 2).Return(false, nil)

	response, err := f.useCase.Execute(ctx, validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.SaleFailed.String(), response.State)
	assert.Contains(t, response.ErrorMessage, "insufficient_stock")

	// No reservation was taken, so nothing may be released and no
	// downstream collaborator may be called.
	f.inventory.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.inventory.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	f.payment.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	assertEventPublished(t, f.publisher, events.SaleFailedEvent)
}

func TestSellProduct_Execute_ReservationFailure(t *testing.T) {
	ctx := context.Background()
	f := newSellProductFixture(t)

	f.inventory.EXPECT().VerifyStock(mock.Anything, mock.Anything, 2).Return(true, nil)
	f.inventory.EXPECT().Reserve(mock.Anything, mock.Anything, 2, mock.Anything).
		Return("", errors.New("inventory service unavailable"))

	response, err := f.useCase.Execute(ctx, validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.SaleFailed.String(), response.State)
	f.inventory.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	f.payment.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSellProduct_Execute_PaymentFailure(t *testing.T) {
	ctx := context.Background()
	f := newSellProductFixture(t)

	f.inventory.EXPECT().VerifyStock(mock.Anything, mock.Anything, 2).Return(true, nil)
	f.inventory.EXPECT().Reserve(mock.Anything, mock.Anything, 2, mock.Anything).Return("res-1", nil)
	f.payment.EXPECT().Charge(mock.Anything, mock.Anything, mock.Anything, "credit_card", mock.Anything).
		Return("", domain.NewBusinessError("card_declined", "the card was declined"))
	f.inventory.EXPECT().Release(mock.Anything, "res-1").Return(nil)

	response, err := f.useCase.Execute(ctx, validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.SaleFailed.String(), response.State)
	assert.Contains(t, response.ErrorMessage, "card_declined")

	stored, err := f.repository.FindByID(ctx, mustID(t, response.SagaID))
	require.NoError(t, err)
	assert.Equal(t, domain.SaleFailed, stored.State)

	f.order.AssertNotCalled(t, "ConfirmOrder", mock.Anything, mock.Anything, mock.Anything)
	assertEventPublished(t, f.publisher, events.SagaCompensatingEvent)
	assertEventPublished(t, f.publisher, events.SaleFailedEvent)
}

func TestSellProduct_Execute_OrderFailureReleasesStock(t *testing.T) {
	ctx := context.Background()
	f := newSellProductFixture(t)

	f.inventory.EXPECT().VerifyStock(mock.Anything, mock.Anything, 2).Return(true, nil)
	f.inventory.EXPECT().Reserve(mock.Anything, mock.Anything, 2, mock.Anything).Return("res-1", nil)
	f.payment.EXPECT().Charge(mock.Anything, mock.Anything, mock.Anything, "credit_card", mock.Anything).Return("pay-1", nil)
	f.order.EXPECT().ConfirmOrder(mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("fulfillment timeout"))
	f.inventory.EXPECT().Release(mock.Anything, "res-1").Return(nil)

	response, err := f.useCase.Execute(ctx, validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.SaleFailed.String(), response.State)

	// The charge stays recorded on the execution; the refund is driven
	// by the compensating event, not by the orchestrator.
	stored, err := f.repository.FindByID(ctx, mustID(t, response.SagaID))
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentTransactionID)
	assert.Equal(t, "pay-1", *stored.PaymentTransactionID)
	assertEventPublished(t, f.publisher, events.SagaCompensatingEvent)
}

func TestSellProduct_Execute_ReleaseFailureStillTerminates(t *testing.T) {
	ctx := context.Background()
	f := newSellProductFixture(t)

	f.inventory.EXPECT().VerifyStock(mock.Anything, mock.Anything, 2).Return(true, nil)
	f.inventory.EXPECT().Reserve(mock.Anything, mock.Anything, 2, mock.Anything).Return("res-1", nil)
	f.payment.EXPECT().Charge(mock.Anything, mock.Anything, mock.Anything, "credit_card", mock.Anything).
		Return("", domain.NewBusinessError("card_declined", "declined"))
	f.inventory.EXPECT().Release(mock.Anything, "res-1").Return(errors.New("inventory unreachable"))

	response, err := f.useCase.Execute(ctx, validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.SaleFailed.String(), response.State)
	assert.Contains(t, response.ErrorMessage, "stock release failed")
}

// stateConflictRepository fails every optimistic update that would land
// the execution in the configured state. UpdateWithLock is inherited
// untouched, so the pessimistic path still commits.
type stateConflictRepository struct {
	domain.SagaExecutionRepository
	state domain.SagaState
}

func (r *stateConflictRepository) Update(ctx context.Context, execution *domain.SagaExecution) error {
	if execution.State == r.state {
		return domain.ErrVersionConflict
	}
	return r.SagaExecutionRepository.Update(ctx, execution)
}

func TestSellProduct_Execute_ReservationPersistFailureReleasesStock(t *testing.T) {
	ctx := context.Background()

	repository := &stateConflictRepository{
		SagaExecutionRepository: infrastructure.NewMemorySagaRepository(),
		state:                   domain.PaymentProcessing,
	}
	publisher := &capturePublisher{}
	inventory := mocks.NewInventoryClient(t)
	payment := mocks.NewPaymentClient(t)
	order := mocks.NewOrderClient(t)

	sagaManager := NewConcurrentSagaManager(repository, publisher)
	compensation := NewCompensationService(sagaManager, inventory)
	useCase := NewSellProduct(repository, sagaManager, compensation, inventory, payment, order, publisher)

	f := &sellProductFixture{useCase: useCase, publisher: publisher, inventory: inventory, payment: payment, order: order}

	f.inventory.EXPECT().VerifyStock(mock.Anything, mock.Anything, 2).Return(true, nil)
	f.inventory.EXPECT().Reserve(mock.Anything, mock.Anything, 2, mock.Anything).Return("res-1", nil)
	// The transition that would record the reservation keeps losing its
	// version race, so the id only exists in the orchestrator's hands.
	// It must still be released.
	f.inventory.EXPECT().Release(mock.Anything, "res-1").Return(nil).Once()

	response, err := f.useCase.Execute(ctx, validCommand())
	require.NoError(t, err)

	assert.Equal(t, domain.SaleFailed.String(), response.State)
	assert.Contains(t, response.ErrorMessage, "stock_reservation failed")

	stored, err := repository.FindByID(ctx, mustID(t, response.SagaID))
	require.NoError(t, err)
	assert.Equal(t, domain.SaleFailed, stored.State)
	require.NotNil(t, stored.StockReservationID, "the in-hand reservation id must be recorded during compensation")
	assert.Equal(t, "res-1", *stored.StockReservationID)

	f.payment.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assertEventPublished(t, f.publisher, events.SaleFailedEvent)
}

func TestSellProduct_Execute_OlderConcurrentSagaDeclinesSale(t *testing.T) {
	ctx := context.Background()
	f := newSellProductFixture(t)
	cmd := validCommand()

	// An older saga for the same customer and product is mid-flight.
	// The new sale must back off and, with the older saga still active
	// after the backoff window, decline without touching inventory
	// reservations.
	older, err := domain.NewSagaExecution(
		mustID(t, cmd.CustomerID),
		mustID(t, cmd.ProductID),
		1,
		models.NewMoney(2500, "USD"),
	)
	require.NoError(t, err)
	older.Timestamps.CreatedAt = older.Timestamps.CreatedAt.Add(-time.Minute)
	require.NoError(t, f.repository.Save(ctx, older))

	f.inventory.EXPECT().VerifyStock(mock.Anything, mock.Anything, 2).Return(true, nil)

	response, err := f.useCase.Execute(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, domain.SaleFailed.String(), response.State)
	assert.Contains(t, response.ErrorMessage, "concurrent_sale_in_progress")

	f.inventory.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.inventory.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	f.payment.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	stored, err := f.repository.FindByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleInitiated, stored.State, "the older saga must not be disturbed")
}

func TestSellProduct_Execute_InvalidCommand(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SellProductCommand)
	}{
		{"missing customer", func(cmd *SellProductCommand) { cmd.CustomerID = "" }},
		{"missing product", func(cmd *SellProductCommand) { cmd.ProductID = "" }},
		{"zero quantity", func(cmd *SellProductCommand) { cmd.Quantity = 0 }},
		{"negative price", func(cmd *SellProductCommand) { cmd.UnitPrice = -1 }},
		{"missing currency", func(cmd *SellProductCommand) { cmd.Currency = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSellProductFixture(t)
			cmd := validCommand()
			tt.mutate(cmd)

			_, err := f.useCase.Execute(context.Background(), cmd)
			assert.Error(t, err)
		})
	}
}

func mustID(t *testing.T, raw string) models.ID {
	t.Helper()
	id, err := models.NewID(raw)
	require.NoError(t, err)
	return id
}

func assertEventPublished(t *testing.T, publisher *capturePublisher, eventType string) {
	t.Helper()
	for _, event := range publisher.published() {
		if event.EventType == eventType {
			return
		}
	}
	t.Errorf("expected event %s to be published", eventType)
}
