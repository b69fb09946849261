package application

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/models"
	"github.com/retailcore/sales-system/shared/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// raceBackoffAttempts bounds how long a saga waits for an older
	// competitor over the same customer+product pair to finish before
	// the sale is declined
	raceBackoffAttempts = 3

	raceBackoffDelay = 25 * time.Millisecond
)

// SellProductCommand represents the command to run a sale saga
type SellProductCommand struct {
	CustomerID    string `json:"customer_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
}

// SellProductResponse represents the outcome of a sale saga
type SellProductResponse struct {
	SagaID       string  `json:"saga_id"`
	State        string  `json:"state"`
	OrderID      *string `json:"order_id,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// SellProduct is the saga orchestrator. It owns one execution from
// creation to a terminal state and calls each collaborator in sequence,
// advancing the state machine before every step so a crash leaves the
// execution parked in the state whose step was in flight.
type SellProduct struct {
	repository      domain.SagaExecutionRepository
	sagaManager     *ConcurrentSagaManager
	compensation    *CompensationService
	inventoryClient domain.InventoryClient
	paymentClient   domain.PaymentClient
	orderClient     domain.OrderClient
	publisher       events.Publisher
}

// NewSellProduct creates a new SellProduct use case
func NewSellProduct(
	repository domain.SagaExecutionRepository,
	sagaManager *ConcurrentSagaManager,
	compensation *CompensationService,
	inventoryClient domain.InventoryClient,
	paymentClient domain.PaymentClient,
	orderClient domain.OrderClient,
	publisher events.Publisher,
) *SellProduct {
	return &SellProduct{
		repository:      repository,
		sagaManager:     sagaManager,
		compensation:    compensation,
		inventoryClient: inventoryClient,
		paymentClient:   paymentClient,
		orderClient:     orderClient,
		publisher:       publisher,
	}
}

// Execute runs a sale saga to a terminal state. Collaborator failures,
// business declines included, terminate the saga through its
// compensation path and come back in the response, not as an error;
// only orchestration breakage (persistence, publishing) returns one.
func (uc *SellProduct) Execute(ctx context.Context, cmd *SellProductCommand) (*SellProductResponse, error) {
	if err := uc.validateCommand(cmd); err != nil {
		return nil, errors.Wrap(err, "invalid command")
	}

	customerID, err := models.NewID(cmd.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid customer ID")
	}
	productID, err := models.NewID(cmd.ProductID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid product ID")
	}

	unitPrice := models.NewMoney(cmd.UnitPrice, cmd.Currency)

	execution, err := domain.NewSagaExecution(customerID, productID, cmd.Quantity, unitPrice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create saga execution")
	}

	if err := uc.repository.Save(ctx, execution); err != nil {
		return nil, errors.Wrap(err, "failed to save saga execution")
	}
	if err := uc.publisher.Publish(ctx, execution.Events()...); err != nil {
		return nil, errors.Wrap(err, "failed to publish saga events")
	}
	execution.ClearEvents()

	telemetry.RecordCounter(ctx, "sagas_started_total", "Sale sagas started", 1)

	execution, err = uc.runSteps(ctx, execution, cmd.PaymentMethod)
	if err != nil {
		return nil, err
	}

	if execution.State == domain.SaleConfirmed {
		telemetry.RecordCounter(ctx, "sagas_completed_total", "Sale sagas confirmed", 1)
	} else {
		telemetry.RecordCounter(ctx, "sagas_failed_total", "Sale sagas failed", 1)
	}

	return &SellProductResponse{
		SagaID:       execution.ID.String(),
		State:        execution.State.String(),
		OrderID:      execution.OrderID,
		ErrorMessage: execution.ErrorMessage,
	}, nil
}

// runSteps drives the happy path, diverting to compensation on the
// first failed step
func (uc *SellProduct) runSteps(ctx context.Context, execution *domain.SagaExecution, paymentMethod string) (*domain.SagaExecution, error) {
	sagaID := execution.ID

	// The pair lock serializes the verify-then-reserve window for sagas
	// competing over the same customer+product in this process. It is
	// released before payment; holding it across a slow collaborator
	// call would throttle unrelated sagas.
	release := uc.sagaManager.AcquireCustomerProductLock(execution.CustomerID, execution.ProductID)
	reserved, execution, err := uc.verifyAndReserve(ctx, execution)
	release()
	if err != nil {
		return nil, err
	}
	if !reserved {
		return execution, nil
	}

	// Charge the customer.
	paymentRef, stepErr := uc.paymentClient.Charge(ctx, execution.CustomerID, execution.Amount, paymentMethod, sagaID)
	if stepErr != nil {
		return uc.failStep(ctx, sagaID, "payment", "", stepErr)
	}

	// Confirm the order.
	execution, err = uc.advance(ctx, sagaID, domain.OrderConfirming, func(execution *domain.SagaExecution) {
		execution.SetPaymentTransaction(paymentRef)
	})
	if err != nil {
		// The charge went through but its reference never persisted, so
		// the choreographed refund cannot find it. The saga still ends
		// in failure; the payment needs manual review.
		return uc.failStep(ctx, sagaID, "payment", "",
			errors.Wrapf(err, "charge %s committed but not recorded, manual review required", paymentRef))
	}
	orderID, stepErr := uc.orderClient.ConfirmOrder(ctx, sagaID, []domain.OrderItem{{
		ProductID: execution.ProductID,
		Quantity:  execution.Quantity,
		UnitPrice: models.NewMoney(execution.Amount.Amount/int64(execution.Quantity), execution.Amount.Currency),
	}})
	if stepErr != nil {
		return uc.failStep(ctx, sagaID, "order", "", stepErr)
	}

	execution, err = uc.advance(ctx, sagaID, domain.SaleConfirmed, func(execution *domain.SagaExecution) {
		execution.SetOrder(orderID)
	})
	if err != nil {
		return uc.failStep(ctx, sagaID, "order", "",
			errors.Wrapf(err, "order %s confirmed but not recorded", orderID))
	}
	return execution, nil
}

// verifyAndReserve covers the two inventory steps under the caller's
// pair lock. Returns reserved=false when the saga terminated without a
// reservation.
func (uc *SellProduct) verifyAndReserve(ctx context.Context, execution *domain.SagaExecution) (bool, *domain.SagaExecution, error) {
	sagaID := execution.ID

	execution, err := uc.advance(ctx, sagaID, domain.StockVerifying, nil)
	if err != nil {
		failed, err := uc.failStep(ctx, sagaID, "stock_verification", "", err)
		return false, failed, err
	}

	available, stepErr := uc.inventoryClient.VerifyStock(ctx, execution.ProductID, execution.Quantity)
	if stepErr == nil && !available {
		stepErr = domain.NewBusinessError("insufficient_stock", "requested quantity is not available")
	}
	if stepErr != nil {
		failed, err := uc.failStep(ctx, sagaID, "stock_verification", "", stepErr)
		return false, failed, err
	}

	execution, err = uc.advance(ctx, sagaID, domain.StockReserving, nil)
	if err != nil {
		failed, err := uc.failStep(ctx, sagaID, "stock_reservation", "", err)
		return false, failed, err
	}

	// The pair lock only covers this process. Before touching inventory
	// the saga must also win the repository-backed arbitration, which
	// holds across orchestrator instances.
	if stepErr := uc.awaitReservationTurn(ctx, sagaID); stepErr != nil {
		failed, err := uc.failStep(ctx, sagaID, "stock_reservation", "", stepErr)
		return false, failed, err
	}

	reservationID, stepErr := uc.inventoryClient.Reserve(ctx, execution.ProductID, execution.Quantity, sagaID)
	if stepErr != nil {
		failed, err := uc.failStep(ctx, sagaID, "stock_reservation", "", stepErr)
		return false, failed, err
	}

	// The reservation id is persisted with the transition so the two
	// land in one version bump.
	execution, err = uc.advance(ctx, sagaID, domain.PaymentProcessing, func(execution *domain.SagaExecution) {
		execution.SetStockReservation(reservationID)
	})
	if err != nil {
		// The transition never committed, so the reservation id exists
		// only in this frame. Hand it to compensation directly or the
		// stock stays reserved until the inventory TTL expires it.
		failed, err := uc.failStep(ctx, sagaID, "stock_reservation", reservationID, err)
		return false, failed, err
	}

	return true, execution, nil
}

// awaitReservationTurn waits for the saga to become the oldest active
// one for its customer+product pair. Losing the race is retriable; a
// competitor that stays ahead past the backoff turns into a business
// decline.
func (uc *SellProduct) awaitReservationTurn(ctx context.Context, sagaID models.ID) error {
	err := retry.Do(
		func() error {
			if _, err := uc.sagaManager.ValidateSagaCanProceed(ctx, sagaID); err != nil {
				if errors.Is(err, domain.ErrSagaLostRace) {
					return err
				}
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(raceBackoffAttempts),
		retry.Delay(raceBackoffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrSagaLostRace)
		}),
	)
	if errors.Is(err, domain.ErrSagaLostRace) {
		return domain.NewBusinessError("concurrent_sale_in_progress",
			"an earlier sale for this customer and product is still in progress")
	}
	return err
}

// advance moves the saga to the next state, applying an optional
// side-effect recording first
func (uc *SellProduct) advance(ctx context.Context, sagaID models.ID, to domain.SagaState, before func(*domain.SagaExecution)) (*domain.SagaExecution, error) {
	return uc.sagaManager.UpdateStateWithRetry(ctx, sagaID, func(execution *domain.SagaExecution) error {
		if before != nil {
			before(execution)
		}
		return execution.TransitionTo(to)
	})
}

// failStep terminates the saga through its compensation path after a
// step failure. reservationID carries a reservation the orchestrator
// holds that never made it onto the persisted execution; empty when the
// execution already records everything.
func (uc *SellProduct) failStep(ctx context.Context, sagaID models.ID, step, reservationID string, stepErr error) (*domain.SagaExecution, error) {
	failureType := "transport"
	if domain.IsBusinessError(stepErr) {
		failureType = "business"
	}
	telemetry.RecordCounter(ctx, "saga_step_failures_total", "Saga steps that failed", 1,
		attribute.String("step", step),
		attribute.String("failure_type", failureType))

	execution, err := uc.compensation.ExecuteCompensationWithReservation(ctx, sagaID, reservationID, step+" failed: "+stepErr.Error())
	if err != nil {
		return nil, errors.Wrapf(err, "saga %s: compensation after %s failure", sagaID, step)
	}
	return execution, nil
}

// validateCommand validates the sell product command
func (uc *SellProduct) validateCommand(cmd *SellProductCommand) error {
	if cmd.CustomerID == "" {
		return errors.New("customer ID is required")
	}
	if cmd.ProductID == "" {
		return errors.New("product ID is required")
	}
	if cmd.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if cmd.UnitPrice <= 0 {
		return errors.New("unit price must be positive")
	}
	if cmd.Currency == "" {
		return errors.New("currency is required")
	}
	return nil
}
