package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/shared/models"
)

// ErrVersionConflict is returned by Update when the persisted version no
// longer matches the version the caller loaded
var ErrVersionConflict = errors.New("saga execution was modified concurrently")

// ErrSagaNotFound is returned by repository lookups when no execution
// exists for the given id or correlation id
var ErrSagaNotFound = errors.New("saga execution not found")

// ErrSagaLostRace is returned when a saga must back off because an
// older active saga for the same customer+product pair holds the right
// to reserve. Not a failure; the caller may retry once the older saga
// reaches a terminal state.
var ErrSagaLostRace = errors.New("an older saga for the same customer and product is still active")

// BusinessError is an explicit decline from a collaborator (insufficient
// stock, card declined). Distinct from transport failures for
// logging/alerting, identical for saga routing.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBusinessError creates a typed business failure
func NewBusinessError(code, message string) *BusinessError {
	return &BusinessError{Code: code, Message: message}
}

// IsBusinessError reports whether err is an explicit collaborator decline
func IsBusinessError(err error) bool {
	var businessErr *BusinessError
	return errors.As(err, &businessErr)
}

// SagaExecutionRepository persists saga executions. Update applies an
// optimistic version check and returns ErrVersionConflict on a lost race.
// UpdateWithLock loads the row under an exclusive lock, applies mutate
// and persists before releasing the lock; the mutation either commits
// whole or not at all.
type SagaExecutionRepository interface {
	Save(ctx context.Context, execution *SagaExecution) error
	Update(ctx context.Context, execution *SagaExecution) error
	UpdateWithLock(ctx context.Context, id models.ID, mutate func(*SagaExecution) error) (*SagaExecution, error)
	FindByID(ctx context.Context, id models.ID) (*SagaExecution, error)
	FindActiveByCustomerAndProduct(ctx context.Context, customerID, productID models.ID) ([]*SagaExecution, error)
	FindActive(ctx context.Context) ([]*SagaExecution, error)
	FindStartedBefore(ctx context.Context, cutoff time.Time) ([]*SagaExecution, error)
}

// ChoreographedSagaRepository persists the decentralized saga tracking
// records. Update carries the same optimistic semantics as the execution
// repository.
type ChoreographedSagaRepository interface {
	Save(ctx context.Context, state *ChoreographedSagaState) error
	Update(ctx context.Context, state *ChoreographedSagaState) error
	FindByID(ctx context.Context, id models.ID) (*ChoreographedSagaState, error)
	FindByCorrelationID(ctx context.Context, correlationID models.ID) (*ChoreographedSagaState, error)
}

// OrderItem is one line of an order confirmation request
type OrderItem struct {
	ProductID models.ID    `json:"product_id"`
	Quantity  int          `json:"quantity"`
	UnitPrice models.Money `json:"unit_price"`
}

// InventoryClient is the inventory collaborator contract. Reserve returns
// a BusinessError when stock is insufficient.
type InventoryClient interface {
	VerifyStock(ctx context.Context, productID models.ID, quantity int) (bool, error)
	Reserve(ctx context.Context, productID models.ID, quantity int, sagaID models.ID) (string, error)
	Release(ctx context.Context, reservationID string) error
}

// PaymentClient is the payment collaborator contract. Refund is
// idempotent on the provider side: refunding an already-refunded payment
// acks as a no-op.
type PaymentClient interface {
	Charge(ctx context.Context, customerID models.ID, amount models.Money, method string, sagaID models.ID) (string, error)
	Refund(ctx context.Context, paymentRef string, reason string) error
}

// OrderClient is the order/fulfillment collaborator contract
type OrderClient interface {
	ConfirmOrder(ctx context.Context, sagaID models.ID, items []OrderItem) (string, error)
}
