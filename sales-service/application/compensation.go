package application

import (
	"context"
	"log"

	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/models"
	"github.com/retailcore/sales-system/shared/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// CompensationService undoes the side effects of a failed saga and
// drives it to SALE_FAILED. Compensation always runs under the
// pessimistic update path: a compensating transition lost to a race
// would strand a reservation.
//
// Only the stock reservation is compensated here. Payment refunds ride
// the event choreography: publishing the compensating event triggers the
// refund handler, which keeps the money flow on the at-least-once,
// idempotent path instead of a synchronous call.
type CompensationService struct {
	sagaManager     *ConcurrentSagaManager
	inventoryClient domain.InventoryClient
}

// NewCompensationService creates a new CompensationService
func NewCompensationService(
	sagaManager *ConcurrentSagaManager,
	inventoryClient domain.InventoryClient,
) *CompensationService {
	return &CompensationService{
		sagaManager:     sagaManager,
		inventoryClient: inventoryClient,
	}
}

// RequiresCompensation reports whether a saga failing in state has side
// effects to undo
func RequiresCompensation(state domain.SagaState) bool {
	return domain.CompensationState(state) == domain.StockReleasing
}

// ExecuteCompensation routes a failing saga through its compensation
// path to SALE_FAILED. A failed stock release is recorded and counted
// but never blocks the saga from terminating; the reservation is
// reconciled out of band.
func (s *CompensationService) ExecuteCompensation(ctx context.Context, sagaID models.ID, reason string) (*domain.SagaExecution, error) {
	return s.compensate(ctx, sagaID, "", reason)
}

// ExecuteCompensationWithReservation compensates a saga carrying a
// reservation id the caller holds but that may never have been
// persisted. The persist that records the reservation can itself be the
// failing step, so the in-hand id is written onto the execution before
// release; without it the reservation would leak until its TTL.
func (s *CompensationService) ExecuteCompensationWithReservation(ctx context.Context, sagaID models.ID, reservationID, reason string) (*domain.SagaExecution, error) {
	return s.compensate(ctx, sagaID, reservationID, reason)
}

func (s *CompensationService) compensate(ctx context.Context, sagaID models.ID, reservationID, reason string) (*domain.SagaExecution, error) {
	var releaseFailed bool

	execution, err := s.sagaManager.UpdateStateWithPessimisticLock(ctx, sagaID, func(execution *domain.SagaExecution) error {
		if execution.IsTerminal() {
			return nil
		}

		execution.SetError(reason)

		if reservationID != "" && execution.StockReservationID == nil {
			execution.SetStockReservation(reservationID)
		}

		if execution.State != domain.StockReleasing && domain.CompensationState(execution.State) == domain.StockReleasing {
			if err := execution.TransitionTo(domain.StockReleasing); err != nil {
				return err
			}
		}

		// Release keys off the reservation, not the state. A saga that
		// failed before the reservation persist commits is still parked
		// in a state whose compensation path skips STOCK_RELEASING.
		if execution.StockReservationID != nil {
			if err := s.inventoryClient.Release(ctx, *execution.StockReservationID); err != nil {
				releaseFailed = true
				log.Printf("saga %s: stock release for reservation %s failed: %v", sagaID, *execution.StockReservationID, err)
				execution.SetError(reason + "; stock release failed: " + err.Error())
			}
		}

		for !execution.IsTerminal() {
			if err := execution.TransitionTo(domain.CompensationState(execution.State)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compensate saga %s", sagaID)
	}

	telemetry.RecordCounter(ctx, "saga_compensations_total",
		"Sagas routed through compensation", 1,
		attribute.Bool("release_failed", releaseFailed))
	if releaseFailed {
		telemetry.RecordCounter(ctx, "saga_stock_release_failures_total",
			"Stock releases that failed during compensation", 1)
	}

	return execution, nil
}
