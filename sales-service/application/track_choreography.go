package application

import (
	"context"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/models"
	"github.com/retailcore/sales-system/shared/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var _ events.EventHandler = (*TrackChoreography)(nil)

// SaleSagaType identifies the sale flow in choreographed tracking records
const SaleSagaType = "sale"

// Saga step names as tracked by choreography participants
const (
	StepStockVerification = "stock_verification"
	StepStockReservation  = "stock_reservation"
	StepPayment           = "payment"
	StepOrder             = "order"
)

// completedSteps maps observed success events to the step they complete
var completedSteps = map[string]string{
	events.InventoryVerifiedEvent: StepStockVerification,
	events.InventoryReservedEvent: StepStockReservation,
	events.PaymentProcessedEvent:  StepPayment,
	events.OrderFulfilledEvent:    StepOrder,
}

// failedSteps maps observed failure events to the step that failed
var failedSteps = map[string]string{
	events.InventoryUnavailableEvent: StepStockVerification,
	events.PaymentFailedEvent:        StepPayment,
	events.OrderFailedEvent:          StepOrder,
}

// TrackChoreography maintains the decentralized saga bookkeeping. Every
// participant observing the sale event stream can rebuild the saga's
// progress without a coordinator; this handler folds each observed event
// into the ChoreographedSagaState for its correlation id.
//
// Redeliveries are absorbed: a step already recorded is not recorded
// twice, and updates retry on version conflicts against a fresh load.
type TrackChoreography struct {
	repository domain.ChoreographedSagaRepository
}

// NewTrackChoreography creates a new TrackChoreography handler
func NewTrackChoreography(repository domain.ChoreographedSagaRepository) *TrackChoreography {
	return &TrackChoreography{repository: repository}
}

// Handle folds one observed event into the tracking record
func (uc *TrackChoreography) Handle(ctx context.Context, event *events.Event) error {
	correlationID := event.CorrelationID
	if correlationID.IsEmpty() {
		correlationID = event.AggregateID
	}

	if event.EventType == events.TransactionCreatedEvent || event.EventType == events.SagaStartedEvent {
		return uc.startTracking(ctx, correlationID)
	}

	return uc.applyWithRetry(ctx, correlationID, event)
}

func (uc *TrackChoreography) startTracking(ctx context.Context, correlationID models.ID) error {
	existing, err := uc.repository.FindByCorrelationID(ctx, correlationID)
	if err != nil && !errors.Is(err, domain.ErrSagaNotFound) {
		return errors.Wrapf(err, "failed to look up tracking for saga %s", correlationID)
	}
	if existing != nil {
		return nil // redelivered start event
	}

	state := domain.NewChoreographedSagaState(SaleSagaType, correlationID)
	if err := uc.repository.Save(ctx, state); err != nil {
		return errors.Wrapf(err, "failed to start tracking saga %s", correlationID)
	}

	telemetry.RecordCounter(ctx, "choreography_sagas_tracked_total",
		"Choreographed sagas picked up for tracking", 1)
	return nil
}

func (uc *TrackChoreography) applyWithRetry(ctx context.Context, correlationID models.ID, event *events.Event) error {
	return retry.Do(
		func() error {
			state, err := uc.repository.FindByCorrelationID(ctx, correlationID)
			if errors.Is(err, domain.ErrSagaNotFound) {
				// An event observed before the start of the stream; the
				// record appears once the start event arrives.
				return nil
			}
			if err != nil {
				return retry.Unrecoverable(errors.Wrapf(err, "failed to load tracking for saga %s", correlationID))
			}

			if !uc.apply(state, event) {
				return nil
			}

			if err := uc.repository.Update(ctx, state); err != nil {
				if errors.Is(err, domain.ErrVersionConflict) {
					return err
				}
				return retry.Unrecoverable(errors.Wrapf(err, "failed to update tracking for saga %s", correlationID))
			}

			if state.Status.IsFinal() {
				telemetry.RecordCounter(ctx, "choreography_sagas_finished_total",
					"Choreographed sagas that reached a final status", 1,
					attribute.String("status", state.Status.String()))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(optimisticRetryAttempts),
		retry.Delay(optimisticRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrVersionConflict)
		}),
	)
}

// apply folds the event into the state, reporting whether anything
// changed
func (uc *TrackChoreography) apply(state *domain.ChoreographedSagaState, event *events.Event) bool {
	if state.Status.IsFinal() {
		return false
	}

	if step, ok := completedSteps[event.EventType]; ok {
		for _, done := range state.CompletedSteps {
			if done == step {
				return false // redelivery
			}
		}
		state.MarkStepCompleted(step)
		if step == StepOrder {
			state.MarkCompleted()
		}
		return true
	}

	if step, ok := failedSteps[event.EventType]; ok {
		state.MarkStepFailed(step, event.EventType)
		return true
	}

	switch event.EventType {
	case events.SaleConfirmedEvent:
		state.MarkCompleted()
	case events.SaleFailedEvent:
		if state.CompensationRequired && !state.CompensationCompleted {
			state.MarkCompensationCompleted()
		} else {
			state.MarkFailed("saga failed")
		}
	case events.InventoryReleasedEvent, events.PaymentRefundedEvent:
		if state.Status == domain.ChoreographyCompensating {
			state.MarkCompensationCompleted()
		} else {
			return false
		}
	case events.SagaTimedOutEvent:
		state.MarkTimedOut()
	default:
		return false
	}

	return true
}
