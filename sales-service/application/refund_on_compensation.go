package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/models"
	"github.com/retailcore/sales-system/shared/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var _ events.EventHandler = (*RefundOnCompensation)(nil)

// RefundOnCompensation is the payment participant of the compensation
// choreography. It reacts to compensating events, looks up the saga's
// journal for a processed payment and refunds it exactly once.
//
// Delivery is at-least-once, so the handler is idempotent two ways: a
// journaled refund short-circuits a redelivery, and the version check on
// the journal append collapses two concurrent deliveries into one
// recorded refund. The provider-side Refund is idempotent as well.
type RefundOnCompensation struct {
	eventStore    events.EventStore
	paymentClient domain.PaymentClient
	publisher     events.Publisher
}

// NewRefundOnCompensation creates a new RefundOnCompensation handler
func NewRefundOnCompensation(
	eventStore events.EventStore,
	paymentClient domain.PaymentClient,
	publisher events.Publisher,
) *RefundOnCompensation {
	return &RefundOnCompensation{
		eventStore:    eventStore,
		paymentClient: paymentClient,
		publisher:     publisher,
	}
}

// Handle processes a compensating event
func (uc *RefundOnCompensation) Handle(ctx context.Context, event *events.Event) error {
	switch event.EventType {
	case events.SagaCompensatingEvent, events.InventoryUnavailableEvent:
	default:
		return nil
	}

	sagaID := event.CorrelationID
	if sagaID.IsEmpty() {
		sagaID = event.AggregateID
	}

	history, err := uc.eventStore.FindByCorrelationID(ctx, sagaID)
	if err != nil {
		return errors.Wrapf(err, "failed to load journal for saga %s", sagaID)
	}

	var payment *domain.PaymentProcessedData
	for _, past := range history {
		switch past.EventType {
		case events.PaymentRefundedEvent:
			telemetry.RecordCounter(ctx, "saga_refunds_skipped_total",
				"Refund deliveries skipped because the refund was already journaled", 1,
				attribute.String("saga_id", sagaID.String()))
			return nil
		case events.PaymentProcessedEvent:
			var data domain.PaymentProcessedData
			if err := past.UnmarshalPayload(&data); err != nil {
				return errors.Wrap(err, "failed to decode payment processed payload")
			}
			payment = &data
		}
	}

	if payment == nil {
		// The saga failed before any charge; nothing to refund.
		return nil
	}

	reason := "saga compensation: " + event.EventType
	if err := uc.paymentClient.Refund(ctx, payment.TransactionID, reason); err != nil {
		return errors.Wrapf(err, "failed to refund payment %s for saga %s", payment.TransactionID, sagaID)
	}

	if err := uc.journalRefund(ctx, sagaID, event, payment, reason); err != nil {
		return err
	}

	telemetry.RecordCounter(ctx, "saga_refunds_total", "Payments refunded during compensation", 1)
	return nil
}

// journalRefund records the refund in the saga's journal. Losing the
// version race means another delivery recorded it first; that delivery
// also publishes, so this one stops silently.
func (uc *RefundOnCompensation) journalRefund(ctx context.Context, sagaID models.ID, cause *events.Event, payment *domain.PaymentProcessedData, reason string) error {
	latest, err := uc.eventStore.LatestVersion(ctx, sagaID)
	if err != nil {
		return errors.Wrap(err, "failed to read journal version")
	}

	refunded := events.NewEvent(sagaID, events.PaymentRefundedEvent, domain.PaymentRefundedData{
		SagaID:        sagaID,
		TransactionID: payment.TransactionID,
		Reason:        reason,
		RefundedAt:    time.Now(),
	}).
		WithAggregateType(events.SaleSagaAggregateType).
		WithCorrelationID(sagaID).
		WithCausationID(cause.ID).
		WithVersion(latest + 1)

	if err := uc.eventStore.Append(ctx, refunded); err != nil {
		if events.IsVersionConflict(err) {
			return nil
		}
		return errors.Wrap(err, "failed to journal refund")
	}

	return uc.publisher.Publish(ctx, refunded)
}
