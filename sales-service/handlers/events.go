package handlers

import (
	"context"
	"log"

	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/application"
	"github.com/retailcore/sales-system/shared/events"
)

// SaleEventHandlers routes sale saga events observed on the queue to
// the interested use cases. Failures from either use case propagate so
// the message is redelivered; both handlers absorb redeliveries.
type SaleEventHandlers struct {
	trackChoreography    *application.TrackChoreography
	refundOnCompensation *application.RefundOnCompensation
}

// NewSaleEventHandlers creates new sale event handlers
func NewSaleEventHandlers(
	trackChoreography *application.TrackChoreography,
	refundOnCompensation *application.RefundOnCompensation,
) *SaleEventHandlers {
	return &SaleEventHandlers{
		trackChoreography:    trackChoreography,
		refundOnCompensation: refundOnCompensation,
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *SaleEventHandlers) HandlerID() string {
	return "sales-service-event-handler"
}

// Handle implements the events.EventHandler interface
func (h *SaleEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	if event == nil {
		return nil
	}

	trackErr := h.trackChoreography.Handle(ctx, event)
	if trackErr != nil {
		log.Printf("choreography tracking for event %s (%s): %v", event.ID, event.EventType, trackErr)
	}

	// The refund still runs when tracking failed; both sides tolerate
	// the redelivery that the tracking error will trigger.
	switch event.EventType {
	case events.SagaCompensatingEvent, events.InventoryUnavailableEvent:
		if err := h.refundOnCompensation.Handle(ctx, event); err != nil {
			return errors.Wrap(err, "failed to process compensation refund")
		}
	}

	if trackErr != nil {
		return errors.Wrap(trackErr, "failed to track choreography")
	}
	return nil
}
