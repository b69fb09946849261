package infrastructure

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/shared/events"
)

// SQSSubscriberAdapter exposes the polling SQSEventSubscriber through
// the events.Subscriber interface. The AWS client is built lazily on
// Subscribe so constructing the adapter never touches the network.
type SQSSubscriberAdapter struct {
	subscriber *SQSEventSubscriber
	running    bool
	queueURL   string
}

// NewSQSSubscriberAdapter creates an adapter for the given queue
func NewSQSSubscriberAdapter(queueURL string) (*SQSSubscriberAdapter, error) {
	return &SQSSubscriberAdapter{queueURL: queueURL}, nil
}

// subscriberHandler wraps an events.EventHandler with the identity the
// poller needs for its logs and idempotency bookkeeping
type subscriberHandler struct {
	handler events.EventHandler
}

func (h *subscriberHandler) HandlerID() string {
	if identified, ok := h.handler.(interface{ HandlerID() string }); ok {
		return identified.HandlerID()
	}
	return "sale-event-subscriber"
}

func (h *subscriberHandler) Handle(ctx context.Context, event *events.Event) error {
	return h.handler.Handle(ctx, event)
}

// Subscribe starts polling the queue and dispatching every received
// event to handler. eventType is ignored; routing happens inside the
// handler, the queue carries the whole sale stream.
func (s *SQSSubscriberAdapter) Subscribe(ctx context.Context, eventType string, handler events.EventHandler) error {
	if s.running {
		return errors.New("subscriber is already running")
	}

	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		return errors.Wrap(err, "failed to load AWS config")
	}

	s.subscriber = NewSQSEventSubscriber(sqs.NewFromConfig(cfg), s.queueURL, &subscriberHandler{handler: handler})
	if err := s.subscriber.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start SQS subscriber")
	}

	s.running = true
	return nil
}

// Close stops the poller and waits for in-flight messages to settle
func (s *SQSSubscriberAdapter) Close() error {
	if !s.running || s.subscriber == nil {
		return nil
	}

	if err := s.subscriber.Stop(context.Background()); err != nil {
		return errors.Wrap(err, "failed to stop SQS subscriber")
	}

	s.running = false
	return nil
}
