package infrastructure

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/shared/events"
)

// Metadata keys stamped onto every event received from the queue, used
// by handlers for dedup and tracing.
const (
	SQSMessageIDKey     = "sqs_message_id"
	SQSReceiptHandleKey = "sqs_receipt_handle"
)

// receivedMessage carries one SQS message through the pipeline: readers
// decode it, workers set Err with the handler outcome, cleaners ack or
// back off based on it.
type receivedMessage struct {
	raw   types.Message
	event *events.Event
	err   error
}

// EventHandler is what the poller dispatches to. HandlerID names the
// consumer in logs and lets handlers key their idempotency storage.
type EventHandler interface {
	HandlerID() string
	Handle(ctx context.Context, event *events.Event) error
}

// SQSEventSubscriber polls one queue and fans messages out to a worker
// pool. A message is deleted only after its handler returns nil; a
// failed message stays on the queue with a visibility timeout that
// grows with its receive count, which is the redelivery backoff.
type SQSEventSubscriber struct {
	mux      sync.RWMutex
	inbound  chan *receivedMessage
	outbound chan *receivedMessage
	cancel   context.CancelFunc
	running  atomic.Bool
	options  *sqsSubscriberOptions

	client   *sqs.Client
	queueURL string
	handler  EventHandler
}

type sqsSubscriberOptions struct {
	workers                 int32
	readers                 int32
	cleaners                int32
	maxNumberOfMessages     int32
	waitTimeSeconds         int32
	visibilityTimeout       int32
	sleepAfterEmptyReceive  time.Duration
	sleepAfterReceiveError  time.Duration
	ack                     bool
	extendVisibilityOnError bool
	receiveCountRange       int32
	visibilityTimeoutOffset int32
	maxVisibilityTimeout    int32
}

type SQSSubscriberOption func(*sqsSubscriberOptions)

func WithWorkers(workers int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.workers = workers
	}
}

func WithReaders(readers int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.readers = readers
	}
}

func WithVisibilityTimeout(timeout int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.visibilityTimeout = timeout
	}
}

// NewSQSEventSubscriber creates a subscriber over the given queue. The
// defaults favor throughput on the sale event stream; long polling with
// a modest batch keeps empty receives cheap.
func NewSQSEventSubscriber(
	client *sqs.Client,
	queueURL string,
	handler EventHandler,
	opts ...SQSSubscriberOption,
) *SQSEventSubscriber {
	options := &sqsSubscriberOptions{
		workers:                 30,
		readers:                 1,
		cleaners:                2,
		maxNumberOfMessages:     5,
		waitTimeSeconds:         15,
		visibilityTimeout:       30,
		sleepAfterEmptyReceive:  10 * time.Second,
		sleepAfterReceiveError:  20 * time.Second,
		ack:                     true,
		extendVisibilityOnError: true,
		receiveCountRange:       3,
		visibilityTimeoutOffset: 30,
		maxVisibilityTimeout:    900,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &SQSEventSubscriber{
		client:   client,
		queueURL: queueURL,
		handler:  handler,
		inbound:  make(chan *receivedMessage, 10),
		outbound: make(chan *receivedMessage, 10),
		options:  options,
	}
}

// Start launches the reader, worker and cleaner goroutines. Calling
// Start on a running subscriber is a no-op.
func (s *SQSEventSubscriber) Start(ctx context.Context) error {
	if s.running.Load() {
		return nil
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.inbound != nil {
		close(s.inbound)
	}
	if s.outbound != nil {
		close(s.outbound)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.inbound = make(chan *receivedMessage, 10)
	s.outbound = make(chan *receivedMessage, 10)
	s.cancel = cancel

	for i := 0; i < int(s.options.workers); i++ {
		go s.runWorker(ctx)
	}
	for i := 0; i < int(s.options.readers); i++ {
		go s.runReader(ctx)
	}
	for i := 0; i < int(s.options.cleaners); i++ {
		go s.runCleaner(ctx)
	}

	s.running.Store(true)
	return nil
}

// Stop cancels the pipeline. Messages mid-handling reappear on the
// queue once their visibility timeout lapses.
func (s *SQSEventSubscriber) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.inbound != nil {
		close(s.inbound)
	}
	if s.outbound != nil {
		close(s.outbound)
	}

	s.cancel = nil
	s.inbound = nil
	s.outbound = nil

	s.running.Store(false)
	return nil
}

func (s *SQSEventSubscriber) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.inbound:
			if message == nil {
				continue
			}
			s.dispatch(ctx, message)
		}
	}
}

func (s *SQSEventSubscriber) runReader(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := s.receive(ctx); err != nil {
				time.Sleep(s.options.sleepAfterReceiveError)
			}
		}
	}
}

func (s *SQSEventSubscriber) runCleaner(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.outbound:
			if message == nil {
				continue
			}
			if err := s.settle(ctx, message); err != nil {
				log.Printf("sqs subscriber: failed to settle message: %v", err)
			}
		}
	}
}

func (s *SQSEventSubscriber) receive(ctx context.Context) error {
	output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: s.options.maxNumberOfMessages,
		WaitTimeSeconds:     s.options.waitTimeSeconds,
		VisibilityTimeout:   s.options.visibilityTimeout,
		AttributeNames: []types.QueueAttributeName{
			"ApproximateReceiveCount",
			"ApproximateFirstReceiveTimestamp",
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return errors.Wrap(err, "failed to receive messages")
	}

	if len(output.Messages) == 0 {
		time.Sleep(s.options.sleepAfterEmptyReceive)
		return nil
	}

	for _, message := range output.Messages {
		var event *events.Event
		if err := json.Unmarshal([]byte(*message.Body), &event); err != nil {
			log.Printf("sqs subscriber: dropping undecodable message %s: %v", aws.ToString(message.MessageId), err)
			continue
		}

		event.Metadata.Set(SQSMessageIDKey, *message.MessageId)
		if message.ReceiptHandle != nil {
			event.Metadata.Set(SQSReceiptHandleKey, *message.ReceiptHandle)
		}
		for k, v := range message.MessageAttributes {
			if v.StringValue != nil {
				event.Metadata.Set(k, *v.StringValue)
			}
		}

		select {
		case s.inbound <- &receivedMessage{raw: message, event: event}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (s *SQSEventSubscriber) dispatch(ctx context.Context, message *receivedMessage) {
	s.mux.RLock()
	handler := s.handler
	s.mux.RUnlock()

	if handler == nil {
		message.err = errors.New("no handler configured")
	} else {
		message.err = handler.Handle(ctx, message.event)
	}

	select {
	case s.outbound <- message:
	case <-ctx.Done():
	}
}

// settle acknowledges a handled message or pushes back the visibility
// of a failed one. The extension grows stepwise with the receive count
// and is capped, so a poison message cannot climb forever.
func (s *SQSEventSubscriber) settle(ctx context.Context, message *receivedMessage) error {
	if message.err != nil {
		if !s.options.extendVisibilityOnError {
			return nil
		}

		receiveCount, err := strconv.Atoi(message.raw.Attributes["ApproximateReceiveCount"])
		if err != nil {
			receiveCount = 1
		}

		visibilityTimeout := s.options.visibilityTimeout +
			(int32(receiveCount)/s.options.receiveCountRange)*s.options.visibilityTimeoutOffset
		if visibilityTimeout > s.options.maxVisibilityTimeout {
			visibilityTimeout = s.options.maxVisibilityTimeout
		}

		_, err = s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          &s.queueURL,
			ReceiptHandle:     message.raw.ReceiptHandle,
			VisibilityTimeout: visibilityTimeout,
		})
		return errors.Wrap(err, "failed to extend visibility timeout")
	}

	if s.options.ack {
		if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &s.queueURL,
			ReceiptHandle: message.raw.ReceiptHandle,
		}); err != nil {
			return errors.Wrap(err, "failed to delete message")
		}
	}

	return nil
}
