package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/retailcore/sales-system/shared/models"
)

var (
	ErrInvalidTopic    = errors.New("invalid topic")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrInvalidReceiver = errors.New("receiver should be a pointer")
	ErrInvalidVersion  = errors.New("event version must be positive")
)

// VersionConflictError is returned when an append does not match the
// aggregate's current stream version. It carries both sides so the caller
// can reload and retry.
type VersionConflictError struct {
	AggregateID models.ID
	Expected    int
	Actual      int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on aggregate %s: expected version %d, current is %d",
		e.AggregateID, e.Expected, e.Actual)
}

// IsVersionConflict reports whether err is a stream version conflict
func IsVersionConflict(err error) bool {
	var conflict *VersionConflictError
	return errors.As(err, &conflict)
}

// Topic represents an event topic with pattern matching support
type Topic string

func NewTopic(topic string) (Topic, error) {
	if topic == "" {
		return "", ErrInvalidTopic
	}
	return Topic(topic), nil
}

func (t Topic) Matches(pattern Topic) bool {
	topicStr := t.String()
	patternStr := pattern.String()

	if strings.HasPrefix(patternStr, "#") && strings.HasSuffix(patternStr, "#") {
		return strings.Contains(
			topicStr,
			strings.TrimSuffix(strings.TrimPrefix(patternStr, "#"), "#"),
		)
	}

	if strings.HasPrefix(patternStr, "#") {
		return strings.HasSuffix(
			topicStr,
			strings.TrimPrefix(patternStr, "#"),
		)
	}

	if strings.HasSuffix(patternStr, "#") {
		return strings.HasPrefix(
			topicStr,
			strings.TrimSuffix(patternStr, "#"),
		)
	}

	patternParts := strings.Split(patternStr, ".")
	topicParts := strings.Split(topicStr, ".")

	return matchPattern(patternParts, topicParts)
}

func (t Topic) String() string {
	return string(t)
}

func matchPattern(patternParts, topicParts []string) bool {
	if len(patternParts) == 1 && patternParts[0] == "#" {
		return true
	}

	if len(patternParts) != len(topicParts) {
		return false
	}

	if len(patternParts) == 0 {
		return true
	}

	if patternParts[0] == "*" || patternParts[0] == topicParts[0] {
		return matchPattern(patternParts[1:], topicParts[1:])
	}

	return false
}

// Metadata represents event metadata
type Metadata map[string]string

func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Set stores a key, allocating the map on first use. Pointer receiver
// so the allocation survives the call.
func (m *Metadata) Set(key string, value string) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}

func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

func (m Metadata) Matches(o Metadata) bool {
	for k, v := range o {
		if m[k] != v {
			return false
		}
	}
	return true
}

func (m Metadata) Clone() Metadata {
	clone := Metadata{}
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// Event represents a domain event in an aggregate's stream.
// Version is the per-aggregate stream version: strictly ascending,
// gap-free, starting at 1.
type Event struct {
	ID            models.ID   `json:"id"`
	AggregateID   models.ID   `json:"aggregate_id"`
	AggregateType string      `json:"aggregate_type"`
	Topic         Topic       `json:"topic"`
	EventType     string      `json:"event_type"`
	Version       int         `json:"version"`
	Data          interface{} `json:"data"`
	Metadata      Metadata    `json:"metadata"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID models.ID   `json:"correlation_id"`
	CausationID   models.ID   `json:"causation_id"`
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// Subscriber subscribes to events
type Subscriber interface {
	Subscribe(ctx context.Context, eventType string, handler EventHandler) error
}

// EventHandler handles domain events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// Criteria is a partial filter for secondary event store queries.
// Nil fields are not applied.
type Criteria struct {
	AggregateID   *models.ID
	AggregateType *string
	EventType     *string
	CorrelationID *models.ID
	From          *time.Time
	To            *time.Time
}

// EventStore is an append-only, per-aggregate event log with
// version-based optimistic concurrency. Load results are ordered by
// stream version ascending; secondary queries by timestamp ascending.
type EventStore interface {
	Append(ctx context.Context, event *Event) error
	AppendBatch(ctx context.Context, events []*Event) error
	Load(ctx context.Context, aggregateID models.ID) ([]*Event, error)
	LoadFrom(ctx context.Context, aggregateID models.ID, fromVersion int) ([]*Event, error)
	LoadUpTo(ctx context.Context, aggregateID models.ID, upToVersion int) ([]*Event, error)
	FindByType(ctx context.Context, eventType string, offset, limit int) ([]*Event, error)
	FindByCorrelationID(ctx context.Context, correlationID models.ID) ([]*Event, error)
	FindByTimeRange(ctx context.Context, from, to time.Time) ([]*Event, error)
	FindByCriteria(ctx context.Context, criteria Criteria) ([]*Event, error)
	LatestVersion(ctx context.Context, aggregateID models.ID) (int, error)
}

// NewEvent creates a new domain event
func NewEvent(aggregateID models.ID, eventType string, data interface{}) *Event {
	topic, _ := NewTopic(eventType) // event type constants are trusted
	return &Event{
		ID:          models.GenerateUUID(),
		AggregateID: aggregateID,
		Topic:       topic,
		EventType:   eventType,
		Data:        data,
		Metadata:    make(Metadata),
		Timestamp:   time.Now(),
	}
}

// WithAggregateType sets the aggregate type
func (e *Event) WithAggregateType(aggregateType string) *Event {
	e.AggregateType = aggregateType
	return e
}

// WithVersion sets the stream version
func (e *Event) WithVersion(version int) *Event {
	e.Version = version
	return e
}

// WithCorrelationID sets correlation ID
func (e *Event) WithCorrelationID(correlationID models.ID) *Event {
	e.CorrelationID = correlationID
	return e
}

// WithCausationID records which event caused this one
func (e *Event) WithCausationID(causationID models.ID) *Event {
	e.CausationID = causationID
	return e
}

// WithMetadata adds metadata
func (e *Event) WithMetadata(key string, value string) *Event {
	e.Metadata.Set(key, value)
	return e
}

// ToJSON converts event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON creates event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// MarshalPayload marshals the event payload
func (e *Event) MarshalPayload() (json.RawMessage, error) {
	if b, ok := e.Data.([]byte); ok {
		return b, nil
	}

	if b, ok := e.Data.(json.RawMessage); ok {
		return b, nil
	}

	return json.Marshal(e.Data)
}

// UnmarshalPayload unmarshals the event payload into the given interface.
// Unknown fields in the stored payload are tolerated on read.
func (e *Event) UnmarshalPayload(v interface{}) error {
	vValue := reflect.ValueOf(v)
	if vValue.Kind() != reflect.Ptr {
		return ErrInvalidReceiver
	}

	vValue = vValue.Elem()
	payloadValue := reflect.ValueOf(e.Data)
	if payloadValue.IsValid() && vValue.Type() == payloadValue.Type() {
		vValue.Set(payloadValue)
		return nil
	}

	if b, ok := e.Data.([]byte); ok {
		return json.Unmarshal(b, v)
	}

	if b, ok := e.Data.(json.RawMessage); ok {
		return json.Unmarshal([]byte(b), v)
	}

	raw, err := e.MarshalPayload()
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, v)
}

// Matches checks if the event matches the given topic pattern and metadata
func (e *Event) Matches(topicPattern Topic, metadata Metadata) bool {
	return e.Topic.Matches(topicPattern) && e.Metadata.Matches(metadata)
}

// Clone creates a copy of the event
func (e *Event) Clone() *Event {
	return &Event{
		ID:            e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		Topic:         e.Topic,
		EventType:     e.EventType,
		Version:       e.Version,
		Data:          e.Data,
		Metadata:      e.Metadata.Clone(),
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
	}
}

// Aggregate Types
const (
	SaleSagaAggregateType          = "sale_saga"
	ChoreographedSagaAggregateType = "choreographed_saga"
)

// Event Types Constants
const (
	// Sale Transaction Events
	TransactionCreatedEvent = "sale.transaction.created"
	SaleConfirmedEvent      = "sale.confirmed"
	SaleFailedEvent         = "sale.failed"

	// Inventory Events
	InventoryVerifiedEvent      = "inventory.verified"
	InventoryReservedEvent      = "inventory.reserved"
	InventoryUnavailableEvent   = "inventory.unavailable"
	InventoryReleasedEvent      = "inventory.released"
	InventoryReleaseFailedEvent = "inventory.release.failed"

	// Payment Events
	PaymentProcessedEvent = "payment.processed"
	PaymentFailedEvent    = "payment.failed"
	PaymentRefundedEvent  = "payment.refunded"

	// Order Events
	OrderFulfilledEvent = "order.fulfilled"
	OrderFailedEvent    = "order.failed"

	// Saga Lifecycle Events
	SagaStartedEvent       = "saga.started"
	SagaStepCompletedEvent = "saga.step.completed"
	SagaStepFailedEvent    = "saga.step.failed"
	SagaCompletedEvent     = "saga.completed"
	SagaFailedEvent        = "saga.failed"
	SagaCompensatingEvent  = "saga.compensating"
	SagaCompensatedEvent   = "saga.compensated"
	SagaTimedOutEvent      = "saga.timed.out"
)
