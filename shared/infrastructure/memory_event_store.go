package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/models"
)

var _ events.EventStore = (*MemoryEventStore)(nil)

// MemoryEventStore is the in-process event log used in local mode and in
// tests. It enforces the same gap-free version semantics as the postgres
// store.
type MemoryEventStore struct {
	mux     sync.RWMutex
	streams map[models.ID][]*events.Event
	all     []*events.Event
}

// NewMemoryEventStore creates an empty in-memory event store
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		streams: make(map[models.ID][]*events.Event),
	}
}

// Append appends a single event with a version check
func (es *MemoryEventStore) Append(ctx context.Context, event *events.Event) error {
	return es.AppendBatch(ctx, []*events.Event{event})
}

// AppendBatch validates every event before admitting any of them
func (es *MemoryEventStore) AppendBatch(_ context.Context, evts []*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	es.mux.Lock()
	defer es.mux.Unlock()

	currentVersions := make(map[models.ID]int)
	for _, event := range evts {
		if event.Version < 1 {
			return events.ErrInvalidVersion
		}

		current, seen := currentVersions[event.AggregateID]
		if !seen {
			current = len(es.streams[event.AggregateID])
		}

		if event.Version != current+1 {
			return &events.VersionConflictError{
				AggregateID: event.AggregateID,
				Expected:    event.Version,
				Actual:      current,
			}
		}
		currentVersions[event.AggregateID] = event.Version
	}

	for _, event := range evts {
		clone := event.Clone()
		es.streams[event.AggregateID] = append(es.streams[event.AggregateID], clone)
		es.all = append(es.all, clone)
	}

	return nil
}

// Load returns an aggregate's events in ascending version order
func (es *MemoryEventStore) Load(_ context.Context, aggregateID models.ID) ([]*events.Event, error) {
	es.mux.RLock()
	defer es.mux.RUnlock()
	return cloneEvents(es.streams[aggregateID]), nil
}

// LoadFrom returns events with version >= fromVersion
func (es *MemoryEventStore) LoadFrom(_ context.Context, aggregateID models.ID, fromVersion int) ([]*events.Event, error) {
	es.mux.RLock()
	defer es.mux.RUnlock()

	result := make([]*events.Event, 0)
	for _, event := range es.streams[aggregateID] {
		if event.Version >= fromVersion {
			result = append(result, event.Clone())
		}
	}
	return result, nil
}

// LoadUpTo returns events with version <= upToVersion
func (es *MemoryEventStore) LoadUpTo(_ context.Context, aggregateID models.ID, upToVersion int) ([]*events.Event, error) {
	es.mux.RLock()
	defer es.mux.RUnlock()

	result := make([]*events.Event, 0)
	for _, event := range es.streams[aggregateID] {
		if event.Version <= upToVersion {
			result = append(result, event.Clone())
		}
	}
	return result, nil
}

// FindByType returns events of one type, timestamp ascending
func (es *MemoryEventStore) FindByType(_ context.Context, eventType string, offset, limit int) ([]*events.Event, error) {
	es.mux.RLock()
	defer es.mux.RUnlock()

	matched := es.filter(func(event *events.Event) bool {
		return event.EventType == eventType
	})

	if offset >= len(matched) {
		return []*events.Event{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// FindByCorrelationID returns every event of one business flow
func (es *MemoryEventStore) FindByCorrelationID(_ context.Context, correlationID models.ID) ([]*events.Event, error) {
	es.mux.RLock()
	defer es.mux.RUnlock()

	return es.filter(func(event *events.Event) bool {
		return event.CorrelationID == correlationID
	}), nil
}

// FindByTimeRange returns events within [from, to]
func (es *MemoryEventStore) FindByTimeRange(_ context.Context, from, to time.Time) ([]*events.Event, error) {
	es.mux.RLock()
	defer es.mux.RUnlock()

	return es.filter(func(event *events.Event) bool {
		return !event.Timestamp.Before(from) && !event.Timestamp.After(to)
	}), nil
}

// FindByCriteria applies a partial filter
func (es *MemoryEventStore) FindByCriteria(_ context.Context, criteria events.Criteria) ([]*events.Event, error) {
	es.mux.RLock()
	defer es.mux.RUnlock()

	return es.filter(func(event *events.Event) bool {
		if criteria.AggregateID != nil && event.AggregateID != *criteria.AggregateID {
			return false
		}
		if criteria.AggregateType != nil && event.AggregateType != *criteria.AggregateType {
			return false
		}
		if criteria.EventType != nil && event.EventType != *criteria.EventType {
			return false
		}
		if criteria.CorrelationID != nil && event.CorrelationID != *criteria.CorrelationID {
			return false
		}
		if criteria.From != nil && event.Timestamp.Before(*criteria.From) {
			return false
		}
		if criteria.To != nil && event.Timestamp.After(*criteria.To) {
			return false
		}
		return true
	}), nil
}

// LatestVersion returns 0 for an aggregate with no events
func (es *MemoryEventStore) LatestVersion(_ context.Context, aggregateID models.ID) (int, error) {
	es.mux.RLock()
	defer es.mux.RUnlock()
	return len(es.streams[aggregateID]), nil
}

func (es *MemoryEventStore) filter(match func(*events.Event) bool) []*events.Event {
	result := make([]*events.Event, 0)
	for _, event := range es.all {
		if match(event) {
			result = append(result, event.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

func cloneEvents(evts []*events.Event) []*events.Event {
	result := make([]*events.Event, len(evts))
	for i, event := range evts {
		result[i] = event.Clone()
	}
	return result
}
