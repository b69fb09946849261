package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/shared/events"
)

var _ events.Publisher = (*JournalingPublisher)(nil)

// journalAttempts bounds the version reservation loop per event
const journalAttempts = 3

// JournalingPublisher appends every event to the event store before
// handing it to the wrapped publisher. Each event gets the next free
// version of its aggregate stream, so the journal stays gap-free even
// with concurrent writers racing on the same aggregate.
type JournalingPublisher struct {
	store events.EventStore
	inner events.Publisher
}

// NewJournalingPublisher creates a new JournalingPublisher
func NewJournalingPublisher(store events.EventStore, inner events.Publisher) *JournalingPublisher {
	return &JournalingPublisher{store: store, inner: inner}
}

// Publish journals the events and then publishes them. An event that
// cannot be journaled is not published; at-least-once delivery starts
// at the journal.
func (p *JournalingPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	journaled := make([]*events.Event, 0, len(evts))

	for _, event := range evts {
		stored, err := p.journal(ctx, event)
		if err != nil {
			return errors.Wrapf(err, "failed to journal event %s", event.EventType)
		}
		journaled = append(journaled, stored)
	}

	return p.inner.Publish(ctx, journaled...)
}

func (p *JournalingPublisher) journal(ctx context.Context, event *events.Event) (*events.Event, error) {
	var lastErr error

	for attempt := 0; attempt < journalAttempts; attempt++ {
		latest, err := p.store.LatestVersion(ctx, event.AggregateID)
		if err != nil {
			return nil, err
		}

		stored := event.Clone().WithVersion(latest + 1)
		if err := p.store.Append(ctx, stored); err != nil {
			if events.IsVersionConflict(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return stored, nil
	}

	return nil, lastErr
}
