package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/models"
)

var _ events.EventStore = (*PostgresEventStore)(nil)

const uniqueViolationCode = "23505"

// PostgresEventStore implements the append-only event log on PostgreSQL.
// The (aggregate_id, stream_version) unique constraint is the storage
// level backstop against races that slip past the application check.
type PostgresEventStore struct {
	db *sqlx.DB
}

// NewPostgresEventStore creates a new PostgresEventStore
func NewPostgresEventStore(db *sqlx.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// postgresEvent represents event in database
type postgresEvent struct {
	ID            string    `db:"id"`
	AggregateID   string    `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	StreamVersion int       `db:"stream_version"`
	Data          []byte    `db:"data"`
	Metadata      []byte    `db:"metadata"`
	Timestamp     time.Time `db:"timestamp"`
	CorrelationID string    `db:"correlation_id"`
	CausationID   string    `db:"causation_id"`
}

const insertEventQuery = `
	INSERT INTO event_stream (
		id, aggregate_id, aggregate_type, event_type, stream_version,
		data, metadata, timestamp, correlation_id, causation_id
	) VALUES (
		:id, :aggregate_id, :aggregate_type, :event_type, :stream_version,
		:data, :metadata, :timestamp, :correlation_id, :causation_id
	)`

const selectEventColumns = `
	SELECT id, aggregate_id, aggregate_type, event_type, stream_version,
		   data, metadata, timestamp, correlation_id, causation_id
	FROM event_stream`

// Append appends a single event, validating that its version is exactly
// the aggregate's current version plus one
func (es *PostgresEventStore) Append(ctx context.Context, event *events.Event) error {
	return es.AppendBatch(ctx, []*events.Event{event})
}

// AppendBatch validates every event in the batch before writing any of
// them; one bad version fails the whole batch atomically.
func (es *PostgresEventStore) AppendBatch(ctx context.Context, evts []*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	tx, err := es.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	// Validate the whole batch against current versions before any insert
	currentVersions := make(map[models.ID]int)
	for _, event := range evts {
		if event.Version < 1 {
			return errors.Wrapf(events.ErrInvalidVersion, "event %s", event.ID)
		}

		current, seen := currentVersions[event.AggregateID]
		if !seen {
			current, err = es.latestVersionTx(ctx, tx, event.AggregateID)
			if err != nil {
				return err
			}
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
		pgEvent, err := es.toPostgres(event)
		if err != nil {
			return errors.Wrap(err, "failed to convert event")
		}

		if _, err := tx.NamedExecContext(ctx, insertEventQuery, pgEvent); err != nil {
			if isUniqueViolation(err) {
				current, verr := es.LatestVersion(ctx, event.AggregateID)
				if verr != nil {
					current = event.Version
				}
				return &events.VersionConflictError{
					AggregateID: event.AggregateID,
					Expected:    event.Version,
					Actual:      current,
				}
			}
			return errors.Wrap(err, "failed to insert event")
		}
	}

	return tx.Commit()
}

// Load retrieves all events for an aggregate in ascending version order
func (es *PostgresEventStore) Load(ctx context.Context, aggregateID models.ID) ([]*events.Event, error) {
	query := selectEventColumns + `
		WHERE aggregate_id = $1
		ORDER BY stream_version ASC`

	return es.selectEvents(ctx, query, aggregateID.String())
}

// LoadFrom retrieves events with version >= fromVersion
func (es *PostgresEventStore) LoadFrom(ctx context.Context, aggregateID models.ID, fromVersion int) ([]*events.Event, error) {
	query := selectEventColumns + `
		WHERE aggregate_id = $1 AND stream_version >= $2
		ORDER BY stream_version ASC`

	return es.selectEvents(ctx, query, aggregateID.String(), fromVersion)
}

// LoadUpTo retrieves events with version <= upToVersion
func (es *PostgresEventStore) LoadUpTo(ctx context.Context, aggregateID models.ID, upToVersion int) ([]*events.Event, error) {
	query := selectEventColumns + `
		WHERE aggregate_id = $1 AND stream_version <= $2
		ORDER BY stream_version ASC`

	return es.selectEvents(ctx, query, aggregateID.String(), upToVersion)
}

// FindByType retrieves events by type with pagination, timestamp ascending
func (es *PostgresEventStore) FindByType(ctx context.Context, eventType string, offset, limit int) ([]*events.Event, error) {
	query := selectEventColumns + `
		WHERE event_type = $1
		ORDER BY timestamp ASC
		LIMIT $2 OFFSET $3`

	return es.selectEvents(ctx, query, eventType, limit, offset)
}

// FindByCorrelationID retrieves every event of one business flow
func (es *PostgresEventStore) FindByCorrelationID(ctx context.Context, correlationID models.ID) ([]*events.Event, error) {
	query := selectEventColumns + `
		WHERE correlation_id = $1
		ORDER BY timestamp ASC`

	return es.selectEvents(ctx, query, correlationID.String())
}

// FindByTimeRange retrieves events within [from, to], timestamp ascending
func (es *PostgresEventStore) FindByTimeRange(ctx context.Context, from, to time.Time) ([]*events.Event, error) {
	query := selectEventColumns + `
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC`

	return es.selectEvents(ctx, query, from, to)
}

// FindByCriteria applies a partial filter, timestamp ascending
func (es *PostgresEventStore) FindByCriteria(ctx context.Context, criteria events.Criteria) ([]*events.Event, error) {
	query := selectEventColumns + ` WHERE 1=1`
	args := make([]interface{}, 0)

	addArg := func(clause string, value interface{}) {
		args = append(args, value)
		query += clause
	}

	if criteria.AggregateID != nil {
		addArg(withPlaceholder(" AND aggregate_id = $%d", len(args)+1), criteria.AggregateID.String())
	}
	if criteria.AggregateType != nil {
		addArg(withPlaceholder(" AND aggregate_type = $%d", len(args)+1), *criteria.AggregateType)
	}
	if criteria.EventType != nil {
		addArg(withPlaceholder(" AND event_type = $%d", len(args)+1), *criteria.EventType)
	}
	if criteria.CorrelationID != nil {
		addArg(withPlaceholder(" AND correlation_id = $%d", len(args)+1), criteria.CorrelationID.String())
	}
	if criteria.From != nil {
		addArg(withPlaceholder(" AND timestamp >= $%d", len(args)+1), *criteria.From)
	}
	if criteria.To != nil {
		addArg(withPlaceholder(" AND timestamp <= $%d", len(args)+1), *criteria.To)
	}

	query += " ORDER BY timestamp ASC"
	return es.selectEvents(ctx, query, args...)
}

// LatestVersion returns the aggregate's current max version, 0 when the
// aggregate has no events yet
func (es *PostgresEventStore) LatestVersion(ctx context.Context, aggregateID models.ID) (int, error) {
	var version int
	err := es.db.GetContext(ctx, &version,
		"SELECT COALESCE(MAX(stream_version), 0) FROM event_stream WHERE aggregate_id = $1",
		aggregateID.String())
	if err != nil && err != sql.ErrNoRows {
		return 0, errors.Wrap(err, "failed to get latest version")
	}
	return version, nil
}

func (es *PostgresEventStore) latestVersionTx(ctx context.Context, tx *sqlx.Tx, aggregateID models.ID) (int, error) {
	var version int
	err := tx.GetContext(ctx, &version,
		"SELECT COALESCE(MAX(stream_version), 0) FROM event_stream WHERE aggregate_id = $1",
		aggregateID.String())
	if err != nil && err != sql.ErrNoRows {
		return 0, errors.Wrap(err, "failed to get current version")
	}
	return version, nil
}

func (es *PostgresEventStore) selectEvents(ctx context.Context, query string, args ...interface{}) ([]*events.Event, error) {
	var pgEvents []postgresEvent
	err := es.db.SelectContext(ctx, &pgEvents, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}

	result := make([]*events.Event, len(pgEvents))
	for i, pgEvent := range pgEvents {
		event, err := es.toDomain(&pgEvent)
		if err != nil {
			return nil, err
		}
		result[i] = event
	}

	return result, nil
}

// toPostgres converts domain event to postgres model
func (es *PostgresEventStore) toPostgres(event *events.Event) (*postgresEvent, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event data")
	}

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event metadata")
	}

	return &postgresEvent{
		ID:            event.ID.String(),
		AggregateID:   event.AggregateID.String(),
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
		StreamVersion: event.Version,
		Data:          data,
		Metadata:      metadata,
		Timestamp:     event.Timestamp,
		CorrelationID: event.CorrelationID.String(),
		CausationID:   event.CausationID.String(),
	}, nil
}

// toDomain converts postgres model to domain event
func (es *PostgresEventStore) toDomain(pgEvent *postgresEvent) (*events.Event, error) {
	var data interface{}
	if err := json.Unmarshal(pgEvent.Data, &data); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal event data")
	}

	var metadata events.Metadata
	if len(pgEvent.Metadata) > 0 {
		if err := json.Unmarshal(pgEvent.Metadata, &metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal event metadata")
		}
	}
	if metadata == nil {
		metadata = make(events.Metadata)
	}

	topic, _ := events.NewTopic(pgEvent.EventType)

	return &events.Event{
		ID:            models.ID(pgEvent.ID),
		AggregateID:   models.ID(pgEvent.AggregateID),
		AggregateType: pgEvent.AggregateType,
		Topic:         topic,
		EventType:     pgEvent.EventType,
		Version:       pgEvent.StreamVersion,
		Data:          data,
		Metadata:      metadata,
		Timestamp:     pgEvent.Timestamp,
		CorrelationID: models.ID(pgEvent.CorrelationID),
		CausationID:   models.ID(pgEvent.CausationID),
	}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}

func withPlaceholder(clause string, n int) string {
	return fmt.Sprintf(clause, n)
}
