package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/models"
)

var _ domain.ChoreographedSagaRepository = (*PostgresChoreographyRepository)(nil)

// PostgresChoreographyRepository persists choreographed saga tracking
// records. Step lists and the saga context are stored as JSONB.
type PostgresChoreographyRepository struct {
	db *sqlx.DB
}

// NewPostgresChoreographyRepository creates a new PostgresChoreographyRepository
func NewPostgresChoreographyRepository(db *sqlx.DB) *PostgresChoreographyRepository {
	return &PostgresChoreographyRepository{db: db}
}

// postgresChoreographedSaga represents a tracking record row
type postgresChoreographedSaga struct {
	ID                    string          `db:"id"`
	CorrelationID         string          `db:"correlation_id"`
	SagaType              string          `db:"saga_type"`
	Status                string          `db:"status"`
	CurrentStep           string          `db:"current_step"`
	CompletedSteps        json.RawMessage `db:"completed_steps"`
	FailedSteps           json.RawMessage `db:"failed_steps"`
	CompensationRequired  bool            `db:"compensation_required"`
	CompensationCompleted bool            `db:"compensation_completed"`
	Context               json.RawMessage `db:"context"`
	ErrorMessage          string          `db:"error_message"`
	RetryCount            int             `db:"retry_count"`
	MaxRetries            int             `db:"max_retries"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
	CompletedAt           *time.Time      `db:"completed_at"`
	TimeoutAt             time.Time       `db:"timeout_at"`
	Version               int             `db:"version"`
}

const selectChoreographyColumns = `
	SELECT id, correlation_id, saga_type, status, current_step,
		   completed_steps, failed_steps, compensation_required,
		   compensation_completed, context, error_message, retry_count,
		   max_retries, created_at, updated_at, completed_at, timeout_at, version
	FROM choreographed_sagas`

// Save inserts a new tracking record
func (r *PostgresChoreographyRepository) Save(ctx context.Context, state *domain.ChoreographedSagaState) error {
	row, err := r.toPostgres(state)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO choreographed_sagas (
			id, correlation_id, saga_type, status, current_step,
			completed_steps, failed_steps, compensation_required,
			compensation_completed, context, error_message, retry_count,
			max_retries, created_at, updated_at, completed_at, timeout_at, version
		) VALUES (
			:id, :correlation_id, :saga_type, :status, :current_step,
			:completed_steps, :failed_steps, :compensation_required,
			:compensation_completed, :context, :error_message, :retry_count,
			:max_retries, :created_at, :updated_at, :completed_at, :timeout_at, :version
		)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.Wrap(err, "failed to insert choreographed saga")
	}
	return nil
}

// Update persists a mutated record under an optimistic version check
func (r *PostgresChoreographyRepository) Update(ctx context.Context, state *domain.ChoreographedSagaState) error {
	row, err := r.toPostgres(state)
	if err != nil {
		return err
	}

	query := `
		UPDATE choreographed_sagas
		SET status = :status,
			current_step = :current_step,
			completed_steps = :completed_steps,
			failed_steps = :failed_steps,
			compensation_required = :compensation_required,
			compensation_completed = :compensation_completed,
			context = :context,
			error_message = :error_message,
			retry_count = :retry_count,
			updated_at = :updated_at,
			completed_at = :completed_at,
			version = :version
		WHERE id = :id AND version < :version`

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return errors.Wrap(err, "failed to update choreographed saga")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if affected == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

// FindByID finds a tracking record by id
func (r *PostgresChoreographyRepository) FindByID(ctx context.Context, id models.ID) (*domain.ChoreographedSagaState, error) {
	var row postgresChoreographedSaga
	err := r.db.GetContext(ctx, &row, selectChoreographyColumns+" WHERE id = $1", id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSagaNotFound
		}
		return nil, errors.Wrap(err, "failed to find choreographed saga")
	}
	return r.toDomain(&row)
}

// FindByCorrelationID finds the record tracking one business flow
func (r *PostgresChoreographyRepository) FindByCorrelationID(ctx context.Context, correlationID models.ID) (*domain.ChoreographedSagaState, error) {
	var row postgresChoreographedSaga
	err := r.db.GetContext(ctx, &row, selectChoreographyColumns+" WHERE correlation_id = $1", correlationID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSagaNotFound
		}
		return nil, errors.Wrap(err, "failed to find choreographed saga by correlation")
	}
	return r.toDomain(&row)
}

func (r *PostgresChoreographyRepository) toPostgres(state *domain.ChoreographedSagaState) (*postgresChoreographedSaga, error) {
	completed, err := json.Marshal(state.CompletedSteps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode completed steps")
	}
	failed, err := json.Marshal(state.FailedSteps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode failed steps")
	}
	sagaContext, err := json.Marshal(state.Context)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode saga context")
	}

	return &postgresChoreographedSaga{
		ID:                    state.ID.String(),
		CorrelationID:         state.CorrelationID.String(),
		SagaType:              state.SagaType,
		Status:                state.Status.String(),
		CurrentStep:           state.CurrentStep,
		CompletedSteps:        completed,
		FailedSteps:           failed,
		CompensationRequired:  state.CompensationRequired,
		CompensationCompleted: state.CompensationCompleted,
		Context:               sagaContext,
		ErrorMessage:          state.ErrorMessage,
		RetryCount:            state.RetryCount,
		MaxRetries:            state.MaxRetries,
		CreatedAt:             state.Timestamps.CreatedAt,
		UpdatedAt:             state.Timestamps.UpdatedAt,
		CompletedAt:           state.CompletedAt,
		TimeoutAt:             state.TimeoutAt,
		Version:               state.Version.Value,
	}, nil
}

func (r *PostgresChoreographyRepository) toDomain(row *postgresChoreographedSaga) (*domain.ChoreographedSagaState, error) {
	var completed, failed []string
	if err := json.Unmarshal(row.CompletedSteps, &completed); err != nil {
		return nil, errors.Wrap(err, "failed to decode completed steps")
	}
	if err := json.Unmarshal(row.FailedSteps, &failed); err != nil {
		return nil, errors.Wrap(err, "failed to decode failed steps")
	}
	var sagaContext map[string]interface{}
	if err := json.Unmarshal(row.Context, &sagaContext); err != nil {
		return nil, errors.Wrap(err, "failed to decode saga context")
	}

	return &domain.ChoreographedSagaState{
		ID:                    models.ID(row.ID),
		CorrelationID:         models.ID(row.CorrelationID),
		SagaType:              row.SagaType,
		Status:                domain.ChoreographedSagaStatus(row.Status),
		CurrentStep:           row.CurrentStep,
		CompletedSteps:        completed,
		FailedSteps:           failed,
		CompensationRequired:  row.CompensationRequired,
		CompensationCompleted: row.CompensationCompleted,
		Context:               sagaContext,
		ErrorMessage:          row.ErrorMessage,
		RetryCount:            row.RetryCount,
		MaxRetries:            row.MaxRetries,
		Timestamps: models.Timestamps{
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		},
		CompletedAt: row.CompletedAt,
		TimeoutAt:   row.TimeoutAt,
		Version:     models.Version{Value: row.Version},
	}, nil
}
