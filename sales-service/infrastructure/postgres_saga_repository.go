package infrastructure

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/models"
)

var _ domain.SagaExecutionRepository = (*PostgresSagaRepository)(nil)

// PostgresSagaRepository implements SagaExecutionRepository using
// PostgreSQL. The version column backs the optimistic checks; the
// pessimistic path runs SELECT ... FOR UPDATE inside one transaction.
type PostgresSagaRepository struct {
	db *sqlx.DB
}

// NewPostgresSagaRepository creates a new PostgresSagaRepository
func NewPostgresSagaRepository(db *sqlx.DB) *PostgresSagaRepository {
	return &PostgresSagaRepository{db: db}
}

// postgresSagaExecution represents a saga execution row
type postgresSagaExecution struct {
	ID                   string    `db:"id"`
	CustomerID           string    `db:"customer_id"`
	ProductID            string    `db:"product_id"`
	Quantity             int       `db:"quantity"`
	Amount               int64     `db:"amount"`
	Currency             string    `db:"currency"`
	State                string    `db:"state"`
	StockReservationID   *string   `db:"stock_reservation_id"`
	PaymentTransactionID *string   `db:"payment_transaction_id"`
	OrderID              *string   `db:"order_id"`
	ErrorMessage         string    `db:"error_message"`
	RetryCount           int       `db:"retry_count"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
	Version              int       `db:"version"`
}

const selectSagaColumns = `
	SELECT id, customer_id, product_id, quantity, amount, currency, state,
		   stock_reservation_id, payment_transaction_id, order_id,
		   error_message, retry_count, created_at, updated_at, version
	FROM saga_executions`

// Save inserts a new saga execution
func (r *PostgresSagaRepository) Save(ctx context.Context, execution *domain.SagaExecution) error {
	query := `
		INSERT INTO saga_executions (
			id, customer_id, product_id, quantity, amount, currency, state,
			stock_reservation_id, payment_transaction_id, order_id,
			error_message, retry_count, created_at, updated_at, version
		) VALUES (
			:id, :customer_id, :product_id, :quantity, :amount, :currency, :state,
			:stock_reservation_id, :payment_transaction_id, :order_id,
			:error_message, :retry_count, :created_at, :updated_at, :version
		)`

	_, err := r.db.NamedExecContext(ctx, query, r.toPostgres(execution))
	if err != nil {
		return errors.Wrap(err, "failed to insert saga execution")
	}

	return nil
}

const updateSagaQuery = `
	UPDATE saga_executions
	SET state = :state,
		stock_reservation_id = :stock_reservation_id,
		payment_transaction_id = :payment_transaction_id,
		order_id = :order_id,
		error_message = :error_message,
		retry_count = :retry_count,
		updated_at = :updated_at,
		version = :version
	WHERE id = :id AND version = :old_version`

// Update persists a mutated execution under an optimistic version check
func (r *PostgresSagaRepository) Update(ctx context.Context, execution *domain.SagaExecution) error {
	pgExecution := r.toPostgres(execution)

	result, err := r.db.NamedExecContext(ctx, updateSagaQuery, map[string]interface{}{
		"id":                     pgExecution.ID,
		"state":                  pgExecution.State,
		"stock_reservation_id":   pgExecution.StockReservationID,
		"payment_transaction_id": pgExecution.PaymentTransactionID,
		"order_id":               pgExecution.OrderID,
		"error_message":          pgExecution.ErrorMessage,
		"retry_count":            pgExecution.RetryCount,
		"updated_at":             pgExecution.UpdatedAt,
		"version":                pgExecution.Version,
		"old_version":            pgExecution.Version - 1,
	})
	if err != nil {
		return errors.Wrap(err, "failed to update saga execution")
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

// UpdateWithLock loads the row under a row-level exclusive lock, applies
// mutate and persists within the same transaction
func (r *PostgresSagaRepository) UpdateWithLock(ctx context.Context, id models.ID, mutate func(*domain.SagaExecution) error) (*domain.SagaExecution, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var pgExecution postgresSagaExecution
	err = tx.GetContext(ctx, &pgExecution, selectSagaColumns+" WHERE id = $1 FOR UPDATE", id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSagaNotFound
		}
		return nil, errors.Wrap(err, "failed to lock saga execution")
	}

	execution := r.toDomain(&pgExecution)
	if err := mutate(execution); err != nil {
		return nil, err
	}

	// The row lock already excludes concurrent writers, and mutate may
	// apply more than one transition, so no version predicate here.
	lockedUpdateQuery := `
		UPDATE saga_executions
		SET state = :state,
			stock_reservation_id = :stock_reservation_id,
			payment_transaction_id = :payment_transaction_id,
			order_id = :order_id,
			error_message = :error_message,
			retry_count = :retry_count,
			updated_at = :updated_at,
			version = :version
		WHERE id = :id`

	_, err = tx.NamedExecContext(ctx, lockedUpdateQuery, r.toPostgres(execution))
	if err != nil {
		return nil, errors.Wrap(err, "failed to update locked saga execution")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit locked update")
	}

	return execution, nil
}

// FindByID finds a saga execution by id
func (r *PostgresSagaRepository) FindByID(ctx context.Context, id models.ID) (*domain.SagaExecution, error) {
	var pgExecution postgresSagaExecution
	err := r.db.GetContext(ctx, &pgExecution, selectSagaColumns+" WHERE id = $1", id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSagaNotFound
		}
		return nil, errors.Wrap(err, "failed to find saga execution")
	}

	return r.toDomain(&pgExecution), nil
}

var terminalStates = []string{domain.SaleConfirmed.String(), domain.SaleFailed.String()}

// FindActiveByCustomerAndProduct finds non-terminal executions for one
// customer+product pair, oldest first
func (r *PostgresSagaRepository) FindActiveByCustomerAndProduct(ctx context.Context, customerID, productID models.ID) ([]*domain.SagaExecution, error) {
	query := selectSagaColumns + `
		WHERE customer_id = $1 AND product_id = $2 AND state NOT IN ($3, $4)
		ORDER BY created_at ASC, id ASC`

	return r.selectExecutions(ctx, query, customerID.String(), productID.String(), terminalStates[0], terminalStates[1])
}

// FindActive finds all non-terminal executions
func (r *PostgresSagaRepository) FindActive(ctx context.Context) ([]*domain.SagaExecution, error) {
	query := selectSagaColumns + `
		WHERE state NOT IN ($1, $2)
		ORDER BY created_at ASC`

	return r.selectExecutions(ctx, query, terminalStates[0], terminalStates[1])
}

// FindStartedBefore finds non-terminal executions older than cutoff
func (r *PostgresSagaRepository) FindStartedBefore(ctx context.Context, cutoff time.Time) ([]*domain.SagaExecution, error) {
	query := selectSagaColumns + `
		WHERE state NOT IN ($1, $2) AND created_at < $3
		ORDER BY created_at ASC`

	return r.selectExecutions(ctx, query, terminalStates[0], terminalStates[1], cutoff)
}

func (r *PostgresSagaRepository) selectExecutions(ctx context.Context, query string, args ...interface{}) ([]*domain.SagaExecution, error) {
	var pgExecutions []postgresSagaExecution
	err := r.db.SelectContext(ctx, &pgExecutions, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query saga executions")
	}

	executions := make([]*domain.SagaExecution, len(pgExecutions))
	for i := range pgExecutions {
		executions[i] = r.toDomain(&pgExecutions[i])
	}
	return executions, nil
}

// toPostgres converts domain execution to a database row
func (r *PostgresSagaRepository) toPostgres(execution *domain.SagaExecution) *postgresSagaExecution {
	return &postgresSagaExecution{
		ID:                   execution.ID.String(),
		CustomerID:           execution.CustomerID.String(),
		ProductID:            execution.ProductID.String(),
		Quantity:             execution.Quantity,
		Amount:               execution.Amount.Amount,
		Currency:             execution.Amount.Currency,
		State:                execution.State.String(),
		StockReservationID:   execution.StockReservationID,
		PaymentTransactionID: execution.PaymentTransactionID,
		OrderID:              execution.OrderID,
		ErrorMessage:         execution.ErrorMessage,
		RetryCount:           execution.RetryCount,
		CreatedAt:            execution.Timestamps.CreatedAt,
		UpdatedAt:            execution.Timestamps.UpdatedAt,
		Version:              execution.Version.Value,
	}
}

// toDomain converts a database row to a domain execution
func (r *PostgresSagaRepository) toDomain(pgExecution *postgresSagaExecution) *domain.SagaExecution {
	return &domain.SagaExecution{
		ID:                   models.ID(pgExecution.ID),
		CustomerID:           models.ID(pgExecution.CustomerID),
		ProductID:            models.ID(pgExecution.ProductID),
		Quantity:             pgExecution.Quantity,
		Amount:               models.NewMoney(pgExecution.Amount, pgExecution.Currency),
		State:                domain.SagaState(pgExecution.State),
		StockReservationID:   pgExecution.StockReservationID,
		PaymentTransactionID: pgExecution.PaymentTransactionID,
		OrderID:              pgExecution.OrderID,
		ErrorMessage:         pgExecution.ErrorMessage,
		RetryCount:           pgExecution.RetryCount,
		Timestamps: models.Timestamps{
			CreatedAt: pgExecution.CreatedAt,
			UpdatedAt: pgExecution.UpdatedAt,
		},
		Version: models.Version{Value: pgExecution.Version},
	}
}
