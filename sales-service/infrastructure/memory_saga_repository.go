package infrastructure

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/models"
)

var (
	_ domain.SagaExecutionRepository    = (*MemorySagaRepository)(nil)
	_ domain.ChoreographedSagaRepository = (*MemoryChoreographyRepository)(nil)
)

// ErrSagaNotFound is returned when no execution exists for an id.
// Aliased so callers holding only the infrastructure package can match
// the domain sentinel.
var ErrSagaNotFound = domain.ErrSagaNotFound

// MemorySagaRepository keeps saga executions in process. It enforces the
// same optimistic version semantics as the postgres repository, which
// makes it the substrate for deterministic concurrency tests and the
// no-postgres local mode.
type MemorySagaRepository struct {
	mux        sync.RWMutex
	executions map[models.ID]*domain.SagaExecution

	rowLocksMux sync.Mutex
	rowLocks    map[models.ID]*sync.Mutex
}

// NewMemorySagaRepository creates an empty in-memory repository
func NewMemorySagaRepository() *MemorySagaRepository {
	return &MemorySagaRepository{
		executions: make(map[models.ID]*domain.SagaExecution),
		rowLocks:   make(map[models.ID]*sync.Mutex),
	}
}

// Save inserts a new execution
func (r *MemorySagaRepository) Save(_ context.Context, execution *domain.SagaExecution) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	if _, exists := r.executions[execution.ID]; exists {
		return errors.Errorf("saga execution %s already exists", execution.ID)
	}

	r.executions[execution.ID] = copyExecution(execution)
	return nil
}

// Update persists a mutated execution iff the stored version is exactly
// one behind the incoming one
func (r *MemorySagaRepository) Update(_ context.Context, execution *domain.SagaExecution) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	stored, exists := r.executions[execution.ID]
	if !exists {
		return ErrSagaNotFound
	}

	if stored.Version.Value != execution.Version.Value-1 {
		return domain.ErrVersionConflict
	}

	r.executions[execution.ID] = copyExecution(execution)
	return nil
}

// UpdateWithLock serializes mutations of one execution behind a per-row
// mutex, the in-process stand-in for SELECT ... FOR UPDATE
func (r *MemorySagaRepository) UpdateWithLock(ctx context.Context, id models.ID, mutate func(*domain.SagaExecution) error) (*domain.SagaExecution, error) {
	lock := r.rowLock(id)
	lock.Lock()
	defer lock.Unlock()

	execution, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := mutate(execution); err != nil {
		return nil, err
	}

	r.mux.Lock()
	r.executions[id] = copyExecution(execution)
	r.mux.Unlock()

	return execution, nil
}

// FindByID returns a copy of the stored execution
func (r *MemorySagaRepository) FindByID(_ context.Context, id models.ID) (*domain.SagaExecution, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	stored, exists := r.executions[id]
	if !exists {
		return nil, ErrSagaNotFound
	}
	return copyExecution(stored), nil
}

// FindActiveByCustomerAndProduct returns non-terminal executions for one
// customer+product pair
func (r *MemorySagaRepository) FindActiveByCustomerAndProduct(_ context.Context, customerID, productID models.ID) ([]*domain.SagaExecution, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	result := make([]*domain.SagaExecution, 0)
	for _, execution := range r.executions {
		if execution.CustomerID == customerID && execution.ProductID == productID && !execution.IsTerminal() {
			result = append(result, copyExecution(execution))
		}
	}
	return result, nil
}

// FindActive returns all non-terminal executions
func (r *MemorySagaRepository) FindActive(_ context.Context) ([]*domain.SagaExecution, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	result := make([]*domain.SagaExecution, 0)
	for _, execution := range r.executions {
		if !execution.IsTerminal() {
			result = append(result, copyExecution(execution))
		}
	}
	return result, nil
}

// FindStartedBefore returns non-terminal executions created before cutoff
func (r *MemorySagaRepository) FindStartedBefore(_ context.Context, cutoff time.Time) ([]*domain.SagaExecution, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	result := make([]*domain.SagaExecution, 0)
	for _, execution := range r.executions {
		if !execution.IsTerminal() && execution.Timestamps.CreatedAt.Before(cutoff) {
			result = append(result, copyExecution(execution))
		}
	}
	return result, nil
}

func (r *MemorySagaRepository) rowLock(id models.ID) *sync.Mutex {
	r.rowLocksMux.Lock()
	defer r.rowLocksMux.Unlock()

	lock, exists := r.rowLocks[id]
	if !exists {
		lock = &sync.Mutex{}
		r.rowLocks[id] = lock
	}
	return lock
}

// copyExecution clones the persisted fields; recorded domain events are
// not part of the stored row
func copyExecution(execution *domain.SagaExecution) *domain.SagaExecution {
	clone := &domain.SagaExecution{
		ID:           execution.ID,
		CustomerID:   execution.CustomerID,
		ProductID:    execution.ProductID,
		Quantity:     execution.Quantity,
		Amount:       execution.Amount,
		State:        execution.State,
		ErrorMessage: execution.ErrorMessage,
		RetryCount:   execution.RetryCount,
		Timestamps:   execution.Timestamps,
		Version:      execution.Version,
	}

	if execution.StockReservationID != nil {
		v := *execution.StockReservationID
		clone.StockReservationID = &v
	}
	if execution.PaymentTransactionID != nil {
		v := *execution.PaymentTransactionID
		clone.PaymentTransactionID = &v
	}
	if execution.OrderID != nil {
		v := *execution.OrderID
		clone.OrderID = &v
	}

	return clone
}

// MemoryChoreographyRepository keeps choreographed saga state in process
type MemoryChoreographyRepository struct {
	mux    sync.RWMutex
	states map[models.ID]*domain.ChoreographedSagaState
	byCorr map[models.ID]models.ID
}

// NewMemoryChoreographyRepository creates an empty repository
func NewMemoryChoreographyRepository() *MemoryChoreographyRepository {
	return &MemoryChoreographyRepository{
		states: make(map[models.ID]*domain.ChoreographedSagaState),
		byCorr: make(map[models.ID]models.ID),
	}
}

// Save inserts a new tracking record
func (r *MemoryChoreographyRepository) Save(_ context.Context, state *domain.ChoreographedSagaState) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	if _, exists := r.states[state.ID]; exists {
		return errors.Errorf("choreographed saga %s already exists", state.ID)
	}

	r.states[state.ID] = copyChoreographyState(state)
	r.byCorr[state.CorrelationID] = state.ID
	return nil
}

// Update persists a mutated record with an optimistic version check
func (r *MemoryChoreographyRepository) Update(_ context.Context, state *domain.ChoreographedSagaState) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	stored, exists := r.states[state.ID]
	if !exists {
		return ErrSagaNotFound
	}

	if stored.Version.Value >= state.Version.Value {
		return domain.ErrVersionConflict
	}

	r.states[state.ID] = copyChoreographyState(state)
	return nil
}

// FindByID returns a copy of the stored record
func (r *MemoryChoreographyRepository) FindByID(_ context.Context, id models.ID) (*domain.ChoreographedSagaState, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	stored, exists := r.states[id]
	if !exists {
		return nil, ErrSagaNotFound
	}
	return copyChoreographyState(stored), nil
}

// FindByCorrelationID returns the record tracking one business flow
func (r *MemoryChoreographyRepository) FindByCorrelationID(_ context.Context, correlationID models.ID) (*domain.ChoreographedSagaState, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	id, exists := r.byCorr[correlationID]
	if !exists {
		return nil, ErrSagaNotFound
	}
	return copyChoreographyState(r.states[id]), nil
}

func copyChoreographyState(state *domain.ChoreographedSagaState) *domain.ChoreographedSagaState {
	clone := *state
	clone.CompletedSteps = append([]string(nil), state.CompletedSteps...)
	clone.FailedSteps = append([]string(nil), state.FailedSteps...)
	clone.Context = make(map[string]interface{}, len(state.Context))
	for k, v := range state.Context {
		clone.Context[k] = v
	}
	if state.CompletedAt != nil {
		completedAt := *state.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}
