package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/models"
	"github.com/retailcore/sales-system/shared/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// optimisticRetryAttempts bounds the reload-and-retry loop on version
	// conflicts before the caller has to fall back or fail
	optimisticRetryAttempts = 3

	optimisticRetryDelay = 10 * time.Millisecond
)

// ConcurrentSagaManager owns every concurrent mutation of saga
// executions. It offers two update disciplines over the same repository:
// an optimistic reload-and-retry loop for low-contention transitions and
// a pessimistic row-locked path for compensation, plus a keyed mutex
// registry that serializes sagas competing for the same customer+product
// pair inside one process.
type ConcurrentSagaManager struct {
	repository domain.SagaExecutionRepository
	publisher  events.Publisher

	pairLocksMux sync.Mutex
	pairLocks    map[string]*sync.Mutex
}

// NewConcurrentSagaManager creates a new ConcurrentSagaManager
func NewConcurrentSagaManager(
	repository domain.SagaExecutionRepository,
	publisher events.Publisher,
) *ConcurrentSagaManager {
	return &ConcurrentSagaManager{
		repository: repository,
		publisher:  publisher,
		pairLocks:  make(map[string]*sync.Mutex),
	}
}

// UpdateStateWithRetry applies mutate to a freshly loaded execution and
// persists it under the optimistic version check. On a version conflict
// the execution is reloaded and mutate runs again against current state,
// up to three attempts total. mutate must be idempotent with respect to
// re-execution on a fresh load.
func (m *ConcurrentSagaManager) UpdateStateWithRetry(ctx context.Context, sagaID models.ID, mutate func(*domain.SagaExecution) error) (*domain.SagaExecution, error) {
	var execution *domain.SagaExecution

	err := retry.Do(
		func() error {
			loaded, err := m.repository.FindByID(ctx, sagaID)
			if err != nil {
				return retry.Unrecoverable(errors.Wrap(err, "failed to load saga execution"))
			}

			if err := mutate(loaded); err != nil {
				return retry.Unrecoverable(err)
			}

			if err := m.repository.Update(ctx, loaded); err != nil {
				if errors.Is(err, domain.ErrVersionConflict) {
					telemetry.RecordCounter(ctx, "saga_optimistic_conflicts_total",
						"Optimistic saga updates that lost a version race", 1,
						attribute.String("saga_id", sagaID.String()))
					return err
				}
				return retry.Unrecoverable(errors.Wrap(err, "failed to update saga execution"))
			}

			execution = loaded
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(optimisticRetryAttempts),
		retry.Delay(optimisticRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrVersionConflict)
		}),
	)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			telemetry.RecordCounter(ctx, "saga_optimistic_retries_exhausted_total",
				"Optimistic saga updates that failed after all retry attempts", 1)
			return nil, errors.Wrapf(err, "saga %s: optimistic update failed after %d attempts", sagaID, optimisticRetryAttempts)
		}
		return nil, err
	}

	if err := m.publishEvents(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

// UpdateStateWithPessimisticLock applies mutate under an exclusive row
// lock. No version conflict is possible on this path; it is the
// discipline for compensation, where a transition must not be lost to a
// race.
func (m *ConcurrentSagaManager) UpdateStateWithPessimisticLock(ctx context.Context, sagaID models.ID, mutate func(*domain.SagaExecution) error) (*domain.SagaExecution, error) {
	execution, err := m.repository.UpdateWithLock(ctx, sagaID, mutate)
	if err != nil {
		return nil, err
	}

	telemetry.RecordCounter(ctx, "saga_pessimistic_updates_total",
		"Saga updates applied under a row lock", 1,
		attribute.String("state", execution.State.String()))

	if err := m.publishEvents(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

// AcquireCustomerProductLock serializes sagas for one customer+product
// pair within this process. The returned release function must be called
// exactly once; the lock scope should cover the check-then-reserve
// window, never a whole saga.
func (m *ConcurrentSagaManager) AcquireCustomerProductLock(customerID, productID models.ID) func() {
	key := customerID.String() + ":" + productID.String()

	m.pairLocksMux.Lock()
	lock, exists := m.pairLocks[key]
	if !exists {
		lock = &sync.Mutex{}
		m.pairLocks[key] = lock
	}
	m.pairLocksMux.Unlock()

	lock.Lock()
	return lock.Unlock
}

// HasConcurrentSagas reports whether another active saga exists for the
// same customer+product pair
func (m *ConcurrentSagaManager) HasConcurrentSagas(ctx context.Context, customerID, productID, excludeSagaID models.ID) (bool, error) {
	active, err := m.repository.FindActiveByCustomerAndProduct(ctx, customerID, productID)
	if err != nil {
		return false, errors.Wrap(err, "failed to find active sagas")
	}

	for _, execution := range active {
		if execution.ID != excludeSagaID {
			return true, nil
		}
	}
	return false, nil
}

// ValidateSagaCanProceed rejects advancing a saga that has reached a
// terminal state or that is not the oldest active saga for its
// customer+product pair. A lost race wraps domain.ErrSagaLostRace so
// callers can tell back-off from breakage.
func (m *ConcurrentSagaManager) ValidateSagaCanProceed(ctx context.Context, sagaID models.ID) (*domain.SagaExecution, error) {
	execution, err := m.repository.FindByID(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	if execution.IsTerminal() {
		return nil, errors.Errorf("saga %s is terminal in state %s and cannot proceed", sagaID, execution.State)
	}

	wins, err := m.HandleStockReservationRaceCondition(ctx, execution.CustomerID, execution.ProductID, sagaID)
	if err != nil {
		return nil, err
	}
	if !wins {
		return nil, errors.Wrapf(domain.ErrSagaLostRace, "saga %s must back off", sagaID)
	}
	return execution, nil
}

// HandleStockReservationRaceCondition arbitrates competing active sagas
// for one customer+product pair: the oldest saga by creation time holds
// the right to reserve, ties break on lexical saga id. Reports whether
// sagaID is that saga. Losing is not terminal; a loser backs off and
// may ask again once the older saga finishes.
func (m *ConcurrentSagaManager) HandleStockReservationRaceCondition(ctx context.Context, customerID, productID, sagaID models.ID) (bool, error) {
	active, err := m.repository.FindActiveByCustomerAndProduct(ctx, customerID, productID)
	if err != nil {
		return false, errors.Wrap(err, "failed to find competing sagas")
	}
	if len(active) == 0 {
		// Nothing active can mean the saga already finished; with no
		// competitors there is no race to lose.
		return true, nil
	}

	sortOldestFirst(active)
	winner := active[0]

	if len(active) > 1 {
		telemetry.RecordCounter(ctx, "saga_reservation_races_total",
			"Stock reservation races arbitrated in favor of the oldest saga", 1,
			attribute.String("product_id", productID.String()),
			attribute.Int("active_sagas", len(active)))
	}

	return winner.ID == sagaID, nil
}

// sortOldestFirst orders executions by creation time, ties on lexical
// saga id. Both sides of a race must agree on this order.
func sortOldestFirst(executions []*domain.SagaExecution) {
	sort.Slice(executions, func(i, j int) bool {
		if executions[i].Timestamps.CreatedAt.Equal(executions[j].Timestamps.CreatedAt) {
			return executions[i].ID.String() < executions[j].ID.String()
		}
		return executions[i].Timestamps.CreatedAt.Before(executions[j].Timestamps.CreatedAt)
	})
}

// DetectAndLogRaceConditions scans active sagas and emits a counter per
// customer+product pair holding more than one. Observation only, no
// sagas are mutated.
func (m *ConcurrentSagaManager) DetectAndLogRaceConditions(ctx context.Context) (int, error) {
	active, err := m.repository.FindActive(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to find active sagas")
	}

	pairs := make(map[string]int)
	for _, execution := range active {
		key := execution.CustomerID.String() + ":" + execution.ProductID.String()
		pairs[key]++
	}

	detected := 0
	for pair, count := range pairs {
		if count > 1 {
			detected++
			telemetry.RecordCounter(ctx, "saga_concurrent_pairs_total",
				"Customer+product pairs with more than one active saga", 1,
				attribute.String("pair", pair),
				attribute.Int("active_sagas", count))
		}
	}
	return detected, nil
}

// publishEvents flushes the events recorded during a mutation. Failing
// to publish does not roll back the persisted state change; delivery is
// at-least-once and handlers are idempotent.
func (m *ConcurrentSagaManager) publishEvents(ctx context.Context, execution *domain.SagaExecution) error {
	recorded := execution.Events()
	if len(recorded) == 0 {
		return nil
	}

	if err := m.publisher.Publish(ctx, recorded...); err != nil {
		return errors.Wrap(err, "failed to publish saga events")
	}

	execution.ClearEvents()
	return nil
}
