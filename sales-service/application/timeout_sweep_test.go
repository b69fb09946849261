package application

import (
	"context"
	"testing"
	"time"

	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/sales-service/infrastructure"
	"github.com/retailcore/sales-system/sales-service/mocks"
	"github.com/retailcore/sales-system/shared/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTimeoutSweep_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("expired saga is compensated, fresh saga is left alone", func(t *testing.T) {
		repository := infrastructure.NewMemorySagaRepository()
		publisher := &capturePublisher{}
		inventory := mocks.NewInventoryClient(t)
		compensation := NewCompensationService(NewConcurrentSagaManager(repository, publisher), inventory)
		sweep := NewTimeoutSweep(repository, compensation, publisher, 30*time.Minute)

		expired := sagaInState(t, repository, domain.PaymentProcessing)
		_, err := repository.UpdateWithLock(ctx, expired.ID, func(execution *domain.SagaExecution) error {
			execution.Timestamps.CreatedAt = time.Now().Add(-time.Hour)
			return nil
		})
		require.NoError(t, err)

		fresh := sagaInState(t, repository, domain.StockVerifying)

		inventory.EXPECT().Release(mock.Anything, "res-1").Return(nil)

		swept, err := sweep.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, swept)

		storedExpired, err := repository.FindByID(ctx, expired.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SaleFailed, storedExpired.State)
		assert.Contains(t, storedExpired.ErrorMessage, "timed out")

		storedFresh, err := repository.FindByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StockVerifying, storedFresh.State)

		assertEventPublished(t, publisher, events.SagaTimedOutEvent)
	})

	t.Run("nothing expired sweeps nothing", func(t *testing.T) {
		repository := infrastructure.NewMemorySagaRepository()
		publisher := &capturePublisher{}
		compensation := NewCompensationService(NewConcurrentSagaManager(repository, publisher), mocks.NewInventoryClient(t))
		sweep := NewTimeoutSweep(repository, compensation, publisher, 30*time.Minute)

		sagaInState(t, repository, domain.StockVerifying)

		swept, err := sweep.Run(ctx)
		require.NoError(t, err)
		assert.Zero(t, swept)
	})
}

func TestGetSale_Execute(t *testing.T) {
	ctx := context.Background()
	repository := infrastructure.NewMemorySagaRepository()
	useCase := NewGetSale(repository)

	saga := sagaInState(t, repository, domain.PaymentProcessing)

	t.Run("existing saga", func(t *testing.T) {
		response, err := useCase.Execute(ctx, &GetSaleQuery{SagaID: saga.ID.String()})
		require.NoError(t, err)

		assert.Equal(t, saga.ID.String(), response.SagaID)
		assert.Equal(t, domain.PaymentProcessing.String(), response.State)
		require.NotNil(t, response.StockReservationID)
		assert.Equal(t, "res-1", *response.StockReservationID)
	})

	t.Run("unknown saga", func(t *testing.T) {
		_, err := useCase.Execute(ctx, &GetSaleQuery{SagaID: "b53cb608-52b5-43d6-b2ed-9ec8d776b1b7"})
		assert.Error(t, err)
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := useCase.Execute(ctx, &GetSaleQuery{SagaID: "not-a-uuid"})
		assert.Error(t, err)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := useCase.Execute(ctx, &GetSaleQuery{SagaID: ""})
		assert.Error(t, err)
	})
}
