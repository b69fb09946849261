package application

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/retailcore/sales-system/sales-service/domain"
	"github.com/retailcore/sales-system/shared/events"
	"github.com/retailcore/sales-system/shared/telemetry"
)

// TimeoutSweep terminates sagas that outlived their deadline. A crash
// mid-saga leaves the execution parked non-terminal; the sweep routes
// such executions through compensation so reservations never leak.
type TimeoutSweep struct {
	repository   domain.SagaExecutionRepository
	compensation *CompensationService
	publisher    events.Publisher
	timeout      time.Duration
}

// NewTimeoutSweep creates a new TimeoutSweep
func NewTimeoutSweep(
	repository domain.SagaExecutionRepository,
	compensation *CompensationService,
	publisher events.Publisher,
	timeout time.Duration,
) *TimeoutSweep {
	if timeout <= 0 {
		timeout = domain.DefaultSagaTimeout
	}
	return &TimeoutSweep{
		repository:   repository,
		compensation: compensation,
		publisher:    publisher,
		timeout:      timeout,
	}
}

// Run compensates every active saga older than the timeout. One failing
// saga does not stop the sweep; it is retried on the next tick.
func (s *TimeoutSweep) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.timeout)

	expired, err := s.repository.FindStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to find expired sagas")
	}

	swept := 0
	for _, execution := range expired {
		if err := s.sweepOne(ctx, execution); err != nil {
			log.Printf("timeout sweep: saga %s: %v", execution.ID, err)
			continue
		}
		swept++
	}

	if swept > 0 {
		telemetry.RecordCounter(ctx, "saga_timeouts_total",
			"Sagas terminated by the timeout sweep", int64(swept))
	}
	return swept, nil
}

func (s *TimeoutSweep) sweepOne(ctx context.Context, execution *domain.SagaExecution) error {
	timedOut := events.NewEvent(execution.ID, events.SagaTimedOutEvent, domain.SagaTimedOutData{
		SagaID:    execution.ID,
		State:     execution.State.String(),
		StartedAt: execution.Timestamps.CreatedAt,
	}).WithAggregateType(events.SaleSagaAggregateType).WithCorrelationID(execution.ID)

	if err := s.publisher.Publish(ctx, timedOut); err != nil {
		return errors.Wrap(err, "failed to publish timeout event")
	}

	_, err := s.compensation.ExecuteCompensation(ctx, execution.ID, "saga timed out after "+s.timeout.String())
	return err
}

// RunPeriodically ticks the sweep until the context is done
func (s *TimeoutSweep) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				log.Printf("timeout sweep failed: %v", err)
			}
		}
	}
}
