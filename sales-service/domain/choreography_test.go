package domain

import (
	"testing"
	"time"

	"github.com/retailcore/sales-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChoreographedSagaStatus_IsFinal(t *testing.T) {
	tests := []struct {
		status ChoreographedSagaStatus
		final  bool
	}{
		{ChoreographyStarted, false},
		{ChoreographyInProgress, false},
		{ChoreographyRetrying, false},
		{ChoreographyCompensating, false},
		{ChoreographyTimedOut, false},
		{ChoreographyCompleted, true},
		{ChoreographyCompensated, true},
		{ChoreographyFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.final, tt.status.IsFinal())
		})
	}
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name               string
		stepSucceeded      bool
		isLastStep         bool
		compensationNeeded bool
		want               ChoreographedSagaStatus
	}{
		{"last step succeeded", true, true, false, ChoreographyCompleted},
		{"intermediate step succeeded", true, false, false, ChoreographyInProgress},
		{"failure with partial progress", false, false, true, ChoreographyCompensating},
		{"failure with retries left", false, false, false, ChoreographyRetrying},
		{"last step failure needing compensation", false, true, true, ChoreographyCompensating},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStatus(tt.stepSucceeded, tt.isLastStep, tt.compensationNeeded))
		})
	}
}

func TestChoreographedSagaState_MarkStepCompleted(t *testing.T) {
	state := NewChoreographedSagaState("sell_product", models.GenerateUUID())
	assert.Equal(t, ChoreographyStarted, state.Status)

	state.MarkStepCompleted("verify_stock")
	state.MarkStepCompleted("reserve_stock")

	assert.Equal(t, ChoreographyInProgress, state.Status)
	assert.Equal(t, "reserve_stock", state.CurrentStep)
	assert.Equal(t, []string{"verify_stock", "reserve_stock"}, state.CompletedSteps)
}

func TestChoreographedSagaState_MarkStepFailed(t *testing.T) {
	t.Run("retries while no progress and budget remains", func(t *testing.T) {
		state := NewChoreographedSagaState("sell_product", models.GenerateUUID())

		state.MarkStepFailed("verify_stock", "inventory unreachable")

		assert.Equal(t, ChoreographyRetrying, state.Status)
		assert.False(t, state.CompensationRequired)
		assert.Equal(t, 1, state.RetryCount)
		assert.Equal(t, []string{"verify_stock"}, state.FailedSteps)
		assert.Equal(t, "inventory unreachable", state.ErrorMessage)
	})

	t.Run("compensates once partial progress exists", func(t *testing.T) {
		state := NewChoreographedSagaState("sell_product", models.GenerateUUID())
		state.MarkStepCompleted("reserve_stock")

		state.MarkStepFailed("process_payment", "card declined")

		assert.Equal(t, ChoreographyCompensating, state.Status)
		assert.True(t, state.CompensationRequired)
		assert.Zero(t, state.RetryCount)
	})

	t.Run("compensates when retries are exhausted", func(t *testing.T) {
		state := NewChoreographedSagaState("sell_product", models.GenerateUUID())

		for i := 0; i < state.MaxRetries; i++ {
			state.MarkStepFailed("verify_stock", "inventory unreachable")
			assert.Equal(t, ChoreographyRetrying, state.Status)
		}

		state.MarkStepFailed("verify_stock", "inventory unreachable")
		assert.Equal(t, ChoreographyCompensating, state.Status)
		assert.True(t, state.CompensationRequired)
	})
}

func TestChoreographedSagaState_TerminalMarks(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		state := NewChoreographedSagaState("sell_product", models.GenerateUUID())
		state.MarkCompleted()

		assert.Equal(t, ChoreographyCompleted, state.Status)
		require.NotNil(t, state.CompletedAt)
		assert.True(t, state.Status.IsFinal())
	})

	t.Run("failed", func(t *testing.T) {
		state := NewChoreographedSagaState("sell_product", models.GenerateUUID())
		state.MarkFailed("out of retries")

		assert.Equal(t, ChoreographyFailed, state.Status)
		assert.Equal(t, "out of retries", state.ErrorMessage)
		require.NotNil(t, state.CompletedAt)
	})

	t.Run("compensation completed", func(t *testing.T) {
		state := NewChoreographedSagaState("sell_product", models.GenerateUUID())
		state.MarkStepCompleted("reserve_stock")
		state.MarkStepFailed("process_payment", "card declined")

		state.MarkCompensationCompleted()

		assert.Equal(t, ChoreographyCompensated, state.Status)
		assert.True(t, state.CompensationCompleted)
		assert.True(t, state.Status.IsFinal())
	})
}

func TestChoreographedSagaState_IsTimedOut(t *testing.T) {
	state := NewChoreographedSagaState("sell_product", models.GenerateUUID())

	assert.False(t, state.IsTimedOut(time.Now()))
	assert.True(t, state.IsTimedOut(time.Now().Add(DefaultSagaTimeout+time.Minute)))

	state.MarkCompleted()
	assert.False(t, state.IsTimedOut(time.Now().Add(DefaultSagaTimeout+time.Minute)),
		"final sagas never report a timeout")
}

func TestChoreographedSagaState_Context(t *testing.T) {
	state := NewChoreographedSagaState("sell_product", models.GenerateUUID())
	state.SetContext("payment_transaction_id", "pay-1")

	assert.Equal(t, "pay-1", state.Context["payment_transaction_id"])
}
