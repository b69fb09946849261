package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGraph(t *testing.T) {
	assert.NoError(t, ValidateGraph())
}

func TestSagaState_IsFinal(t *testing.T) {
	tests := []struct {
		state SagaState
		final bool
	}{
		{SaleInitiated, false},
		{StockVerifying, false},
		{StockReserving, false},
		{PaymentProcessing, false},
		{OrderConfirming, false},
		{StockReleasing, false},
		{SaleConfirmed, true},
		{SaleFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.final, tt.state.IsFinal())
		})
	}
}

func TestSagaState_ValidTransitions_TerminalStatesAreEmpty(t *testing.T) {
	assert.Empty(t, SaleConfirmed.ValidTransitions())
	assert.Empty(t, SaleFailed.ValidTransitions())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    SagaState
		to      SagaState
		allowed bool
	}{
		{"initiated to verifying", SaleInitiated, StockVerifying, true},
		{"initiated to failed", SaleInitiated, SaleFailed, true},
		{"verifying to reserving", StockVerifying, StockReserving, true},
		{"reserving to payment", StockReserving, PaymentProcessing, true},
		{"reserving to failed without compensation", StockReserving, SaleFailed, true},
		{"payment to order", PaymentProcessing, OrderConfirming, true},
		{"payment to releasing", PaymentProcessing, StockReleasing, true},
		{"order to confirmed", OrderConfirming, SaleConfirmed, true},
		{"order to releasing", OrderConfirming, StockReleasing, true},
		{"releasing to failed", StockReleasing, SaleFailed, true},
		{"skip verifying", SaleInitiated, StockReserving, false},
		{"skip straight to payment", SaleInitiated, PaymentProcessing, false},
		{"payment directly to failed", PaymentProcessing, SaleFailed, false},
		{"backwards", PaymentProcessing, StockVerifying, false},
		{"out of confirmed", SaleConfirmed, SaleFailed, false},
		{"out of failed", SaleFailed, SaleInitiated, false},
		{"releasing back to payment", StockReleasing, PaymentProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestNextHappyPathState(t *testing.T) {
	tests := []struct {
		from    SagaState
		next    SagaState
		hasNext bool
	}{
		{SaleInitiated, StockVerifying, true},
		{StockVerifying, StockReserving, true},
		{StockReserving, PaymentProcessing, true},
		{PaymentProcessing, OrderConfirming, true},
		{OrderConfirming, SaleConfirmed, true},
		{StockReleasing, "", false},
		{SaleConfirmed, "", false},
		{SaleFailed, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			next, ok := NextHappyPathState(tt.from)
			assert.Equal(t, tt.hasNext, ok)
			if tt.hasNext {
				assert.Equal(t, tt.next, next)
			}
		})
	}
}

func TestCompensationState(t *testing.T) {
	tests := []struct {
		from SagaState
		want SagaState
	}{
		// Stock is only held from the payment step on, so only those
		// states route through the release state.
		{PaymentProcessing, StockReleasing},
		{OrderConfirming, StockReleasing},
		{SaleInitiated, SaleFailed},
		{StockVerifying, SaleFailed},
		{StockReserving, SaleFailed},
		{StockReleasing, SaleFailed},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CompensationState(tt.from))
		})
	}
}

// TestHappyPathReachesExactlyOneTerminal walks every happy-path prefix
// and asserts the saga can always be driven to exactly one terminal
// state without revisiting a prior state.
func TestHappyPathReachesExactlyOneTerminal(t *testing.T) {
	visited := map[SagaState]bool{}
	current := InitialState

	for !current.IsFinal() {
		require.False(t, visited[current], "state %s revisited", current)
		visited[current] = true

		next, ok := NextHappyPathState(current)
		require.True(t, ok, "non-terminal state %s has no happy path successor", current)
		require.True(t, CanTransition(current, next))
		current = next
	}

	assert.Equal(t, SaleConfirmed, current)
}

// TestCompensationPathTerminates drives every non-terminal state through
// its compensation route and asserts it ends in SaleFailed.
func TestCompensationPathTerminates(t *testing.T) {
	for state := range map[SagaState]SagaState{
		SaleInitiated:     "",
		StockVerifying:    "",
		StockReserving:    "",
		PaymentProcessing: "",
		OrderConfirming:   "",
	} {
		current := state
		for !current.IsFinal() {
			next := CompensationState(current)
			require.True(t, CanTransition(current, next),
				"compensation transition %s -> %s is not legal", current, next)
			current = next
		}
		assert.Equal(t, SaleFailed, current, "compensation from %s", state)
	}
}
