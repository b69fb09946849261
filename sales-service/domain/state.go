package domain

import (
	"github.com/pkg/errors"
)

// SagaState represents the state of a sale saga execution
type SagaState string

const (
	SaleInitiated     SagaState = "SALE_INITIATED"
	StockVerifying    SagaState = "STOCK_VERIFYING"
	StockReserving    SagaState = "STOCK_RESERVING"
	PaymentProcessing SagaState = "PAYMENT_PROCESSING"
	OrderConfirming   SagaState = "ORDER_CONFIRMING"
	StockReleasing    SagaState = "STOCK_RELEASING"
	SaleConfirmed     SagaState = "SALE_CONFIRMED"
	SaleFailed        SagaState = "SALE_FAILED"
)

// InitialState is where every saga execution starts
const InitialState = SaleInitiated

// validTransitions is the full transition graph. Both the optimistic and
// the pessimistic update paths validate against this single table.
var validTransitions = map[SagaState][]SagaState{
	SaleInitiated:     {StockVerifying, SaleFailed},
	StockVerifying:    {StockReserving, SaleFailed},
	StockReserving:    {PaymentProcessing, SaleFailed},
	PaymentProcessing: {OrderConfirming, StockReleasing},
	OrderConfirming:   {SaleConfirmed, StockReleasing},
	StockReleasing:    {SaleFailed},
	SaleConfirmed:     {},
	SaleFailed:        {},
}

// happyPath maps each state to its successor on the success path
var happyPath = map[SagaState]SagaState{
	SaleInitiated:     StockVerifying,
	StockVerifying:    StockReserving,
	StockReserving:    PaymentProcessing,
	PaymentProcessing: OrderConfirming,
	OrderConfirming:   SaleConfirmed,
}

// compensationStates maps each non-terminal state to the state a failing
// saga moves to. Only states reached after a stock reservation route
// through StockReleasing; earlier failures have nothing to undo.
var compensationStates = map[SagaState]SagaState{
	SaleInitiated:     SaleFailed,
	StockVerifying:    SaleFailed,
	StockReserving:    SaleFailed,
	PaymentProcessing: StockReleasing,
	OrderConfirming:   StockReleasing,
	StockReleasing:    SaleFailed,
}

// String returns string representation
func (s SagaState) String() string {
	return string(s)
}

// IsFinal reports whether the state is terminal
func (s SagaState) IsFinal() bool {
	return s == SaleConfirmed || s == SaleFailed
}

// IsValid reports whether the state belongs to the closed set
func (s SagaState) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// ValidTransitions returns the legal successor set. Terminal states
// return an empty set.
func (s SagaState) ValidTransitions() []SagaState {
	return validTransitions[s]
}

// CanTransition reports whether from -> to is a legal transition
func CanTransition(from, to SagaState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextHappyPathState returns the successor on the success path, or false
// when the state has none (terminals and the compensation state).
func NextHappyPathState(from SagaState) (SagaState, bool) {
	next, ok := happyPath[from]
	return next, ok
}

// CompensationState returns the state a saga failing in from moves to
func CompensationState(from SagaState) SagaState {
	if next, ok := compensationStates[from]; ok {
		return next
	}
	return SaleFailed
}

// ValidateGraph walks the transition graph from the initial state and
// asserts every declared state is reachable, that non-terminal states
// have at least one outgoing edge and terminal states have none. Run at
// startup and in tests, never per request.
func ValidateGraph() error {
	reachable := map[SagaState]bool{InitialState: true}
	queue := []SagaState{InitialState}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range validTransitions[current] {
			if !next.IsValid() {
				return errors.Errorf("transition from %s targets undeclared state %s", current, next)
			}
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for state, transitions := range validTransitions {
		if !reachable[state] {
			return errors.Errorf("state %s is not reachable from %s", state, InitialState)
		}
		if state.IsFinal() && len(transitions) != 0 {
			return errors.Errorf("terminal state %s declares outgoing transitions", state)
		}
		if !state.IsFinal() && len(transitions) == 0 {
			return errors.Errorf("non-terminal state %s has no outgoing transitions", state)
		}
		if !state.IsFinal() {
			if _, ok := compensationStates[state]; !ok {
				return errors.Errorf("non-terminal state %s has no compensation state", state)
			}
		}
	}

	return nil
}
