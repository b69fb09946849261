package domain

import (
	"time"

	"github.com/retailcore/sales-system/shared/models"
)

// ChoreographedSagaStatus is the status set for the decentralized saga
// tracking model
type ChoreographedSagaStatus string

const (
	ChoreographyStarted      ChoreographedSagaStatus = "STARTED"
	ChoreographyInProgress   ChoreographedSagaStatus = "IN_PROGRESS"
	ChoreographyRetrying     ChoreographedSagaStatus = "RETRYING"
	ChoreographyCompensating ChoreographedSagaStatus = "COMPENSATING"
	ChoreographyCompensated  ChoreographedSagaStatus = "COMPENSATED"
	ChoreographyCompleted    ChoreographedSagaStatus = "COMPLETED"
	ChoreographyFailed       ChoreographedSagaStatus = "FAILED"
	ChoreographyTimedOut     ChoreographedSagaStatus = "TIMED_OUT"
)

// String returns string representation
func (s ChoreographedSagaStatus) String() string {
	return string(s)
}

// IsFinal holds only for COMPLETED, COMPENSATED and FAILED
func (s ChoreographedSagaStatus) IsFinal() bool {
	switch s {
	case ChoreographyCompleted, ChoreographyCompensated, ChoreographyFailed:
		return true
	default:
		return false
	}
}

// NextStatus is the choreography analogue of the orchestrated transition
// table, parameterized by the outcome of the step just observed
func NextStatus(stepSucceeded, isLastStep, compensationNeeded bool) ChoreographedSagaStatus {
	if stepSucceeded {
		if isLastStep {
			return ChoreographyCompleted
		}
		return ChoreographyInProgress
	}
	if compensationNeeded {
		return ChoreographyCompensating
	}
	return ChoreographyRetrying
}

const (
	// DefaultSagaTimeout is the per-saga deadline from creation
	DefaultSagaTimeout = 30 * time.Minute

	// DefaultMaxRetries bounds step retries before compensation
	DefaultMaxRetries = 3
)

// ChoreographedSagaState is the local bookkeeping record a participant
// maintains from the events it observes. There is no central coordinator:
// the record parallels a SagaExecution but is built bottom-up.
type ChoreographedSagaState struct {
	ID                    models.ID
	CorrelationID         models.ID
	SagaType              string
	Status                ChoreographedSagaStatus
	CurrentStep           string
	CompletedSteps        []string
	FailedSteps           []string
	CompensationRequired  bool
	CompensationCompleted bool
	Context               map[string]interface{}
	ErrorMessage          string
	RetryCount            int
	MaxRetries            int
	Timestamps            models.Timestamps
	CompletedAt           *time.Time
	TimeoutAt             time.Time
	Version               models.Version
}

// NewChoreographedSagaState starts tracking a saga observed by this
// participant
func NewChoreographedSagaState(sagaType string, correlationID models.ID) *ChoreographedSagaState {
	now := time.Now()
	return &ChoreographedSagaState{
		ID:             models.GenerateUUID(),
		CorrelationID:  correlationID,
		SagaType:       sagaType,
		Status:         ChoreographyStarted,
		CompletedSteps: make([]string, 0),
		FailedSteps:    make([]string, 0),
		Context:        make(map[string]interface{}),
		MaxRetries:     DefaultMaxRetries,
		Timestamps:     models.NewTimestamps(),
		TimeoutAt:      now.Add(DefaultSagaTimeout),
		Version:        models.NewVersion(),
	}
}

// SetContext stores a free-form value in the saga context payload
func (s *ChoreographedSagaState) SetContext(key string, value interface{}) {
	if s.Context == nil {
		s.Context = make(map[string]interface{})
	}
	s.Context[key] = value
}

// MarkStepCompleted appends to the completed list and advances the
// current step
func (s *ChoreographedSagaState) MarkStepCompleted(step string) {
	s.CompletedSteps = append(s.CompletedSteps, step)
	s.CurrentStep = step
	if s.Status == ChoreographyStarted || s.Status == ChoreographyRetrying {
		s.Status = ChoreographyInProgress
	}
	s.touch()
}

// MarkStepFailed appends to the failed list and routes the saga: once any
// partial progress exists, or retries are exhausted, compensation is
// required; otherwise the step is retried.
func (s *ChoreographedSagaState) MarkStepFailed(step string, errorMessage string) {
	s.FailedSteps = append(s.FailedSteps, step)
	s.CurrentStep = step
	s.ErrorMessage = errorMessage

	if len(s.CompletedSteps) > 0 || s.RetryCount >= s.MaxRetries {
		s.CompensationRequired = true
		s.Status = ChoreographyCompensating
	} else {
		s.RetryCount++
		s.Status = ChoreographyRetrying
	}
	s.touch()
}

// MarkCompleted moves the saga to the successful terminal status
func (s *ChoreographedSagaState) MarkCompleted() {
	s.Status = ChoreographyCompleted
	now := time.Now()
	s.CompletedAt = &now
	s.touch()
}

// MarkFailed moves the saga to the failed terminal status
func (s *ChoreographedSagaState) MarkFailed(reason string) {
	s.Status = ChoreographyFailed
	s.ErrorMessage = reason
	now := time.Now()
	s.CompletedAt = &now
	s.touch()
}

// MarkCompensationCompleted records that all compensating actions ran
func (s *ChoreographedSagaState) MarkCompensationCompleted() {
	s.CompensationCompleted = true
	s.Status = ChoreographyCompensated
	now := time.Now()
	s.CompletedAt = &now
	s.touch()
}

// MarkTimedOut flags a saga that exceeded its deadline. The caller still
// routes it through compensation so it never lingers non-terminal.
func (s *ChoreographedSagaState) MarkTimedOut() {
	s.Status = ChoreographyTimedOut
	s.CompensationRequired = true
	s.touch()
}

// IsTimedOut compares against the per-saga deadline
func (s *ChoreographedSagaState) IsTimedOut(now time.Time) bool {
	return !s.Status.IsFinal() && now.After(s.TimeoutAt)
}

// CanRetry reports whether the retry budget is not yet exhausted
func (s *ChoreographedSagaState) CanRetry() bool {
	return s.RetryCount < s.MaxRetries
}

func (s *ChoreographedSagaState) touch() {
	s.Timestamps = s.Timestamps.Update()
	s.Version = s.Version.Update()
}
