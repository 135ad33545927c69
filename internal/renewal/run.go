package renewal

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a renewal run ended
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Run is the transient state of one renewal execution
type Run struct {
	ID        string
	Forced    bool
	StartedAt time.Time
	Outcome   Outcome
	Err       error
}

// NewRun creates a run with a fresh identifier
func NewRun(forced bool) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Forced:    forced,
		StartedAt: time.Now(),
	}
}

// Finish records the run outcome
func (r *Run) Finish(renewed bool, err error) {
	switch {
	case err != nil:
		r.Outcome = OutcomeFailed
		r.Err = err
	case renewed:
		r.Outcome = OutcomeSucceeded
	default:
		r.Outcome = OutcomeSkipped
	}
}
