package federation

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPlan means no requested domain could form any plan.
	ErrNoPlan = errors.New("no plan could be formed for any domain")
	// ErrSynthesisUnavailable means the synthesis oracle could not be reached.
	ErrSynthesisUnavailable = errors.New("synthesis oracle unavailable")
)

// FailureError is returned when a query ends in FAILED. It wraps one of the
// sentinel errors above or a context error.
type FailureError struct {
	RunID string
	State State
	Err   error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("run %s failed after %s: %v", e.RunID, e.State, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }
