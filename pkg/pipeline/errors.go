package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for orchestrator operations.
var (
	// ErrBusy is returned by Submit while a run is active. Retry after the
	// run finishes or cancel it first.
	ErrBusy = errors.New("a run is already in progress")

	// ErrEmptyRequest is returned by Submit for blank request text.
	ErrEmptyRequest = errors.New("request text is empty")

	// ErrNotRunning is returned by Cancel when no run is active.
	ErrNotRunning = errors.New("no run in progress")

	// ErrTimeout is the cause recorded when a step exceeds its time bound.
	ErrTimeout = errors.New("step timed out")

	// ErrCancelled is the result of a run aborted by Cancel. It matches
	// context.Canceled under errors.Is.
	ErrCancelled error = cancelledError{}
)

type cancelledError struct{}

func (cancelledError) Error() string { return "run cancelled" }
func (cancelledError) Unwrap() error { return context.Canceled }

// StepFailedError reports that a step's worker returned an error, panicked
// or timed out. Steps after it were never started.
type StepFailedError struct {
	StepID string
	Label  string
	Index  int
	Cause  error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Label, e.Cause)
}

func (e *StepFailedError) Unwrap() error { return e.Cause }

// TimeoutError is the StepFailedError produced when a step runs past its
// bound. errors.As to *StepFailedError and errors.Is(err, ErrTimeout) both
// hold.
type TimeoutError struct {
	*StepFailedError
	Timeout time.Duration
}

func newTimeoutError(def StepDefinition, index int, timeout time.Duration) *TimeoutError {
	return &TimeoutError{
		StepFailedError: &StepFailedError{StepID: def.ID, Label: def.Label, Index: index, Cause: ErrTimeout},
		Timeout:         timeout,
	}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %s", e.Label, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.StepFailedError }
