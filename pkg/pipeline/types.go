// Package pipeline runs a chat request through a fixed sequence of steps.
//
// An Orchestrator owns the step list of one chat session. Submit starts a
// run that moves every step from pending to active to completed, strictly in
// order, delegating the work of each step to an injected StepWorker and
// appending narration to the session timeline. The first failing step stops
// the run; later steps stay pending. Only one run may be active at a time.
package pipeline

import (
	"context"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// StepContext is what a worker knows about the step it performs.
type StepContext struct {
	SessionID string
	RunID     string
	Request   string
	Step      models.Step
	// Total number of steps in the pipeline.
	Total int
}

// Note is one piece of narration produced by a worker.
type Note struct {
	Content string
	Kind    models.ContentKind
}

// Outcome is the successful result of a step.
type Outcome struct {
	Notes []Note
}

// StepWorker performs the work of one step. Implementations must honour ctx:
// it is cancelled when the run is cancelled or the step times out.
type StepWorker interface {
	Execute(ctx context.Context, sc StepContext) (Outcome, error)
}

// WorkerFunc adapts a function to StepWorker.
type WorkerFunc func(ctx context.Context, sc StepContext) (Outcome, error)

func (f WorkerFunc) Execute(ctx context.Context, sc StepContext) (Outcome, error) {
	return f(ctx, sc)
}

// StepDefinition is one entry of the fixed step list.
type StepDefinition struct {
	ID     string
	Label  string
	Worker StepWorker
	// Timeout bounds the worker call. Zero uses the orchestrator default.
	Timeout time.Duration
}

// EventPublisher receives every transition and entry of a run, in order.
// Implemented by events.Bus, events.EventPublisher and events.MultiPublisher.
type EventPublisher interface {
	PublishEntryAppended(ctx context.Context, sessionID string, payload events.EntryAppendedPayload) error
	PublishStepStatus(ctx context.Context, sessionID string, payload events.StepStatusPayload) error
	PublishRunStatus(ctx context.Context, sessionID string, payload events.RunStatusPayload) error
}

// RunResult is the terminal state of a run.
type RunResult struct {
	Run   models.Run
	Steps []models.Step
	// Err is nil on success, ErrCancelled, or a *StepFailedError
	// (possibly a *TimeoutError).
	Err error
}

// Succeeded reports whether every step completed.
func (r RunResult) Succeeded() bool {
	return r.Run.Status == models.RunSucceeded
}

// RunHandle tracks one submitted run.
type RunHandle struct {
	id      string
	request string
	cancel  context.CancelFunc
	done    chan struct{}
	result  RunResult // written before done is closed
}

// ID returns the run identifier.
func (h *RunHandle) ID() string { return h.id }

// Request returns the submitted text.
func (h *RunHandle) Request() string { return h.request }

// Done is closed once the run reached a terminal status.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Cancel requests cancellation of this run.
func (h *RunHandle) Cancel() { h.cancel() }

// Wait blocks until the run finishes or ctx is done.
func (h *RunHandle) Wait(ctx context.Context) (RunResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}

// Result returns the terminal result, or false while the run is active.
func (h *RunHandle) Result() (RunResult, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return RunResult{}, false
	}
}
