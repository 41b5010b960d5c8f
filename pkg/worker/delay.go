// Package worker provides the step workers the pipeline delegates to: a
// fixed-delay worker with canned narration, and a gRPC client for a remote
// step service together with the server side of that service.
package worker

import (
	"context"
	"slices"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
)

// DelayWorker waits a fixed delay, then reports canned narration. It is the
// reference stand-in for real analysis, build and deploy work.
type DelayWorker struct {
	delay time.Duration
	notes []pipeline.Note
	after func(time.Duration) <-chan time.Time
}

var _ pipeline.StepWorker = (*DelayWorker)(nil)

// DelayOption configures a DelayWorker.
type DelayOption func(*DelayWorker)

// WithTimer replaces time.After, for tests.
func WithTimer(after func(time.Duration) <-chan time.Time) DelayOption {
	return func(w *DelayWorker) { w.after = after }
}

// NewDelayWorker creates a worker that sleeps for delay and then returns notes.
func NewDelayWorker(delay time.Duration, notes []pipeline.Note, opts ...DelayOption) *DelayWorker {
	w := &DelayWorker{
		delay: delay,
		notes: slices.Clone(notes),
		after: time.After,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute waits out the delay unless ctx ends first.
func (w *DelayWorker) Execute(ctx context.Context, _ pipeline.StepContext) (pipeline.Outcome, error) {
	if w.delay > 0 {
		select {
		case <-w.after(w.delay):
		case <-ctx.Done():
			return pipeline.Outcome{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.Outcome{Notes: slices.Clone(w.notes)}, nil
}
