package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/telemetry"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/timeline"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStepTimeout bounds a step whose definition sets no timeout.
const DefaultStepTimeout = 5 * time.Minute

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessionID sets the session the orchestrator reports under.
func WithSessionID(id string) Option {
	return func(o *Orchestrator) { o.sessionID = id }
}

// WithTimeline shares an existing timeline instead of creating one.
func WithTimeline(tl *timeline.Timeline) Option {
	return func(o *Orchestrator) { o.timeline = tl }
}

// WithPublisher sets the sink for run events. Nil disables publishing.
func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithTracer sets the tracer for run and step spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock overrides the time source for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithStepTimeout sets the default per-step bound. Zero disables it.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stepTimeout = d }
}

// WithRunIDGenerator overrides run ID generation.
func WithRunIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newRunID = gen }
}

// Orchestrator drives the fixed step list for one session, one run at a time.
// It is safe for concurrent use.
type Orchestrator struct {
	sessionID   string
	defs        []StepDefinition
	timeline    *timeline.Timeline
	publisher   EventPublisher
	tracer      trace.Tracer
	now         func() time.Time
	stepTimeout time.Duration
	newRunID    func() string

	// mu guards the fields below. The run goroutine is the only writer of
	// steps while a run is active; readers copy under the lock.
	mu      sync.Mutex
	steps   []models.Step
	current *RunHandle
	last    *RunResult
}

// New creates an orchestrator for the given step list. Step IDs must be
// unique and every step needs a label and a worker.
func New(defs []StepDefinition, opts ...Option) (*Orchestrator, error) {
	if len(defs) == 0 {
		return nil, errors.New("pipeline needs at least one step")
	}
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		switch {
		case strings.TrimSpace(d.ID) == "":
			return nil, fmt.Errorf("step %d: id is required", i)
		case seen[d.ID]:
			return nil, fmt.Errorf("step %d: duplicate id %q", i, d.ID)
		case strings.TrimSpace(d.Label) == "":
			return nil, fmt.Errorf("step %q: label is required", d.ID)
		case d.Worker == nil:
			return nil, fmt.Errorf("step %q: worker is required", d.ID)
		case d.Timeout < 0:
			return nil, fmt.Errorf("step %q: timeout must not be negative", d.ID)
		}
		seen[d.ID] = true
	}

	o := &Orchestrator{
		sessionID:   uuid.New().String(),
		defs:        append([]StepDefinition(nil), defs...),
		tracer:      telemetry.DefaultTracer(),
		now:         time.Now,
		stepTimeout: DefaultStepTimeout,
		newRunID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.timeline == nil {
		o.timeline = timeline.New(timeline.WithClock(o.now))
	}

	o.steps = make([]models.Step, len(o.defs))
	o.resetSteps()
	return o, nil
}

// SessionID returns the session this orchestrator reports under.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Timeline returns the session timeline.
func (o *Orchestrator) Timeline() *timeline.Timeline { return o.timeline }

// Submit starts a run for text. It returns ErrBusy while another run is
// active and ErrEmptyRequest for blank text. The user entry is appended
// before Submit returns; the steps then run in the background. The run is
// detached from ctx cancellation; use Cancel or the handle to stop it.
func (o *Orchestrator) Submit(ctx context.Context, text string) (*RunHandle, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyRequest
	}

	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &RunHandle{
		id:      o.newRunID(),
		request: text,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	o.current = h
	o.resetSteps()
	o.mu.Unlock()

	r := &run{
		o:       o,
		handle:  h,
		started: o.now(),
		logger:  slog.With("session_id", o.sessionID, "run_id", h.id),
		pubCtx:  context.WithoutCancel(ctx),
	}
	r.logger.Info("Run submitted", "steps", len(o.defs), "request_bytes", len(text))
	r.publishRun(models.Run{
		ID:        h.id,
		SessionID: o.sessionID,
		Request:   text,
		Status:    models.RunRunning,
		StartedAt: r.started,
	})
	r.appendEntry("", models.OriginUser, text, models.KindText)

	go r.execute(runCtx)
	return h, nil
}

// Execute submits text and waits for the run to finish. If ctx ends first
// the run is cancelled and its cancelled result returned.
func (o *Orchestrator) Execute(ctx context.Context, text string) (RunResult, error) {
	h, err := o.Submit(ctx, text)
	if err != nil {
		return RunResult{}, err
	}
	res, err := h.Wait(ctx)
	if err != nil {
		h.Cancel()
		<-h.Done()
		res = h.result
	}
	return res, res.Err
}

// Cancel aborts the active run. The in-flight worker's context is cancelled
// and the run stays busy until that worker returns or its step times out. A
// step whose worker still succeeds is completed; otherwise it stays active.
// Later steps stay pending and a neutral cancellation entry is appended.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	h := o.current
	o.mu.Unlock()
	if h == nil {
		return ErrNotRunning
	}
	h.Cancel()
	return nil
}

// CurrentSteps returns a snapshot of the step list.
func (o *Orchestrator) CurrentSteps() []models.Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.Step(nil), o.steps...)
}

// CurrentEntries returns a snapshot of the timeline.
func (o *Orchestrator) CurrentEntries() []models.Entry {
	return o.timeline.Entries()
}

// Status returns running while a run is active, idle otherwise.
func (o *Orchestrator) Status() models.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		return models.RunRunning
	}
	return models.RunIdle
}

// Active returns the handle of the active run, if any.
func (o *Orchestrator) Active() (*RunHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current, o.current != nil
}

// LastResult returns the result of the most recent finished run.
func (o *Orchestrator) LastResult() (RunResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return RunResult{}, false
	}
	return *o.last, true
}

// resetSteps puts every step back to pending. Caller holds o.mu.
func (o *Orchestrator) resetSteps() {
	for i, d := range o.defs {
		o.steps[i] = models.Step{ID: d.ID, Label: d.Label, Index: i, Status: models.StepPending}
	}
}

func (o *Orchestrator) timeoutFor(d StepDefinition) time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return o.stepTimeout
}

// run is the state of one execution. Only its goroutine touches it after
// Submit returns.
type run struct {
	o         *Orchestrator
	handle    *RunHandle
	started   time.Time
	logger    *slog.Logger
	pubCtx    context.Context
	completed int
}

type workerResult struct {
	outcome Outcome
	err     error
}

func (r *run) execute(ctx context.Context) {
	o := r.o
	defer r.handle.cancel()

	plan := telemetry.Plan{Steps: make([]telemetry.PlannedStep, len(o.defs))}
	for i, d := range o.defs {
		plan.Steps[i] = telemetry.PlannedStep{ID: d.ID, Label: d.Label}
	}
	op, err := telemetry.EmitPlan(ctx, o.tracer, "pipeline.run", plan,
		attribute.String(telemetry.SessionIDKey, o.sessionID),
		attribute.String(telemetry.RunIDKey, r.handle.id),
	)
	if err != nil {
		r.logger.Warn("Failed to start run span", "error", err)
	} else {
		ctx = op.Context()
	}

	var runErr error
	for i, def := range o.defs {
		// Cancellation is honoured at every step boundary.
		if ctx.Err() != nil {
			runErr = ErrCancelled
			break
		}
		err := op.RunStep(ctx, def.ID, def.Label, i, func(stepCtx context.Context) error {
			return r.executeStep(stepCtx, i, def)
		})
		if err != nil {
			runErr = err
			break
		}
		r.completed++
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ErrCancelled
	}

	r.finish(runErr)
	op.End(runErr)
}

func (r *run) executeStep(ctx context.Context, index int, def StepDefinition) error {
	o := r.o
	logger := r.logger.With("step_id", def.ID, "step_index", index)

	step := r.transition(index, models.StepActive, nil)
	logger.Info("Step started")

	timeout := o.timeoutFor(def)
	stepCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	sc := StepContext{
		SessionID: o.sessionID,
		RunID:     r.handle.id,
		Request:   r.handle.request,
		Step:      step,
		Total:     len(o.defs),
	}
	resCh := make(chan workerResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resCh <- workerResult{err: fmt.Errorf("worker panicked: %v", p)}
			}
		}()
		out, err := def.Worker.Execute(stepCtx, sc)
		resCh <- workerResult{outcome: out, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	// Cancelling the run cancels the worker's context, but the step is only
	// abandoned once its timeout expires.
	var res workerResult
	timedOut := false
	cancelled := ctx.Done()
wait:
	for {
		select {
		case res = <-resCh:
			break wait
		case <-expired:
			timedOut = true
			res = workerResult{err: context.DeadlineExceeded}
			break wait
		case <-cancelled:
			logger.Info("Cancellation requested, waiting for in-flight step")
			cancelled = nil
		}
	}

	if res.err != nil {
		switch {
		case ctx.Err() != nil:
			// Run cancelled mid-step: the step stays active.
			logger.Info("Step interrupted by cancellation", "timed_out", timedOut)
			return ErrCancelled
		case timedOut || errors.Is(stepCtx.Err(), context.DeadlineExceeded):
			logger.Warn("Step timed out", "timeout", timeout)
			failErr := newTimeoutError(def, index, timeout)
			r.transition(index, models.StepFailed, failErr)
			return failErr
		default:
			logger.Warn("Step failed", "error", res.err)
			failErr := &StepFailedError{StepID: def.ID, Label: def.Label, Index: index, Cause: res.err}
			r.transition(index, models.StepFailed, failErr)
			return failErr
		}
	}

	notes := res.outcome.Notes
	if len(notes) == 0 {
		notes = []Note{{Content: stepDoneMessage(def.Label), Kind: models.KindText}}
	}
	for _, n := range notes {
		kind := n.Kind
		if !kind.IsValid() {
			kind = models.KindText
		}
		r.appendEntry(def.ID, models.OriginAgent, n.Content, kind)
	}

	r.transition(index, models.StepCompleted, nil)
	logger.Info("Step completed")
	return nil
}

// transition moves step index to status and publishes the change.
func (r *run) transition(index int, status models.StepStatus, cause error) models.Step {
	o := r.o
	o.mu.Lock()
	prev := o.steps[index].Status
	if !prev.CanTransitionTo(status) {
		step := o.steps[index]
		o.mu.Unlock()
		r.logger.Error("Illegal step transition ignored", "step_id", step.ID, "from", prev, "to", status)
		return step
	}
	o.steps[index].Status = status
	step := o.steps[index]
	o.mu.Unlock()

	if o.publisher != nil {
		payload := events.NewStepStatusPayload(o.sessionID, r.handle.id, step, cause, o.now())
		if err := o.publisher.PublishStepStatus(r.pubCtx, o.sessionID, payload); err != nil {
			r.logger.Warn("Failed to publish step status", "step_id", step.ID, "status", status, "error", err)
		}
	}
	return step
}

func (r *run) appendEntry(stepID string, origin models.Origin, content string, kind models.ContentKind) {
	o := r.o
	e := o.timeline.AppendScoped(timeline.Scope{RunID: r.handle.id, StepID: stepID}, origin, content, kind)
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishEntryAppended(r.pubCtx, o.sessionID, events.NewEntryAppendedPayload(o.sessionID, e)); err != nil {
		r.logger.Warn("Failed to publish timeline entry", "entry_id", e.ID, "error", err)
	}
}

func (r *run) publishRun(run models.Run) {
	o := r.o
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishRunStatus(r.pubCtx, o.sessionID, events.NewRunStatusPayload(o.sessionID, run, o.now())); err != nil {
		r.logger.Warn("Failed to publish run status", "status", run.Status, "error", err)
	}
}

// finish appends the terminal entry, publishes the terminal run status and
// returns the orchestrator to idle.
func (r *run) finish(runErr error) {
	o := r.o
	completedAt := o.now()
	result := models.Run{
		ID:             r.handle.id,
		SessionID:      o.sessionID,
		Request:        r.handle.request,
		StartedAt:      r.started,
		CompletedAt:    &completedAt,
		CompletedSteps: r.completed,
	}

	var failed *StepFailedError
	switch {
	case runErr == nil:
		result.Status = models.RunSucceeded
		r.appendEntry("", models.OriginSystem, successMessage, models.KindStatus)
	case errors.Is(runErr, ErrCancelled):
		result.Status = models.RunCancelled
		r.appendEntry("", models.OriginSystem, cancelledMessage(r.completed, len(o.defs)), models.KindStatus)
	case errors.As(runErr, &failed):
		result.Status = models.RunFailed
		result.FailedStep = failed.StepID
		result.Error = runErr.Error()
		r.appendEntry(failed.StepID, models.OriginSystem, failureMessage(runErr), models.KindStatus)
	default:
		result.Status = models.RunFailed
		result.Error = runErr.Error()
		r.appendEntry("", models.OriginSystem, failureMessage(runErr), models.KindStatus)
	}

	r.publishRun(result)
	r.logger.Info("Run finished",
		"status", result.Status,
		"completed_steps", r.completed,
		"duration", completedAt.Sub(r.started),
		"error", runErr,
	)

	o.mu.Lock()
	final := RunResult{Run: result, Steps: append([]models.Step(nil), o.steps...), Err: runErr}
	o.last = &final
	o.current = nil
	r.handle.result = final
	o.mu.Unlock()
	close(r.handle.done)
}
