// Package telemetry wraps pipeline runs and steps in OpenTelemetry spans.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names and attribute keys shared by the run and step spans.
const (
	TracerName     = "github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
	PlanEventName  = "autodeploy.plan"
	PlanVersion    = "1"
	PlanVersionKey = "autodeploy.plan.version"
	PlanJSONKey    = "autodeploy.plan.json"

	// Span attribute keys.
	SessionIDKey = "autodeploy.session_id"
	RunIDKey     = "autodeploy.run_id"
	StepIDKey    = "autodeploy.step.id"
	StepIndexKey = "autodeploy.step.index"
	StepLabelKey = "autodeploy.step.label"
	OutcomeKey   = "autodeploy.outcome"

	defaultOperation = "pipeline.run"
)

// PlannedStep is one step announced on the run span before it starts.
type PlannedStep struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Plan lists the steps a run intends to execute, in order.
type Plan struct {
	Steps []PlannedStep `json:"steps"`
}

// Operation is the root span of one run.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// DefaultTracer returns the tracer from the global provider. It is a no-op
// until the binary installs a provider.
func DefaultTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// EmitPlan starts the root span and records the planned steps on it.
func EmitPlan(ctx context.Context, tracer trace.Tracer, operation string, plan Plan, attrs ...attribute.KeyValue) (*Operation, error) {
	if tracer == nil {
		return nil, fmt.Errorf("emit telemetry plan: tracer is required")
	}
	if err := validatePlan(plan); err != nil {
		return nil, fmt.Errorf("emit telemetry plan: %w", err)
	}

	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = defaultOperation
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("emit telemetry plan: marshal plan: %w", err)
	}

	spanAttrs := append([]attribute.KeyValue{
		attribute.String(PlanVersionKey, PlanVersion),
		attribute.Int("autodeploy.plan.steps", len(plan.Steps)),
	}, attrs...)
	spanCtx, span := tracer.Start(ctx, operation, trace.WithAttributes(spanAttrs...))
	span.AddEvent(PlanEventName, trace.WithAttributes(
		attribute.String(PlanVersionKey, PlanVersion),
		attribute.String(PlanJSONKey, string(planJSON)),
	))

	return &Operation{ctx: spanCtx, tracer: tracer, span: span}, nil
}

// Context returns the context carrying the run span.
func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// RunStep runs fn inside a child span named after the step.
func (o *Operation) RunStep(ctx context.Context, id, label string, index int, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}

	stepID := strings.TrimSpace(id)
	if stepID == "" {
		return fmt.Errorf("run telemetry step: step id is required")
	}
	if o == nil || o.tracer == nil {
		return fn(ctx)
	}
	if ctx == nil {
		ctx = o.ctx
	}

	stepCtx, span := o.tracer.Start(ctx, stepID, trace.WithAttributes(
		attribute.String(StepIDKey, stepID),
		attribute.String(StepLabelKey, label),
		attribute.Int(StepIndexKey, index),
	))
	defer span.End()

	err := fn(stepCtx)
	recordOutcome(span, err)
	return err
}

// End finishes the root span.
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	recordOutcome(o.span, err)
	o.span.End()
}

func recordOutcome(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetAttributes(attribute.String(OutcomeKey, "completed"))
	case errors.Is(err, context.Canceled):
		// Deliberate aborts are not errors.
		span.SetAttributes(attribute.String(OutcomeKey, "cancelled"))
	default:
		span.SetAttributes(attribute.String(OutcomeKey, "failed"))
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
}

func validatePlan(plan Plan) error {
	seen := make(map[string]struct{}, len(plan.Steps))
	for i, step := range plan.Steps {
		stepID := strings.TrimSpace(step.ID)
		if stepID == "" {
			return fmt.Errorf("step %d has empty id", i)
		}
		if _, exists := seen[stepID]; exists {
			return fmt.Errorf("duplicate step id %q", stepID)
		}
		seen[stepID] = struct{}{}
	}
	return nil
}
