package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogSpanProcessor writes finished run and step spans to a slog logger.
type LogSpanProcessor struct {
	logger *slog.Logger
}

var _ sdktrace.SpanProcessor = (*LogSpanProcessor)(nil)

// NewLogSpanProcessor returns a processor logging through logger, or through
// slog.Default when logger is nil.
func NewLogSpanProcessor(logger *slog.Logger) *LogSpanProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSpanProcessor{logger: logger}
}

// NewTracerProvider builds a provider whose spans end up in logger.
func NewTracerProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewLogSpanProcessor(logger)))
}

func (p *LogSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *LogSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	attrs := span.Attributes()
	args := []any{
		"span", span.Name(),
		"trace_id", span.SpanContext().TraceID().String(),
		"duration", span.EndTime().Sub(span.StartTime()),
		"outcome", attributeValue(attrs, OutcomeKey),
	}

	level := slog.LevelDebug
	msg := "Step span ended"
	if !span.Parent().IsValid() {
		msg = "Run span ended"
		args = append(args,
			"session_id", attributeValue(attrs, SessionIDKey),
			"run_id", attributeValue(attrs, RunIDKey))
	} else {
		args = append(args,
			"step_id", attributeValue(attrs, StepIDKey),
			"step_label", attributeValue(attrs, StepLabelKey))
	}
	if status := span.Status(); status.Code == codes.Error {
		level = slog.LevelWarn
		args = append(args, "error", status.Description)
	}
	p.logger.Log(context.Background(), level, msg, args...)
}

func (p *LogSpanProcessor) Shutdown(context.Context) error { return nil }

func (p *LogSpanProcessor) ForceFlush(context.Context) error { return nil }

func attributeValue(attrs []attribute.KeyValue, key string) string {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}
