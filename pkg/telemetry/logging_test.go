package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestLogSpanProcessorLogsRunAndSteps(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	provider := NewTracerProvider(logger)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	op, err := EmitPlan(context.Background(), provider.Tracer(TracerName), "pipeline.run", Plan{Steps: []PlannedStep{
		{ID: "analyze", Label: "Analyze Request"},
		{ID: "deploy", Label: "Deploy to Edge"},
	}}, attribute.String(SessionIDKey, "sess-1"), attribute.String(RunIDKey, "run-1"))
	require.NoError(t, err)

	require.NoError(t, op.RunStep(op.Context(), "analyze", "Analyze Request", 0, func(context.Context) error { return nil }))
	stepErr := errors.New("edge unreachable")
	require.ErrorIs(t, op.RunStep(op.Context(), "deploy", "Deploy to Edge", 1, func(context.Context) error { return stepErr }), stepErr)
	op.End(stepErr)

	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 3)

	assert.Equal(t, "Step span ended", records[0]["msg"])
	assert.Equal(t, "DEBUG", records[0]["level"])
	assert.Equal(t, "analyze", records[0]["step_id"])
	assert.Equal(t, "completed", records[0]["outcome"])

	assert.Equal(t, "WARN", records[1]["level"])
	assert.Equal(t, "Deploy to Edge", records[1]["step_label"])
	assert.Equal(t, "edge unreachable", records[1]["error"])

	assert.Equal(t, "Run span ended", records[2]["msg"])
	assert.Equal(t, "sess-1", records[2]["session_id"])
	assert.Equal(t, "run-1", records[2]["run_id"])
	assert.Equal(t, "failed", records[2]["outcome"])
}
