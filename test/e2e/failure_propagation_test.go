package e2e

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
)

func TestStepFailureEndsRun(t *testing.T) {
	var calls atomic.Int32
	flaky := pipeline.WorkerFunc(func(ctx context.Context, _ pipeline.StepContext) (pipeline.Outcome, error) {
		if calls.Add(1) == 1 {
			return pipeline.Outcome{}, errors.New("compiler exploded")
		}
		return pipeline.Outcome{Notes: []pipeline.Note{{Content: "code written", Kind: models.KindText}}}, nil
	})
	app := NewTestApp(t, WithDefinitions(definitions(t, map[string]pipeline.StepWorker{"implement": flaky})))
	ctx := context.Background()

	s, err := app.Client.CreateSession(ctx)
	require.NoError(t, err)
	ws := connectAndSubscribe(t, app, events.SessionChannel(s.ID))

	first, err := app.Client.Submit(ctx, s.ID, "build a todo app")
	require.NoError(t, err)
	final, err := ws.WaitForRunStatus(first.RunID, string(models.RunFailed), waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, "implement", final.Parsed["failed_step"])
	assert.Contains(t, final.Parsed["error"], "compiler exploded")

	failedStep, err := ws.WaitForEvent(func(e WSEvent) bool {
		return e.Type == events.EventTypeStepStatus && e.Parsed["status"] == string(models.StepFailed)
	}, waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, "implement", failedStep.Parsed["step_id"])

	steps, err := app.Client.Steps(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.StepStatus{
		models.StepCompleted, models.StepCompleted, models.StepFailed, models.StepPending,
	}, stepStatuses(steps.Steps))

	// A retry starts from a fresh step list and succeeds.
	second, err := app.Client.Submit(ctx, s.ID, "build a todo app")
	require.NoError(t, err)
	_, err = ws.WaitForRunStatus(second.RunID, string(models.RunSucceeded), waitTimeout)
	require.NoError(t, err)

	runs, err := app.Client.Runs(ctx, s.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].ID, "newest run first")
	assert.Equal(t, models.RunFailed, runs[1].Status)
	assert.Equal(t, "implement", runs[1].FailedStep)
}
