package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/services"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
	"github.com/Littlefish319/autodeploy-agent-233/test/util"
)

func testRetention() *config.RetentionConfig {
	return &config.RetentionConfig{
		RunRetentionDays: 30,
		EventTTL:         1 * time.Hour,
		CleanupInterval:  1 * time.Hour,
	}
}

func createFinishedRun(t *testing.T, runs *services.RunService, completedAt time.Time) string {
	t.Helper()
	ctx := context.Background()
	runID := uuid.New().String()
	_, err := runs.CreateRun(ctx, models.CreateRunRequest{
		RunID:     runID,
		SessionID: uuid.New().String(),
		Request:   "build a todo app",
		StartedAt: completedAt.Add(-time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, runs.CompleteRun(ctx, runID, models.CompleteRunRequest{
		Status:         models.RunSucceeded,
		CompletedAt:    completedAt,
		CompletedSteps: 4,
	}))
	return runID
}

func TestService_SoftDeletesOldRuns(t *testing.T) {
	db := util.SetupTestDatabase(t)
	runs := services.NewRunService(db.DB)
	ctx := context.Background()

	oldRun := createFinishedRun(t, runs, time.Now().Add(-40*24*time.Hour))
	recentRun := createFinishedRun(t, runs, time.Now().Add(-time.Hour))

	svc := NewService(testRetention(), runs, nil, nil)
	svc.runAll(ctx)

	_, err := runs.GetRun(ctx, oldRun)
	assert.ErrorIs(t, err, services.ErrNotFound)
	_, err = runs.GetRun(ctx, recentRun)
	assert.NoError(t, err)
}

func TestService_PreservesRunningRuns(t *testing.T) {
	db := util.SetupTestDatabase(t)
	runs := services.NewRunService(db.DB)
	ctx := context.Background()

	runID := uuid.New().String()
	_, err := runs.CreateRun(ctx, models.CreateRunRequest{
		RunID:     runID,
		SessionID: uuid.New().String(),
		Request:   "still deploying",
		StartedAt: time.Now().Add(-90 * 24 * time.Hour),
	})
	require.NoError(t, err)

	NewService(testRetention(), runs, nil, nil).runAll(ctx)

	run, err := runs.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, run.Status)
}

func TestService_CleansUpOldEvents(t *testing.T) {
	db := util.SetupTestDatabase(t)
	eventService := services.NewEventService(db.DB)
	ctx := context.Background()
	sessionID := uuid.New().String()

	_, err := db.DB.ExecContext(ctx,
		`INSERT INTO events (session_id, channel, payload, created_at) VALUES ($1, 'test', '{}', $2)`,
		sessionID, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = eventService.CreateEvent(ctx, models.CreateEventRequest{
		SessionID: sessionID,
		Channel:   "test",
		Payload:   map[string]any{},
	})
	require.NoError(t, err)

	NewService(testRetention(), nil, eventService, nil).runAll(ctx)

	events, err := eventService.GetEventsSince(ctx, "test", 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1, "old event should be deleted, recent event preserved")
}

func TestService_EvictsIdleSessions(t *testing.T) {
	now := time.Now()
	defs := []pipeline.StepDefinition{{
		ID:    "analyze",
		Label: "Analyze Request",
		Worker: pipeline.WorkerFunc(func(context.Context, pipeline.StepContext) (pipeline.Outcome, error) {
			return pipeline.Outcome{}, nil
		}),
	}}
	sessions := session.NewManager(defs, &config.SessionsConfig{MaxSessions: 10, IdleTTL: time.Hour},
		session.WithClock(func() time.Time { return now }))

	s, err := sessions.Create(context.Background())
	require.NoError(t, err)

	svc := NewService(testRetention(), nil, nil, sessions)
	svc.runAll(context.Background())
	assert.Equal(t, 1, sessions.Len(), "fresh session kept")

	now = now.Add(2 * time.Hour)
	svc.runAll(context.Background())
	_, err = sessions.Get(s.ID())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestService_StartStop(t *testing.T) {
	cfg := testRetention()
	cfg.CleanupInterval = 10 * time.Millisecond
	svc := NewService(cfg, nil, nil, nil)

	svc.Start(context.Background())
	svc.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	svc.Stop()
	svc.Stop()
}
