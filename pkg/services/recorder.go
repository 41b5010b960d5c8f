package services

import (
	"context"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// Recorder persists the stream a run publishes: the run row on start and
// finish, every step transition and every timeline entry. It implements
// events.Publisher so it can sit next to the live publishers in a
// MultiPublisher.
type Recorder struct {
	runs     *RunService
	timeline *TimelineService
}

var _ events.Publisher = (*Recorder)(nil)

// NewRecorder creates a Recorder writing through the given services.
func NewRecorder(runs *RunService, timeline *TimelineService) *Recorder {
	return &Recorder{runs: runs, timeline: timeline}
}

// PublishRunStatus creates the run when it starts and completes it when it
// reaches a terminal status.
func (r *Recorder) PublishRunStatus(ctx context.Context, sessionID string, p events.RunStatusPayload) error {
	at := parseTimestamp(p.Timestamp)
	switch {
	case p.Status == models.RunRunning:
		_, err := r.runs.CreateRun(ctx, models.CreateRunRequest{
			RunID:     p.RunID,
			SessionID: sessionID,
			Request:   p.Request,
			StartedAt: at,
		})
		return err
	case p.Status.IsTerminal():
		return r.runs.CompleteRun(ctx, p.RunID, models.CompleteRunRequest{
			Status:         p.Status,
			CompletedAt:    at,
			CompletedSteps: p.CompletedSteps,
			FailedStep:     p.FailedStep,
			Error:          p.Error,
		})
	default:
		return nil
	}
}

// PublishStepStatus records a step transition.
func (r *Recorder) PublishStepStatus(ctx context.Context, sessionID string, p events.StepStatusPayload) error {
	return r.runs.RecordStepTransition(ctx, models.CreateStepTransitionRequest{
		RunID:     p.RunID,
		SessionID: sessionID,
		StepID:    p.StepID,
		StepLabel: p.StepLabel,
		StepIndex: p.StepIndex,
		Status:    p.Status,
		Error:     p.Error,
		CreatedAt: parseTimestamp(p.Timestamp),
	})
}

// PublishEntryAppended records a timeline entry.
func (r *Recorder) PublishEntryAppended(ctx context.Context, sessionID string, p events.EntryAppendedPayload) error {
	return r.timeline.CreateEntry(ctx, models.CreateTimelineEntryRequest{
		SessionID: sessionID,
		Entry: models.Entry{
			ID:        p.EntryID,
			Sequence:  p.Sequence,
			Origin:    p.Origin,
			Content:   p.Content,
			Kind:      p.Kind,
			CreatedAt: parseTimestamp(p.Timestamp),
			RunID:     p.RunID,
			StepID:    p.StepID,
		},
	})
}

// PublishSessionLifecycle is a no-op: sessions live in memory only.
func (r *Recorder) PublishSessionLifecycle(context.Context, events.SessionLifecyclePayload) error {
	return nil
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Now()
}
