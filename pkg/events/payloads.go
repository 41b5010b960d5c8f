package events

import (
	"context"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// EntryAppendedPayload is the payload for entry.appended events.
type EntryAppendedPayload struct {
	Type      string             `json:"type"` // always EventTypeEntryAppended
	SessionID string             `json:"session_id"`
	RunID     string             `json:"run_id,omitempty"`
	StepID    string             `json:"step_id,omitempty"`
	EntryID   string             `json:"entry_id"`
	Sequence  uint64             `json:"sequence"` // position in the session timeline
	Origin    models.Origin      `json:"origin"`
	Kind      models.ContentKind `json:"kind"`
	Content   string             `json:"content"`
	Timestamp string             `json:"timestamp"` // RFC3339Nano, entry creation time
}

// StepStatusPayload is the payload for step.status events.
type StepStatusPayload struct {
	Type      string            `json:"type"` // always EventTypeStepStatus
	SessionID string            `json:"session_id"`
	RunID     string            `json:"run_id"`
	StepID    string            `json:"step_id"`
	StepLabel string            `json:"step_label"`
	StepIndex int               `json:"step_index"` // 0-based
	Status    models.StepStatus `json:"status"`
	Error     string            `json:"error,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// RunStatusPayload is the payload for run.status events. Published once when
// the run starts and once when it reaches a terminal status.
type RunStatusPayload struct {
	Type           string           `json:"type"` // always EventTypeRunStatus
	SessionID      string           `json:"session_id"`
	RunID          string           `json:"run_id"`
	Request        string           `json:"request,omitempty"`
	Status         models.RunStatus `json:"status"`
	CompletedSteps int              `json:"completed_steps"`
	FailedStep     string           `json:"failed_step,omitempty"`
	Error          string           `json:"error,omitempty"`
	Timestamp      string           `json:"timestamp"`
}

// SessionLifecyclePayload is the payload for session.lifecycle events.
type SessionLifecyclePayload struct {
	Type      string `json:"type"` // always EventTypeSessionLifecycle
	SessionID string `json:"session_id"`
	Action    string `json:"action"` // created, deleted
	Timestamp string `json:"timestamp"`
}

// Publisher is implemented by every event sink: the in-process Bus, the
// PostgreSQL EventPublisher, the persistence recorder and MultiPublisher.
type Publisher interface {
	PublishEntryAppended(ctx context.Context, sessionID string, payload EntryAppendedPayload) error
	PublishStepStatus(ctx context.Context, sessionID string, payload StepStatusPayload) error
	PublishRunStatus(ctx context.Context, sessionID string, payload RunStatusPayload) error
	PublishSessionLifecycle(ctx context.Context, payload SessionLifecyclePayload) error
}

// NewEntryAppendedPayload builds the payload for a timeline entry.
func NewEntryAppendedPayload(sessionID string, e models.Entry) EntryAppendedPayload {
	return EntryAppendedPayload{
		Type:      EventTypeEntryAppended,
		SessionID: sessionID,
		RunID:     e.RunID,
		StepID:    e.StepID,
		EntryID:   e.ID,
		Sequence:  e.Sequence,
		Origin:    e.Origin,
		Kind:      e.Kind,
		Content:   e.Content,
		Timestamp: e.CreatedAt.Format(time.RFC3339Nano),
	}
}

// NewStepStatusPayload builds the payload for a step transition.
func NewStepStatusPayload(sessionID, runID string, step models.Step, cause error, at time.Time) StepStatusPayload {
	p := StepStatusPayload{
		Type:      EventTypeStepStatus,
		SessionID: sessionID,
		RunID:     runID,
		StepID:    step.ID,
		StepLabel: step.Label,
		StepIndex: step.Index,
		Status:    step.Status,
		Timestamp: at.Format(time.RFC3339Nano),
	}
	if cause != nil {
		p.Error = cause.Error()
	}
	return p
}

// NewRunStatusPayload builds the payload for a run status change.
func NewRunStatusPayload(sessionID string, run models.Run, at time.Time) RunStatusPayload {
	return RunStatusPayload{
		Type:           EventTypeRunStatus,
		SessionID:      sessionID,
		RunID:          run.ID,
		Request:        run.Request,
		Status:         run.Status,
		CompletedSteps: run.CompletedSteps,
		FailedStep:     run.FailedStep,
		Error:          run.Error,
		Timestamp:      at.Format(time.RFC3339Nano),
	}
}

// NewSessionLifecyclePayload builds a session.lifecycle payload.
func NewSessionLifecyclePayload(sessionID, action string, at time.Time) SessionLifecyclePayload {
	return SessionLifecyclePayload{
		Type:      EventTypeSessionLifecycle,
		SessionID: sessionID,
		Action:    action,
		Timestamp: at.Format(time.RFC3339Nano),
	}
}
