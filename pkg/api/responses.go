package api

import (
	"github.com/Littlefish319/autodeploy-agent-233/pkg/database"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionResponse is returned by POST /api/v1/sessions and GET /api/v1/sessions/:id.
type SessionResponse struct {
	models.SessionSummary
	Steps []models.Step `json:"steps"`
}

// SessionListResponse is returned by GET /api/v1/sessions.
type SessionListResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

// SubmitMessageResponse is returned by POST /api/v1/sessions/:id/messages.
type SubmitMessageResponse struct {
	SessionID string           `json:"session_id"`
	RunID     string           `json:"run_id"`
	Status    models.RunStatus `json:"status"`
}

// CancelResponse is returned by POST /api/v1/sessions/:id/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Message   string `json:"message"`
}

// StepsResponse is returned by GET /api/v1/sessions/:id/steps.
type StepsResponse struct {
	SessionID string           `json:"session_id"`
	Status    models.RunStatus `json:"status"`
	Steps     []models.Step    `json:"steps"`
}

// EntriesResponse is returned by GET /api/v1/sessions/:id/entries.
// Cursor is the sequence to pass as since on the next call.
type EntriesResponse struct {
	SessionID string         `json:"session_id"`
	Entries   []models.Entry `json:"entries"`
	Cursor    uint64         `json:"cursor"`
}

// RunListResponse is returned by GET /api/v1/sessions/:id/runs.
type RunListResponse struct {
	Runs []models.Run `json:"runs"`
}

// RunDetailResponse is returned by GET /api/v1/runs/:id.
type RunDetailResponse struct {
	Run         *models.Run             `json:"run"`
	Transitions []models.StepTransition `json:"transitions"`
	Entries     []models.Entry          `json:"entries"`
}

// PipelineResponse is returned by GET /api/v1/pipeline.
type PipelineResponse struct {
	Source string         `json:"source"`
	Steps  []PipelineStep `json:"steps"`
}

// PipelineStep describes one configured step.
type PipelineStep struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Worker  string `json:"worker"`
	Delay   string `json:"delay,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	Checks        map[string]HealthCheck `json:"checks"`
	Configuration ConfigurationStats     `json:"configuration"`
	Sessions      int                    `json:"sessions"`
	Database      *database.HealthStatus `json:"database,omitempty"`
}

// HealthCheck is the status of one component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigurationStats contains counts of loaded configuration items.
type ConfigurationStats struct {
	Source      string `json:"source"`
	Steps       int    `json:"steps"`
	DelaySteps  int    `json:"delay_steps"`
	RemoteSteps int    `json:"remote_steps"`
}
