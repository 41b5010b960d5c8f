package models

import "time"

// RunStatus is the lifecycle status of a run as a whole.
type RunStatus string

// RunStatus values. Idle is both the initial state and the state re-entered
// after any terminal outcome.
const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known run status.
func (s RunStatus) IsValid() bool {
	return s == RunIdle || s == RunRunning || s.IsTerminal()
}

// Run is one invocation of the orchestrator for one user request.
type Run struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	Request        string     `json:"request"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CompletedSteps int        `json:"completed_steps"`
	FailedStep     string     `json:"failed_step,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// CreateRunRequest contains fields for persisting a new run.
type CreateRunRequest struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	Request   string    `json:"request"`
	StartedAt time.Time `json:"started_at"`
}

// CompleteRunRequest contains the terminal fields of a run.
type CompleteRunRequest struct {
	Status         RunStatus `json:"status"`
	CompletedAt    time.Time `json:"completed_at"`
	CompletedSteps int       `json:"completed_steps"`
	FailedStep     string    `json:"failed_step,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// SessionSummary describes a chat session hosted by the process.
type SessionSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    RunStatus `json:"status"`
	Entries   int       `json:"entries"`
	LastRun   *Run      `json:"last_run,omitempty"`
}
