package models

import "time"

// StepStatus is the lifecycle status of a single pipeline step.
type StepStatus string

// StepStatus values. Pending is initial; completed and failed are terminal.
const (
	StepPending   StepStatus = "pending"
	StepActive    StepStatus = "active"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// IsValid reports whether s is a known step status.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepActive, StepCompleted, StepFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed
}

// CanTransitionTo returns true if the status can move to target.
// The chain is strict: pending → active → {completed | failed}.
func (s StepStatus) CanTransitionTo(target StepStatus) bool {
	switch s {
	case StepPending:
		return target == StepActive
	case StepActive:
		return target == StepCompleted || target == StepFailed
	default:
		return false
	}
}

// Step is one named stage of the fixed pipeline.
type Step struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	Index  int        `json:"index"`
	Status StepStatus `json:"status"`
}

// CreateStepTransitionRequest contains fields for recording a step transition.
type CreateStepTransitionRequest struct {
	RunID     string     `json:"run_id"`
	SessionID string     `json:"session_id"`
	StepID    string     `json:"step_id"`
	StepLabel string     `json:"step_label"`
	StepIndex int        `json:"step_index"`
	Status    StepStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// StepTransition is a persisted step status change.
type StepTransition struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id"`
	SessionID string     `json:"session_id"`
	StepID    string     `json:"step_id"`
	StepLabel string     `json:"step_label"`
	StepIndex int        `json:"step_index"`
	Status    StepStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
