package config

import (
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// WorkerType selects how a step's work is performed.
type WorkerType string

const (
	// WorkerTypeDelay waits a fixed delay and emits canned narration.
	WorkerTypeDelay WorkerType = "delay"
	// WorkerTypeGRPC calls a remote step service.
	WorkerTypeGRPC WorkerType = "grpc"
)

// IsValid checks if the worker type is valid
func (w WorkerType) IsValid() bool {
	switch w {
	case WorkerTypeDelay, WorkerTypeGRPC:
		return true
	default:
		return false
	}
}

// PipelineConfig is the fixed step list.
type PipelineConfig struct {
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig defines one pipeline step.
type StepConfig struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`

	// Worker defaults to "delay" when empty.
	Worker WorkerType `yaml:"worker,omitempty"`

	// Delay is the simulated work time of a delay worker.
	Delay time.Duration `yaml:"delay,omitempty"`

	// Timeout overrides orchestrator.step_timeout for this step.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Narration is emitted by a delay worker after the delay elapses.
	Narration []NarrationConfig `yaml:"narration,omitempty"`
}

// NarrationConfig is one canned narration entry.
type NarrationConfig struct {
	Content string             `yaml:"content"`
	Kind    models.ContentKind `yaml:"kind,omitempty"`
}

// OrchestratorConfig controls run execution and event fan-out.
type OrchestratorConfig struct {
	// StepTimeout bounds a step whose own timeout is unset.
	StepTimeout time.Duration `yaml:"step_timeout"`

	// SubscriberBuffer is the per-subscriber event buffer of the bus.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// HistoryLimit is the number of events kept per channel for catchup.
	HistoryLimit int `yaml:"history_limit"`

	// ShutdownTimeout is how long shutdown waits for active runs.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultOrchestratorConfig returns the built-in orchestrator defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		StepTimeout:      5 * time.Minute,
		SubscriberBuffer: 256,
		HistoryLimit:     500,
		ShutdownTimeout:  30 * time.Second,
	}
}

// WorkersConfig holds settings shared by remote workers.
type WorkersConfig struct {
	GRPC *GRPCWorkerConfig `yaml:"grpc"`
}

// GRPCWorkerConfig configures the remote step service client.
type GRPCWorkerConfig struct {
	// Address of the step service, host:port. Required when any step uses
	// the grpc worker.
	Address string `yaml:"address"`

	// Timeout bounds a single remote call.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultWorkersConfig returns the built-in worker defaults.
func DefaultWorkersConfig() *WorkersConfig {
	return &WorkersConfig{
		GRPC: &GRPCWorkerConfig{
			Timeout: 2 * time.Minute,
		},
	}
}

// SessionsConfig limits the chat sessions hosted by one process.
type SessionsConfig struct {
	// MaxSessions caps concurrently hosted sessions.
	MaxSessions int `yaml:"max_sessions"`

	// IdleTTL evicts sessions with no activity for this long. Zero disables
	// eviction.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// DefaultSessionsConfig returns the built-in session defaults.
func DefaultSessionsConfig() *SessionsConfig {
	return &SessionsConfig{
		MaxSessions: 100,
		IdleTTL:     24 * time.Hour,
	}
}
