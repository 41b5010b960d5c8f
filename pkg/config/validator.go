package config

import (
	"fmt"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validatePipeline(); err != nil {
		return fmt.Errorf("pipeline validation failed: %w", err)
	}

	if err := v.validateWorkers(); err != nil {
		return fmt.Errorf("worker validation failed: %w", err)
	}

	if err := v.validateOrchestrator(); err != nil {
		return fmt.Errorf("orchestrator validation failed: %w", err)
	}

	if err := v.validateSessions(); err != nil {
		return fmt.Errorf("sessions validation failed: %w", err)
	}

	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validatePipeline() error {
	if v.cfg.Pipeline == nil || len(v.cfg.Pipeline.Steps) == 0 {
		return NewValidationError("pipeline", "steps", "", fmt.Errorf("%w: at least one step required", ErrMissingRequiredField))
	}

	seen := make(map[string]int, len(v.cfg.Pipeline.Steps))
	for i, step := range v.cfg.Pipeline.Steps {
		if step.ID == "" {
			return NewValidationError("step", fmt.Sprintf("#%d", i), "id", ErrMissingRequiredField)
		}
		if prev, dup := seen[step.ID]; dup {
			return NewValidationError("step", step.ID, "id", fmt.Errorf("%w: duplicate of step #%d", ErrInvalidValue, prev))
		}
		seen[step.ID] = i

		if step.Label == "" {
			return NewValidationError("step", step.ID, "label", ErrMissingRequiredField)
		}
		if !step.Worker.IsValid() {
			return NewValidationError("step", step.ID, "worker", fmt.Errorf("%w: %q", ErrInvalidValue, step.Worker))
		}
		if step.Delay < 0 {
			return NewValidationError("step", step.ID, "delay", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
		if step.Timeout < 0 {
			return NewValidationError("step", step.ID, "timeout", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
		for j, n := range step.Narration {
			if n.Content == "" {
				return NewValidationError("step", step.ID, fmt.Sprintf("narration[%d].content", j), ErrMissingRequiredField)
			}
			if !n.Kind.IsValid() {
				return NewValidationError("step", step.ID, fmt.Sprintf("narration[%d].kind", j), fmt.Errorf("%w: %q", ErrInvalidValue, n.Kind))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateWorkers() error {
	usesGRPC := false
	for _, step := range v.cfg.Pipeline.Steps {
		if step.Worker == WorkerTypeGRPC {
			usesGRPC = true
			break
		}
	}
	if !usesGRPC {
		return nil
	}

	g := v.cfg.Workers.GRPC
	if g == nil || g.Address == "" {
		return NewValidationError("workers", "grpc", "address", fmt.Errorf("%w: required when a step uses the grpc worker", ErrMissingRequiredField))
	}
	if g.Timeout <= 0 {
		return NewValidationError("workers", "grpc", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateOrchestrator() error {
	o := v.cfg.Orchestrator
	if o.StepTimeout <= 0 {
		return NewValidationError("orchestrator", "orchestrator", "step_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if o.SubscriberBuffer < 1 {
		return NewValidationError("orchestrator", "orchestrator", "subscriber_buffer", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if o.HistoryLimit < 0 {
		return NewValidationError("orchestrator", "orchestrator", "history_limit", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if o.ShutdownTimeout <= 0 {
		return NewValidationError("orchestrator", "orchestrator", "shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateSessions() error {
	s := v.cfg.Sessions
	if s.MaxSessions < 1 {
		return NewValidationError("sessions", "sessions", "max_sessions", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.IdleTTL < 0 {
		return NewValidationError("sessions", "sessions", "idle_ttl", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if r.RunRetentionDays < 1 {
		return NewValidationError("retention", "retention", "run_retention_days", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.EventTTL <= 0 {
		return NewValidationError("retention", "retention", "event_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "retention", "cleanup_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}
