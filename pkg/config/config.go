package config

// Config is the umbrella configuration object returned by Initialize and
// shared by the server components.
type Config struct {
	configDir string
	source    string // "file" or "builtin"

	// Pipeline is the ordered step list every session runs.
	Pipeline *PipelineConfig

	Orchestrator *OrchestratorConfig
	Workers      *WorkersConfig
	Sessions     *SessionsConfig
	Retention    *RetentionConfig

	// AllowedWSOrigins lists additional WebSocket origin patterns.
	AllowedWSOrigins []string
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Steps       int
	DelaySteps  int
	RemoteSteps int
}

// Stats returns configuration statistics for logging
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Pipeline == nil {
		return s
	}
	s.Steps = len(c.Pipeline.Steps)
	for _, step := range c.Pipeline.Steps {
		switch step.Worker {
		case WorkerTypeGRPC:
			s.RemoteSteps++
		default:
			s.DelaySteps++
		}
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Source reports whether the pipeline came from autodeploy.yaml or the
// built-in defaults.
func (c *Config) Source() string {
	return c.source
}

// GetStep returns the step configuration with the given ID.
func (c *Config) GetStep(id string) (*StepConfig, error) {
	for i := range c.Pipeline.Steps {
		if c.Pipeline.Steps[i].ID == id {
			return &c.Pipeline.Steps[i], nil
		}
	}
	return nil, ErrStepNotFound
}
