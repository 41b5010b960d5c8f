package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// ConfigFileName is the file Initialize looks for in the config directory.
const ConfigFileName = "autodeploy.yaml"

// Config sources reported by Config.Source.
const (
	SourceFile    = "file"
	SourceBuiltin = "builtin"
)

// AutodeployYAMLConfig represents the complete autodeploy.yaml file structure
type AutodeployYAMLConfig struct {
	System       *SystemYAMLConfig   `yaml:"system"`
	Pipeline     *PipelineConfig     `yaml:"pipeline"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`
	Workers      *WorkersConfig      `yaml:"workers"`
	Sessions     *SessionsConfig     `yaml:"sessions"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	AllowedWSOrigins []string         `yaml:"allowed_ws_origins"`
	Retention        *RetentionConfig `yaml:"retention"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load autodeploy.yaml from configDir (built-in pipeline if absent)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user sections over built-in defaults
//  5. Apply step defaults
//  6. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"source", cfg.source,
		"steps", stats.Steps,
		"delay_steps", stats.DelaySteps,
		"remote_steps", stats.RemoteSteps)

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	cfg, err := resolve("", &AutodeployYAMLConfig{})
	if err != nil {
		// Merging into empty sections cannot fail.
		panic(err)
	}
	cfg.source = SourceBuiltin
	return cfg
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	source := SourceFile
	yamlCfg, err := loader.loadAutodeployYAML()
	switch {
	case errors.Is(err, ErrConfigNotFound):
		slog.Info("No configuration file found, using built-in pipeline",
			"file", filepath.Join(configDir, ConfigFileName))
		yamlCfg = &AutodeployYAMLConfig{}
		source = SourceBuiltin
	case err != nil:
		return nil, NewLoadError(ConfigFileName, err)
	}

	cfg, err := resolve(configDir, yamlCfg)
	if err != nil {
		return nil, err
	}
	cfg.source = source
	return cfg, nil
}

// resolve merges a parsed file over the built-in defaults.
func resolve(configDir string, y *AutodeployYAMLConfig) (*Config, error) {
	pipeline := y.Pipeline
	if pipeline == nil || len(pipeline.Steps) == 0 {
		pipeline = BuiltinPipeline()
	}
	applyStepDefaults(pipeline)

	orchestrator := DefaultOrchestratorConfig()
	if y.Orchestrator != nil {
		if err := mergo.Merge(orchestrator, y.Orchestrator, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge orchestrator config: %w", err)
		}
	}

	workers := DefaultWorkersConfig()
	if y.Workers != nil {
		if err := mergo.Merge(workers, y.Workers, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge workers config: %w", err)
		}
	}

	sessions := DefaultSessionsConfig()
	if y.Sessions != nil {
		if err := mergo.Merge(sessions, y.Sessions, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge sessions config: %w", err)
		}
	}

	retention, err := resolveRetentionConfig(y.System)
	if err != nil {
		return nil, err
	}

	return &Config{
		configDir:        configDir,
		Pipeline:         pipeline,
		Orchestrator:     orchestrator,
		Workers:          workers,
		Sessions:         sessions,
		Retention:        retention,
		AllowedWSOrigins: resolveAllowedWSOrigins(y.System),
	}, nil
}

// applyStepDefaults fills the worker type and narration kind when omitted.
func applyStepDefaults(p *PipelineConfig) {
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Worker == "" {
			step.Worker = WorkerTypeDelay
		}
		for j := range step.Narration {
			if step.Narration[j].Kind == "" {
				step.Narration[j].Kind = models.KindText
			}
		}
	}
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadAutodeployYAML() (*AutodeployYAMLConfig, error) {
	var config AutodeployYAMLConfig
	if err := l.loadYAML(ConfigFileName, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// resolveRetentionConfig resolves retention configuration from system YAML, applying defaults.
func resolveRetentionConfig(sys *SystemYAMLConfig) (*RetentionConfig, error) {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg, nil
	}

	if err := mergo.Merge(cfg, sys.Retention, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge retention config: %w", err)
	}
	return cfg, nil
}

// resolveAllowedWSOrigins returns additional WebSocket origin patterns from system YAML.
func resolveAllowedWSOrigins(sys *SystemYAMLConfig) []string {
	if sys != nil {
		return sys.AllowedWSOrigins
	}
	return nil
}
