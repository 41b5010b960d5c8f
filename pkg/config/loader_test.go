package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))
	return dir
}

func TestInitializeWithoutFileUsesBuiltinPipeline(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, SourceBuiltin, cfg.Source())
	require.Len(t, cfg.Pipeline.Steps, 4)
	labels := make([]string, 0, 4)
	for _, s := range cfg.Pipeline.Steps {
		labels = append(labels, s.Label)
	}
	assert.Equal(t, []string{"Analyze Request", "Generate Architecture", "Write Code", "Deploy to Edge"}, labels)

	assert.Equal(t, DefaultOrchestratorConfig(), cfg.Orchestrator)
	assert.Equal(t, DefaultSessionsConfig(), cfg.Sessions)
	assert.Equal(t, DefaultRetentionConfig(), cfg.Retention)
	assert.Nil(t, cfg.AllowedWSOrigins)

	stats := cfg.Stats()
	assert.Equal(t, 4, stats.Steps)
	assert.Equal(t, 4, stats.DelaySteps)
	assert.Zero(t, stats.RemoteSteps)
}

func TestInitializeFromFile(t *testing.T) {
	t.Setenv("TEST_STEPD_ADDR", "stepd.internal:9090")
	dir := writeConfig(t, `
system:
  allowed_ws_origins: ["https://chat.example.com"]
  retention:
    event_ttl: 30m
pipeline:
  steps:
    - id: analyze
      label: Analyze Request
      delay: 10ms
      narration:
        - content: Looked at the request.
    - id: deploy
      label: Deploy to Edge
      worker: grpc
      timeout: 45s
orchestrator:
  step_timeout: 2m
workers:
  grpc:
    address: "{{.TEST_STEPD_ADDR}}"
sessions:
  max_sessions: 3
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, SourceFile, cfg.Source())
	assert.Equal(t, dir, cfg.ConfigDir())
	require.Len(t, cfg.Pipeline.Steps, 2)

	analyze := cfg.Pipeline.Steps[0]
	assert.Equal(t, WorkerTypeDelay, analyze.Worker, "worker defaults to delay")
	assert.Equal(t, 10*time.Millisecond, analyze.Delay)
	require.Len(t, analyze.Narration, 1)
	assert.Equal(t, models.KindText, analyze.Narration[0].Kind, "narration kind defaults to text")

	deploy, err := cfg.GetStep("deploy")
	require.NoError(t, err)
	assert.Equal(t, WorkerTypeGRPC, deploy.Worker)
	assert.Equal(t, 45*time.Second, deploy.Timeout)

	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.StepTimeout)
	assert.Equal(t, DefaultOrchestratorConfig().SubscriberBuffer, cfg.Orchestrator.SubscriberBuffer, "unset fields keep defaults")

	assert.Equal(t, "stepd.internal:9090", cfg.Workers.GRPC.Address)
	assert.Equal(t, DefaultWorkersConfig().GRPC.Timeout, cfg.Workers.GRPC.Timeout)

	assert.Equal(t, 3, cfg.Sessions.MaxSessions)
	assert.Equal(t, DefaultSessionsConfig().IdleTTL, cfg.Sessions.IdleTTL)

	assert.Equal(t, 30*time.Minute, cfg.Retention.EventTTL)
	assert.Equal(t, DefaultRetentionConfig().RunRetentionDays, cfg.Retention.RunRetentionDays)

	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedWSOrigins)

	stats := cfg.Stats()
	assert.Equal(t, 1, stats.DelaySteps)
	assert.Equal(t, 1, stats.RemoteSteps)
}

func TestInitializeEmptyPipelineFallsBackToBuiltin(t *testing.T) {
	dir := writeConfig(t, "orchestrator:\n  history_limit: 10\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, SourceFile, cfg.Source())
	assert.Len(t, cfg.Pipeline.Steps, 4)
	assert.Equal(t, 10, cfg.Orchestrator.HistoryLimit)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "pipeline: [unclosed")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
	assert.True(t, errors.Is(err, ErrInvalidYAML))

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ConfigFileName, loadErr.File)
}

func TestInitializeValidationFailure(t *testing.T) {
	dir := writeConfig(t, `
pipeline:
  steps:
    - id: deploy
      label: Deploy
      worker: grpc
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.True(t, errors.Is(err, ErrMissingRequiredField))
}

func TestBuiltinPipelineIsFreshCopy(t *testing.T) {
	a := BuiltinPipeline()
	a.Steps[0].Label = "changed"

	b := BuiltinPipeline()
	assert.Equal(t, "Analyze Request", b.Steps[0].Label)
}

func TestBuiltinPipelineNarration(t *testing.T) {
	p := BuiltinPipeline()
	for _, step := range p.Steps {
		assert.NotEmpty(t, step.Narration, step.ID)
		assert.Positive(t, step.Delay, step.ID)
	}

	implement := p.Steps[2]
	require.Equal(t, "implement", implement.ID)
	var kinds []models.ContentKind
	for _, n := range implement.Narration {
		kinds = append(kinds, n.Kind)
	}
	assert.Contains(t, kinds, models.KindCode)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, NewValidator(cfg).ValidateAll())
	assert.Equal(t, SourceBuiltin, cfg.Source())
	assert.Len(t, cfg.Pipeline.Steps, 4)
}

func TestGetStepNotFound(t *testing.T) {
	_, err := Default().GetStep("missing")
	assert.ErrorIs(t, err, ErrStepNotFound)
}
