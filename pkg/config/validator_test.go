package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

func TestValidatorAcceptsDefaults(t *testing.T) {
	assert.NoError(t, NewValidator(Default()).ValidateAll())
}

func TestValidatorRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr error
		field   string
	}{
		{
			name:    "no steps",
			mutate:  func(cfg *Config) { cfg.Pipeline.Steps = nil },
			wantErr: ErrMissingRequiredField,
		},
		{
			name:    "empty step id",
			mutate:  func(cfg *Config) { cfg.Pipeline.Steps[1].ID = "" },
			wantErr: ErrMissingRequiredField,
			field:   "id",
		},
		{
			name:    "duplicate step id",
			mutate:  func(cfg *Config) { cfg.Pipeline.Steps[2].ID = "analyze" },
			wantErr: ErrInvalidValue,
			field:   "id",
		},
		{
			name:    "missing label",
			mutate:  func(cfg *Config) { cfg.Pipeline.Steps[0].Label = "" },
			wantErr: ErrMissingRequiredField,
			field:   "label",
		},
		{
			name:    "unknown worker",
			mutate:  func(cfg *Config) { cfg.Pipeline.Steps[0].Worker = "lambda" },
			wantErr: ErrInvalidValue,
			field:   "worker",
		},
		{
			name:    "negative delay",
			mutate:  func(cfg *Config) { cfg.Pipeline.Steps[0].Delay = -time.Second },
			wantErr: ErrInvalidValue,
			field:   "delay",
		},
		{
			name:    "negative timeout",
			mutate:  func(cfg *Config) { cfg.Pipeline.Steps[3].Timeout = -time.Second },
			wantErr: ErrInvalidValue,
			field:   "timeout",
		},
		{
			name:    "empty narration",
			mutate:  func(cfg *Config) { cfg.Pipeline.Steps[0].Narration[0].Content = "" },
			wantErr: ErrMissingRequiredField,
			field:   "narration[0].content",
		},
		{
			name:    "unknown narration kind",
			mutate:  func(cfg *Config) { cfg.Pipeline.Steps[0].Narration[0].Kind = models.ContentKind("html") },
			wantErr: ErrInvalidValue,
			field:   "narration[0].kind",
		},
		{
			name:    "grpc step without address",
			mutate:  func(cfg *Config) { cfg.Pipeline.Steps[3].Worker = WorkerTypeGRPC },
			wantErr: ErrMissingRequiredField,
			field:   "address",
		},
		{
			name: "grpc step with zero timeout",
			mutate: func(cfg *Config) {
				cfg.Pipeline.Steps[3].Worker = WorkerTypeGRPC
				cfg.Workers.GRPC = &GRPCWorkerConfig{Address: "localhost:9090"}
			},
			wantErr: ErrInvalidValue,
			field:   "timeout",
		},
		{
			name:    "zero step timeout",
			mutate:  func(cfg *Config) { cfg.Orchestrator.StepTimeout = 0 },
			wantErr: ErrInvalidValue,
			field:   "step_timeout",
		},
		{
			name:    "zero subscriber buffer",
			mutate:  func(cfg *Config) { cfg.Orchestrator.SubscriberBuffer = 0 },
			wantErr: ErrInvalidValue,
			field:   "subscriber_buffer",
		},
		{
			name:    "negative history limit",
			mutate:  func(cfg *Config) { cfg.Orchestrator.HistoryLimit = -1 },
			wantErr: ErrInvalidValue,
			field:   "history_limit",
		},
		{
			name:    "zero max sessions",
			mutate:  func(cfg *Config) { cfg.Sessions.MaxSessions = 0 },
			wantErr: ErrInvalidValue,
			field:   "max_sessions",
		},
		{
			name:    "zero cleanup interval",
			mutate:  func(cfg *Config) { cfg.Retention.CleanupInterval = 0 },
			wantErr: ErrInvalidValue,
			field:   "cleanup_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.field != "" {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.field, vErr.Field)
			}
		})
	}
}

func TestValidatorGRPCStepWithAddress(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Steps[3].Worker = WorkerTypeGRPC
	cfg.Workers.GRPC.Address = "localhost:9090"

	assert.NoError(t, NewValidator(cfg).ValidateAll())
}
