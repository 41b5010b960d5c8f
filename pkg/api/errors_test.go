package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/services"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        services.NewValidationError("text", "missing field"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "missing field",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", services.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "unknown session maps to 404",
			err:        session.ErrNotFound,
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "already exists maps to 409",
			err:        fmt.Errorf("wrapped: %w", services.ErrAlreadyExists),
			expectCode: http.StatusConflict,
			expectMsg:  "resource already exists",
		},
		{
			name:       "session cap maps to 429",
			err:        session.ErrTooManySessions,
			expectCode: http.StatusTooManyRequests,
			expectMsg:  "session limit reached",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}

func TestMapOrchestratorError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
	}{
		{name: "busy", err: pipeline.ErrBusy, expectCode: http.StatusConflict},
		{name: "not running", err: pipeline.ErrNotRunning, expectCode: http.StatusConflict},
		{name: "empty request", err: pipeline.ErrEmptyRequest, expectCode: http.StatusBadRequest},
		{name: "falls through to service mapping", err: session.ErrNotFound, expectCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectCode, mapOrchestratorError(tt.err).Code)
		})
	}
}
