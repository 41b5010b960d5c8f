package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/services"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
)

// HTTPError is an error carrying the status code and client-facing message
// of an API response.
type HTTPError struct {
	Code    int
	Message string
}

// NewHTTPError creates an HTTPError.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{Code: code, Message: message}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// handlerFunc is a gin handler that reports failures by returning an error.
type handlerFunc func(c *gin.Context) error

// handle adapts h to gin. A returned *HTTPError is written as-is; any other
// error goes through mapServiceError.
func handle(h handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h(c)
		if err == nil {
			return
		}
		var he *HTTPError
		if !errors.As(err, &he) {
			he = mapServiceError(err)
		}
		c.AbortWithStatusJSON(he.Code, ErrorResponse{Error: he.Message})
	}
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) || errors.Is(err, session.ErrNotFound) {
		return NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, session.ErrTooManySessions) {
		return NewHTTPError(http.StatusTooManyRequests, "session limit reached")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// mapOrchestratorError maps run submission and cancellation errors.
func mapOrchestratorError(err error) *HTTPError {
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return NewHTTPError(http.StatusConflict, "a run is already in progress for this session")
	case errors.Is(err, pipeline.ErrNotRunning):
		return NewHTTPError(http.StatusConflict, "no run is in progress for this session")
	case errors.Is(err, pipeline.ErrEmptyRequest):
		return NewHTTPError(http.StatusBadRequest, "text is required")
	default:
		return mapServiceError(err)
	}
}
