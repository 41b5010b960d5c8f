package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// submitMessageHandler handles POST /api/v1/sessions/:id/messages.
// The run proceeds in the background; 202 carries its ID.
func (s *Server) submitMessageHandler(c *gin.Context) error {
	sessionID := c.Param("id")
	if _, err := s.sessions.Get(sessionID); err != nil {
		return mapServiceError(err)
	}

	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if len(req.Text) > maxMessageLength {
		return NewHTTPError(http.StatusBadRequest, "text exceeds maximum length of 100,000 characters")
	}

	h, err := s.sessions.Submit(c.Request.Context(), sessionID, req.Text)
	if err != nil {
		return mapOrchestratorError(err)
	}

	c.JSON(http.StatusAccepted, SubmitMessageResponse{
		SessionID: sessionID,
		RunID:     h.ID(),
		Status:    models.RunRunning,
	})
	return nil
}

// cancelRunHandler handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelRunHandler(c *gin.Context) error {
	sessionID := c.Param("id")
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	active, running := sess.Orchestrator().Active()
	if err := s.sessions.Cancel(sessionID); err != nil {
		return mapOrchestratorError(err)
	}
	var runID string
	if running {
		runID = active.ID()
	}

	c.JSON(http.StatusOK, CancelResponse{
		SessionID: sessionID,
		RunID:     runID,
		Message:   "Run cancellation requested",
	})
	return nil
}
