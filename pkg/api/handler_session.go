package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *gin.Context) error {
	sess, err := s.sessions.Create(c.Request.Context())
	if err != nil {
		return mapServiceError(err)
	}
	c.JSON(http.StatusCreated, sessionResponse(sess))
	return nil
}

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *gin.Context) error {
	list := s.sessions.List()
	resp := SessionListResponse{Sessions: make([]models.SessionSummary, 0, len(list))}
	for _, sess := range list {
		resp.Sessions = append(resp.Sessions, sess.Summary())
	}
	c.JSON(http.StatusOK, resp)
	return nil
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	c.JSON(http.StatusOK, sessionResponse(sess))
	return nil
}

// deleteSessionHandler handles DELETE /api/v1/sessions/:id. An active run
// is cancelled; its final events are delivered before the session's stream
// channel is dropped.
func (s *Server) deleteSessionHandler(c *gin.Context) error {
	sessionID := c.Param("id")
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	active, running := sess.Orchestrator().Active()

	if err := s.sessions.Delete(c.Request.Context(), sessionID); err != nil {
		return mapServiceError(err)
	}
	if running {
		select {
		case <-active.Done():
		case <-time.After(deleteDrainTimeout):
		case <-c.Request.Context().Done():
		}
	}
	c.Status(http.StatusNoContent)
	return nil
}

// getStepsHandler handles GET /api/v1/sessions/:id/steps.
func (s *Server) getStepsHandler(c *gin.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	orch := sess.Orchestrator()
	c.JSON(http.StatusOK, StepsResponse{
		SessionID: sess.ID(),
		Status:    orch.Status(),
		Steps:     orch.CurrentSteps(),
	})
	return nil
}

func sessionResponse(sess *session.Session) SessionResponse {
	return SessionResponse{
		SessionSummary: sess.Summary(),
		Steps:          sess.Orchestrator().CurrentSteps(),
	}
}
