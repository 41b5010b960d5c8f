package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/timeline"
)

// getEntriesHandler handles GET /api/v1/sessions/:id/entries?since=N.
// Live sessions are served from memory. With persistence enabled, sessions
// that are no longer hosted are served from the stored timeline.
func (s *Server) getEntriesHandler(c *gin.Context) error {
	sessionID := c.Param("id")

	var since uint64
	if v := c.Query("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return NewHTTPError(http.StatusBadRequest, "invalid since: must be a non-negative integer")
		}
		since = n
	}

	var entries []models.Entry
	sess, err := s.sessions.Get(sessionID)
	switch {
	case err == nil:
		entries = sess.Orchestrator().Timeline().CollectSince(timeline.Cursor(since))
	case errors.Is(err, session.ErrNotFound) && s.timelineService != nil:
		entries, err = s.timelineService.GetSessionEntries(c.Request.Context(), sessionID, since)
		if err != nil {
			return mapServiceError(err)
		}
		if len(entries) == 0 && since == 0 {
			return mapServiceError(session.ErrNotFound)
		}
	default:
		return mapServiceError(err)
	}

	cursor := since
	if n := len(entries); n > 0 {
		cursor = entries[n-1].Sequence
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	c.JSON(http.StatusOK, EntriesResponse{SessionID: sessionID, Entries: entries, Cursor: cursor})
	return nil
}
