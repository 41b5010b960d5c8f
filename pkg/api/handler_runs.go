package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// listRunsHandler handles GET /api/v1/sessions/:id/runs?limit=N.
func (s *Server) listRunsHandler(c *gin.Context) error {
	if s.runService == nil {
		return NewHTTPError(http.StatusServiceUnavailable, "run history requires persistence")
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return NewHTTPError(http.StatusBadRequest, "invalid limit: must be between 1 and 500")
		}
		limit = n
	}

	runs, err := s.runService.ListRuns(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		return mapServiceError(err)
	}
	c.JSON(http.StatusOK, RunListResponse{Runs: runs})
	return nil
}

// getRunHandler handles GET /api/v1/runs/:id.
func (s *Server) getRunHandler(c *gin.Context) error {
	if s.runService == nil || s.timelineService == nil {
		return NewHTTPError(http.StatusServiceUnavailable, "run history requires persistence")
	}
	ctx := c.Request.Context()
	runID := c.Param("id")

	run, err := s.runService.GetRun(ctx, runID)
	if err != nil {
		return mapServiceError(err)
	}
	transitions, err := s.runService.GetStepTransitions(ctx, runID)
	if err != nil {
		return mapServiceError(err)
	}
	entries, err := s.timelineService.GetRunEntries(ctx, runID)
	if err != nil {
		return mapServiceError(err)
	}

	c.JSON(http.StatusOK, RunDetailResponse{Run: run, Transitions: transitions, Entries: entries})
	return nil
}
