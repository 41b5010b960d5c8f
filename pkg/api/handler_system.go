package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// pipelineHandler handles GET /api/v1/pipeline.
func (s *Server) pipelineHandler(c *gin.Context) error {
	resp := PipelineResponse{
		Source: s.cfg.Source(),
		Steps:  make([]PipelineStep, 0, len(s.cfg.Pipeline.Steps)),
	}
	for _, step := range s.cfg.Pipeline.Steps {
		ps := PipelineStep{ID: step.ID, Label: step.Label, Worker: string(step.Worker)}
		if step.Delay > 0 {
			ps.Delay = step.Delay.String()
		}
		if step.Timeout > 0 {
			ps.Timeout = step.Timeout.String()
		}
		resp.Steps = append(resp.Steps, ps)
	}
	c.JSON(http.StatusOK, resp)
	return nil
}
