package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/database"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only the server's own components are checked; a remote step service being
// down does not make the server unhealthy.
func (s *Server) healthHandler(c *gin.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]HealthCheck{
		"sessions": {Status: healthStatusHealthy},
	}
	status := healthStatusHealthy

	var dbHealth *database.HealthStatus
	if s.dbClient != nil {
		var err error
		dbHealth, err = database.Health(reqCtx, s.dbClient.DB())
		switch {
		case err != nil:
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		case dbHealth.SchemaDirty:
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: "schema migration left dirty"}
		default:
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	stats := s.cfg.Stats()
	c.JSON(httpStatus, HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
		Configuration: ConfigurationStats{
			Source:      s.cfg.Source(),
			Steps:       stats.Steps,
			DelaySteps:  stats.DelaySteps,
			RemoteSteps: stats.RemoteSteps,
		},
		Sessions: s.sessions.Len(),
		Database: dbHealth,
	})
	return nil
}
