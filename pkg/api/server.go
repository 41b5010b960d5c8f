// Package api is the HTTP surface of the autodeploy server: session and run
// endpoints, NDJSON event streaming, the WebSocket endpoint and health.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/database"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/services"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
)

const (
	// maxBodyBytes caps every request body.
	maxBodyBytes = 1 << 20
	// maxMessageLength caps the text of a submitted message.
	maxMessageLength = 100_000
	// deleteDrainTimeout bounds how long DELETE waits for a cancelled run.
	deleteDrainTimeout = 5 * time.Second
)

// Server is the HTTP API server.
type Server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server

	sessions *session.Manager
	bus      *events.Bus

	// Optional; nil when persistence is disabled.
	dbClient        *database.Client
	runService      *services.RunService
	timelineService *services.TimelineService

	connManager *events.ConnectionManager
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg *config.Config, sessions *session.Manager, bus *events.Bus) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		bus:      bus,
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger(), securityHeaders(), bodyLimit(maxBodyBytes))
	s.setupRoutes()
	return s
}

// SetPersistence enables the run history endpoints and the database health check.
func (s *Server) SetPersistence(dbClient *database.Client, runService *services.RunService, timelineService *services.TimelineService) {
	s.dbClient = dbClient
	s.runService = runService
	s.timelineService = timelineService
}

// SetConnectionManager enables the WebSocket endpoint.
// Clients may only subscribe to the global channel and live sessions.
func (s *Server) SetConnectionManager(cm *events.ConnectionManager) {
	cm.SetChannelValidator(s.validateChannel)
	s.connManager = cm
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", handle(s.healthHandler))
	s.router.GET("/ws", handle(s.wsHandler))

	v1 := s.router.Group("/api/v1")
	v1.GET("/pipeline", handle(s.pipelineHandler))

	v1.POST("/sessions", handle(s.createSessionHandler))
	v1.GET("/sessions", handle(s.listSessionsHandler))
	v1.GET("/sessions/:id", handle(s.getSessionHandler))
	v1.DELETE("/sessions/:id", handle(s.deleteSessionHandler))

	v1.POST("/sessions/:id/messages", handle(s.submitMessageHandler))
	v1.POST("/sessions/:id/cancel", handle(s.cancelRunHandler))
	v1.GET("/sessions/:id/steps", handle(s.getStepsHandler))
	v1.GET("/sessions/:id/entries", handle(s.getEntriesHandler))
	v1.GET("/sessions/:id/stream", handle(s.streamHandler))
	v1.GET("/sessions/:id/runs", handle(s.listRunsHandler))

	v1.GET("/runs/:id", handle(s.getRunHandler))
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
