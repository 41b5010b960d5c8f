package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to ConnectionManager.
// Same-origin requests are always accepted; other origins must match one of
// the configured allowed_ws_origins patterns.
func (s *Server) wsHandler(c *gin.Context) error {
	if s.connManager == nil {
		return NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		// Accept has already written the error response.
		c.Abort()
		return nil
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request.Context(), conn)
	return nil
}

func (s *Server) validateChannel(channel string) error {
	if channel == events.GlobalSessionsChannel {
		return nil
	}
	id, ok := strings.CutPrefix(channel, events.SessionChannel(""))
	if !ok || id == "" {
		return fmt.Errorf("unknown channel %q", channel)
	}
	if _, err := s.sessions.Get(id); err != nil {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}
