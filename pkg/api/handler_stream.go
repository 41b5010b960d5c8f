package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
)

// streamErrorType is the type of the final line written when the stream is
// cut by the server. Clients reconnect with after set to the last event_seq.
const streamErrorType = "stream.error"

// streamHandler handles GET /api/v1/sessions/:id/stream?after=N.
//
// The response is NDJSON: one event payload per line, in publish order.
// Without after only new events are sent; with after, retained events with a
// greater event_seq are replayed first. Headers are flushed as soon as the
// subscription is live, so a client may submit once the response arrives
// without missing events.
func (s *Server) streamHandler(c *gin.Context) error {
	sessionID := c.Param("id")
	if _, err := s.sessions.Get(sessionID); err != nil {
		return mapServiceError(err)
	}

	after := int64(-1)
	if v := c.Query("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return NewHTTPError(http.StatusBadRequest, "invalid after: must be a non-negative integer")
		}
		after = n
	}

	missed, sub := s.bus.SubscribeSince(events.SessionChannel(sessionID), after)
	defer sub.Close()

	w := c.Writer
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for _, ev := range missed {
		if err := writeLine(w, ev.Payload); err != nil {
			return nil
		}
	}
	w.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					line, _ := json.Marshal(gin.H{"type": streamErrorType, "error": err.Error()})
					_ = writeLine(w, line)
					w.Flush()
				}
				return nil
			}
			if err := writeLine(w, ev.Payload); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeLine(w io.Writer, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}
