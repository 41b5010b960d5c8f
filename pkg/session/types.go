package session

import (
	"sync"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
)

// Session is one chat conversation: an orchestrator and the timeline it
// writes to.
type Session struct {
	id        string
	createdAt time.Time
	orch      *pipeline.Orchestrator

	mu           sync.Mutex // protects lastActivity
	lastActivity time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Orchestrator returns the orchestrator that runs this session's requests.
func (s *Session) Orchestrator() *pipeline.Orchestrator { return s.orch }

// LastActivity returns the time of the last submit or cancel.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// Summary returns a point-in-time description of the session.
func (s *Session) Summary() models.SessionSummary {
	sum := models.SessionSummary{
		ID:        s.id,
		CreatedAt: s.createdAt,
		Status:    s.orch.Status(),
		Entries:   s.orch.Timeline().Len(),
	}
	if h, ok := s.orch.Active(); ok {
		sum.LastRun = &models.Run{
			ID:        h.ID(),
			SessionID: s.id,
			Request:   h.Request(),
			Status:    models.RunRunning,
		}
	} else if res, ok := s.orch.LastResult(); ok {
		run := res.Run
		sum.LastRun = &run
	}
	return sum
}
