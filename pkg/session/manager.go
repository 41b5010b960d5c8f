// Package session hosts independent chat sessions in memory. Each session
// owns its own orchestrator and timeline; the step workers are shared.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
)

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session not found")
	// ErrTooManySessions is returned by Create when the session cap is reached.
	ErrTooManySessions = errors.New("too many sessions")
)

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets where run activity and session lifecycle events go.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// ChannelDropper forgets a session's event channel once the session is gone.
// *events.Bus implements it.
type ChannelDropper interface {
	DropChannel(channel string)
}

// WithChannelDropper sets where deleted sessions release their event channel.
func WithChannelDropper(d ChannelDropper) Option {
	return func(m *Manager) { m.channels = d }
}

// WithOrchestratorOptions adds options to every orchestrator the manager
// creates.
func WithOrchestratorOptions(opts ...pipeline.Option) Option {
	return func(m *Manager) { m.orchOpts = append(m.orchOpts, opts...) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides the session ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// Manager manages sessions in memory.
type Manager struct {
	defs      []pipeline.StepDefinition
	cfg       *config.SessionsConfig
	publisher events.Publisher
	channels  ChannelDropper
	orchOpts  []pipeline.Option
	now       func() time.Time
	newID     func() string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager whose sessions run defs.
// A nil cfg uses the default session limits.
func NewManager(defs []pipeline.StepDefinition, cfg *config.SessionsConfig, opts ...Option) *Manager {
	if cfg == nil {
		cfg = config.DefaultSessionsConfig()
	}
	m := &Manager{
		defs:     defs,
		cfg:      cfg,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new, idle session.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	id := m.newID()
	opts := []pipeline.Option{pipeline.WithSessionID(id), pipeline.WithClock(m.now)}
	if m.publisher != nil {
		opts = append(opts, pipeline.WithPublisher(m.publisher))
	}
	orch, err := pipeline.New(m.defs, append(opts, m.orchOpts...)...)
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &Session{id: id, createdAt: now, orch: orch, lastActivity: now}

	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	m.sessions[id] = s
	m.mu.Unlock()

	slog.Info("Session created", "session_id", id)
	m.publishLifecycle(ctx, id, events.SessionCreated)
	return s, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns all sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	return sessions
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Submit starts a run in the given session.
func (m *Manager) Submit(ctx context.Context, sessionID, text string) (*pipeline.RunHandle, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.touch(m.now())
	return s.orch.Submit(ctx, text)
}

// Cancel aborts the active run of the given session.
func (m *Manager) Cancel(sessionID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.touch(m.now())
	return s.orch.Cancel()
}

// Delete removes a session, cancelling its active run first. The session's
// event channel is dropped once that run has ended.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if h, running := s.orch.Active(); running {
		h.Cancel()
		slog.Info("Cancelled active run of deleted session", "session_id", sessionID)
		// Subscribers still get the run's terminal events.
		go func() {
			<-h.Done()
			m.dropChannel(sessionID)
		}()
	} else {
		m.dropChannel(sessionID)
	}
	slog.Info("Session deleted", "session_id", sessionID)
	m.publishLifecycle(ctx, sessionID, events.SessionDeleted)
	return nil
}

func (m *Manager) dropChannel(sessionID string) {
	if m.channels != nil {
		m.channels.DropChannel(events.SessionChannel(sessionID))
	}
}

// CancelAll cancels every active run and returns their handles.
func (m *Manager) CancelAll() []*pipeline.RunHandle {
	var handles []*pipeline.RunHandle
	for _, s := range m.List() {
		if h, ok := s.orch.Active(); ok {
			h.Cancel()
			handles = append(handles, h)
		}
	}
	if len(handles) > 0 {
		slog.Info("Cancelled active runs", "count", len(handles))
	}
	return handles
}

// Shutdown cancels every active run and waits until they have finished
// or ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, h := range m.CancelAll() {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// EvictIdle deletes sessions without an active run whose last activity is
// older than the configured idle TTL. It returns the number evicted.
func (m *Manager) EvictIdle(ctx context.Context) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	var evicted int
	for _, s := range m.List() {
		if _, active := s.orch.Active(); active || !s.LastActivity().Before(cutoff) {
			continue
		}
		if err := m.Delete(ctx, s.id); err == nil {
			evicted++
		}
	}
	return evicted
}

func (m *Manager) publishLifecycle(ctx context.Context, sessionID, action string) {
	if m.publisher == nil {
		return
	}
	payload := events.NewSessionLifecyclePayload(sessionID, action, m.now())
	if err := m.publisher.PublishSessionLifecycle(context.WithoutCancel(ctx), payload); err != nil {
		slog.Warn("Failed to publish session lifecycle event",
			"session_id", sessionID, "action", action, "error", err)
	}
}
