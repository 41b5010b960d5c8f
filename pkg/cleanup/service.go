// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/services"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
)

// Service periodically enforces retention policies:
//   - Soft-deletes finished runs older than the retention window
//   - Removes Event rows past their TTL
//   - Evicts in-memory sessions that have been idle too long
//
// The database steps are skipped when persistence is disabled. All
// operations are idempotent and safe to run from multiple processes.
type Service struct {
	config       *config.RetentionConfig
	runService   *services.RunService
	eventService *services.EventService
	sessions     *session.Manager
	now          func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service. runService and eventService may
// be nil when persistence is disabled; sessions may be nil when there is
// nothing to evict.
func NewService(
	cfg *config.RetentionConfig,
	runService *services.RunService,
	eventService *services.EventService,
	sessions *session.Manager,
) *Service {
	return &Service{
		config:       cfg,
		runService:   runService,
		eventService: eventService,
		sessions:     sessions,
		now:          time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"run_retention_days", s.config.RunRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.softDeleteOldRuns(ctx)
	s.cleanupStaleEvents(ctx)
	s.evictIdleSessions(ctx)
}

func (s *Service) softDeleteOldRuns(ctx context.Context) {
	if s.runService == nil || s.config.RunRetentionDays <= 0 {
		return
	}
	cutoff := s.now().AddDate(0, 0, -s.config.RunRetentionDays)
	count, err := s.runService.SoftDeleteRunsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: soft-delete runs failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: soft-deleted old runs", "count", count)
	}
}

func (s *Service) cleanupStaleEvents(ctx context.Context) {
	if s.eventService == nil || s.config.EventTTL <= 0 {
		return
	}
	count, err := s.eventService.CleanupStaleEvents(ctx, s.config.EventTTL)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: cleaned up stale events", "count", count)
	}
}

func (s *Service) evictIdleSessions(ctx context.Context) {
	if s.sessions == nil {
		return
	}
	if count := s.sessions.EvictIdle(ctx); count > 0 {
		slog.Info("Retention: evicted idle sessions", "count", count)
	}
}
