package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// TimelineService persists timeline entries
type TimelineService struct {
	db *sql.DB
}

// NewTimelineService creates a new TimelineService
func NewTimelineService(db *sql.DB) *TimelineService {
	return &TimelineService{db: db}
}

// CreateEntry persists an entry. Re-recording the same entry is a no-op;
// a different entry at an occupied sequence is rejected.
func (s *TimelineService) CreateEntry(httpCtx context.Context, req models.CreateTimelineEntryRequest) error {
	e := req.Entry
	if req.SessionID == "" {
		return NewValidationError("SessionID", "required")
	}
	if e.ID == "" {
		return NewValidationError("Entry.ID", "required")
	}
	if e.Sequence == 0 {
		return NewValidationError("Entry.Sequence", "must be positive")
	}
	if !e.Origin.IsValid() {
		return NewValidationError("Entry.Origin", fmt.Sprintf("unknown origin %q", e.Origin))
	}
	if !e.Kind.IsValid() {
		return NewValidationError("Entry.Kind", fmt.Sprintf("unknown kind %q", e.Kind))
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(httpCtx), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timeline_entries (id, session_id, run_id, step_id, sequence, origin, kind, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, req.SessionID, nullString(e.RunID), nullString(e.StepID), int64(e.Sequence),
		e.Origin, e.Kind, e.Content, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("entry sequence %d in session %s: %w", e.Sequence, req.SessionID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create timeline entry: %w", err)
	}
	return nil
}

// GetSessionEntries returns the entries of a session with a sequence greater
// than afterSeq, in sequence order.
func (s *TimelineService) GetSessionEntries(ctx context.Context, sessionID string, afterSeq uint64) ([]models.Entry, error) {
	return s.query(ctx,
		`SELECT id, run_id, step_id, sequence, origin, kind, content, created_at
		 FROM timeline_entries WHERE session_id = $1 AND sequence > $2 ORDER BY sequence`,
		sessionID, int64(afterSeq))
}

// GetRunEntries returns the entries produced by one run, in sequence order.
func (s *TimelineService) GetRunEntries(ctx context.Context, runID string) ([]models.Entry, error) {
	return s.query(ctx,
		`SELECT id, run_id, step_id, sequence, origin, kind, content, created_at
		 FROM timeline_entries WHERE run_id = $1 ORDER BY sequence`,
		runID)
}

func (s *TimelineService) query(ctx context.Context, query string, args ...any) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline entries: %w", err)
	}
	defer rows.Close()

	entries := []models.Entry{}
	for rows.Next() {
		var (
			e      models.Entry
			runID  sql.NullString
			stepID sql.NullString
			seq    int64
		)
		if err := rows.Scan(&e.ID, &runID, &stepID, &seq, &e.Origin, &e.Kind, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeline entry: %w", err)
		}
		e.RunID = runID.String
		e.StepID = stepID.String
		e.Sequence = uint64(seq)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
