package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// defaultEventLimit caps GetEventsSince when no limit is given.
const defaultEventLimit = 1000

// EventService manages persisted WebSocket events
type EventService struct {
	db *sql.DB
}

// NewEventService creates a new EventService
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

// CreateEvent creates a new event
func (s *EventService) CreateEvent(httpCtx context.Context, req models.CreateEventRequest) (*models.Event, error) {
	if req.SessionID == "" {
		return nil, NewValidationError("SessionID", "required")
	}
	if req.Channel == "" {
		return nil, NewValidationError("Channel", "required")
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(httpCtx), writeTimeout)
	defer cancel()

	evt := &models.Event{
		SessionID: req.SessionID,
		Channel:   req.Channel,
		Payload:   req.Payload,
		CreatedAt: time.Now(),
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO events (session_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		evt.SessionID, evt.Channel, payload, evt.CreatedAt).Scan(&evt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	return evt, nil
}

// GetEventsSince retrieves up to limit events on channel with an ID greater
// than sinceID, oldest first.
func (s *EventService) GetEventsSince(ctx context.Context, channel string, sinceID, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, channel, payload, created_at FROM events
		 WHERE channel = $1 AND id > $2 ORDER BY id LIMIT $3`,
		channel, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var (
			evt models.Event
			raw []byte
		)
		if err := rows.Scan(&evt.ID, &evt.SessionID, &evt.Channel, &raw, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal(raw, &evt.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event %d payload: %w", evt.ID, err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// CleanupSessionEvents removes all events for a session
func (s *EventService) CleanupSessionEvents(ctx context.Context, sessionID string) (int, error) {
	return s.delete(ctx, 10*time.Second, `DELETE FROM events WHERE session_id = $1`, sessionID)
}

// CleanupStaleEvents removes events older than ttl
func (s *EventService) CleanupStaleEvents(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	return s.delete(ctx, 30*time.Second, `DELETE FROM events WHERE created_at < $1`, cutoff)
}

func (s *EventService) delete(ctx context.Context, timeout time.Duration, query string, args ...any) (int, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup events: %w", err)
	}
	return int(n), nil
}
