package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// notifyPayloadLimit keeps NOTIFY payloads under PostgreSQL's 8000-byte cap.
const notifyPayloadLimit = 7900

// EventPublisher publishes events for cross-process delivery.
// Persistent events are stored in the events table then broadcast via NOTIFY.
// Transient events (session lifecycle) are broadcast via NOTIFY only.
//
// Each public method accepts a specific typed payload struct (see payloads.go).
type EventPublisher struct {
	db  *sql.DB
	now func() time.Time
}

// NewEventPublisher creates a new EventPublisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db, now: time.Now}
}

// PublishEntryAppended persists and broadcasts an entry.appended event.
func (p *EventPublisher) PublishEntryAppended(ctx context.Context, sessionID string, payload EntryAppendedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal EntryAppendedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// PublishStepStatus persists and broadcasts a step.status event.
func (p *EventPublisher) PublishStepStatus(ctx context.Context, sessionID string, payload StepStatusPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal StepStatusPayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// PublishRunStatus persists a run status event to the session channel
// and broadcasts a transient copy to the global sessions channel.
// Both publishes are best-effort: if the persistent one fails, the transient
// one is still attempted. Returns the first error encountered (if any).
func (p *EventPublisher) PublishRunStatus(ctx context.Context, sessionID string, payload RunStatusPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal RunStatusPayload: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON); err != nil {
		slog.Warn("Failed to publish run status to session channel",
			"session_id", sessionID, "run_id", payload.RunID, "status", payload.Status, "error", err)
		firstErr = err
	}

	if err := p.notifyOnly(ctx, GlobalSessionsChannel, payloadJSON); err != nil {
		slog.Warn("Failed to publish run status to global channel",
			"session_id", sessionID, "run_id", payload.RunID, "status", payload.Status, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// PublishSessionLifecycle broadcasts a session.lifecycle transient event to
// the global sessions channel.
func (p *EventPublisher) PublishSessionLifecycle(ctx context.Context, payload SessionLifecyclePayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionLifecyclePayload: %w", err)
	}
	return p.notifyOnly(ctx, GlobalSessionsChannel, payloadJSON)
}

// persistAndNotify persists a pre-marshaled event to the database and broadcasts
// via NOTIFY in a single transaction (pg_notify is held until COMMIT).
func (p *EventPublisher) persistAndNotify(ctx context.Context, sessionID, channel string, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (session_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		sessionID, channel, payloadJSON, p.now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := injectEventSeqAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting to DB.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// injectEventSeq adds event_seq to a JSON object payload.
func injectEventSeq(payloadJSON []byte, seq int64) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for event_seq injection: %w", err)
	}
	m[EventSeqKey] = seq

	enriched, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal enriched payload: %w", err)
	}
	return enriched, nil
}

// injectEventSeqAndTruncate adds event_seq for NOTIFY delivery and applies
// truncation if the result exceeds PostgreSQL's limit.
func injectEventSeqAndTruncate(payloadJSON []byte, seq int64) (string, error) {
	enriched, err := injectEventSeq(payloadJSON, seq)
	if err != nil {
		return "", err
	}
	return truncateIfNeeded(string(enriched))
}

// truncateIfNeeded returns the payload string as-is if it fits within the
// NOTIFY limit, otherwise returns a minimal truncation envelope with only
// routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= notifyPayloadLimit {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes. Clients re-fetch the full record over REST.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		RunID     string `json:"run_id"`
		EntryID   string `json:"entry_id"`
		Sequence  uint64 `json:"sequence"`
		EventSeq  *int64 `json:"event_seq,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":       routing.Type,
		"session_id": routing.SessionID,
		"truncated":  true,
	}
	if routing.RunID != "" {
		truncated["run_id"] = routing.RunID
	}
	if routing.EntryID != "" {
		truncated["entry_id"] = routing.EntryID
		truncated["sequence"] = routing.Sequence
	}
	if routing.EventSeq != nil {
		truncated[EventSeqKey] = *routing.EventSeq
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
