package events

import (
	"context"
	"fmt"
	"log/slog"
)

// MultiPublisher fans each event out to several publishers in order.
// Every publisher is attempted; failures are logged and the first one is
// returned.
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher returns a publisher writing to every non-nil p.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

func (m *MultiPublisher) PublishEntryAppended(ctx context.Context, sessionID string, payload EntryAppendedPayload) error {
	return m.each(payload.Type, sessionID, func(p Publisher) error {
		return p.PublishEntryAppended(ctx, sessionID, payload)
	})
}

func (m *MultiPublisher) PublishStepStatus(ctx context.Context, sessionID string, payload StepStatusPayload) error {
	return m.each(payload.Type, sessionID, func(p Publisher) error {
		return p.PublishStepStatus(ctx, sessionID, payload)
	})
}

func (m *MultiPublisher) PublishRunStatus(ctx context.Context, sessionID string, payload RunStatusPayload) error {
	return m.each(payload.Type, sessionID, func(p Publisher) error {
		return p.PublishRunStatus(ctx, sessionID, payload)
	})
}

func (m *MultiPublisher) PublishSessionLifecycle(ctx context.Context, payload SessionLifecyclePayload) error {
	return m.each(payload.Type, payload.SessionID, func(p Publisher) error {
		return p.PublishSessionLifecycle(ctx, payload)
	})
}

func (m *MultiPublisher) each(eventType, sessionID string, fn func(Publisher) error) error {
	var firstErr error
	for _, p := range m.publishers {
		if err := fn(p); err != nil {
			slog.Warn("Event publisher failed",
				"event_type", eventType, "session_id", sessionID, "publisher", fmt.Sprintf("%T", p), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
