package events

import (
	"context"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// eventQuerier is satisfied by services.EventService.
type eventQuerier interface {
	GetEventsSince(ctx context.Context, channel string, sinceID, limit int) ([]models.Event, error)
}

// EventServiceAdapter serves catchup from the events table.
type EventServiceAdapter struct {
	querier eventQuerier
}

// NewEventServiceAdapter creates a CatchupQuerier from an EventService.
func NewEventServiceAdapter(q eventQuerier) *EventServiceAdapter {
	return &EventServiceAdapter{querier: q}
}

// GetCatchupEvents queries events since sinceID up to limit.
func (a *EventServiceAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	rows, err := a.querier.GetEventsSince(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, len(rows))
	for i, evt := range rows {
		payload := evt.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		result[i] = CatchupEvent{ID: evt.ID, Payload: payload}
	}
	return result, nil
}
