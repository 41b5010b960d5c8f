package models

import "time"

// CreateEventRequest contains fields for creating an event
type CreateEventRequest struct {
	SessionID string         `json:"session_id"`
	Channel   string         `json:"channel"`
	Payload   map[string]any `json:"payload"`
}

// Event is a persisted event row used for WebSocket catchup.
type Event struct {
	ID        int            `json:"id"`
	SessionID string         `json:"session_id"`
	Channel   string         `json:"channel"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventsResponse contains list of events since a given ID
type EventsResponse struct {
	Events []Event `json:"events"`
}
