// Package events delivers pipeline activity to observers.
//
// Three event types are published for every session, always in the order the
// orchestrator produced them:
//
//	entry.appended  one per timeline entry (user text, agent narration, status)
//	step.status     one per step transition (active, completed, failed)
//	run.status      run started (running) and run finished (terminal status)
//
// Events travel through an in-process Bus (NDJSON streaming, WebSocket relay
// in single-process mode) and, when persistence is enabled, through the
// events table plus PostgreSQL NOTIFY/LISTEN for cross-process delivery.
//
// Every delivered payload carries an "event_seq" field: the Bus sequence or
// the events table row ID. Clients pass the last one they saw as
// last_event_id when asking for catchup.
package events

// Persistent event types (stored in DB + NOTIFY).
const (
	EventTypeEntryAppended = "entry.appended"
	EventTypeStepStatus    = "step.status"
	EventTypeRunStatus     = "run.status"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	// Session created/deleted, broadcast on the global channel only.
	EventTypeSessionLifecycle = "session.lifecycle"
)

// Session lifecycle actions (used in SessionLifecyclePayload.Action).
const (
	SessionCreated = "created"
	SessionDeleted = "deleted"
)

// EventSeqKey is the payload field holding the delivery sequence number.
const EventSeqKey = "event_seq"

// GlobalSessionsChannel is the channel for session-level status events.
// The session list subscribes to this for real-time updates.
const GlobalSessionsChannel = "sessions"

// SessionChannel returns the channel name for a specific session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "session:abc-123")
	LastEventID *int   `json:"last_event_id,omitempty"` // For catchup
}
