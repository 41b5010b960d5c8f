package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionChannel(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		want      string
	}{
		{
			name:      "formats session channel correctly",
			sessionID: "abc-123",
			want:      "session:abc-123",
		},
		{
			name:      "handles UUID format",
			sessionID: "550e8400-e29b-41d4-a716-446655440000",
			want:      "session:550e8400-e29b-41d4-a716-446655440000",
		},
		{
			name:      "handles empty string",
			sessionID: "",
			want:      "session:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionChannel(tt.sessionID))
		})
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []string{
		EventTypeEntryAppended,
		EventTypeStepStatus,
		EventTypeRunStatus,
		EventTypeSessionLifecycle,
	}

	seen := make(map[string]bool)
	for _, typ := range types {
		assert.NotEmpty(t, typ, "event type should not be empty")
		assert.False(t, seen[typ], "duplicate event type: %s", typ)
		seen[typ] = true
	}
}

func TestClientMessageDecoding(t *testing.T) {
	t.Run("catchup with last event id", func(t *testing.T) {
		var msg ClientMessage
		require.NoError(t, json.Unmarshal([]byte(`{"action":"catchup","channel":"session:s1","last_event_id":12}`), &msg))
		assert.Equal(t, "catchup", msg.Action)
		assert.Equal(t, "session:s1", msg.Channel)
		require.NotNil(t, msg.LastEventID)
		assert.Equal(t, 12, *msg.LastEventID)
	})

	t.Run("ping without channel", func(t *testing.T) {
		var msg ClientMessage
		require.NoError(t, json.Unmarshal([]byte(`{"action":"ping"}`), &msg))
		assert.Equal(t, "ping", msg.Action)
		assert.Empty(t, msg.Channel)
		assert.Nil(t, msg.LastEventID)
	})
}
