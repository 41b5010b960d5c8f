package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEventQuerier struct {
	events []models.Event
	err    error
}

func (m *mockEventQuerier) GetEventsSince(_ context.Context, _ string, _ int, limit int) ([]models.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > 0 && len(m.events) > limit {
		return m.events[:limit], nil
	}
	return m.events, nil
}

func TestEventServiceAdapter_GetCatchupEvents(t *testing.T) {
	querier := &mockEventQuerier{events: []models.Event{
		{ID: 10, Payload: map[string]any{"type": EventTypeStepStatus, "step_index": float64(0)}},
		{ID: 20, Payload: map[string]any{"type": EventTypeEntryAppended, "sequence": float64(2)}},
	}}

	events, err := NewEventServiceAdapter(querier).GetCatchupEvents(context.Background(), "session:test", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, 10, events[0].ID)
	assert.Equal(t, 20, events[1].ID)
	assert.Equal(t, EventTypeStepStatus, events[0].Payload["type"])
	assert.Equal(t, float64(2), events[1].Payload["sequence"])
}

func TestEventServiceAdapter_GetCatchupEvents_WithLimit(t *testing.T) {
	querier := &mockEventQuerier{events: []models.Event{
		{ID: 1, Payload: map[string]any{}},
		{ID: 2, Payload: map[string]any{}},
		{ID: 3, Payload: map[string]any{}},
	}}

	events, err := NewEventServiceAdapter(querier).GetCatchupEvents(context.Background(), "session:test", 0, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[1].ID)
}

func TestEventServiceAdapter_GetCatchupEvents_NilPayload(t *testing.T) {
	querier := &mockEventQuerier{events: []models.Event{{ID: 5}}}

	events, err := NewEventServiceAdapter(querier).GetCatchupEvents(context.Background(), "session:test", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotNil(t, events[0].Payload, "manager writes event_seq into the payload map")
}

func TestEventServiceAdapter_GetCatchupEvents_Error(t *testing.T) {
	querier := &mockEventQuerier{err: errors.New("database connection lost")}

	events, err := NewEventServiceAdapter(querier).GetCatchupEvents(context.Background(), "session:test", 0, 10)
	assert.Nil(t, events)
	assert.ErrorContains(t, err, "database connection lost")
}
