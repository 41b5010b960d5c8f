package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
)

// WSEvent is one message received on the WebSocket, control message or
// event payload alike.
type WSEvent struct {
	Type     string
	Raw      json.RawMessage
	Parsed   map[string]any
	Received time.Time
}

// WSClient records every message received on an autodeploy WebSocket.
type WSClient struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	events  []WSEvent
	changed chan struct{} // closed and replaced on every append
}

// WSConnect dials wsURL and starts recording in the background.
func WSConnect(ctx context.Context, wsURL string) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial: %w", err)
	}
	clientCtx, cancel := context.WithCancel(ctx)
	c := &WSClient{
		conn:    conn,
		ctx:     clientCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		changed: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Subscribe sends a subscribe action for channel and waits for the server to
// confirm or reject it.
func (c *WSClient) Subscribe(channel string, timeout time.Duration) (*WSEvent, error) {
	data, err := json.Marshal(events.ClientMessage{Action: "subscribe", Channel: channel})
	if err != nil {
		return nil, err
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return nil, err
	}
	return c.WaitForEvent(func(e WSEvent) bool {
		return (e.Type == events.MsgSubscriptionConfirmed || e.Type == events.MsgSubscriptionError) &&
			e.Parsed["channel"] == channel
	}, timeout)
}

// WaitForEvent returns the first recorded message matching match, waiting up
// to timeout for it to arrive.
func (c *WSClient) WaitForEvent(match func(WSEvent) bool, timeout time.Duration) (*WSEvent, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	seen := 0
	for {
		c.mu.Lock()
		for ; seen < len(c.events); seen++ {
			if match(c.events[seen]) {
				evt := c.events[seen]
				c.mu.Unlock()
				return &evt, nil
			}
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-c.done:
			return nil, fmt.Errorf("connection closed while waiting (recorded %d messages)", seen)
		case <-deadline.C:
			return nil, fmt.Errorf("timeout waiting for event (recorded %d messages)", seen)
		}
	}
}

// WaitForRunStatus waits for a run.status event of runID with the given
// status.
func (c *WSClient) WaitForRunStatus(runID, status string, timeout time.Duration) (*WSEvent, error) {
	return c.WaitForEvent(func(e WSEvent) bool {
		return e.Type == events.EventTypeRunStatus && e.Parsed["run_id"] == runID && e.Parsed["status"] == status
	}, timeout)
}

// Events returns a snapshot of everything recorded so far.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WSEvent(nil), c.events...)
}

// Close closes the connection and waits for the reader to exit.
func (c *WSClient) Close() error {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.done
	return nil
}

func (c *WSClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue
		}
		evt := WSEvent{Raw: data, Parsed: parsed, Received: time.Now()}
		evt.Type, _ = parsed["type"].(string)

		c.mu.Lock()
		c.events = append(c.events, evt)
		close(c.changed)
		c.changed = make(chan struct{})
		c.mu.Unlock()
	}
}
