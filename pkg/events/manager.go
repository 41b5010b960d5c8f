package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit is the maximum number of events returned in a catchup response.
// If more events were missed, a catchup.overflow message tells the client to
// reload over REST.
const catchupLimit = 200

// listenTimeout bounds how long starting an upstream feed may block when
// subscribing to a new channel.
const listenTimeout = 10 * time.Second

// Server → client message types.
const (
	MsgConnectionEstablished = "connection.established"
	MsgSubscriptionConfirmed = "subscription.confirmed"
	MsgSubscriptionError     = "subscription.error"
	MsgCatchupOverflow       = "catchup.overflow"
	MsgPong                  = "pong"
	MsgError                 = "error"
)

// ServerMessage is a control message sent to a WebSocket client. Event
// payloads are forwarded as-is and do not use this type.
type ServerMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id,omitempty"`
	Channel      string `json:"channel,omitempty"`
	Message      string `json:"message,omitempty"`
	HasMore      bool   `json:"has_more,omitempty"`
}

// CatchupEvent holds the data returned by a catchup query.
type CatchupEvent struct {
	ID      int
	Payload map[string]any
}

// CatchupQuerier queries events for catchup. Implemented by the Bus (retained
// history) and by EventServiceAdapter (events table).
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error)
}

// ChannelListener starts and stops the upstream feed of a channel.
// Implemented by NotifyListener (PostgreSQL LISTEN) and BusRelay.
type ChannelListener interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

// ChannelValidator reports whether a client may subscribe to channel.
type ChannelValidator func(channel string) error

// ConnectionManager manages WebSocket connections and channel subscriptions.
// Each process has one ConnectionManager.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	// channel → connection IDs
	channelMu sync.RWMutex
	channels  map[string]map[string]struct{}

	listenerMu sync.RWMutex
	listener   ChannelListener

	catchup      CatchupQuerier
	validate     ChannelValidator
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is only touched by the goroutine running HandleConnection
// (its read loop and deferred cleanup), so it needs no lock.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]struct{}
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(catchup CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]struct{}),
		catchup:      catchup,
		writeTimeout: writeTimeout,
	}
}

// SetListener sets the upstream feed. Called once during startup.
func (m *ConnectionManager) SetListener(l ChannelListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// SetChannelValidator installs a check run before every subscribe.
func (m *ConnectionManager) SetChannelValidator(v ChannelValidator) {
	m.validate = v
}

func (m *ConnectionManager) currentListener() ChannelListener {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	return m.listener
}

// HandleConnection serves one upgraded WebSocket until it closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:            uuid.New().String(),
		Conn:          conn,
		subscriptions: make(map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()
	defer m.unregisterConnection(c)

	m.send(c, ServerMessage{Type: MsgConnectionEstablished, ConnectionID: c.ID})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.ID, "error", err)
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

// Broadcast sends an event payload to every connection subscribed to channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	ids := make([]string, 0, len(m.channels[channel]))
	for id := range m.channels[channel] {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	// Writes may take up to writeTimeout each; never hold mu across them.
	for _, c := range m.lookup(ids) {
		if err := m.sendRaw(c, event); err != nil {
			slog.Warn("Failed to send to WebSocket client", "connection_id", c.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount is used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	if msg.Action != "ping" && msg.Channel == "" {
		m.send(c, ServerMessage{Type: MsgError, Message: "channel is required for " + msg.Action})
		return
	}

	switch msg.Action {
	case "subscribe":
		if m.validate != nil {
			if err := m.validate(msg.Channel); err != nil {
				m.send(c, ServerMessage{Type: MsgSubscriptionError, Channel: msg.Channel, Message: err.Error()})
				return
			}
		}
		if err := m.subscribe(c, msg.Channel); err != nil {
			m.send(c, ServerMessage{Type: MsgSubscriptionError, Channel: msg.Channel, Message: "failed to subscribe to channel"})
			return
		}
		m.send(c, ServerMessage{Type: MsgSubscriptionConfirmed, Channel: msg.Channel})
		// Late subscribers get everything retained so far.
		m.handleCatchup(ctx, c, msg.Channel, 0)

	case "unsubscribe":
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.LastEventID != nil {
			m.handleCatchup(ctx, c, msg.Channel, *msg.LastEventID)
		}

	case "ping":
		m.send(c, ServerMessage{Type: MsgPong})

	default:
		m.send(c, ServerMessage{Type: MsgError, Message: fmt.Sprintf("unknown action %q", msg.Action)})
	}
}

// subscribe registers c on channel and starts the upstream feed for the first
// subscriber. The feed is started synchronously so the auto-catchup that
// follows never misses events published in between; clients dedupe the
// overlap by event_seq.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.channelMu.Lock()
	subs, exists := m.channels[channel]
	if !exists {
		subs = make(map[string]struct{})
		m.channels[channel] = subs
	}
	subs[c.ID] = struct{}{}
	m.channelMu.Unlock()

	if l := m.currentListener(); !exists && l != nil {
		listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
		defer cancel()
		if err := l.Subscribe(listenCtx, channel); err != nil {
			slog.Error("Failed to start channel feed", "channel", channel, "error", err)
			m.dropChannel(c, channel)
			return fmt.Errorf("subscribe to channel %s: %w", channel, err)
		}
	}

	c.subscriptions[channel] = struct{}{}
	return nil
}

// dropChannel removes every subscriber of channel after its feed failed to
// start. Connections that joined while the feed was starting were already
// confirmed; they are told the subscription is gone. Clients must treat
// subscription.error as authoritative and either resubscribe or fall back to
// polling GET /api/v1/sessions/:id/entries.
func (m *ConnectionManager) dropChannel(triggering *Connection, channel string) {
	m.channelMu.Lock()
	var orphaned []string
	for id := range m.channels[channel] {
		if id != triggering.ID {
			orphaned = append(orphaned, id)
		}
	}
	delete(m.channels, channel)
	m.channelMu.Unlock()

	for _, c := range m.lookup(orphaned) {
		slog.Warn("Removing orphaned subscriber after feed failure", "connection_id", c.ID, "channel", channel)
		m.send(c, ServerMessage{Type: MsgSubscriptionError, Channel: channel, Message: "channel feed failed; subscription removed"})
	}
}

// unsubscribe removes c from channel and stops the feed after the last subscriber.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	delete(c.subscriptions, channel)

	m.channelMu.Lock()
	subs, ok := m.channels[channel]
	if !ok {
		m.channelMu.Unlock()
		return
	}
	delete(subs, c.ID)
	last := len(subs) == 0
	if last {
		delete(m.channels, channel)
	}
	m.channelMu.Unlock()

	l := m.currentListener()
	if !last || l == nil {
		return
	}
	// Deferred so a quick unsubscribe/resubscribe keeps the feed alive.
	go func() {
		m.channelMu.RLock()
		_, resubscribed := m.channels[channel]
		m.channelMu.RUnlock()
		if resubscribed {
			return
		}
		if err := l.Unsubscribe(context.Background(), channel); err != nil {
			slog.Error("Failed to stop channel feed", "channel", channel, "error", err)
		}
	}()
}

// handleCatchup sends events after lastEventID, then catchup.overflow if the
// limit cut the list short.
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Connection, channel string, lastEventID int) {
	if m.catchup == nil {
		return
	}

	missed, err := m.catchup.GetCatchupEvents(ctx, channel, lastEventID, catchupLimit+1)
	if err != nil {
		slog.Error("Catchup query failed", "channel", channel, "error", err)
		return
	}

	hasMore := len(missed) > catchupLimit
	if hasMore {
		missed = missed[:catchupLimit]
	}

	for _, evt := range missed {
		evt.Payload[EventSeqKey] = evt.ID
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send catchup event", "connection_id", c.ID, "error", err)
			return
		}
	}

	if hasMore {
		m.send(c, ServerMessage{Type: MsgCatchupOverflow, Channel: channel, HasMore: true})
	}
}

func (m *ConnectionManager) lookup(ids []string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) send(c *Connection, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
