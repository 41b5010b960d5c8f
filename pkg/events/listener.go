package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
)

// waitSlice bounds each WaitForNotification call so queued LISTEN/UNLISTEN
// commands are picked up promptly.
const waitSlice = 100 * time.Millisecond

var errListenNotEstablished = errors.New("LISTEN connection not established")

// Broadcaster receives notifications from the listener.
type Broadcaster interface {
	Broadcast(channel string, event []byte)
}

// listenCmd is a LISTEN/UNLISTEN statement executed by the receive loop,
// the only goroutine that touches the pgx connection.
type listenCmd struct {
	sql    string
	result chan error
}

// NotifyListener receives PostgreSQL NOTIFY events on a dedicated connection
// and hands them to a Broadcaster (the ConnectionManager).
type NotifyListener struct {
	connString string
	target     Broadcaster

	connMu sync.Mutex
	conn   *pgx.Conn

	channelsMu sync.RWMutex
	channels   map[string]bool

	cmdCh   chan listenCmd
	running atomic.Bool

	newBackOff func() backoff.BackOff
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener creates a listener that dispatches to target.
func NewNotifyListener(connString string, target Broadcaster) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		target:     target,
		channels:   make(map[string]bool),
		cmdCh:      make(chan listenCmd, 16),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Start opens the dedicated connection and begins receiving notifications.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("NotifyListener started")
	return nil
}

// Subscribe issues LISTEN for channel.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if l.isListening(channel) {
		return nil
	}
	if !l.running.Load() {
		return errListenNotEstablished
	}

	sanitized := pgx.Identifier{channel}.Sanitize()
	if err := l.exec(ctx, "LISTEN "+sanitized); err != nil {
		return fmt.Errorf("LISTEN %s failed: %w", sanitized, err)
	}

	l.channelsMu.Lock()
	l.channels[channel] = true
	l.channelsMu.Unlock()
	slog.Debug("Subscribed to NOTIFY channel", "channel", channel)
	return nil
}

// Unsubscribe issues UNLISTEN for channel. No-op when not listening.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	if !l.isListening(channel) || !l.running.Load() {
		return nil
	}

	sanitized := pgx.Identifier{channel}.Sanitize()
	if err := l.exec(ctx, "UNLISTEN "+sanitized); err != nil {
		return fmt.Errorf("UNLISTEN %s failed: %w", sanitized, err)
	}

	l.channelsMu.Lock()
	delete(l.channels, channel)
	l.channelsMu.Unlock()
	return nil
}

func (l *NotifyListener) isListening(channel string) bool {
	l.channelsMu.RLock()
	defer l.channelsMu.RUnlock()
	return l.channels[channel]
}

// exec hands sql to the receive loop and waits for its result.
func (l *NotifyListener) exec(ctx context.Context, sql string) error {
	cmd := listenCmd{sql: sql, result: make(chan error, 1)}
	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for ctx.Err() == nil {
		l.processPendingCmds(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, waitSlice)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.target.Broadcast(notification.Channel, []byte(notification.Payload))
	}
}

func (l *NotifyListener) processPendingCmds(ctx context.Context) {
	for {
		select {
		case cmd := <-l.cmdCh:
			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()
			if conn == nil {
				cmd.result <- errListenNotEstablished
				continue
			}
			_, err := conn.Exec(ctx, cmd.sql)
			cmd.result <- err
		default:
			return
		}
	}
}

// reconnect replaces the connection with exponential backoff and re-issues
// LISTEN for every tracked channel. Returns when connected or ctx is done.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	connect := func() error {
		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			return err
		}
		l.conn = conn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Error("LISTEN reconnect failed", "error", err, "backoff", wait)
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(l.newBackOff(), ctx), notify); err != nil {
		return
	}

	l.channelsMu.RLock()
	for ch := range l.channels {
		if _, err := l.conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			slog.Error("Re-LISTEN failed", "channel", ch, "error", err)
		}
	}
	l.channelsMu.RUnlock()

	slog.Info("NotifyListener reconnected")
}

// Stop ends the receive loop, then closes the connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
