package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Default Bus sizing.
const (
	DefaultHistoryLimit     = 500
	DefaultSubscriberBuffer = 256
)

var (
	// ErrSubscriberOverflow is reported by a Subscription whose consumer fell
	// behind by more than the subscriber buffer. The subscription is closed;
	// the consumer should resubscribe with catchup from its last event_seq.
	ErrSubscriberOverflow = errors.New("subscriber fell behind and was dropped")

	// ErrBusClosed is reported by subscriptions still open when the Bus closes.
	ErrBusClosed = errors.New("event bus closed")
)

// Event is one message delivered by the Bus.
type Event struct {
	Seq     int64
	Channel string
	Type    string
	Payload []byte // JSON, including event_seq
}

// Bus is the in-process event fan-out. Publishing never blocks: each
// subscriber owns a bounded buffer and is dropped when it overflows, so a
// slow observer cannot stall the orchestrator. Events on a channel are
// delivered in publish order. The most recent events per channel are kept
// for catchup.
type Bus struct {
	mu           sync.Mutex
	seq          int64
	historyLimit int
	bufferSize   int
	history      map[string][]Event
	subs         map[string]map[*Subscription]struct{}
	closed       bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithHistoryLimit sets how many events per channel are retained for catchup.
func WithHistoryLimit(n int) BusOption {
	return func(b *Bus) {
		if n >= 0 {
			b.historyLimit = n
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber buffer size.
func WithSubscriberBuffer(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// NewBus creates an empty Bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		historyLimit: DefaultHistoryLimit,
		bufferSize:   DefaultSubscriberBuffer,
		history:      make(map[string][]Event),
		subs:         make(map[string]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is a live feed of one channel.
type Subscription struct {
	bus     *Bus
	channel string
	ch      chan Event

	// err is written once, under bus.mu, before ch is closed.
	err error
}

// Events returns the delivery channel. It is closed when the subscription
// ends; Err then reports why.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Channel returns the subscribed channel name.
func (s *Subscription) Channel() string {
	return s.channel
}

// Err returns nil after Close, ErrSubscriberOverflow after an overflow and
// ErrBusClosed after the Bus shut down. Only meaningful once Events is closed.
func (s *Subscription) Err() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.err
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.dropLocked(s, nil)
}

// Subscribe returns a subscription receiving events published from now on.
func (b *Bus) Subscribe(channel string) *Subscription {
	_, sub := b.SubscribeSince(channel, -1)
	return sub
}

// SubscribeSince atomically returns the retained events on channel with a
// sequence greater than afterSeq, plus a subscription for everything after
// them. A negative afterSeq skips history.
func (b *Bus) SubscribeSince(channel string, afterSeq int64) ([]Event, *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{bus: b, channel: channel, ch: make(chan Event, b.bufferSize)}
	if b.closed {
		sub.err = ErrBusClosed
		close(sub.ch)
		return nil, sub
	}

	var missed []Event
	if afterSeq >= 0 {
		missed = b.historySinceLocked(channel, afterSeq, 0)
	}

	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*Subscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	return missed, sub
}

// Publish marshals payload, stamps it with the next sequence and delivers it
// to every subscriber of channel.
func (b *Bus) Publish(channel, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Event{}, ErrBusClosed
	}

	b.seq++
	stamped, err := injectEventSeq(raw, b.seq)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Seq: b.seq, Channel: channel, Type: eventType, Payload: stamped}

	if b.historyLimit > 0 {
		h := append(b.history[channel], ev)
		if len(h) > b.historyLimit {
			h = append([]Event(nil), h[len(h)-b.historyLimit:]...)
		}
		b.history[channel] = h
	}

	for sub := range b.subs[channel] {
		select {
		case sub.ch <- ev:
		default:
			b.dropLocked(sub, ErrSubscriberOverflow)
		}
	}
	return ev, nil
}

// History returns up to limit retained events on channel with a sequence
// greater than afterSeq. limit <= 0 means no limit.
func (b *Bus) History(channel string, afterSeq int64, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.historySinceLocked(channel, afterSeq, limit)
}

// DropChannel closes every subscription on channel and forgets its history.
func (b *Bus) DropChannel(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[channel] {
		b.dropLocked(sub, nil)
	}
	delete(b.history, channel)
}

// SubscriberCount returns the number of live subscriptions on channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

// Close ends every subscription with ErrBusClosed. Later publishes fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			b.dropLocked(sub, ErrBusClosed)
		}
	}
}

// GetCatchupEvents implements CatchupQuerier from the retained history.
func (b *Bus) GetCatchupEvents(_ context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	events := b.History(channel, int64(sinceID), limit)
	result := make([]CatchupEvent, 0, len(events))
	for _, ev := range events {
		var payload map[string]any
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode retained event %d: %w", ev.Seq, err)
		}
		result = append(result, CatchupEvent{ID: int(ev.Seq), Payload: payload})
	}
	return result, nil
}

// PublishEntryAppended publishes an entry.appended event on the session channel.
func (b *Bus) PublishEntryAppended(_ context.Context, sessionID string, payload EntryAppendedPayload) error {
	_, err := b.Publish(SessionChannel(sessionID), EventTypeEntryAppended, payload)
	return err
}

// PublishStepStatus publishes a step.status event on the session channel.
func (b *Bus) PublishStepStatus(_ context.Context, sessionID string, payload StepStatusPayload) error {
	_, err := b.Publish(SessionChannel(sessionID), EventTypeStepStatus, payload)
	return err
}

// PublishRunStatus publishes a run.status event on the session channel and
// the global sessions channel.
func (b *Bus) PublishRunStatus(_ context.Context, sessionID string, payload RunStatusPayload) error {
	if _, err := b.Publish(SessionChannel(sessionID), EventTypeRunStatus, payload); err != nil {
		return err
	}
	_, err := b.Publish(GlobalSessionsChannel, EventTypeRunStatus, payload)
	return err
}

// PublishSessionLifecycle publishes a session.lifecycle event on the global channel.
func (b *Bus) PublishSessionLifecycle(_ context.Context, payload SessionLifecyclePayload) error {
	_, err := b.Publish(GlobalSessionsChannel, EventTypeSessionLifecycle, payload)
	return err
}

func (b *Bus) historySinceLocked(channel string, afterSeq int64, limit int) []Event {
	h := b.history[channel]
	start := len(h)
	for i, ev := range h {
		if ev.Seq > afterSeq {
			start = i
			break
		}
	}
	out := h[start:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]Event(nil), out...)
}

// dropLocked removes sub and closes its channel. Caller holds b.mu.
func (b *Bus) dropLocked(sub *Subscription, reason error) {
	subs, ok := b.subs[sub.channel]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subs, sub.channel)
	}
	sub.err = reason
	close(sub.ch)
}
