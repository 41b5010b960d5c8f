package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// BusRelay forwards Bus channels to a ConnectionManager. It is the
// ChannelListener used when no PostgreSQL LISTEN connection is available,
// so WebSocket clients of a single process still receive live events.
type BusRelay struct {
	bus     *Bus
	manager *ConnectionManager

	mu     sync.Mutex
	relays map[string]*channelRelay
}

type channelRelay struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBusRelay creates a relay from bus to manager.
func NewBusRelay(bus *Bus, manager *ConnectionManager) *BusRelay {
	return &BusRelay{
		bus:     bus,
		manager: manager,
		relays:  make(map[string]*channelRelay),
	}
}

// Subscribe starts forwarding channel. Idempotent.
func (r *BusRelay) Subscribe(_ context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.relays[channel]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cr := &channelRelay{cancel: cancel, done: make(chan struct{})}
	r.relays[channel] = cr

	sub := r.bus.Subscribe(channel)
	go func() {
		defer close(cr.done)
		r.forward(ctx, channel, sub)
	}()
	return nil
}

// Unsubscribe stops forwarding channel and waits for the relay goroutine.
func (r *BusRelay) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	cr, ok := r.relays[channel]
	delete(r.relays, channel)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	cr.cancel()
	select {
	case <-cr.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends every relay.
func (r *BusRelay) Stop() {
	r.mu.Lock()
	relays := r.relays
	r.relays = make(map[string]*channelRelay)
	r.mu.Unlock()

	for _, cr := range relays {
		cr.cancel()
		<-cr.done
	}
}

func (r *BusRelay) forward(ctx context.Context, channel string, sub *Subscription) {
	var lastSeq int64
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return
		case ev, ok := <-sub.Events():
			if ok {
				r.manager.Broadcast(channel, ev.Payload)
				lastSeq = ev.Seq
				continue
			}
			if !errors.Is(sub.Err(), ErrSubscriberOverflow) {
				return
			}
			// Fell behind: resume from retained history.
			slog.Warn("Bus relay overflowed, resubscribing from history",
				"channel", channel, "last_event_seq", lastSeq)
			var missed []Event
			missed, sub = r.bus.SubscribeSince(channel, lastSeq)
			for _, m := range missed {
				r.manager.Broadcast(channel, m.Payload)
				lastSeq = m.Seq
			}
		}
	}
}
