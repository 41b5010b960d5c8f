package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
)

type lifecycleRecorder struct {
	mu      sync.Mutex
	actions []string
	runs    []models.RunStatus
}

func (r *lifecycleRecorder) PublishEntryAppended(context.Context, string, events.EntryAppendedPayload) error {
	return nil
}

func (r *lifecycleRecorder) PublishStepStatus(context.Context, string, events.StepStatusPayload) error {
	return nil
}

func (r *lifecycleRecorder) PublishRunStatus(_ context.Context, _ string, p events.RunStatusPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, p.Status)
	return nil
}

func (r *lifecycleRecorder) PublishSessionLifecycle(_ context.Context, p events.SessionLifecyclePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, p.SessionID+":"+p.Action)
	return nil
}

func (r *lifecycleRecorder) lifecycle() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}

// blockingDefs returns a one-step pipeline whose worker waits for release
// or cancellation.
func blockingDefs(release <-chan struct{}) []pipeline.StepDefinition {
	return []pipeline.StepDefinition{{
		ID:    "deploy",
		Label: "Deploy to Edge",
		Worker: pipeline.WorkerFunc(func(ctx context.Context, _ pipeline.StepContext) (pipeline.Outcome, error) {
			select {
			case <-release:
				return pipeline.Outcome{}, nil
			case <-ctx.Done():
				return pipeline.Outcome{}, ctx.Err()
			}
		}),
	}}
}

func sequentialIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
}

func TestManagerCreateGetList(t *testing.T) {
	rec := &lifecycleRecorder{}
	m := NewManager(blockingDefs(nil), nil, WithPublisher(rec), WithIDGenerator(sequentialIDs()))

	a, err := m.Create(context.Background())
	require.NoError(t, err)
	b, err := m.Create(context.Background())
	require.NoError(t, err)

	got, err := m.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Equal(t, a.ID(), a.Orchestrator().SessionID())

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID(), list[0].ID())
	assert.Equal(t, b.ID(), list[1].ID())
	assert.Equal(t, 2, m.Len())

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"session-1:created", "session-2:created"}, rec.lifecycle())
}

func TestManagerSessionCap(t *testing.T) {
	m := NewManager(blockingDefs(nil), &config.SessionsConfig{MaxSessions: 1, IdleTTL: time.Hour})

	_, err := m.Create(context.Background())
	require.NoError(t, err)
	_, err = m.Create(context.Background())
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestManagerSessionsAreIndependent(t *testing.T) {
	release := make(chan struct{})
	m := NewManager(blockingDefs(release), nil)

	a, err := m.Create(context.Background())
	require.NoError(t, err)
	b, err := m.Create(context.Background())
	require.NoError(t, err)

	ha, err := m.Submit(context.Background(), a.ID(), "first app")
	require.NoError(t, err)

	_, err = m.Submit(context.Background(), a.ID(), "second app")
	assert.ErrorIs(t, err, pipeline.ErrBusy)

	hb, err := m.Submit(context.Background(), b.ID(), "other app")
	require.NoError(t, err, "a busy session must not block another session")

	close(release)
	<-ha.Done()
	<-hb.Done()

	assert.Equal(t, 3, a.Orchestrator().Timeline().Len(), "user entry, step narration and the success status")
	for _, e := range b.Orchestrator().CurrentEntries() {
		assert.NotEqual(t, "first app", e.Content)
	}

	sum := a.Summary()
	assert.Equal(t, models.RunIdle, sum.Status)
	require.NotNil(t, sum.LastRun)
	assert.Equal(t, models.RunSucceeded, sum.LastRun.Status)
}

func TestManagerSubmitUnknownSession(t *testing.T) {
	m := NewManager(blockingDefs(nil), nil)

	_, err := m.Submit(context.Background(), "nope", "app")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Cancel("nope"), ErrNotFound)
}

func TestManagerCancel(t *testing.T) {
	m := NewManager(blockingDefs(make(chan struct{})), nil)
	s, err := m.Create(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, m.Cancel(s.ID()), pipeline.ErrNotRunning)

	h, err := m.Submit(context.Background(), s.ID(), "app")
	require.NoError(t, err)
	sum := s.Summary()
	assert.Equal(t, models.RunRunning, sum.Status)
	require.NotNil(t, sum.LastRun)
	assert.Equal(t, h.ID(), sum.LastRun.ID)

	require.NoError(t, m.Cancel(s.ID()))
	<-h.Done()

	res, ok := h.Result()
	require.True(t, ok)
	assert.Equal(t, models.RunCancelled, res.Run.Status)
}

func TestManagerDeleteCancelsActiveRun(t *testing.T) {
	rec := &lifecycleRecorder{}
	m := NewManager(blockingDefs(make(chan struct{})), nil, WithPublisher(rec), WithIDGenerator(sequentialIDs()))
	s, err := m.Create(context.Background())
	require.NoError(t, err)

	h, err := m.Submit(context.Background(), s.ID(), "app")
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), s.ID()))
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run of deleted session did not stop")
	}

	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(context.Background(), s.ID()), ErrNotFound)
	assert.Equal(t, []string{"session-1:created", "session-1:deleted"}, rec.lifecycle())
}

func TestManagerShutdownWaitsForRuns(t *testing.T) {
	m := NewManager(blockingDefs(make(chan struct{})), nil)
	var handles []*pipeline.RunHandle
	for range 3 {
		s, err := m.Create(context.Background())
		require.NoError(t, err)
		h, err := m.Submit(context.Background(), s.ID(), "app")
		require.NoError(t, err)
		handles = append(handles, h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	for _, h := range handles {
		res, ok := h.Result()
		require.True(t, ok)
		assert.Equal(t, models.RunCancelled, res.Run.Status)
	}
	assert.Empty(t, m.CancelAll())
}

func TestManagerEvictIdle(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	m := NewManager(blockingDefs(make(chan struct{})), &config.SessionsConfig{MaxSessions: 10, IdleTTL: time.Hour},
		WithClock(clock))

	stale, err := m.Create(context.Background())
	require.NoError(t, err)
	busy, err := m.Create(context.Background())
	require.NoError(t, err)
	h, err := m.Submit(context.Background(), busy.ID(), "app")
	require.NoError(t, err)
	t.Cleanup(func() {
		h.Cancel()
		<-h.Done()
	})

	advance(30 * time.Minute)
	fresh, err := m.Create(context.Background())
	require.NoError(t, err)

	advance(45 * time.Minute)
	assert.Equal(t, 1, m.EvictIdle(context.Background()))

	_, err = m.Get(stale.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(busy.ID())
	assert.NoError(t, err, "sessions with an active run are never evicted")
	_, err = m.Get(fresh.ID())
	assert.NoError(t, err)
}

func TestManagerEvictIdleDropsEventChannel(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	released := make(chan struct{})
	close(released)
	m := NewManager(blockingDefs(released), &config.SessionsConfig{MaxSessions: 10, IdleTTL: time.Hour},
		WithPublisher(bus), WithChannelDropper(bus), WithClock(clock))

	s, err := m.Create(context.Background())
	require.NoError(t, err)
	h, err := m.Submit(context.Background(), s.ID(), "app")
	require.NoError(t, err)
	<-h.Done()

	channel := events.SessionChannel(s.ID())
	sub := bus.Subscribe(channel)
	require.NotEmpty(t, bus.History(channel, 0, 0))

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	require.Equal(t, 1, m.EvictIdle(context.Background()))

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "subscription closes when the session is evicted")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription still open after eviction")
	}
	assert.Empty(t, bus.History(channel, 0, 0))
	assert.Zero(t, bus.SubscriberCount(channel))
}

func TestManagerDeleteDropsChannelAfterRunEnds(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	m := NewManager(blockingDefs(make(chan struct{})), nil, WithPublisher(bus), WithChannelDropper(bus))

	s, err := m.Create(context.Background())
	require.NoError(t, err)
	channel := events.SessionChannel(s.ID())
	sub := bus.Subscribe(channel)
	h, err := m.Submit(context.Background(), s.ID(), "app")
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), s.ID()))
	<-h.Done()

	var last events.Event
	for ev := range sub.Events() {
		last = ev
	}
	assert.Equal(t, events.EventTypeRunStatus, last.Type, "the terminal run status is delivered before the channel closes")
	require.Eventually(t, func() bool {
		return bus.SubscriberCount(channel) == 0 && len(bus.History(channel, 0, 0)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
