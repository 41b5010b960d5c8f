package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
)

// gate holds every step until Open is called. Cancellation still ends the
// step early.
type gate struct {
	once sync.Once
	ch   chan struct{}
}

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) Open() { g.once.Do(func() { close(g.ch) }) }

func (g *gate) worker(note string) pipeline.StepWorker {
	return pipeline.WorkerFunc(func(ctx context.Context, _ pipeline.StepContext) (pipeline.Outcome, error) {
		select {
		case <-g.ch:
			return pipeline.Outcome{Notes: []pipeline.Note{{Content: note, Kind: models.KindText}}}, nil
		case <-ctx.Done():
			return pipeline.Outcome{}, ctx.Err()
		}
	})
}

type testEnv struct {
	server   *Server
	http     *httptest.Server
	sessions *session.Manager
	bus      *events.Bus
	gate     *gate
}

func newTestEnv(t *testing.T, publishers ...events.Publisher) *testEnv {
	t.Helper()
	g := newGate()
	t.Cleanup(g.Open)

	cfg := config.Default()
	defs := make([]pipeline.StepDefinition, 0, len(cfg.Pipeline.Steps))
	for _, step := range cfg.Pipeline.Steps {
		defs = append(defs, pipeline.StepDefinition{ID: step.ID, Label: step.Label, Worker: g.worker(step.Label + " done")})
	}

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	var pub events.Publisher = bus
	if len(publishers) > 0 {
		pub = events.NewMultiPublisher(append([]events.Publisher{bus}, publishers...)...)
	}
	sessions := session.NewManager(defs, cfg.Sessions, session.WithPublisher(pub), session.WithChannelDropper(bus))

	srv := NewServer(cfg, sessions, bus)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, http: ts, sessions: sessions, bus: bus, gate: g}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, env.http.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (env *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp := env.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[SessionResponse](t, resp).ID
}

func (env *testEnv) waitIdle(t *testing.T, sessionID string) {
	t.Helper()
	sess, err := env.sessions.Get(sessionID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return sess.Orchestrator().Status() == models.RunIdle
	}, 5*time.Second, 10*time.Millisecond)
}

// ndjsonReader reads one decoded line at a time from a stream response.
type ndjsonReader struct {
	lines chan map[string]any
}

func readNDJSON(resp *http.Response) *ndjsonReader {
	r := &ndjsonReader{lines: make(chan map[string]any, 64)}
	go func() {
		defer close(r.lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			var m map[string]any
			if json.Unmarshal(sc.Bytes(), &m) == nil {
				r.lines <- m
			}
		}
	}()
	return r
}

func (r *ndjsonReader) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m, ok := <-r.lines:
		require.True(t, ok, "stream ended")
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream line")
		return nil
	}
}
