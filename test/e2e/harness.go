// Package e2e provides end-to-end test infrastructure: a complete
// PostgreSQL-backed autodeploy server on a random port.
package e2e

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/api"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/client"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/database"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/services"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/worker"
	testdb "github.com/Littlefish319/autodeploy-agent-233/test/database"
)

// TestApp boots a complete autodeploy instance for e2e testing.
type TestApp struct {
	Config   *config.Config
	DBClient *database.Client

	Bus            *events.Bus
	ConnManager    *events.ConnectionManager
	NotifyListener *events.NotifyListener
	Sessions       *session.Manager
	Runs           *services.RunService
	Server         *api.Server
	Client         *client.Client

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws"
}

type testAppConfig struct {
	cfg      *config.Config
	defs     []pipeline.StepDefinition
	dbClient *database.Client
	connStr  string
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithDefinitions replaces the step definitions built from the config.
func WithDefinitions(defs []pipeline.StepDefinition) TestAppOption {
	return func(c *testAppConfig) { c.defs = defs }
}

// WithDBClient injects a database client, skipping per-test schema
// creation. Used by multi-replica tests sharing one schema.
func WithDBClient(client *database.Client, connStr string) TestAppOption {
	return func(c *testAppConfig) {
		c.dbClient = client
		c.connStr = connStr
	}
}

// NewTestApp creates and starts a full test instance. Shutdown is
// registered via t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	if tc.defs == nil {
		defs, err := worker.NewFactory(tc.cfg).Definitions()
		require.NoError(t, err)
		tc.defs = defs
	}

	// 1. Database.
	dbClient, connStr := tc.dbClient, tc.connStr
	if dbClient == nil {
		dbClient, connStr = testdb.NewTestClient(t)
	}

	// 2. Persistence and publishing.
	runService := services.NewRunService(dbClient.DB())
	timelineService := services.NewTimelineService(dbClient.DB())
	eventService := services.NewEventService(dbClient.DB())
	bus := events.NewBus()
	publisher := events.NewMultiPublisher(
		bus,
		services.NewRecorder(runService, timelineService),
		events.NewEventPublisher(dbClient.DB()),
	)

	// 3. Streaming infrastructure.
	connManager := events.NewConnectionManager(events.NewEventServiceAdapter(eventService), 5*time.Second)
	notifyListener := events.NewNotifyListener(connStr, connManager)
	ctx := context.Background()
	require.NoError(t, notifyListener.Start(ctx))
	connManager.SetListener(notifyListener)

	// 4. Sessions.
	sessions := session.NewManager(tc.defs, tc.cfg.Sessions, session.WithPublisher(publisher), session.WithChannelDropper(bus))

	// 5. HTTP server on a random port.
	server := api.NewServer(tc.cfg, sessions, bus)
	server.SetPersistence(dbClient, runService, timelineService)
	server.SetConnectionManager(connManager)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.Serve(ln)
	}()

	addr := ln.Addr().String()
	baseURL := fmt.Sprintf("http://%s", addr)
	c, err := client.New(baseURL)
	require.NoError(t, err)

	app := &TestApp{
		Config:         tc.cfg,
		DBClient:       dbClient,
		Bus:            bus,
		ConnManager:    connManager,
		NotifyListener: notifyListener,
		Sessions:       sessions,
		Runs:           runService,
		Server:         server,
		Client:         c,
		BaseURL:        baseURL,
		WSURL:          fmt.Sprintf("ws://%s/ws", addr),
	}

	// Reverse-creation order.
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sessions.Shutdown(shutdownCtx)
		_ = server.Shutdown(shutdownCtx)
		notifyListener.Stop(context.Background())
		bus.Close()
		// DB cleanup handled by testdb.NewTestClient / SharedTestDB.
	})

	return app
}

// defaultTestConfig is the built-in pipeline without step delays.
func defaultTestConfig() *config.Config {
	cfg := config.Default()
	for i := range cfg.Pipeline.Steps {
		cfg.Pipeline.Steps[i].Delay = 0
	}
	return cfg
}

// Gate holds a step until Open is called; cancellation still ends it early.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// NewGate returns a closed gate that opens on test cleanup at the latest.
func NewGate(t *testing.T) *Gate {
	g := &Gate{ch: make(chan struct{})}
	t.Cleanup(g.Open)
	return g
}

// Open releases every waiting step.
func (g *Gate) Open() { g.once.Do(func() { close(g.ch) }) }

// Worker returns a step worker that waits on the gate.
func (g *Gate) Worker(note string) pipeline.StepWorker {
	return pipeline.WorkerFunc(func(ctx context.Context, _ pipeline.StepContext) (pipeline.Outcome, error) {
		select {
		case <-g.ch:
			return pipeline.Outcome{Notes: []pipeline.Note{{Content: note, Kind: models.KindText}}}, nil
		case <-ctx.Done():
			return pipeline.Outcome{}, ctx.Err()
		}
	})
}

// definitions builds the default step list with worker overrides by step ID.
func definitions(t *testing.T, overrides map[string]pipeline.StepWorker) []pipeline.StepDefinition {
	t.Helper()
	defs, err := worker.NewFactory(defaultTestConfig()).Definitions()
	require.NoError(t, err)
	for i := range defs {
		if w, ok := overrides[defs[i].ID]; ok {
			defs[i].Worker = w
		}
	}
	return defs
}
