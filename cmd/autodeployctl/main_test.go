package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/api"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/events"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/session"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// startServer runs the built-in pipeline with no step delays.
func startServer(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	for i := range cfg.Pipeline.Steps {
		cfg.Pipeline.Steps[i].Delay = 0
	}
	defs, err := worker.NewFactory(cfg).Definitions()
	require.NoError(t, err)

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	sessions := session.NewManager(defs, cfg.Sessions, session.WithPublisher(bus), session.WithChannelDropper(bus))
	ts := httptest.NewServer(api.NewServer(cfg, sessions, bus).Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func execute(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func createSession(t *testing.T, server string) string {
	t.Helper()
	out, err := execute(t, server, "session", "create", "-q")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)
	return id
}

func TestSessionCommands(t *testing.T) {
	server := startServer(t)

	out, err := execute(t, server, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no sessions")

	out, err = execute(t, server, "session", "create")
	require.NoError(t, err)
	assert.Contains(t, out, "Created session")
	assert.Contains(t, out, "Analyze")

	id := createSession(t, server)
	out, err = execute(t, server, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, err = execute(t, server, "status", id)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, string(models.RunIdle))

	out, err = execute(t, server, "session", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted session")

	_, err = execute(t, server, "status", id)
	assert.ErrorContains(t, err, "resource not found")
}

func TestSubmitWatchFollowsRun(t *testing.T) {
	server := startServer(t)
	id := createSession(t, server)

	out, err := execute(t, server, "submit", "--watch", id, "build", "a", "todo", "app")
	require.NoError(t, err)
	assert.Contains(t, out, "Started run")
	assert.Contains(t, out, "Deploy")
	assert.Contains(t, out, "succeeded")

	require.Eventually(t, func() bool {
		out, err := execute(t, server, "status", id)
		return err == nil && strings.Contains(out, "build a todo app") &&
			strings.Contains(out, string(models.RunSucceeded))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIdleSessionCommands(t *testing.T) {
	server := startServer(t)
	id := createSession(t, server)

	out, err := execute(t, server, "cancel", id)
	require.NoError(t, err)
	assert.Contains(t, out, "No run in progress")

	out, err = execute(t, server, "watch", id)
	require.NoError(t, err)
	assert.Contains(t, out, "no run in progress")

	out, err = execute(t, server, "session", "runs", id)
	assert.ErrorContains(t, err, "503")
	assert.Empty(t, out)
}

func TestArgumentValidation(t *testing.T) {
	server := startServer(t)

	_, err := execute(t, server, "submit", "only-session")
	assert.Error(t, err)

	_, err = execute(t, "localhost:8080", "session", "list")
	assert.ErrorContains(t, err, "http or https")
}

func TestRenderSteps(t *testing.T) {
	out := renderSteps([]models.Step{
		{ID: "analyze", Label: "Analyze", Status: models.StepCompleted},
		{ID: "design", Label: "Design", Status: models.StepActive},
		{ID: "implement", Label: "Implement", Status: models.StepPending},
		{ID: "deploy", Label: "Deploy", Status: models.StepFailed},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "✓")
	assert.Contains(t, lines[1], "●")
	assert.Contains(t, lines[2], "○")
	assert.Contains(t, lines[3], "✗")
	assert.Contains(t, lines[3], "Deploy")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "ééé…", truncate("éééééé", 4))
}
