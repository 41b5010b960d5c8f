package worker

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
)

const bufSize = 1 << 20

// startStepService serves workers over an in-memory listener and returns
// dial options that reach it.
func startStepService(t *testing.T, workers map[string]pipeline.StepWorker) []grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	RegisterStepServiceServer(srv, NewStepService(workers))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

func dialStepService(t *testing.T, workers map[string]pipeline.StepWorker) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet", startStepService(t, workers)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func stepContext(id string) pipeline.StepContext {
	return pipeline.StepContext{
		SessionID: "s1",
		RunID:     "r1",
		Request:   "build a todo app",
		Step:      models.Step{ID: id, Label: id, Index: 0, Status: models.StepActive},
		Total:     1,
	}
}

func TestGRPCWorkerRoundTrip(t *testing.T) {
	var seen pipeline.StepContext
	conn := dialStepService(t, map[string]pipeline.StepWorker{
		"implement": pipeline.WorkerFunc(func(_ context.Context, sc pipeline.StepContext) (pipeline.Outcome, error) {
			seen = sc
			return pipeline.Outcome{Notes: []pipeline.Note{
				{Content: "Generated sources.", Kind: models.KindText},
				{Content: "package main", Kind: models.KindCode},
			}}, nil
		}),
	})

	sc := stepContext("implement")
	out, err := NewGRPCWorker(conn, time.Second).Execute(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, sc, seen)
	require.Len(t, out.Notes, 2)
	assert.Equal(t, models.KindCode, out.Notes[1].Kind)
}

func TestGRPCWorkerRemoteFailure(t *testing.T) {
	conn := dialStepService(t, map[string]pipeline.StepWorker{
		"deploy": pipeline.WorkerFunc(func(context.Context, pipeline.StepContext) (pipeline.Outcome, error) {
			return pipeline.Outcome{}, errors.New("edge rejected bundle")
		}),
	})

	_, err := NewGRPCWorker(conn, time.Second).Execute(context.Background(), stepContext("deploy"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Aborted")
	assert.Contains(t, err.Error(), "edge rejected bundle")
}

func TestGRPCWorkerUnknownStep(t *testing.T) {
	conn := dialStepService(t, map[string]pipeline.StepWorker{})

	_, err := NewGRPCWorker(conn, time.Second).Execute(context.Background(), stepContext("analyze"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotFound")
}

func TestGRPCWorkerCallerCancellation(t *testing.T) {
	conn := dialStepService(t, map[string]pipeline.StepWorker{
		"deploy": pipeline.WorkerFunc(func(ctx context.Context, _ pipeline.StepContext) (pipeline.Outcome, error) {
			<-ctx.Done()
			return pipeline.Outcome{}, ctx.Err()
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewGRPCWorker(conn, time.Minute).Execute(ctx, stepContext("deploy"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGRPCWorkerCallTimeout(t *testing.T) {
	conn := dialStepService(t, map[string]pipeline.StepWorker{
		"deploy": pipeline.WorkerFunc(func(ctx context.Context, _ pipeline.StepContext) (pipeline.Outcome, error) {
			<-ctx.Done()
			return pipeline.Outcome{}, ctx.Err()
		}),
	})

	_, err := NewGRPCWorker(conn, 20*time.Millisecond).Execute(context.Background(), stepContext("deploy"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DeadlineExceeded")
	assert.NotErrorIs(t, err, context.DeadlineExceeded, "the call timeout is a worker failure, not the step deadline")
}
