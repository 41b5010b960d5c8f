package worker

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/config"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
)

// Factory turns the configured step list into pipeline step definitions.
// The gRPC connection is shared by all remote steps and created on first use.
type Factory struct {
	cfg         *config.Config
	dialOptions []grpc.DialOption
	delayOpts   []DelayOption

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithDialOptions replaces the default insecure transport credentials.
func WithDialOptions(opts ...grpc.DialOption) FactoryOption {
	return func(f *Factory) { f.dialOptions = opts }
}

// WithDelayOptions is applied to every delay worker the factory builds.
func WithDelayOptions(opts ...DelayOption) FactoryOption {
	return func(f *Factory) { f.delayOpts = opts }
}

// NewFactory creates a factory for cfg.
func NewFactory(cfg *config.Config, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:         cfg,
		dialOptions: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Definitions builds one StepDefinition per configured step, in order.
func (f *Factory) Definitions() ([]pipeline.StepDefinition, error) {
	defs := make([]pipeline.StepDefinition, 0, len(f.cfg.Pipeline.Steps))
	for _, step := range f.cfg.Pipeline.Steps {
		w, err := f.workerFor(step)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.ID, err)
		}
		defs = append(defs, pipeline.StepDefinition{
			ID:      step.ID,
			Label:   step.Label,
			Worker:  w,
			Timeout: step.Timeout,
		})
	}
	return defs, nil
}

// LocalWorkers builds a delay worker for every configured step regardless
// of its worker type. The step service daemon serves these.
func (f *Factory) LocalWorkers() map[string]pipeline.StepWorker {
	workers := make(map[string]pipeline.StepWorker, len(f.cfg.Pipeline.Steps))
	for _, step := range f.cfg.Pipeline.Steps {
		workers[step.ID] = f.delayWorker(step)
	}
	return workers
}

func (f *Factory) workerFor(step config.StepConfig) (pipeline.StepWorker, error) {
	switch step.Worker {
	case config.WorkerTypeDelay, "":
		return f.delayWorker(step), nil
	case config.WorkerTypeGRPC:
		conn, err := f.clientConn()
		if err != nil {
			return nil, err
		}
		return NewGRPCWorker(conn, f.cfg.Workers.GRPC.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown worker type %q", step.Worker)
	}
}

func (f *Factory) delayWorker(step config.StepConfig) *DelayWorker {
	notes := make([]pipeline.Note, 0, len(step.Narration))
	for _, n := range step.Narration {
		notes = append(notes, pipeline.Note{Content: n.Content, Kind: n.Kind})
	}
	return NewDelayWorker(step.Delay, notes, f.delayOpts...)
}

func (f *Factory) clientConn() (*grpc.ClientConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		return f.conn, nil
	}
	conn, err := grpc.NewClient(f.cfg.Workers.GRPC.Address, f.dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to step service: %w", err)
	}
	f.conn = conn
	return conn, nil
}

// Close releases the shared gRPC connection, if any.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	return err
}
