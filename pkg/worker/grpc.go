package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/pipeline"
)

const (
	// ServiceName is the fully-qualified name of the remote step service.
	ServiceName = "autodeploy.v1.StepService"

	executeMethod = "/" + ServiceName + "/Execute"
)

// StepServiceServer is the server API of the remote step service. Requests
// and responses are google.protobuf.Struct values.
type StepServiceServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterStepServiceServer registers srv on s.
func RegisterStepServiceServer(s grpc.ServiceRegistrar, srv StepServiceServer) {
	s.RegisterService(&stepServiceDesc, srv)
}

var stepServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StepServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autodeploy/v1/step_service.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StepServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StepServiceServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCWorker performs a step by calling the remote step service.
type GRPCWorker struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

var _ pipeline.StepWorker = (*GRPCWorker)(nil)

// NewGRPCWorker creates a worker calling the step service over conn. A
// positive timeout bounds each call in addition to the step's own deadline.
func NewGRPCWorker(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCWorker {
	return &GRPCWorker{conn: conn, timeout: timeout}
}

// Execute sends the step context and decodes the returned narration.
func (w *GRPCWorker) Execute(ctx context.Context, sc pipeline.StepContext) (pipeline.Outcome, error) {
	req, err := encodeStepContext(sc)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("encode step request: %w", err)
	}

	callCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	resp := new(structpb.Struct)
	if err := w.conn.Invoke(callCtx, executeMethod, req, resp); err != nil {
		// Surface the caller's own cancellation or deadline unchanged.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pipeline.Outcome{}, ctxErr
		}
		if st, ok := status.FromError(err); ok {
			return pipeline.Outcome{}, fmt.Errorf("remote step %s: %s", st.Code(), st.Message())
		}
		return pipeline.Outcome{}, fmt.Errorf("remote step: %w", err)
	}

	out, err := decodeOutcome(resp)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("decode step response: %w", err)
	}
	return out, nil
}

// StepService serves Execute by dispatching to local workers keyed by step ID.
type StepService struct {
	workers map[string]pipeline.StepWorker
}

var _ StepServiceServer = (*StepService)(nil)

// NewStepService creates a service backed by workers.
func NewStepService(workers map[string]pipeline.StepWorker) *StepService {
	return &StepService{workers: workers}
}

// Execute runs the worker registered for the requested step.
func (s *StepService) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sc, err := decodeStepContext(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	w, ok := s.workers[sc.Step.ID]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no worker for step %q", sc.Step.ID)
	}

	log := slog.With("session_id", sc.SessionID, "run_id", sc.RunID, "step_id", sc.Step.ID)
	log.Info("Executing remote step")

	out, err := w.Execute(ctx, sc)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		log.Warn("Remote step failed", "error", err)
		return nil, status.Error(codes.Aborted, err.Error())
	}

	resp, err := encodeOutcome(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}
