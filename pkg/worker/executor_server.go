package worker

import (
	"context"
	"net"

	"github.com/skylinedb/flightdeck/pkg/executorrt"
	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/rpc"
	"github.com/skylinedb/flightdeck/pkg/types"
	"google.golang.org/grpc"
)

// executorServer implements rpc.ExecutorServer for push-mode scheduling:
// the scheduler dials the executor directly and hands it tasks.
type executorServer struct {
	rt     *executorrt.Runtime
	report func(types.TaskStatus)
	grpc   *grpc.Server
}

func newExecutorServer(rt *executorrt.Runtime, report func(types.TaskStatus)) *executorServer {
	return &executorServer{rt: rt, report: report}
}

func (s *executorServer) serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.Wrap(errs.Connectivity, "listen on "+addr, err)
	}
	s.grpc = grpc.NewServer()
	rpc.RegisterExecutorServer(s.grpc, s)
	return s.grpc.Serve(lis)
}

func (s *executorServer) stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

func (s *executorServer) LaunchTask(ctx context.Context, req *rpc.LaunchTaskRequest) (*rpc.LaunchTaskResponse, error) {
	task := req.Task
	go func() {
		out, err := s.rt.ExecuteShuffleWrite(context.Background(), task.JobID, task.StageID, task.Partition, task.PlanFragment)
		status := types.TaskStatus{JobID: task.JobID, StageID: task.StageID, Partition: task.Partition, TaskID: task.TaskID}
		switch {
		case err == nil:
			status.State = types.TaskSuccessful
			status.Output = &out
		case errs.Is(err, errs.Cancelled):
			status.State = types.TaskFailedRetryable
			status.Error = err.Error()
		default:
			status.State = types.TaskFailedNonRetryable
			status.Error = err.Error()
		}
		s.report(status)
	}()
	return &rpc.LaunchTaskResponse{}, nil
}

func (s *executorServer) CancelTask(ctx context.Context, req *rpc.CancelTaskRequest) (*rpc.CancelTaskResponse, error) {
	found := s.rt.CancelTask(req.JobID, req.StageID, req.Partition)
	return &rpc.CancelTaskResponse{Found: found}, nil
}

func (s *executorServer) StopExecutor(ctx context.Context, req *rpc.StopExecutorRequest) (*rpc.StopExecutorResponse, error) {
	go s.stop()
	return &rpc.StopExecutorResponse{}, nil
}

// Ping answers the scheduler's registration-time connectivity check. Being
// able to answer at all is the whole check; there is nothing to inspect.
func (s *executorServer) Ping(ctx context.Context, req *rpc.PingRequest) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{}, nil
}
