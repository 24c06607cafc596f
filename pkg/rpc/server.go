package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/skylinedb/flightdeck/pkg/cluster"
	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/eventloop"
	"github.com/skylinedb/flightdeck/pkg/jobstate"
	"github.com/skylinedb/flightdeck/pkg/log"
	"github.com/skylinedb/flightdeck/pkg/metrics"
	"github.com/skylinedb/flightdeck/pkg/taskmgr"
	"github.com/skylinedb/flightdeck/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server implements SchedulerServer. Task status updates (UpdateTaskStatus
// and the statuses carried on PollWork) and ExecuteQuery's job submission
// are posted onto the query-stage event loop; registration, heartbeats,
// session creation, and PollWork's slot reservation and task assignment
// call pkg/cluster, pkg/jobstate and pkg/taskmgr directly from the handler
// goroutine. Read-only queries read straight from pkg/cluster/pkg/jobstate.
type Server struct {
	cluster    *cluster.Manager
	jobs       *jobstate.Manager
	tasks      *taskmgr.Manager
	loop       *eventloop.Loop
	logger     zerolog.Logger
	slotPolicy cluster.Policy
	schedPolicy SchedulingPolicy
	grpc       *grpc.Server
}

// SchedulingPolicy selects whether executors pull work (PollWork) or the
// scheduler pushes reservations to them (ReservationOffering).
type SchedulingPolicy string

const (
	PullStaged SchedulingPolicy = "pull-staged"
	PushStaged SchedulingPolicy = "push-staged"
)

// Config configures a Server.
type Config struct {
	SlotPolicy      cluster.Policy
	SchedulingPolicy SchedulingPolicy
}

func NewServer(c *cluster.Manager, j *jobstate.Manager, t *taskmgr.Manager, loop *eventloop.Loop, cfg Config) *Server {
	policy := cfg.SchedulingPolicy
	if policy == "" {
		policy = PullStaged
	}
	return &Server{
		cluster:     c,
		jobs:        j,
		tasks:       t,
		loop:        loop,
		logger:      log.WithComponent("rpc_server"),
		slotPolicy:  cfg.SlotPolicy,
		schedPolicy: policy,
	}
}

// requestLoggingInterceptor records per-method RPC counts and latency,
// labelling each call "ok" or "error" and logging failed calls.
func requestLoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			logger.Warn().Err(err).Str("method", info.FullMethod).Msg("rpc failed")
		}
		metrics.RPCRequestsTotal.WithLabelValues(info.FullMethod, outcome).Inc()
		timer.ObserveDurationVec(metrics.RPCRequestDuration, info.FullMethod)
		return resp, err
	}
}

// grpcCode maps an errs.Kind onto the wire status code spec §6 calls for:
// invalid argument, failed precondition, internal, unimplemented, plus the
// rest of the taxonomy so no kind falls through to a bare Unknown.
func grpcCode(kind errs.Kind) codes.Code {
	switch kind {
	case errs.ConfigInvalid, errs.InvalidPlan:
		return codes.InvalidArgument
	case errs.NotFound:
		return codes.NotFound
	case errs.NotOwned:
		return codes.PermissionDenied
	case errs.Conflict, errs.FailedPrecondition:
		return codes.FailedPrecondition
	case errs.Cancelled:
		return codes.Canceled
	case errs.Connectivity:
		return codes.Unavailable
	case errs.Unimplemented:
		return codes.Unimplemented
	case errs.StorageErrorKind, errs.Internal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// statusInterceptor converts every *errs.Error a handler returns into a
// status.Error carrying the matching wire code, so a remote caller sees
// more than codes.Unknown for errors that already carry a kind.
func statusInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		var e *errs.Error
		if errors.As(err, &e) {
			return resp, status.Error(grpcCode(e.Kind), e.Error())
		}
		return resp, err
	}
}

// Serve starts a gRPC listener on addr and blocks until it stops or the
// server is closed.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.Wrap(errs.Connectivity, "listen on "+addr, err)
	}

	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(requestLoggingInterceptor(s.logger), statusInterceptor()))
	RegisterSchedulerServer(s.grpc, s)

	s.logger.Info().Str("addr", addr).Msg("scheduler rpc server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

func (s *Server) PollWork(ctx context.Context, req *PollWorkRequest) (*PollWorkResponse, error) {
	if len(req.Statuses) > 0 {
		postCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		ev := eventloop.Event{Kind: eventloop.KindTaskUpdating, TaskUpdating: &eventloop.TaskUpdatingPayload{
			ExecutorID: req.Metadata.ID, Statuses: req.Statuses,
		}}
		if err := s.loop.Post(postCtx, ev); err != nil {
			return nil, err
		}
	}

	if !req.CanAcceptTask {
		return &PollWorkResponse{}, nil
	}

	if s.schedPolicy == PushStaged {
		return nil, errs.New(errs.FailedPrecondition, "pull-mode disabled: scheduler configured for push-staged scheduling")
	}

	reservations, err := s.cluster.ReserveSlots(1, s.slotPolicy, req.Metadata.ID)
	if err != nil {
		return nil, err
	}
	if len(reservations) == 0 {
		return &PollWorkResponse{}, nil
	}

	assignments, unassigned, _, err := s.tasks.FillReservations(reservations)
	if err != nil {
		return nil, err
	}
	if len(unassigned) > 0 {
		if cerr := s.cluster.CancelReservations(unassigned); cerr != nil {
			s.logger.Error().Err(cerr).Msg("failed to cancel unassigned poll reservation")
		}
	}
	if len(assignments) == 0 {
		return &PollWorkResponse{}, nil
	}
	return &PollWorkResponse{Task: &assignments[0].Task}, nil
}

func (s *Server) RegisterExecutor(ctx context.Context, req *RegisterExecutorRequest) (*RegisterExecutorResponse, error) {
	reservations, err := s.cluster.RegisterExecutor(ctx, req.Metadata, req.Reserve)
	if err != nil {
		return nil, err
	}
	return &RegisterExecutorResponse{Reservations: reservations}, nil
}

func (s *Server) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	hb := types.Heartbeat{ExecutorID: req.ExecutorID, State: req.State, Timestamp: time.Now().Unix()}
	if err := s.cluster.SaveExecutorHeartbeat(hb); err != nil {
		return nil, err
	}
	if _, err := s.cluster.GetExecutorMetadata(req.ExecutorID); err != nil && errs.Is(err, errs.NotFound) {
		return &HeartbeatResponse{Reregister: true}, nil
	}
	return &HeartbeatResponse{}, nil
}

func (s *Server) UpdateTaskStatus(ctx context.Context, req *UpdateTaskStatusRequest) (*UpdateTaskStatusResponse, error) {
	ev := eventloop.Event{Kind: eventloop.KindTaskUpdating, TaskUpdating: &eventloop.TaskUpdatingPayload{
		ExecutorID: req.ExecutorID, Statuses: req.Statuses,
	}}
	if err := s.loop.Post(ctx, ev); err != nil {
		return nil, err
	}
	return &UpdateTaskStatusResponse{}, nil
}

func (s *Server) ExecuteQuery(ctx context.Context, req *ExecuteQueryRequest) (*ExecuteQueryResponse, error) {
	if len(req.Query) == 0 {
		return nil, errs.New(errs.InvalidPlan, "empty query")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		shuffleParts := req.ShuffleParts
		if shuffleParts <= 0 {
			shuffleParts = 1
		}
		sessionID = s.tasks.GenerateJobID()
		if err := s.jobs.CreateSession(types.Session{ID: sessionID, Options: req.Settings, ShuffleParts: shuffleParts}); err != nil {
			return nil, err
		}
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = s.tasks.GenerateJobID()
	}

	ev := eventloop.Event{Kind: eventloop.KindJobQueued, JobQueued: &eventloop.JobQueuedPayload{
		JobID: jobID, SessionID: sessionID, Plan: req.Query, QueuedAt: time.Now(),
	}}
	if err := s.loop.Post(ctx, ev); err != nil {
		return nil, err
	}
	return &ExecuteQueryResponse{JobID: jobID, SessionID: sessionID}, nil
}

// GetJobStatus answers directly from persisted state; it never touches the
// event loop since it only reads.
func (s *Server) GetJobStatus(ctx context.Context, req *GetJobStatusRequest) (*GetJobStatusResponse, error) {
	status, err := s.jobs.GetJobStatus(req.JobID)
	if err != nil {
		return nil, err
	}

	resp := &GetJobStatusResponse{Status: status.Status, Outputs: status.Outputs, Error: status.Error}
	if status.Status == types.JobRunning {
		g, err := s.jobs.GetExecutionGraph(req.JobID)
		if err == nil {
			resp.Progress = stageProgress(g)
		}
	} else if status.Status == types.JobSuccessful {
		resp.Progress = 1
	}
	return resp, nil
}

func stageProgress(g *types.ExecutionGraph) float64 {
	if g == nil || len(g.Stages) == 0 {
		return 0
	}
	var done, total int
	for _, st := range g.Stages {
		for _, p := range st.Partitions {
			total++
			if p.State == types.PartitionCompleted {
				done++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// GetFileMetadata resolves schema information for a data source path. File
// introspection (Parquet/CSV schema sniffing) is the in-process columnar
// engine's job, an external collaborator per spec §1; the scheduler itself
// has nothing to return until one is wired in.
func (s *Server) GetFileMetadata(ctx context.Context, req *GetFileMetadataRequest) (*GetFileMetadataResponse, error) {
	return nil, errs.New(errs.Unimplemented, fmt.Sprintf("file metadata resolution for %q not wired to a columnar engine", req.Path))
}
