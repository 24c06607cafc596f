package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ExecutorServer is the executor-side half of spec §6's RPC surface: what
// the scheduler calls on an executor in push mode, plus the control-plane
// StopExecutor call.
type ExecutorServer interface {
	LaunchTask(ctx context.Context, req *LaunchTaskRequest) (*LaunchTaskResponse, error)
	CancelTask(ctx context.Context, req *CancelTaskRequest) (*CancelTaskResponse, error)
	StopExecutor(ctx context.Context, req *StopExecutorRequest) (*StopExecutorResponse, error)
	Ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
}

const ExecutorServiceName = "flightdeck.Executor"

func executorLaunchTaskHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(LaunchTaskRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ExecutorServiceName + "/LaunchTask"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(ExecutorServer).LaunchTask(ctx, r.(*LaunchTaskRequest))
	})
	return fn(ctx)
}

func executorCancelTaskHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CancelTaskRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ExecutorServiceName + "/CancelTask"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(ExecutorServer).CancelTask(ctx, r.(*CancelTaskRequest))
	})
	return fn(ctx)
}

func executorStopExecutorHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(StopExecutorRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ExecutorServiceName + "/StopExecutor"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(ExecutorServer).StopExecutor(ctx, r.(*StopExecutorRequest))
	})
	return fn(ctx)
}

func executorPingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(PingRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ExecutorServiceName + "/Ping"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(ExecutorServer).Ping(ctx, r.(*PingRequest))
	})
	return fn(ctx)
}

// ExecutorServiceDesc is the hand-authored equivalent of what
// protoc-gen-go-grpc generates for a `service Executor`.
var ExecutorServiceDesc = grpc.ServiceDesc{
	ServiceName: ExecutorServiceName,
	HandlerType: (*ExecutorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LaunchTask", Handler: executorLaunchTaskHandler},
		{MethodName: "CancelTask", Handler: executorCancelTaskHandler},
		{MethodName: "StopExecutor", Handler: executorStopExecutorHandler},
		{MethodName: "Ping", Handler: executorPingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flightdeck/executor.proto",
}

// RegisterExecutorServer registers impl on s.
func RegisterExecutorServer(s grpc.ServiceRegistrar, impl ExecutorServer) {
	s.RegisterService(&ExecutorServiceDesc, impl)
}

// ExecutorClient is a thin typed wrapper over grpc.ClientConn's Invoke for
// scheduler->executor calls.
type ExecutorClient struct {
	cc grpc.ClientConnInterface
}

func NewExecutorClient(cc grpc.ClientConnInterface) *ExecutorClient {
	return &ExecutorClient{cc: cc}
}

func (c *ExecutorClient) LaunchTask(ctx context.Context, req *LaunchTaskRequest, opts ...grpc.CallOption) (*LaunchTaskResponse, error) {
	out := new(LaunchTaskResponse)
	if err := c.cc.Invoke(ctx, "/"+ExecutorServiceName+"/LaunchTask", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ExecutorClient) CancelTask(ctx context.Context, req *CancelTaskRequest, opts ...grpc.CallOption) (*CancelTaskResponse, error) {
	out := new(CancelTaskResponse)
	if err := c.cc.Invoke(ctx, "/"+ExecutorServiceName+"/CancelTask", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ExecutorClient) StopExecutor(ctx context.Context, req *StopExecutorRequest, opts ...grpc.CallOption) (*StopExecutorResponse, error) {
	out := new(StopExecutorResponse)
	if err := c.cc.Invoke(ctx, "/"+ExecutorServiceName+"/StopExecutor", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ExecutorClient) Ping(ctx context.Context, req *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	out := new(PingResponse)
	if err := c.cc.Invoke(ctx, "/"+ExecutorServiceName+"/Ping", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
