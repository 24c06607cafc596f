package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// SchedulerServer is the scheduler-side half of spec §6's RPC surface:
// everything an executor or client calls on the scheduler.
type SchedulerServer interface {
	PollWork(ctx context.Context, req *PollWorkRequest) (*PollWorkResponse, error)
	RegisterExecutor(ctx context.Context, req *RegisterExecutorRequest) (*RegisterExecutorResponse, error)
	Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error)
	UpdateTaskStatus(ctx context.Context, req *UpdateTaskStatusRequest) (*UpdateTaskStatusResponse, error)
	ExecuteQuery(ctx context.Context, req *ExecuteQueryRequest) (*ExecuteQueryResponse, error)
	GetJobStatus(ctx context.Context, req *GetJobStatusRequest) (*GetJobStatusResponse, error)
	GetFileMetadata(ctx context.Context, req *GetFileMetadataRequest) (*GetFileMetadataResponse, error)
}

// SchedulerServiceName is the gRPC service path segment, mirroring what
// protoc-gen-go-grpc would derive from a `service Scheduler` definition.
const SchedulerServiceName = "flightdeck.Scheduler"

func decodeSchedulerReq(dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor, info *grpc.UnaryServerInfo, req interface{}, handler func(ctx context.Context, req interface{}) (interface{}, error)) func(ctx context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return handler(ctx, req)
		}
		return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return handler(ctx, req)
		})
	}
}

func schedulerPollWorkHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(PollWorkRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SchedulerServiceName + "/PollWork"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SchedulerServer).PollWork(ctx, r.(*PollWorkRequest))
	})
	return fn(ctx)
}

func schedulerRegisterExecutorHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RegisterExecutorRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SchedulerServiceName + "/RegisterExecutor"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SchedulerServer).RegisterExecutor(ctx, r.(*RegisterExecutorRequest))
	})
	return fn(ctx)
}

func schedulerHeartbeatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(HeartbeatRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SchedulerServiceName + "/Heartbeat"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SchedulerServer).Heartbeat(ctx, r.(*HeartbeatRequest))
	})
	return fn(ctx)
}

func schedulerUpdateTaskStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(UpdateTaskStatusRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SchedulerServiceName + "/UpdateTaskStatus"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SchedulerServer).UpdateTaskStatus(ctx, r.(*UpdateTaskStatusRequest))
	})
	return fn(ctx)
}

func schedulerExecuteQueryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ExecuteQueryRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SchedulerServiceName + "/ExecuteQuery"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SchedulerServer).ExecuteQuery(ctx, r.(*ExecuteQueryRequest))
	})
	return fn(ctx)
}

func schedulerGetJobStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetJobStatusRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SchedulerServiceName + "/GetJobStatus"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SchedulerServer).GetJobStatus(ctx, r.(*GetJobStatusRequest))
	})
	return fn(ctx)
}

func schedulerGetFileMetadataHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetFileMetadataRequest)
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SchedulerServiceName + "/GetFileMetadata"}
	fn := decodeSchedulerReq(dec, interceptor, info, req, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SchedulerServer).GetFileMetadata(ctx, r.(*GetFileMetadataRequest))
	})
	return fn(ctx)
}

// SchedulerServiceDesc is the hand-authored equivalent of what
// protoc-gen-go-grpc generates for a `service Scheduler`.
var SchedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: SchedulerServiceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PollWork", Handler: schedulerPollWorkHandler},
		{MethodName: "RegisterExecutor", Handler: schedulerRegisterExecutorHandler},
		{MethodName: "Heartbeat", Handler: schedulerHeartbeatHandler},
		{MethodName: "UpdateTaskStatus", Handler: schedulerUpdateTaskStatusHandler},
		{MethodName: "ExecuteQuery", Handler: schedulerExecuteQueryHandler},
		{MethodName: "GetJobStatus", Handler: schedulerGetJobStatusHandler},
		{MethodName: "GetFileMetadata", Handler: schedulerGetFileMetadataHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flightdeck/scheduler.proto",
}

// RegisterSchedulerServer registers impl on s.
func RegisterSchedulerServer(s grpc.ServiceRegistrar, impl SchedulerServer) {
	s.RegisterService(&SchedulerServiceDesc, impl)
}

// SchedulerClient is a thin typed wrapper over grpc.ClientConn's Invoke,
// mirroring the per-RPC client stub protoc-gen-go-grpc would generate.
type SchedulerClient struct {
	cc grpc.ClientConnInterface
}

func NewSchedulerClient(cc grpc.ClientConnInterface) *SchedulerClient {
	return &SchedulerClient{cc: cc}
}

func (c *SchedulerClient) PollWork(ctx context.Context, req *PollWorkRequest, opts ...grpc.CallOption) (*PollWorkResponse, error) {
	out := new(PollWorkResponse)
	if err := c.cc.Invoke(ctx, "/"+SchedulerServiceName+"/PollWork", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulerClient) RegisterExecutor(ctx context.Context, req *RegisterExecutorRequest, opts ...grpc.CallOption) (*RegisterExecutorResponse, error) {
	out := new(RegisterExecutorResponse)
	if err := c.cc.Invoke(ctx, "/"+SchedulerServiceName+"/RegisterExecutor", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulerClient) Heartbeat(ctx context.Context, req *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	out := new(HeartbeatResponse)
	if err := c.cc.Invoke(ctx, "/"+SchedulerServiceName+"/Heartbeat", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulerClient) UpdateTaskStatus(ctx context.Context, req *UpdateTaskStatusRequest, opts ...grpc.CallOption) (*UpdateTaskStatusResponse, error) {
	out := new(UpdateTaskStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+SchedulerServiceName+"/UpdateTaskStatus", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulerClient) ExecuteQuery(ctx context.Context, req *ExecuteQueryRequest, opts ...grpc.CallOption) (*ExecuteQueryResponse, error) {
	out := new(ExecuteQueryResponse)
	if err := c.cc.Invoke(ctx, "/"+SchedulerServiceName+"/ExecuteQuery", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulerClient) GetJobStatus(ctx context.Context, req *GetJobStatusRequest, opts ...grpc.CallOption) (*GetJobStatusResponse, error) {
	out := new(GetJobStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+SchedulerServiceName+"/GetJobStatus", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulerClient) GetFileMetadata(ctx context.Context, req *GetFileMetadataRequest, opts ...grpc.CallOption) (*GetFileMetadataResponse, error) {
	out := new(GetFileMetadataResponse)
	if err := c.cc.Invoke(ctx, "/"+SchedulerServiceName+"/GetFileMetadata", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
