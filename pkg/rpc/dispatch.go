package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ExecutorPool dials executors on demand and caches the connections,
// implementing eventloop.Dispatcher against the real executor address
// book in pkg/cluster. No mTLS here: the teacher's certificate-issuance
// machinery (pkg/security) has no role in this domain (see DESIGN.md),
// so connections are plaintext, same as every other example repo's
// internal-cluster gRPC traffic.
type ExecutorPool struct {
	lookup func(executorID string) (types.ExecutorMetadata, error)

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewExecutorPool builds a pool that resolves executor addresses via
// lookup, normally pkg/cluster.Manager.GetExecutorMetadata.
func NewExecutorPool(lookup func(executorID string) (types.ExecutorMetadata, error)) *ExecutorPool {
	return &ExecutorPool{lookup: lookup, conns: make(map[string]*grpc.ClientConn)}
}

func (p *ExecutorPool) conn(executorID string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[executorID]; ok {
		return c, nil
	}

	meta, err := p.lookup(executorID)
	if err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("%s:%d", meta.Host, meta.GRPCPort)
	c, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	if err != nil {
		return nil, errs.Wrap(errs.Connectivity, "dial executor "+executorID, err)
	}
	p.conns[executorID] = c
	return c, nil
}

// Dispatch implements eventloop.Dispatcher: it hands a task to the
// executor holding its reservation over the push-mode LaunchTask RPC.
func (p *ExecutorPool) Dispatch(ctx context.Context, executorID string, task types.TaskDefinition) error {
	c, err := p.conn(executorID)
	if err != nil {
		return err
	}
	client := NewExecutorClient(c)

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = client.LaunchTask(callCtx, &LaunchTaskRequest{Task: task})
	return err
}

// Close tears down every cached connection.
func (p *ExecutorPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.conns {
		c.Close() //nolint:errcheck
		delete(p.conns, id)
	}
}

// dialDirect connects to meta without consulting the lookup cache, for
// callers (Ping, NotifyStop) invoked before or after the address book
// carries meta itself.
func dialDirect(meta types.ExecutorMetadata) (*grpc.ClientConn, error) {
	addr := fmt.Sprintf("%s:%d", meta.Host, meta.GRPCPort)
	c, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	if err != nil {
		return nil, errs.Wrap(errs.Connectivity, "dial executor "+meta.ID, err)
	}
	return c, nil
}

// Ping implements cluster.Pinger: a round-trip connectivity check against a
// newly-registering executor.
func (p *ExecutorPool) Ping(ctx context.Context, meta types.ExecutorMetadata) error {
	c, err := dialDirect(meta)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = NewExecutorClient(c).Ping(callCtx, &PingRequest{})
	return err
}

// NotifyStop implements cluster.StopNotifier: a best-effort request asking
// a suspected-dead executor to shut itself down. Failures are logged by the
// caller, never retried.
func (p *ExecutorPool) NotifyStop(ctx context.Context, meta types.ExecutorMetadata) {
	c, err := dialDirect(meta)
	if err != nil {
		return
	}
	defer c.Close() //nolint:errcheck

	_, _ = NewExecutorClient(c).StopExecutor(ctx, &StopExecutorRequest{ExecutorID: meta.ID, Reason: "heartbeat_expired"})
}

// SchedulerClientConn dials a scheduler replica for executor->scheduler
// calls (PollWork, RegisterExecutor, Heartbeat, UpdateTaskStatus), the
// same per-call context.WithTimeout pattern as the scheduler-facing
// client wrapper.
type SchedulerClientConn struct {
	conn   *grpc.ClientConn
	Client *SchedulerClient
}

func DialScheduler(addr string) (*SchedulerClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	if err != nil {
		return nil, errs.Wrap(errs.Connectivity, "dial scheduler "+addr, err)
	}
	return &SchedulerClientConn{conn: conn, Client: NewSchedulerClient(conn)}, nil
}

func (c *SchedulerClientConn) Close() error { return c.conn.Close() }
