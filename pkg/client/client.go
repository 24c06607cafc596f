package client

import (
	"context"
	"time"

	"github.com/skylinedb/flightdeck/pkg/rpc"
	"github.com/skylinedb/flightdeck/pkg/types"
)

// defaultTimeout bounds every call below, the same per-RPC
// context.WithTimeout pattern as the daemon's RPC wrappers.
const defaultTimeout = 10 * time.Second

// Client wraps the scheduler's gRPC API for CLI and test use.
type Client struct {
	conn *rpc.SchedulerClientConn
}

// NewClient dials addr and returns a ready-to-use Client.
func NewClient(addr string) (*Client, error) {
	conn, err := rpc.DialScheduler(addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// ExecuteQuery submits a new job and returns its assigned id. An empty
// sessionID creates a fresh session with settings as its options and
// shuffleParts output partitions per stage (at least 1).
func (c *Client) ExecuteQuery(query []byte, settings map[string]string, sessionID string, shuffleParts int) (*rpc.ExecuteQueryResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.conn.Client.ExecuteQuery(ctx, &rpc.ExecuteQueryRequest{Query: query, Settings: settings, SessionID: sessionID, ShuffleParts: shuffleParts})
}

// GetJobStatus returns the current status of jobID.
func (c *Client) GetJobStatus(jobID string) (*rpc.GetJobStatusResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.conn.Client.GetJobStatus(ctx, &rpc.GetJobStatusRequest{JobID: jobID})
}

// RegisterExecutor registers an executor with the scheduler, optionally
// requesting immediate slot reservation (push-mode bootstrap).
func (c *Client) RegisterExecutor(meta types.ExecutorMetadata, reserve bool) (*rpc.RegisterExecutorResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.conn.Client.RegisterExecutor(ctx, &rpc.RegisterExecutorRequest{Metadata: meta, Reserve: reserve})
}

// Heartbeat reports executorID's liveness and current state.
func (c *Client) Heartbeat(executorID, state string) (*rpc.HeartbeatResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.conn.Client.Heartbeat(ctx, &rpc.HeartbeatRequest{ExecutorID: executorID, State: state})
}

// PollWork reports task statuses and, if canAcceptTask, requests the next
// task definition (pull-mode scheduling).
func (c *Client) PollWork(meta types.ExecutorMetadata, canAcceptTask bool, statuses []types.TaskStatus) (*rpc.PollWorkResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.conn.Client.PollWork(ctx, &rpc.PollWorkRequest{Metadata: meta, CanAcceptTask: canAcceptTask, Statuses: statuses})
}

// UpdateTaskStatus reports task completion/failure outside a poll cycle
// (push-mode executors report as soon as a task finishes).
func (c *Client) UpdateTaskStatus(executorID string, statuses []types.TaskStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	_, err := c.conn.Client.UpdateTaskStatus(ctx, &rpc.UpdateTaskStatusRequest{ExecutorID: executorID, Statuses: statuses})
	return err
}

// GetFileMetadata resolves schema information for a data source path.
func (c *Client) GetFileMetadata(path, fileType string) (*rpc.GetFileMetadataResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.conn.Client.GetFileMetadata(ctx, &rpc.GetFileMetadataRequest{Path: path, FileType: fileType})
}
