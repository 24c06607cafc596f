package rpc

import "github.com/skylinedb/flightdeck/pkg/types"

// PollWorkRequest is sent by an executor polling for work in pull mode.
type PollWorkRequest struct {
	Metadata     types.ExecutorMetadata
	CanAcceptTask bool
	Statuses     []types.TaskStatus
}

// PollWorkResponse carries at most one task definition; Task is nil when
// there is nothing ready to dispatch.
type PollWorkResponse struct {
	Task *types.TaskDefinition
}

// RegisterExecutorRequest registers an executor, optionally in push mode.
type RegisterExecutorRequest struct {
	Metadata types.ExecutorMetadata
	Reserve  bool
}

type RegisterExecutorResponse struct {
	Reservations []types.Reservation
}

type HeartbeatRequest struct {
	ExecutorID string
	State      string
}

// HeartbeatResponse's Reregister flag asks the executor to call
// RegisterExecutor again, e.g. because the scheduler has no record of it
// (replica failover, or the heartbeat arrived before registration).
type HeartbeatResponse struct {
	Reregister bool
}

type UpdateTaskStatusRequest struct {
	ExecutorID string
	Statuses   []types.TaskStatus
}

type UpdateTaskStatusResponse struct{}

type ExecuteQueryRequest struct {
	Query        []byte
	IsSQL        bool
	Settings     map[string]string
	SessionID    string
	JobID        string
	ShuffleParts int
}

type ExecuteQueryResponse struct {
	JobID     string
	SessionID string
}

type GetJobStatusRequest struct {
	JobID string
}

// GetJobStatusResponse mirrors spec §7's user-visible GetJobStatus
// contract: a Failed job's Error carries the message, a Cancelled job's
// Error is the literal "cancelled" marker, and a Successful job's
// Outputs is populated.
type GetJobStatusResponse struct {
	Status   types.JobStatusKind
	Progress float64
	Outputs  []types.OutputLocation
	Error    string
}

type GetFileMetadataRequest struct {
	Path     string
	FileType string
}

type GetFileMetadataResponse struct {
	SchemaJSON []byte
}

type StopExecutorRequest struct {
	ExecutorID string
	Reason     string
	Force      bool
}

type StopExecutorResponse struct{}

// PingRequest is the round-trip connectivity check registration performs
// against a newly-registering executor.
type PingRequest struct{}

type PingResponse struct{}

// LaunchTaskRequest is how push-mode scheduling actually hands a task to
// an executor holding a reservation — supplementing spec §6's table with
// the dispatch RPC push mode implies but doesn't separately name
// (grounded on Ballista's scheduler->executor LaunchTask call).
type LaunchTaskRequest struct {
	Task types.TaskDefinition
}

type LaunchTaskResponse struct{}

// CancelTaskRequest asks an executor to cooperatively abort one in-flight
// task attempt.
type CancelTaskRequest struct {
	JobID     string
	StageID   int
	Partition int
}

type CancelTaskResponse struct {
	Found bool
}
