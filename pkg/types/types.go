// Package types defines the data model shared by the scheduler and
// executor: executor metadata and slots, jobs, execution graphs, and the
// wire-level records persisted through the state backend.
package types

import "time"

// ExecutorMetadata identifies an executor process. Created on first
// registration, mutated only by re-registration from the same id.
type ExecutorMetadata struct {
	ID       string       `json:"id"`
	Host     string       `json:"host"`
	Port     int          `json:"port"`      // shuffle/data port
	GRPCPort int          `json:"grpc_port"` // control-plane port
	Spec     ExecutorSpec `json:"spec"`
}

// ExecutorSpec carries an executor's static capacity.
type ExecutorSpec struct {
	TaskSlots int `json:"task_slots"`
}

// ExecutorData is the mutable slot ledger for one executor. The invariant
// 0 <= Available <= Total holds for every value observable outside the
// Slots keyspace lock.
type ExecutorData struct {
	ExecutorID string `json:"executor_id"`
	Total      int    `json:"total_task_slots"`
	Available  int    `json:"available_task_slots"`
}

// Heartbeat is the most recently observed liveness signal from an executor.
type Heartbeat struct {
	ExecutorID string `json:"executor_id"`
	Timestamp  int64  `json:"unix_seconds_timestamp"`
	State      string `json:"state,omitempty"`
}

// Reservation is a capability entitling its holder to dispatch exactly one
// task to ExecutorID. Never persisted; held only in scheduler-replica
// memory.
type Reservation struct {
	ExecutorID string `json:"executor_id"`
	JobID      string `json:"job_id,omitempty"`
}

// JobStatusKind enumerates the terminal/non-terminal states of a job.
type JobStatusKind string

const (
	JobQueued     JobStatusKind = "queued"
	JobRunning    JobStatusKind = "running"
	JobSuccessful JobStatusKind = "successful"
	JobFailed     JobStatusKind = "failed"
)

// JobStatus is the persisted status record for a job.
type JobStatus struct {
	JobID      string           `json:"job_id"`
	Name       string           `json:"name"`
	SessionID  string           `json:"session_id"`
	Status     JobStatusKind    `json:"status"`
	Progress   float64          `json:"progress,omitempty"`
	Outputs    []OutputLocation `json:"outputs,omitempty"`
	Error      string           `json:"error,omitempty"`
	QueuedAt   time.Time        `json:"queued_at"`
	OwnerSched string           `json:"owner_scheduler_id"`
}

// OutputLocation describes one completed partition's persisted shuffle
// output.
type OutputLocation struct {
	ExecutorID string `json:"executor_id"`
	Path       string `json:"path"`
	NumBatches int64  `json:"num_batches"`
	NumRows    int64  `json:"num_rows"`
	NumBytes   int64  `json:"num_bytes"`
}

// StageState is the lifecycle state of one stage in an execution graph.
type StageState string

const (
	StagePending    StageState = "pending"
	StageRunning    StageState = "running"
	StageSuccessful StageState = "successful"
	StageFailed     StageState = "failed"
)

// PartitionTaskState is the lifecycle state of one partition's task
// attempt.
type PartitionTaskState string

const (
	PartitionUnscheduled PartitionTaskState = "unscheduled"
	PartitionRunning     PartitionTaskState = "running"
	PartitionCompleted   PartitionTaskState = "completed"
	PartitionFailed      PartitionTaskState = "failed"
)

// Partition is one of a stage's N outputs, the unit of task work.
type Partition struct {
	Index      int                `json:"index"`
	State      PartitionTaskState `json:"state"`
	ExecutorID string             `json:"executor_id,omitempty"`
	TaskID     string             `json:"task_id,omitempty"`
	Output     *OutputLocation    `json:"output,omitempty"`
	Error      string             `json:"error,omitempty"`
	Attempt    int                `json:"attempt"`
}

// Stage is a contiguous pipeline of operators ending at a shuffle
// boundary, producing len(Partitions) output partitions.
type Stage struct {
	ID           int         `json:"id"`
	Attempt      int         `json:"attempt"`
	Inputs       []int       `json:"inputs"` // upstream stage ids
	State        StageState  `json:"state"`
	Partitions   []Partition `json:"partitions"`
	PlanFragment []byte      `json:"plan_fragment,omitempty"`
}

// ExecutionGraph is the per-job DAG of stages.
type ExecutionGraph struct {
	JobID  string  `json:"job_id"`
	Stages []Stage `json:"stages"`
}

// TaskState is the per-task-attempt status reported by an executor.
type TaskState string

const (
	TaskSuccessful         TaskState = "successful"
	TaskFailedRetryable    TaskState = "failed_retryable"
	TaskFailedNonRetryable TaskState = "failed_non_retryable"
)

// TaskStatus is an executor's report on one task attempt.
type TaskStatus struct {
	JobID     string          `json:"job_id"`
	StageID   int             `json:"stage_id"`
	Partition int             `json:"partition"`
	TaskID    string          `json:"task_id"`
	State     TaskState       `json:"state"`
	Output    *OutputLocation `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// TaskDefinition is the unit of dispatch handed to an executor: a
// partition's input plan fragment plus the shuffle locations it depends
// on.
type TaskDefinition struct {
	JobID        string           `json:"job_id"`
	StageID      int              `json:"stage_id"`
	Partition    int              `json:"partition"`
	TaskID       string           `json:"task_id"`
	Attempt      int              `json:"attempt"`
	PlanFragment []byte           `json:"plan_fragment"`
	Dependencies []OutputLocation `json:"dependencies,omitempty"`
	ResultRoute  string           `json:"result_route,omitempty"`
}

// Session is a configuration bundle rehydrating planning state for a job.
type Session struct {
	ID             string            `json:"id"`
	Options        map[string]string `json:"options"`
	ShuffleParts   int               `json:"shuffle_partitions"`
	SchedulingHint string            `json:"scheduling_policy_override,omitempty"`
	ResultRoute    string            `json:"result_route_endpoint,omitempty"`
}
