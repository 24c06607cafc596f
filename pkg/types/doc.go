/*
Package types defines the data model shared across the scheduler and
executor: executor identity and slot ledgers, jobs, execution graphs, and
the records persisted through the state backend.

# Core Types

Executor resources:
  - ExecutorMetadata: stable identity, host/ports, and static slot spec
  - ExecutorData: the mutable total/available slot ledger
  - Heartbeat: liveness signal cached per executor
  - Reservation: a capability entitling dispatch of one task

Job and graph state:
  - JobStatus: queued/running/successful/failed plus outputs or error
  - ExecutionGraph, Stage, Partition: the per-job DAG and its task state
  - TaskStatus, TaskDefinition: the wire contract between scheduler and
    executor for one task attempt

All enums are typed string constants (TaskState, StageState, ...) rather
than ints, so persisted records stay self-describing in storage dumps.
*/
package types
