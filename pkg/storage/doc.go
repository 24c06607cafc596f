/*
Package storage implements the scheduler's state backend: a namespaced
key/value store over nine keyspaces (Executors, Heartbeats, Slots,
Sessions, ActiveJobs, CompletedJobs, FailedJobs, ExecutionGraph,
JobStatus), with per-key locks, an atomic multi-keyspace transaction, and
a cancellable watch stream.

Two variants implement Store:

  - BoltStore: one BoltDB bucket per keyspace, JSON-encoded values,
    durable across restarts.
  - MemStore: the same contract over plain maps, used in tests and when
    the scheduler is started with --in-memory.

# Transactions and lock ordering

ApplyTxn acquires a mutex per distinct (keyspace, key) touched by the
batch, always in ascending (keyspace, key) order, before applying any
write. Two overlapping transactions therefore always request their locks
in the same relative order and cannot deadlock each other.

# Watching

Every Put, Delete, ApplyTxn, and Move publishes a WatchEvent on an
internal broker (see pkg/events). Watch subscribes, filters by keyspace
and key prefix, and forwards matches until its context is cancelled.
Watches do not replay history; callers that need the pre-watch state
must scan once before watching.
*/
package storage
