package storage

import "context"

// Keyspace namespaces keys within the state backend.
type Keyspace string

const (
	Executors      Keyspace = "executors"
	Heartbeats     Keyspace = "heartbeats"
	Slots          Keyspace = "slots"
	Sessions       Keyspace = "sessions"
	ActiveJobs     Keyspace = "active_jobs"
	CompletedJobs  Keyspace = "completed_jobs"
	FailedJobs     Keyspace = "failed_jobs"
	ExecutionGraph Keyspace = "execution_graph"
	JobStatus      Keyspace = "job_status"
)

// allKeyspaces enumerates every keyspace a backend must provision space
// for. Kept private: callers address keyspaces by the typed constants
// above, never by string literal.
var allKeyspaces = []Keyspace{
	Executors, Heartbeats, Slots, Sessions,
	ActiveJobs, CompletedJobs, FailedJobs,
	ExecutionGraph, JobStatus,
}

// Op is one write in an ApplyTxn batch. A nil Value with Delete=true
// removes the key; otherwise the key is overwritten with Value.
type Op struct {
	Keyspace Keyspace
	Key      string
	Value    []byte
	Delete   bool
}

// WatchEvent is one change observed on a watched keyspace/prefix.
type WatchEvent struct {
	Keyspace Keyspace
	Key      string
	Value    []byte
	Deleted  bool
}

// Lock is an exclusive guard on one (keyspace, key) pair. Unlock must be
// called exactly once, typically via defer, so release is guaranteed on
// every control-flow path out of the critical section.
type Lock interface {
	Unlock()
}

// Store is the namespaced key/value state backend described in spec §4.1:
// get/scan for reads, put/delete/ApplyTxn for writes, Lock for exclusive
// sections, Watch for a cancellable change stream, and Move for atomic
// keyspace-to-keyspace relocation of a record (used to shuffle a job
// between ActiveJobs, CompletedJobs, and FailedJobs).
//
// Every method returns a *Error so callers can branch on Kind; there is
// no internal retry; transient errors are surfaced as-is.
type Store interface {
	Get(ks Keyspace, key string) ([]byte, error)
	GetFromPrefix(ks Keyspace, prefix string) (map[string][]byte, error)
	Scan(ks Keyspace) (map[string][]byte, error)
	ScanKeys(ks Keyspace) ([]string, error)
	Put(ks Keyspace, key string, value []byte) error
	Delete(ks Keyspace, key string) error

	// ApplyTxn acquires locks on every touched (keyspace, key) pair in
	// sorted order, then applies all ops atomically: either every op is
	// visible or none are.
	ApplyTxn(ops []Op) error

	Lock(ks Keyspace, key string) (Lock, error)

	// Watch returns a channel of WatchEvent for keys in ks matching
	// prefix. The channel closes when ctx is cancelled. Reconnection does
	// not replay history; callers must tolerate missed events with a
	// full scan on startup.
	Watch(ctx context.Context, ks Keyspace, prefix string) (<-chan WatchEvent, error)

	// Move atomically relocates key from one keyspace to another,
	// deleting it from the source.
	Move(from, to Keyspace, key string) error

	Close() error
}
