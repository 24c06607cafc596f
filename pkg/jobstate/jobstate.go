// Package jobstate wraps the Job and Session keyspaces: per-job status
// records, execution graph persistence, ownership transfer between
// scheduler replicas, and session config storage. It is the Job State
// component of spec §4.3.
package jobstate

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/events"
	"github.com/skylinedb/flightdeck/pkg/log"
	"github.com/skylinedb/flightdeck/pkg/metrics"
	"github.com/skylinedb/flightdeck/pkg/storage"
	"github.com/skylinedb/flightdeck/pkg/types"
)

// EventKind enumerates the job/session lifecycle events this package
// publishes, named after spec §4.3's job_state_events. They are published
// by this Manager's own write methods, not derived from a backend watch,
// so writes made by another replica or directly through the store produce
// no event.
type EventKind string

const (
	JobUpdated      EventKind = "job_updated"
	JobAcquired     EventKind = "job_acquired"
	JobReleased     EventKind = "job_released"
	SessionCreated  EventKind = "session_created"
	SessionUpdated  EventKind = "session_updated"
)

// Event is one job/session lifecycle transition.
type Event struct {
	Kind      EventKind
	JobID     string
	SessionID string
}

// Manager owns the Sessions, ActiveJobs, CompletedJobs, FailedJobs,
// ExecutionGraph, and JobStatus keyspaces.
type Manager struct {
	store  storage.Store
	logger zerolog.Logger
	events *events.Broker[Event]

	mu     sync.Mutex
	locks  map[string]*sync.Mutex // per-job ownership-acquisition locks
	queued map[string]queuedJob   // accept_job's local queue, pre-graph
}

type queuedJob struct {
	Name     string
	QueuedAt time.Time
}

func New(store storage.Store) *Manager {
	m := &Manager{
		store:  store,
		logger: log.WithComponent("job_state"),
		events: events.NewBroker[Event](),
		locks:  make(map[string]*sync.Mutex),
		queued: make(map[string]queuedJob),
	}
	m.events.Start()
	return m
}

func (m *Manager) Subscribe() events.Subscriber[Event]     { return m.events.Subscribe() }
func (m *Manager) Unsubscribe(s events.Subscriber[Event])  { m.events.Unsubscribe(s) }
func (m *Manager) Close()                                  { m.events.Stop() }

func (m *Manager) jobLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// AcceptJob records a job in the local pre-submission queue. No global
// write happens until SubmitJob persists the planned graph.
func (m *Manager) AcceptJob(id, name string, queuedAt time.Time) {
	m.mu.Lock()
	m.queued[id] = queuedJob{Name: name, QueuedAt: queuedAt}
	m.mu.Unlock()
}

// SubmitJob persists the execution graph, writes JobStatus=Running owned
// by schedulerID, and records the job in ActiveJobs. Fails with Conflict
// if the job already has a different owner.
func (m *Manager) SubmitJob(id string, graph *types.ExecutionGraph, schedulerID string) error {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.getStatus(id)
	if err == nil && existing.OwnerSched != "" && existing.OwnerSched != schedulerID {
		return errs.New(errs.Conflict, "job "+id+" already owned by "+existing.OwnerSched)
	}

	m.mu.Lock()
	q := m.queued[id]
	delete(m.queued, id)
	m.mu.Unlock()

	status := types.JobStatus{
		JobID: id, Name: q.Name, Status: types.JobRunning,
		QueuedAt: q.QueuedAt, OwnerSched: schedulerID,
	}
	if status.QueuedAt.IsZero() {
		status.QueuedAt = time.Now()
	}

	graphBytes, err := json.Marshal(graph)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal execution graph", err)
	}
	statusBytes, err := json.Marshal(status)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal job status", err)
	}

	if err := m.store.ApplyTxn([]storage.Op{
		{Keyspace: storage.ExecutionGraph, Key: id, Value: graphBytes},
		{Keyspace: storage.JobStatus, Key: id, Value: statusBytes},
		{Keyspace: storage.ActiveJobs, Key: id, Value: statusBytes},
	}); err != nil {
		return err
	}

	metrics.JobsActive.Inc()
	m.events.Publish(Event{Kind: JobUpdated, JobID: id})
	return nil
}

// SaveJob updates the persisted graph for id. Fails with NotOwned if
// schedulerID does not currently own the job.
func (m *Manager) SaveJob(id string, graph *types.ExecutionGraph, schedulerID string) error {
	status, err := m.getStatus(id)
	if err != nil {
		return err
	}
	if status.OwnerSched != schedulerID {
		return errs.New(errs.NotOwned, id)
	}

	graphBytes, err := json.Marshal(graph)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal execution graph", err)
	}
	if err := m.store.Put(storage.ExecutionGraph, id, graphBytes); err != nil {
		return err
	}
	m.events.Publish(Event{Kind: JobUpdated, JobID: id})
	return nil
}

// TryAcquireJob CAS-attempts to take ownership of a Running job on behalf
// of schedulerID. Returns the current graph on success. The previous
// owner observes the ownership change on its next SaveJob, which fails
// with NotOwned, and must abandon the job.
func (m *Manager) TryAcquireJob(id, schedulerID string) (*types.ExecutionGraph, error) {
	lock := m.jobLock(id)
	lock.Lock()
	defer lock.Unlock()

	status, err := m.getStatus(id)
	if err != nil {
		return nil, err
	}
	if status.Status != types.JobRunning {
		return nil, errs.New(errs.Conflict, "job "+id+" is not Running")
	}

	prevOwner := status.OwnerSched
	status.OwnerSched = schedulerID
	statusBytes, err := json.Marshal(status)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal job status", err)
	}
	if err := m.store.Put(storage.JobStatus, id, statusBytes); err != nil {
		return nil, err
	}

	graph, err := m.GetExecutionGraph(id)
	if err != nil {
		return nil, err
	}

	if prevOwner != "" && prevOwner != schedulerID {
		m.events.Publish(Event{Kind: JobReleased, JobID: id})
	}
	m.events.Publish(Event{Kind: JobAcquired, JobID: id})
	return graph, nil
}

// Finish marks a job Successful with the given output locations and
// moves its record from ActiveJobs to CompletedJobs.
func (m *Manager) Finish(id string, outputs []types.OutputLocation) error {
	return m.terminate(id, types.JobSuccessful, outputs, "", storage.CompletedJobs, "successful")
}

// Fail marks a job Failed with errMsg and moves its record from
// ActiveJobs to FailedJobs.
func (m *Manager) Fail(id string, errMsg string) error {
	return m.terminate(id, types.JobFailed, nil, errMsg, storage.FailedJobs, "failed")
}

// Cancel marks a job Failed with a Cancelled marker error and moves it to
// FailedJobs.
func (m *Manager) Cancel(id string) error {
	return m.terminate(id, types.JobFailed, nil, "cancelled", storage.FailedJobs, "cancelled")
}

func (m *Manager) terminate(id string, kind types.JobStatusKind, outputs []types.OutputLocation, errMsg string, dest storage.Keyspace, outcome string) error {
	status, err := m.getStatus(id)
	if err != nil {
		return err
	}
	status.Status = kind
	status.Outputs = outputs
	status.Error = errMsg

	statusBytes, err := json.Marshal(status)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal job status", err)
	}
	if err := m.store.Put(storage.JobStatus, id, statusBytes); err != nil {
		return err
	}
	if err := m.store.Move(storage.ActiveJobs, dest, id); err != nil && !errs.Is(err, errs.NotFound) {
		return err
	}

	metrics.JobsActive.Dec()
	metrics.JobsTotal.WithLabelValues(outcome).Inc()
	m.events.Publish(Event{Kind: JobUpdated, JobID: id})
	return nil
}

// RemoveJob deletes every trace of a job across the Active/Completed/
// Failed and ExecutionGraph/JobStatus keyspaces.
func (m *Manager) RemoveJob(id string) error {
	return m.store.ApplyTxn([]storage.Op{
		{Keyspace: storage.ActiveJobs, Key: id, Delete: true},
		{Keyspace: storage.CompletedJobs, Key: id, Delete: true},
		{Keyspace: storage.FailedJobs, Key: id, Delete: true},
		{Keyspace: storage.ExecutionGraph, Key: id, Delete: true},
		{Keyspace: storage.JobStatus, Key: id, Delete: true},
	})
}

// GetJobs lists every job's status record.
func (m *Manager) GetJobs() ([]types.JobStatus, error) {
	raw, err := m.store.Scan(storage.JobStatus)
	if err != nil {
		return nil, err
	}
	out := make([]types.JobStatus, 0, len(raw))
	for _, v := range raw {
		var s types.JobStatus
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Manager) getStatus(id string) (types.JobStatus, error) {
	v, err := m.store.Get(storage.JobStatus, id)
	if err != nil {
		return types.JobStatus{}, err
	}
	if v == nil {
		return types.JobStatus{}, errs.New(errs.NotFound, id)
	}
	var s types.JobStatus
	if err := json.Unmarshal(v, &s); err != nil {
		return types.JobStatus{}, errs.Wrap(errs.Internal, "unmarshal job status", err)
	}
	return s, nil
}

// GetJobStatus returns the persisted status record for id.
func (m *Manager) GetJobStatus(id string) (types.JobStatus, error) {
	return m.getStatus(id)
}

// GetExecutionGraph returns the persisted graph for id.
func (m *Manager) GetExecutionGraph(id string) (*types.ExecutionGraph, error) {
	v, err := m.store.Get(storage.ExecutionGraph, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errs.New(errs.NotFound, id)
	}
	var g types.ExecutionGraph
	if err := json.Unmarshal(v, &g); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal execution graph", err)
	}
	return &g, nil
}

// CreateSession persists a new session config under cfg.ID, which the
// caller supplies.
func (m *Manager) CreateSession(cfg types.Session) error {
	v, err := json.Marshal(cfg)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal session", err)
	}
	if err := m.store.Put(storage.Sessions, cfg.ID, v); err != nil {
		return err
	}
	m.events.Publish(Event{Kind: SessionCreated, SessionID: cfg.ID})
	return nil
}

// UpdateSession overwrites an existing session's config.
func (m *Manager) UpdateSession(id string, cfg types.Session) error {
	cfg.ID = id
	v, err := json.Marshal(cfg)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal session", err)
	}
	if err := m.store.Put(storage.Sessions, id, v); err != nil {
		return err
	}
	m.events.Publish(Event{Kind: SessionUpdated, SessionID: id})
	return nil
}

// GetSession returns the persisted config for id.
func (m *Manager) GetSession(id string) (types.Session, error) {
	v, err := m.store.Get(storage.Sessions, id)
	if err != nil {
		return types.Session{}, err
	}
	if v == nil {
		return types.Session{}, errs.New(errs.NotFound, id)
	}
	var cfg types.Session
	if err := json.Unmarshal(v, &cfg); err != nil {
		return types.Session{}, errs.Wrap(errs.Internal, "unmarshal session", err)
	}
	return cfg, nil
}
