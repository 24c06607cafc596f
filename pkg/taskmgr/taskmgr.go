// Package taskmgr implements the Task Manager of spec §4.5: it matches
// slot reservations to ready tasks drawn from active execution graphs,
// builds task definitions, and ingests status updates that advance those
// graphs.
package taskmgr

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/graph"
	"github.com/skylinedb/flightdeck/pkg/jobstate"
	"github.com/skylinedb/flightdeck/pkg/log"
	"github.com/skylinedb/flightdeck/pkg/metrics"
	"github.com/skylinedb/flightdeck/pkg/types"
)

// Assignment binds a task definition to the reservation that will carry
// it to an executor.
type Assignment struct {
	Reservation types.Reservation
	Task        types.TaskDefinition
}

// StatusOutcome reports what happened to a job as a consequence of one
// UpdateTaskStatuses call, so the event loop knows whether to emit
// JobFinished/JobFailed and which running tasks must now be cancelled.
type StatusOutcome struct {
	JobID     string
	Finished  bool
	Failed    bool
	Error     string
	Outputs   []types.OutputLocation
	ToCancel  []graph.ReadyTask
}

type jobHandle struct {
	mu    sync.Mutex
	graph *types.ExecutionGraph
}

// Manager holds the in-memory registry of active execution graphs and
// drives the matching algorithm described in spec §4.5.
type Manager struct {
	jobs        *jobstate.Manager
	schedulerID string
	logger      zerolog.Logger

	mu     sync.RWMutex
	active map[string]*jobHandle
}

func New(jobs *jobstate.Manager, schedulerID string) *Manager {
	return &Manager{
		jobs:        jobs,
		schedulerID: schedulerID,
		logger:      log.WithComponent("task_manager"),
		active:      make(map[string]*jobHandle),
	}
}

// GenerateJobID returns an opaque, globally unique job id.
func (m *Manager) GenerateJobID() string {
	return uuid.New().String()
}

// QueueJob registers g as the in-memory active handle for jobID. Callers
// must have already persisted it via jobstate.Manager.SubmitJob.
func (m *Manager) QueueJob(jobID string, g *types.ExecutionGraph) {
	m.mu.Lock()
	m.active[jobID] = &jobHandle{graph: g}
	m.mu.Unlock()
}

// Forget drops a job's in-memory handle, e.g. once it has reached a
// terminal state.
func (m *Manager) Forget(jobID string) {
	m.mu.Lock()
	delete(m.active, jobID)
	m.mu.Unlock()
}

// GraphHandle is a locked, exclusive-mutation view of one job's graph.
// Unlock must be called exactly once.
type GraphHandle struct {
	JobID  string
	Graph  *types.ExecutionGraph
	handle *jobHandle
}

func (h *GraphHandle) Unlock() { h.handle.mu.Unlock() }

// GetActiveExecutionGraph returns a locked handle for jobID, or NotFound
// if the job isn't currently active on this replica.
func (m *Manager) GetActiveExecutionGraph(jobID string) (*GraphHandle, error) {
	m.mu.RLock()
	h, ok := m.active[jobID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.NotFound, jobID)
	}
	h.mu.Lock()
	return &GraphHandle{JobID: jobID, Graph: h.graph, handle: h}, nil
}

func (m *Manager) activeJobIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FillReservations matches each reservation to a ready task, preferring
// the reservation's bound job if set. Reservations that could not be
// matched to any ready task are returned as unassigned; the caller must
// cancel them. pendingJobs lists active jobs that currently have no
// dispatchable work for any unmatched reservation.
func (m *Manager) FillReservations(reservations []types.Reservation) ([]Assignment, []types.Reservation, []string, error) {
	var assignments []Assignment
	var unassigned []types.Reservation
	triedButEmpty := make(map[string]bool)

	for _, r := range reservations {
		candidates := m.candidateJobsFor(r)
		assigned := false
		for _, jobID := range candidates {
			task, ok, err := m.popAndPersist(jobID, r.ExecutorID)
			if err != nil {
				return nil, nil, nil, err
			}
			if !ok {
				triedButEmpty[jobID] = true
				continue
			}
			def, err := m.prepareTaskDefinitionLocked(jobID, task)
			if err != nil {
				return nil, nil, nil, err
			}
			assignments = append(assignments, Assignment{Reservation: types.Reservation{ExecutorID: r.ExecutorID, JobID: jobID}, Task: def})
			metrics.TasksDispatchedTotal.Inc()
			assigned = true
			break
		}
		if !assigned {
			unassigned = append(unassigned, r)
		}
	}

	pending := make([]string, 0, len(triedButEmpty))
	for id := range triedButEmpty {
		pending = append(pending, id)
	}
	sort.Strings(pending)
	return assignments, unassigned, pending, nil
}

// candidateJobsFor orders the jobs FillReservations should try for r:
// its bound job first (if any), then every other active job.
func (m *Manager) candidateJobsFor(r types.Reservation) []string {
	ids := m.activeJobIDs()
	if r.JobID == "" {
		return ids
	}
	ordered := make([]string, 0, len(ids))
	ordered = append(ordered, r.JobID)
	for _, id := range ids {
		if id != r.JobID {
			ordered = append(ordered, id)
		}
	}
	return ordered
}

func (m *Manager) popAndPersist(jobID, executorID string) (graph.ReadyTask, bool, error) {
	m.mu.RLock()
	h, ok := m.active[jobID]
	m.mu.RUnlock()
	if !ok {
		return graph.ReadyTask{}, false, nil
	}

	h.mu.Lock()
	task, ok := graph.PopNextTask(h.graph, executorID)
	if !ok {
		h.mu.Unlock()
		return graph.ReadyTask{}, false, nil
	}
	// Assign a fresh task id onto the partition we just claimed.
	taskID := uuid.New().String()
	setTaskID(h.graph, task, taskID)
	g := h.graph
	h.mu.Unlock()

	if err := m.jobs.SaveJob(jobID, g, m.schedulerID); err != nil {
		return graph.ReadyTask{}, false, err
	}
	return task, true, nil
}

func setTaskID(g *types.ExecutionGraph, t graph.ReadyTask, taskID string) {
	for i := range g.Stages {
		if g.Stages[i].ID != t.StageID {
			continue
		}
		for j := range g.Stages[i].Partitions {
			if g.Stages[i].Partitions[j].Index == t.Partition {
				g.Stages[i].Partitions[j].TaskID = taskID
			}
		}
	}
}

func (m *Manager) prepareTaskDefinitionLocked(jobID string, t graph.ReadyTask) (types.TaskDefinition, error) {
	m.mu.RLock()
	h, ok := m.active[jobID]
	m.mu.RUnlock()
	if !ok {
		return types.TaskDefinition{}, errs.New(errs.NotFound, jobID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var stage *types.Stage
	for i := range h.graph.Stages {
		if h.graph.Stages[i].ID == t.StageID {
			stage = &h.graph.Stages[i]
		}
	}
	if stage == nil {
		return types.TaskDefinition{}, errs.New(errs.NotFound, "stage")
	}

	var taskID string
	for _, p := range stage.Partitions {
		if p.Index == t.Partition {
			taskID = p.TaskID
		}
	}

	var deps []types.OutputLocation
	for _, in := range stage.Inputs {
		deps = append(deps, graph.OutputLocations(h.graph, in)...)
	}

	return types.TaskDefinition{
		JobID: jobID, StageID: t.StageID, Partition: t.Partition,
		TaskID: taskID, Attempt: t.Attempt,
		PlanFragment: stage.PlanFragment,
		Dependencies: deps,
	}, nil
}

// PrepareTaskDefinition is the standalone form of the same operation, for
// callers (e.g. a re-dispatch path) that already hold a ReadyTask.
func (m *Manager) PrepareTaskDefinition(jobID string, t graph.ReadyTask) (types.TaskDefinition, error) {
	return m.prepareTaskDefinitionLocked(jobID, t)
}

// StatusesForLostExecutor scans every active job's graph for partitions
// still marked Running on executorID and returns a TaskFailedRetryable
// status for each, ready to be driven through UpdateTaskStatuses the same
// way an executor's own self-reported failure would be.
func (m *Manager) StatusesForLostExecutor(executorID, reason string) []types.TaskStatus {
	var statuses []types.TaskStatus
	for _, jobID := range m.activeJobIDs() {
		m.mu.RLock()
		h, ok := m.active[jobID]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		h.mu.Lock()
		for _, stage := range h.graph.Stages {
			for _, p := range stage.Partitions {
				if p.State != types.PartitionRunning || p.ExecutorID != executorID {
					continue
				}
				statuses = append(statuses, types.TaskStatus{
					JobID: jobID, StageID: stage.ID, Partition: p.Index, TaskID: p.TaskID,
					State: types.TaskFailedRetryable, Error: reason,
				})
			}
		}
		h.mu.Unlock()
	}
	return statuses
}

// UpdateTaskStatuses routes each status to its owning graph, applies it,
// and reports per-job outcomes so the event loop can persist terminal
// transitions and emit JobFinished/JobFailed.
func (m *Manager) UpdateTaskStatuses(executorID string, statuses []types.TaskStatus) ([]StatusOutcome, error) {
	byJob := make(map[string][]types.TaskStatus)
	for _, s := range statuses {
		byJob[s.JobID] = append(byJob[s.JobID], s)
	}

	var outcomes []StatusOutcome
	for jobID, jobStatuses := range byJob {
		m.mu.RLock()
		h, ok := m.active[jobID]
		m.mu.RUnlock()
		if !ok {
			m.logger.Warn().Str("job_id", jobID).Str("executor_id", executorID).Msg("status update for unknown/inactive job")
			continue
		}

		h.mu.Lock()
		var finished, failed bool
		var failErr string
		var toCancel []graph.ReadyTask
		for _, st := range jobStatuses {
			out := graph.ApplyStatus(h.graph, st)
			if st.State == types.TaskFailedRetryable || st.State == types.TaskFailedNonRetryable {
				metrics.TasksFailedTotal.WithLabelValues(retryableLabel(st.State)).Inc()
			}
			if out.JobSucceeded {
				finished = true
			}
			if out.JobFailed {
				failed = true
				failErr = st.Error
				if out.CancelRunningJob {
					toCancel = append(toCancel, graph.CancelRunningTasks(h.graph)...)
				}
			}
		}
		g := h.graph
		h.mu.Unlock()

		if err := m.jobs.SaveJob(jobID, g, m.schedulerID); err != nil {
			return nil, err
		}

		outcome := StatusOutcome{JobID: jobID, ToCancel: toCancel}
		switch {
		case finished:
			outcome.Finished = true
			outcome.Outputs = graph.OutputLocations(g, terminalStageID(g))
		case failed:
			outcome.Failed = true
			outcome.Error = failErr
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func retryableLabel(s types.TaskState) string {
	if s == types.TaskFailedRetryable {
		return "true"
	}
	return "false"
}

func terminalStageID(g *types.ExecutionGraph) int {
	for _, st := range g.Stages {
		if graph.IsTerminal(g, st.ID) {
			return st.ID
		}
	}
	return 0
}
