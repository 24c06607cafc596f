// Package eventloop implements the query-stage event loop of spec §4.6:
// the single-consumer bounded queue that serializes the scheduler state
// transitions posted to it as events. Not every mutation goes through it:
// rpc.Server's PollWork reserves slots and assigns tasks directly on the
// RPC goroutine, executor registration and heartbeats write cluster state
// directly, and cmd/scheduler's push-offer ticker reserves slots before
// posting its offer. Those paths rely on the locks inside cluster.Manager
// and taskmgr.Manager.
package eventloop

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/skylinedb/flightdeck/pkg/cluster"
	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/graph"
	"github.com/skylinedb/flightdeck/pkg/jobstate"
	"github.com/skylinedb/flightdeck/pkg/log"
	"github.com/skylinedb/flightdeck/pkg/metrics"
	"github.com/skylinedb/flightdeck/pkg/taskmgr"
	"github.com/skylinedb/flightdeck/pkg/types"
)

// DefaultBufferSize is the event loop's default queue depth
// (event_loop_buffer_size in spec §6's configuration surface).
const DefaultBufferSize = 10000

// Kind enumerates the event variants of spec §4.6's table.
type Kind string

const (
	KindJobQueued            Kind = "job_queued"
	KindJobSubmitted          Kind = "job_submitted"
	KindTaskUpdating          Kind = "task_updating"
	KindReservationOffering   Kind = "reservation_offering"
	KindExecutorLost          Kind = "executor_lost"
	KindJobCancel             Kind = "job_cancel"
	KindJobFinished           Kind = "job_finished"
	KindJobFailed             Kind = "job_failed"
)

// Event is the tagged union posted onto the loop. Only the field(s)
// matching Kind are populated.
type Event struct {
	Kind Kind

	JobQueued *JobQueuedPayload

	JobSubmitted *JobSubmittedPayload

	TaskUpdating *TaskUpdatingPayload

	ReservationOffering *ReservationOfferingPayload

	ExecutorLost *ExecutorLostPayload

	JobCancel *JobCancelPayload

	JobFinished *JobFinishedPayload

	JobFailed *JobFailedPayload
}

type JobQueuedPayload struct {
	JobID      string
	Name       string
	SessionID  string
	Plan       []byte
	QueuedAt   time.Time
}

type JobSubmittedPayload struct {
	JobID       string
	SubmittedAt time.Time
}

type TaskUpdatingPayload struct {
	ExecutorID string
	Statuses   []types.TaskStatus
}

type ReservationOfferingPayload struct {
	Reservations []types.Reservation
}

type ExecutorLostPayload struct {
	ExecutorID string
	Reason     string
}

type JobCancelPayload struct {
	JobID string
}

type JobFinishedPayload struct {
	JobID   string
	Outputs []types.OutputLocation
}

type JobFailedPayload struct {
	JobID string
	Error string
}

// Planner turns a logical plan and session config into physical stages.
// It is the in-process arrow/columnar planner, an external collaborator
// per spec §1 — the loop only consumes this interface.
type Planner interface {
	PlanStages(ctx context.Context, plan []byte, session types.Session) ([]types.Stage, error)
}

// Dispatcher hands a task definition to the executor that holds its
// reservation. Implemented by pkg/rpc's scheduler-side client pool.
type Dispatcher interface {
	Dispatch(ctx context.Context, executorID string, task types.TaskDefinition) error
}

// Config configures a Loop.
type Config struct {
	BufferSize                           int
	SchedulerID                          string
	FinishedJobDataCleanupInterval       time.Duration // 0 disables
	FinishedJobStateCleanupInterval      time.Duration // 0 disables
}

// Loop is the single-consumer event loop.
type Loop struct {
	queue   chan Event
	cluster *cluster.Manager
	jobs    *jobstate.Manager
	tasks   *taskmgr.Manager
	planner Planner
	dispatch Dispatcher
	logger  zerolog.Logger
	cfg     Config

	stopCh chan struct{}
}

func New(c *cluster.Manager, j *jobstate.Manager, t *taskmgr.Manager, planner Planner, dispatch Dispatcher, cfg Config) *Loop {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Loop{
		queue:    make(chan Event, cfg.BufferSize),
		cluster:  c,
		jobs:     j,
		tasks:    t,
		planner:  planner,
		dispatch: dispatch,
		logger:   log.WithComponent("event_loop"),
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Post enqueues ev, blocking (applying natural backpressure to RPC
// ingress) when the queue is full, until ctx is done.
func (l *Loop) Post(ctx context.Context, ev Event) error {
	select {
	case l.queue <- ev:
		metrics.EventLoopQueueDepth.Set(float64(len(l.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled. Call in its own goroutine.
func (l *Loop) Run(ctx context.Context) {
	var dataCleanup, stateCleanup <-chan time.Time
	if l.cfg.FinishedJobDataCleanupInterval > 0 {
		t := time.NewTicker(l.cfg.FinishedJobDataCleanupInterval)
		defer t.Stop()
		dataCleanup = t.C
	}
	if l.cfg.FinishedJobStateCleanupInterval > 0 {
		t := time.NewTicker(l.cfg.FinishedJobStateCleanupInterval)
		defer t.Stop()
		stateCleanup = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case ev := <-l.queue:
			metrics.EventLoopQueueDepth.Set(float64(len(l.queue)))
			l.handle(ctx, ev)
		case <-dataCleanup:
			l.cleanupFinishedJobData()
		case <-stateCleanup:
			l.cleanupFinishedJobState()
		}
	}
}

// Stop halts Run.
func (l *Loop) Stop() { close(l.stopCh) }

func (l *Loop) handle(ctx context.Context, ev Event) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.EventLoopProcessDuration, string(ev.Kind))

	switch ev.Kind {
	case KindJobQueued:
		l.handleJobQueued(ctx, ev.JobQueued)
	case KindJobSubmitted:
		// metrics-only; nothing further to do.
	case KindTaskUpdating:
		l.handleTaskUpdating(ctx, ev.TaskUpdating)
	case KindReservationOffering:
		l.handleReservationOffering(ctx, ev.ReservationOffering)
	case KindExecutorLost:
		l.handleExecutorLost(ctx, ev.ExecutorLost)
	case KindJobCancel:
		l.handleJobCancel(ev.JobCancel)
	case KindJobFinished:
		l.handleJobFinished(ev.JobFinished)
	case KindJobFailed:
		l.handleJobFailed(ev.JobFailed)
	default:
		l.logger.Warn().Str("kind", string(ev.Kind)).Msg("unknown event kind")
	}
}

// handleJobQueued plans physical stages, builds the graph, persists it,
// and marks the job Running. Planning runs synchronously on the loop
// goroutine, so events queued behind a slow PlanStages call wait for it.
// A planning failure surfaces as a job Failed, not an RPC error.
func (l *Loop) handleJobQueued(ctx context.Context, p *JobQueuedPayload) {
	session, err := l.jobs.GetSession(p.SessionID)
	if err != nil {
		session = types.Session{ID: p.SessionID, ShuffleParts: 1}
	}

	l.jobs.AcceptJob(p.JobID, p.Name, p.QueuedAt)

	stages, err := l.planner.PlanStages(ctx, p.Plan, session)
	if err != nil {
		l.jobs.SubmitJob(p.JobID, graph.Build(p.JobID, nil), l.cfg.SchedulerID) //nolint:errcheck
		l.failJob(p.JobID, "planning failed: "+err.Error())
		return
	}

	g := graph.Build(p.JobID, stages)
	if err := l.jobs.SubmitJob(p.JobID, g, l.cfg.SchedulerID); err != nil {
		l.logger.Error().Err(err).Str("job_id", p.JobID).Msg("failed to persist submitted job")
		return
	}
	l.tasks.QueueJob(p.JobID, g)
	l.Post(ctx, Event{Kind: KindJobSubmitted, JobSubmitted: &JobSubmittedPayload{JobID: p.JobID, SubmittedAt: time.Now()}}) //nolint:errcheck
}

func (l *Loop) handleTaskUpdating(ctx context.Context, p *TaskUpdatingPayload) {
	outcomes, err := l.tasks.UpdateTaskStatuses(p.ExecutorID, p.Statuses)
	if err != nil {
		l.logger.Error().Err(err).Str("executor_id", p.ExecutorID).Msg("failed to apply task statuses")
		return
	}
	l.postOutcomes(ctx, outcomes)
}

// postOutcomes emits JobFinished/JobFailed for whatever UpdateTaskStatuses
// reports, the shared tail of every path that drives tasks through it.
func (l *Loop) postOutcomes(ctx context.Context, outcomes []taskmgr.StatusOutcome) {
	for _, o := range outcomes {
		switch {
		case o.Finished:
			l.Post(ctx, Event{Kind: KindJobFinished, JobFinished: &JobFinishedPayload{JobID: o.JobID, Outputs: o.Outputs}}) //nolint:errcheck
		case o.Failed:
			l.Post(ctx, Event{Kind: KindJobFailed, JobFailed: &JobFailedPayload{JobID: o.JobID, Error: o.Error}}) //nolint:errcheck
		}
	}
}

// handleReservationOffering fills reservations with ready tasks and
// cancels whatever is left over, per spec §4.6.
func (l *Loop) handleReservationOffering(ctx context.Context, p *ReservationOfferingPayload) {
	assignments, unassigned, _, err := l.tasks.FillReservations(p.Reservations)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to fill reservations")
		return
	}
	for _, a := range assignments {
		if l.dispatch == nil {
			continue
		}
		if err := l.dispatch.Dispatch(ctx, a.Reservation.ExecutorID, a.Task); err != nil {
			l.logger.Error().Err(err).Str("executor_id", a.Reservation.ExecutorID).Msg("task dispatch failed")
		}
	}
	if len(unassigned) > 0 {
		if err := l.cluster.CancelReservations(unassigned); err != nil {
			l.logger.Error().Err(err).Msg("failed to cancel unassigned reservations")
		}
	}
}

// handleExecutorLost marks every Running partition held by id across all
// active jobs as retryable-failed, possibly escalating a job to Failed.
func (l *Loop) handleExecutorLost(ctx context.Context, p *ExecutorLostPayload) {
	l.logger.Warn().Str("executor_id", p.ExecutorID).Str("reason", p.Reason).Msg("executor lost; failing its running tasks")

	statuses := l.tasks.StatusesForLostExecutor(p.ExecutorID, p.Reason)
	if len(statuses) == 0 {
		return
	}
	outcomes, err := l.tasks.UpdateTaskStatuses(p.ExecutorID, statuses)
	if err != nil {
		l.logger.Error().Err(err).Str("executor_id", p.ExecutorID).Msg("failed to fail running tasks for lost executor")
		return
	}
	l.postOutcomes(ctx, outcomes)
}

func (l *Loop) handleJobCancel(p *JobCancelPayload) {
	if err := l.jobs.Cancel(p.JobID); err != nil {
		l.logger.Error().Err(err).Str("job_id", p.JobID).Msg("failed to cancel job")
		return
	}
	l.tasks.Forget(p.JobID)
}

func (l *Loop) handleJobFinished(p *JobFinishedPayload) {
	if err := l.jobs.Finish(p.JobID, p.Outputs); err != nil {
		l.logger.Error().Err(err).Str("job_id", p.JobID).Msg("failed to record job finished")
		return
	}
	l.tasks.Forget(p.JobID)
}

func (l *Loop) handleJobFailed(p *JobFailedPayload) {
	l.failJob(p.JobID, p.Error)
}

func (l *Loop) failJob(jobID, errMsg string) {
	if err := l.jobs.Fail(jobID, errMsg); err != nil && !errs.Is(err, errs.NotFound) {
		l.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to record job failure")
		return
	}
	l.tasks.Forget(jobID)
}

func (l *Loop) cleanupFinishedJobData() {
	// Shuffle-file GC on the executor side is an external collaborator
	// (spec §1); this tick is the hook a shuffle-file cleaner would
	// subscribe to.
}

func (l *Loop) cleanupFinishedJobState() {
	jobs, err := l.jobs.GetJobs()
	if err != nil {
		l.logger.Error().Err(err).Msg("job-state cleanup scan failed")
		return
	}
	for _, j := range jobs {
		if j.Status == types.JobSuccessful || j.Status == types.JobFailed {
			l.logger.Debug().Str("job_id", j.JobID).Msg("finished job eligible for state cleanup")
		}
	}
}
