package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skylinedb/flightdeck/pkg/cluster"
	"github.com/skylinedb/flightdeck/pkg/jobstate"
	"github.com/skylinedb/flightdeck/pkg/storage"
	"github.com/skylinedb/flightdeck/pkg/taskmgr"
	"github.com/skylinedb/flightdeck/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlanner struct {
	stages []types.Stage
	err    error
}

func (f *fakePlanner) PlanStages(ctx context.Context, plan []byte, session types.Session) ([]types.Stage, error) {
	return f.stages, f.err
}

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []types.TaskDefinition
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, executorID string, task types.TaskDefinition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return nil
}

func oneStagePlan(n int) []types.Stage {
	parts := make([]types.Partition, n)
	for i := range parts {
		parts[i] = types.Partition{Index: i, State: types.PartitionUnscheduled}
	}
	return []types.Stage{{ID: 0, State: types.StagePending, Partitions: parts}}
}

func newTestLoop(t *testing.T, planner Planner, dispatch Dispatcher) (*Loop, *jobstate.Manager, *cluster.Manager) {
	store := storage.NewMemStore()
	cm := cluster.NewManager(store, cluster.Config{})
	js := jobstate.New(store)
	tm := taskmgr.New(js, "sched-1")
	loop := New(cm, js, tm, planner, dispatch, Config{SchedulerID: "sched-1", BufferSize: 16})
	return loop, js, cm
}

func TestJobQueuedHappyPath(t *testing.T) {
	dispatch := &recordingDispatcher{}
	loop, js, _ := newTestLoop(t, &fakePlanner{stages: oneStagePlan(4)}, dispatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	require.NoError(t, loop.Post(ctx, Event{Kind: KindJobQueued, JobQueued: &JobQueuedPayload{
		JobID: "job-1", Name: "q", QueuedAt: time.Now(),
	}}))

	require.Eventually(t, func() bool {
		status, err := js.GetJobStatus("job-1")
		return err == nil && status.Status == types.JobRunning
	}, time.Second, 10*time.Millisecond)
}

func TestJobQueuedPlanningFailureFailsJob(t *testing.T) {
	dispatch := &recordingDispatcher{}
	loop, js, _ := newTestLoop(t, &fakePlanner{err: assertErr{}}, dispatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	require.NoError(t, loop.Post(ctx, Event{Kind: KindJobQueued, JobQueued: &JobQueuedPayload{
		JobID: "job-1", Name: "q", QueuedAt: time.Now(),
	}}))

	require.Eventually(t, func() bool {
		status, err := js.GetJobStatus("job-1")
		return err == nil && status.Status == types.JobFailed
	}, time.Second, 10*time.Millisecond)
}

type assertErr struct{}

func (assertErr) Error() string { return "planning exploded" }

func TestReservationOfferingDispatchesAndCancelsLeftovers(t *testing.T) {
	dispatch := &recordingDispatcher{}
	loop, js, cm := newTestLoop(t, &fakePlanner{stages: oneStagePlan(1)}, dispatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	require.NoError(t, loop.Post(ctx, Event{Kind: KindJobQueued, JobQueued: &JobQueuedPayload{
		JobID: "job-1", Name: "q", QueuedAt: time.Now(),
	}}))
	require.Eventually(t, func() bool {
		status, err := js.GetJobStatus("job-1")
		return err == nil && status.Status == types.JobRunning
	}, time.Second, 10*time.Millisecond)

	_, err := cm.RegisterExecutor(ctx, types.ExecutorMetadata{ID: "exec-1", Spec: types.ExecutorSpec{TaskSlots: 2}}, false)
	require.NoError(t, err)
	reservations, err := cm.ReserveSlots(2, cluster.Bias, "")
	require.NoError(t, err)
	require.Len(t, reservations, 2)

	require.NoError(t, loop.Post(ctx, Event{Kind: KindReservationOffering, ReservationOffering: &ReservationOfferingPayload{
		Reservations: reservations,
	}}))

	require.Eventually(t, func() bool {
		dispatch.mu.Lock()
		defer dispatch.mu.Unlock()
		return len(dispatch.tasks) == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		ledger, err := cm.GetSlotLedger("exec-1")
		return err == nil && ledger.Available == 1
	}, time.Second, 10*time.Millisecond)
}

func TestExecutorLostRequeuesRunningTask(t *testing.T) {
	dispatch := &recordingDispatcher{}
	loop, js, cm := newTestLoop(t, &fakePlanner{stages: oneStagePlan(1)}, dispatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	require.NoError(t, loop.Post(ctx, Event{Kind: KindJobQueued, JobQueued: &JobQueuedPayload{
		JobID: "job-1", Name: "q", QueuedAt: time.Now(),
	}}))
	require.Eventually(t, func() bool {
		status, err := js.GetJobStatus("job-1")
		return err == nil && status.Status == types.JobRunning
	}, time.Second, 10*time.Millisecond)

	_, err := cm.RegisterExecutor(ctx, types.ExecutorMetadata{ID: "exec-1", Spec: types.ExecutorSpec{TaskSlots: 1}}, false)
	require.NoError(t, err)
	reservations, err := cm.ReserveSlots(1, cluster.Bias, "")
	require.NoError(t, err)
	require.Len(t, reservations, 1)

	require.NoError(t, loop.Post(ctx, Event{Kind: KindReservationOffering, ReservationOffering: &ReservationOfferingPayload{
		Reservations: reservations,
	}}))
	require.Eventually(t, func() bool {
		dispatch.mu.Lock()
		defer dispatch.mu.Unlock()
		return len(dispatch.tasks) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, loop.Post(ctx, Event{Kind: KindExecutorLost, ExecutorLost: &ExecutorLostPayload{
		ExecutorID: "exec-1", Reason: "heartbeat_expired",
	}}))

	require.Eventually(t, func() bool {
		g, err := js.GetExecutionGraph("job-1")
		return err == nil && g.Stages[0].Partitions[0].State == types.PartitionUnscheduled
	}, time.Second, 10*time.Millisecond, "the lost executor's running partition should be requeued, not stuck Running")

	status, err := js.GetJobStatus("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, status.Status, "a single retryable loss must not fail the job")
}
