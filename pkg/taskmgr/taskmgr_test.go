package taskmgr

import (
	"testing"

	"github.com/skylinedb/flightdeck/pkg/graph"
	"github.com/skylinedb/flightdeck/pkg/jobstate"
	"github.com/skylinedb/flightdeck/pkg/storage"
	"github.com/skylinedb/flightdeck/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Manager, *jobstate.Manager) {
	js := jobstate.New(storage.NewMemStore())
	tm := New(js, "sched-1")
	return tm, js
}

func singleStageGraph(jobID string, n int) *types.ExecutionGraph {
	parts := make([]types.Partition, n)
	for i := range parts {
		parts[i] = types.Partition{Index: i, State: types.PartitionUnscheduled}
	}
	return graph.Build(jobID, []types.Stage{{ID: 0, State: types.StagePending, Partitions: parts}})
}

func TestFillReservationsAssignsReadyTasks(t *testing.T) {
	tm, js := setup(t)
	g := singleStageGraph("job-1", 2)
	require.NoError(t, js.SubmitJob("job-1", g, "sched-1"))
	tm.QueueJob("job-1", g)

	reservations := []types.Reservation{{ExecutorID: "exec-1"}, {ExecutorID: "exec-2"}}
	assignments, unassigned, _, err := tm.FillReservations(reservations)
	require.NoError(t, err)
	assert.Len(t, assignments, 2)
	assert.Empty(t, unassigned)
}

func TestFillReservationsUnassignedWhenNoWork(t *testing.T) {
	tm, _ := setup(t)
	reservations := []types.Reservation{{ExecutorID: "exec-1"}}
	assignments, unassigned, _, err := tm.FillReservations(reservations)
	require.NoError(t, err)
	assert.Empty(t, assignments)
	assert.Len(t, unassigned, 1)
}

func TestUpdateTaskStatusesFinishesJob(t *testing.T) {
	tm, js := setup(t)
	g := singleStageGraph("job-1", 1)
	require.NoError(t, js.SubmitJob("job-1", g, "sched-1"))
	tm.QueueJob("job-1", g)

	assignments, _, _, err := tm.FillReservations([]types.Reservation{{ExecutorID: "exec-1"}})
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	task := assignments[0].Task

	outcomes, err := tm.UpdateTaskStatuses("exec-1", []types.TaskStatus{{
		JobID: "job-1", StageID: task.StageID, Partition: task.Partition,
		State: types.TaskSuccessful, Output: &types.OutputLocation{Path: "some/path", ExecutorID: "exec-1"},
	}})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Finished)
	assert.Len(t, outcomes[0].Outputs, 1)
}

func TestUpdateTaskStatusesFailsJobNonRetryable(t *testing.T) {
	tm, js := setup(t)
	g := singleStageGraph("job-1", 2)
	require.NoError(t, js.SubmitJob("job-1", g, "sched-1"))
	tm.QueueJob("job-1", g)

	assignments, _, _, err := tm.FillReservations([]types.Reservation{{ExecutorID: "exec-1"}, {ExecutorID: "exec-2"}})
	require.NoError(t, err)
	require.Len(t, assignments, 2)

	outcomes, err := tm.UpdateTaskStatuses("exec-1", []types.TaskStatus{{
		JobID: "job-1", StageID: assignments[0].Task.StageID, Partition: assignments[0].Task.Partition,
		State: types.TaskFailedNonRetryable, Error: "fatal",
	}})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Failed)
	assert.Len(t, outcomes[0].ToCancel, 1, "the other still-Running partition should be queued for cancellation")
}

func TestStatusesForLostExecutorFindsRunningPartitions(t *testing.T) {
	tm, js := setup(t)
	g := singleStageGraph("job-1", 2)
	require.NoError(t, js.SubmitJob("job-1", g, "sched-1"))
	tm.QueueJob("job-1", g)

	_, _, _, err := tm.FillReservations([]types.Reservation{{ExecutorID: "exec-1"}, {ExecutorID: "exec-2"}})
	require.NoError(t, err)

	statuses := tm.StatusesForLostExecutor("exec-1", "heartbeat_expired")
	require.Len(t, statuses, 1)
	assert.Equal(t, "job-1", statuses[0].JobID)
	assert.Equal(t, types.TaskFailedRetryable, statuses[0].State)
	assert.Equal(t, "heartbeat_expired", statuses[0].Error)

	assert.Empty(t, tm.StatusesForLostExecutor("exec-3", "heartbeat_expired"))
}

func TestStatusesForLostExecutorRequeuesThroughUpdateTaskStatuses(t *testing.T) {
	tm, js := setup(t)
	g := singleStageGraph("job-1", 1)
	require.NoError(t, js.SubmitJob("job-1", g, "sched-1"))
	tm.QueueJob("job-1", g)

	_, _, _, err := tm.FillReservations([]types.Reservation{{ExecutorID: "exec-1"}})
	require.NoError(t, err)

	statuses := tm.StatusesForLostExecutor("exec-1", "heartbeat_expired")
	require.Len(t, statuses, 1)

	outcomes, err := tm.UpdateTaskStatuses("exec-1", statuses)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Finished)
	assert.False(t, outcomes[0].Failed, "a single retryable failure under MaxTaskAttempts must not fail the job")

	handle, err := tm.GetActiveExecutionGraph("job-1")
	require.NoError(t, err)
	defer handle.Unlock()
	assert.Equal(t, types.PartitionUnscheduled, handle.Graph.Stages[0].Partitions[0].State, "partition should be requeued, not stuck Running")
}
