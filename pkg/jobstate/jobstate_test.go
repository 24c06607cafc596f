package jobstate

import (
	"testing"
	"time"

	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/graph"
	"github.com/skylinedb/flightdeck/pkg/storage"
	"github.com/skylinedb/flightdeck/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return New(storage.NewMemStore())
}

func testGraph(jobID string) *types.ExecutionGraph {
	return graph.Build(jobID, []types.Stage{
		{ID: 0, State: types.StagePending, Partitions: []types.Partition{{Index: 0, State: types.PartitionUnscheduled}}},
	})
}

func TestSubmitAndGetJob(t *testing.T) {
	m := newTestManager()
	m.AcceptJob("job-1", "q1", time.Now())

	require.NoError(t, m.SubmitJob("job-1", testGraph("job-1"), "sched-a"))

	status, err := m.GetJobStatus("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, status.Status)
	assert.Equal(t, "sched-a", status.OwnerSched)

	g, err := m.GetExecutionGraph("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", g.JobID)
}

func TestSubmitJobConflict(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.SubmitJob("job-1", testGraph("job-1"), "sched-a"))
	err := m.SubmitJob("job-1", testGraph("job-1"), "sched-b")
	assert.True(t, errs.Is(err, errs.Conflict))
}

func TestSaveJobNotOwned(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.SubmitJob("job-1", testGraph("job-1"), "sched-a"))
	err := m.SaveJob("job-1", testGraph("job-1"), "sched-b")
	assert.True(t, errs.Is(err, errs.NotOwned))
}

func TestTryAcquireJobTransfersOwnership(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.SubmitJob("job-1", testGraph("job-1"), "sched-a"))

	_, err := m.TryAcquireJob("job-1", "sched-b")
	require.NoError(t, err)

	// Old owner must now be rejected.
	err = m.SaveJob("job-1", testGraph("job-1"), "sched-a")
	assert.True(t, errs.Is(err, errs.NotOwned))

	// New owner succeeds.
	require.NoError(t, m.SaveJob("job-1", testGraph("job-1"), "sched-b"))
}

func TestFinishMovesToCompleted(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.SubmitJob("job-1", testGraph("job-1"), "sched-a"))

	outputs := []types.OutputLocation{{ExecutorID: "exec-1", Path: "some/path"}}
	require.NoError(t, m.Finish("job-1", outputs))

	status, err := m.GetJobStatus("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobSuccessful, status.Status)
	assert.Equal(t, outputs, status.Outputs)
}

func TestFailMovesToFailed(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.SubmitJob("job-1", testGraph("job-1"), "sched-a"))
	require.NoError(t, m.Fail("job-1", "boom"))

	status, err := m.GetJobStatus("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, status.Status)
	assert.Equal(t, "boom", status.Error)
}

func TestSessionRoundTrip(t *testing.T) {
	m := newTestManager()
	cfg := types.Session{ID: "sess-1", ShuffleParts: 4, Options: map[string]string{"k": "v"}}
	require.NoError(t, m.CreateSession(cfg))

	got, err := m.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	cfg.ShuffleParts = 8
	require.NoError(t, m.UpdateSession("sess-1", cfg))
	got, err = m.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 8, got.ShuffleParts)
}
