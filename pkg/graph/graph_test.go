package graph

import (
	"testing"

	"github.com/skylinedb/flightdeck/pkg/types"
)

func partitions(n int) []types.Partition {
	p := make([]types.Partition, n)
	for i := range p {
		p[i] = types.Partition{Index: i, State: types.PartitionUnscheduled}
	}
	return p
}

func twoStageGraph(n int) *types.ExecutionGraph {
	return Build("job-1", []types.Stage{
		{ID: 0, State: types.StagePending, Partitions: partitions(n)},
		{ID: 1, Inputs: []int{0}, State: types.StagePending, Partitions: partitions(n)},
	})
}

func TestPopNextTaskPrefersReadyStage(t *testing.T) {
	g := twoStageGraph(2)
	task, ok := PopNextTask(g, "exec-1")
	if !ok {
		t.Fatal("expected a ready task")
	}
	if task.StageID != 0 {
		t.Fatalf("expected stage 0 (stage 1 not ready yet), got %d", task.StageID)
	}
}

func TestPopNextTaskLocality(t *testing.T) {
	g := Build("job-1", []types.Stage{
		{ID: 0, State: types.StageRunning, Partitions: []types.Partition{
			{Index: 0, State: types.PartitionRunning, ExecutorID: "exec-1"},
			{Index: 1, State: types.PartitionUnscheduled},
		}},
		{ID: 1, State: types.StagePending, Partitions: partitions(1)},
	})
	task, ok := PopNextTask(g, "exec-1")
	if !ok {
		t.Fatal("expected a ready task")
	}
	if task.StageID != 0 {
		t.Fatalf("expected locality pick of stage 0, got %d", task.StageID)
	}
}

func TestApplyStatusCompletesStageAndJob(t *testing.T) {
	g := twoStageGraph(1)
	task, ok := PopNextTask(g, "exec-1")
	if !ok {
		t.Fatal("expected ready task")
	}
	out := ApplyStatus(g, types.TaskStatus{
		JobID: g.JobID, StageID: task.StageID, Partition: task.Partition,
		State: types.TaskSuccessful, Output: &types.OutputLocation{Path: "some/path", ExecutorID: "exec-1"},
	})
	if !out.StageSucceeded {
		t.Fatal("expected stage to succeed")
	}
	if g.Stages[0].State != types.StageSuccessful {
		t.Fatal("stage 0 should be successful")
	}

	task2, ok := PopNextTask(g, "exec-1")
	if !ok {
		t.Fatal("expected stage 1 now ready")
	}
	if task2.StageID != 1 {
		t.Fatalf("expected stage 1, got %d", task2.StageID)
	}
	out2 := ApplyStatus(g, types.TaskStatus{
		JobID: g.JobID, StageID: task2.StageID, Partition: task2.Partition,
		State: types.TaskSuccessful, Output: &types.OutputLocation{Path: "some/path", ExecutorID: "exec-1"},
	})
	if !out2.JobSucceeded {
		t.Fatal("expected job to succeed once the terminal stage completes")
	}
}

func TestApplyStatusCompletedIsMonotonic(t *testing.T) {
	g := twoStageGraph(1)
	task, _ := PopNextTask(g, "exec-1")
	status := types.TaskStatus{
		JobID: g.JobID, StageID: task.StageID, Partition: task.Partition,
		State: types.TaskSuccessful, Output: &types.OutputLocation{Path: "p"},
	}
	ApplyStatus(g, status)
	// Re-applying the same successful status, or a failure for the same
	// now-Completed partition, must be a no-op.
	out := ApplyStatus(g, types.TaskStatus{
		JobID: g.JobID, StageID: task.StageID, Partition: task.Partition,
		State: types.TaskFailedNonRetryable, Error: "stale",
	})
	if out.JobFailed || out.StageFailed {
		t.Fatal("completed partition must not regress")
	}
	if g.Stages[0].Partitions[0].State != types.PartitionCompleted {
		t.Fatal("partition must stay Completed")
	}
}

func TestApplyStatusRetryableRequeues(t *testing.T) {
	g := twoStageGraph(1)
	task, _ := PopNextTask(g, "exec-1")
	out := ApplyStatus(g, types.TaskStatus{
		JobID: g.JobID, StageID: task.StageID, Partition: task.Partition,
		State: types.TaskFailedRetryable, Error: "boom",
	})
	if out.StageFailed {
		t.Fatal("single retryable failure should not fail the stage")
	}
	if g.Stages[0].Partitions[0].State != types.PartitionUnscheduled {
		t.Fatal("partition should be requeued as unscheduled")
	}
	if g.Stages[0].Partitions[0].Attempt != 1 {
		t.Fatalf("expected attempt counter 1, got %d", g.Stages[0].Partitions[0].Attempt)
	}
}

func TestApplyStatusRetryableEscalatesAfterBound(t *testing.T) {
	g := twoStageGraph(1)
	for i := 0; i <= MaxTaskAttempts; i++ {
		task, ok := PopNextTask(g, "exec-1")
		if !ok {
			t.Fatalf("iteration %d: expected ready task", i)
		}
		ApplyStatus(g, types.TaskStatus{
			JobID: g.JobID, StageID: task.StageID, Partition: task.Partition,
			State: types.TaskFailedRetryable, Error: "boom",
		})
	}
	if g.Stages[0].State != types.StageFailed {
		t.Fatal("expected stage to escalate to Failed after exceeding the attempt bound")
	}
}

func TestApplyStatusNonRetryableFailsJob(t *testing.T) {
	g := twoStageGraph(1)
	task, _ := PopNextTask(g, "exec-1")
	out := ApplyStatus(g, types.TaskStatus{
		JobID: g.JobID, StageID: task.StageID, Partition: task.Partition,
		State: types.TaskFailedNonRetryable, Error: "fatal",
	})
	if !out.JobFailed || !out.CancelRunningJob {
		t.Fatal("expected a non-retryable failure to fail the job and request cancellation of siblings")
	}
}

func TestOutputLocations(t *testing.T) {
	g := twoStageGraph(2)
	for _, idx := range []int{0, 1} {
		task, ok := PopNextTask(g, "exec-1")
		if !ok {
			t.Fatal("expected ready task")
		}
		ApplyStatus(g, types.TaskStatus{
			JobID: g.JobID, StageID: task.StageID, Partition: task.Partition,
			State:  types.TaskSuccessful,
			Output: &types.OutputLocation{Path: "some/path", ExecutorID: "exec-1", NumRows: int64(idx)},
		})
	}
	locs := OutputLocations(g, 0)
	if len(locs) != 2 {
		t.Fatalf("expected 2 output locations, got %d", len(locs))
	}
}

func TestCancelRunningTasks(t *testing.T) {
	g := twoStageGraph(2)
	PopNextTask(g, "exec-1")
	cancelled := CancelRunningTasks(g)
	if len(cancelled) != 1 {
		t.Fatalf("expected 1 running task cancelled, got %d", len(cancelled))
	}
	if g.Stages[0].Partitions[0].State != types.PartitionFailed {
		t.Fatal("running partition should be marked failed on cancellation")
	}
}
