// Package graph implements the per-job execution graph: the DAG of
// stages and partitions described in spec §4.4, and the pure
// decision functions that drive task readiness and status application.
//
// Functions here operate directly on *types.ExecutionGraph so the graph
// can be owned and exclusively mutated by whichever component holds the
// per-job lock (pkg/taskmgr), without this package knowing anything
// about locking, persistence, or the event loop.
package graph

import (
	"github.com/skylinedb/flightdeck/pkg/types"
)

// MaxTaskAttempts bounds how many times a retryable failure re-queues a
// partition before it escalates to a terminal failure.
const MaxTaskAttempts = 4

// ReadyTask identifies one schedulable partition.
type ReadyTask struct {
	JobID     string
	StageID   int
	Partition int
	Attempt   int
}

// Build assembles a new execution graph for jobID out of stage specs. The
// first-wave stages (no inputs) start Pending and become Running lazily
// once a task is actually popped for them; stage.State starts Pending for
// every stage including sources, matching spec §3's invariant that a
// stage becomes Running only when its inputs are satisfied — a
// zero-input stage is trivially satisfied, so PopNextTask transitions it
// on first dispatch.
func Build(jobID string, stages []types.Stage) *types.ExecutionGraph {
	return &types.ExecutionGraph{JobID: jobID, Stages: stages}
}

func findStage(g *types.ExecutionGraph, id int) *types.Stage {
	for i := range g.Stages {
		if g.Stages[i].ID == id {
			return &g.Stages[i]
		}
	}
	return nil
}

// ready reports whether every input dependency of stage is Successful.
func ready(g *types.ExecutionGraph, stage *types.Stage) bool {
	for _, in := range stage.Inputs {
		up := findStage(g, in)
		if up == nil || up.State != types.StageSuccessful {
			return false
		}
	}
	return true
}

// remainingPartitions counts partitions not yet Completed.
func remainingPartitions(stage *types.Stage) int {
	n := 0
	for _, p := range stage.Partitions {
		if p.State != types.PartitionCompleted {
			n++
		}
	}
	return n
}

// PopNextTask returns one Unscheduled partition of a ready stage,
// preferring (in order):
//  1. partitions of stages that already have a Running task attempt on
//     executorID (locality),
//  2. stages with the fewest remaining (non-Completed) partitions
//     (shortest-remaining-work).
//
// Returns false if no ready stage currently has an Unscheduled partition.
func PopNextTask(g *types.ExecutionGraph, executorID string) (ReadyTask, bool) {
	var candidates []*types.Stage
	for i := range g.Stages {
		st := &g.Stages[i]
		if st.State == types.StageSuccessful || st.State == types.StageFailed {
			continue
		}
		if !ready(g, st) {
			continue
		}
		hasUnscheduled := false
		for _, p := range st.Partitions {
			if p.State == types.PartitionUnscheduled {
				hasUnscheduled = true
				break
			}
		}
		if !hasUnscheduled {
			continue
		}
		candidates = append(candidates, st)
	}
	if len(candidates) == 0 {
		return ReadyTask{}, false
	}

	localStage := localityPick(candidates, executorID)
	chosen := localStage
	if chosen == nil {
		chosen = shortestRemainingPick(candidates)
	}
	if chosen == nil {
		return ReadyTask{}, false
	}

	for i := range chosen.Partitions {
		p := &chosen.Partitions[i]
		if p.State != types.PartitionUnscheduled {
			continue
		}
		if chosen.State == types.StagePending {
			chosen.State = types.StageRunning
		}
		p.State = types.PartitionRunning
		p.ExecutorID = executorID
		return ReadyTask{JobID: g.JobID, StageID: chosen.ID, Partition: p.Index, Attempt: p.Attempt}, true
	}
	return ReadyTask{}, false
}

// localityPick returns the first candidate (by stage id, stable) already
// running at least one task on executorID.
func localityPick(candidates []*types.Stage, executorID string) *types.Stage {
	if executorID == "" {
		return nil
	}
	var best *types.Stage
	for _, st := range candidates {
		hasLocal := false
		for _, p := range st.Partitions {
			if p.State == types.PartitionRunning && p.ExecutorID == executorID {
				hasLocal = true
				break
			}
		}
		if !hasLocal {
			continue
		}
		if best == nil || st.ID < best.ID {
			best = st
		}
	}
	return best
}

// shortestRemainingPick returns the candidate with the fewest remaining
// partitions, tie-breaking on stage id for determinism.
func shortestRemainingPick(candidates []*types.Stage) *types.Stage {
	var best *types.Stage
	bestRemaining := -1
	for _, st := range candidates {
		r := remainingPartitions(st)
		if best == nil || r < bestRemaining || (r == bestRemaining && st.ID < best.ID) {
			best = st
			bestRemaining = r
		}
	}
	return best
}

// StatusOutcome summarizes the graph-level consequence of applying one
// task status, so callers (pkg/taskmgr) know which downstream events to
// emit without re-deriving it.
type StatusOutcome struct {
	StageSucceeded   bool
	StageFailed      bool
	JobSucceeded     bool
	JobFailed        bool
	CancelRunningJob bool // non-retryable failure: caller must cancel sibling running tasks
}

// ApplyStatus transitions the partition named by status and recomputes
// stage/job terminal states. A partition can never leave Completed;
// idempotent re-application of a status already Completed is a no-op.
func ApplyStatus(g *types.ExecutionGraph, status types.TaskStatus) StatusOutcome {
	stage := findStage(g, status.StageID)
	if stage == nil {
		return StatusOutcome{}
	}
	var part *types.Partition
	for i := range stage.Partitions {
		if stage.Partitions[i].Index == status.Partition {
			part = &stage.Partitions[i]
			break
		}
	}
	if part == nil {
		return StatusOutcome{}
	}

	// Monotonicity: Completed never regresses.
	if part.State == types.PartitionCompleted {
		return StatusOutcome{}
	}

	var out StatusOutcome
	switch status.State {
	case types.TaskSuccessful:
		part.State = types.PartitionCompleted
		part.Output = status.Output
		part.Error = ""
		if allCompleted(stage) {
			stage.State = types.StageSuccessful
			out.StageSucceeded = true
			if IsTerminal(g, stage.ID) {
				out.JobSucceeded = true
			}
		}
	case types.TaskFailedRetryable:
		part.Attempt++
		if part.Attempt > MaxTaskAttempts {
			part.State = types.PartitionFailed
			part.Error = status.Error
			stage.State = types.StageFailed
			out.StageFailed = true
			out.JobFailed = true
		} else {
			part.State = types.PartitionUnscheduled
			part.ExecutorID = ""
			part.TaskID = ""
		}
	case types.TaskFailedNonRetryable:
		part.State = types.PartitionFailed
		part.Error = status.Error
		stage.State = types.StageFailed
		out.StageFailed = true
		out.JobFailed = true
		out.CancelRunningJob = true
	}
	return out
}

func allCompleted(stage *types.Stage) bool {
	for _, p := range stage.Partitions {
		if p.State != types.PartitionCompleted {
			return false
		}
	}
	return true
}

// IsTerminal reports whether stageID is a sink: no other stage names it
// as an input. A job is Successful iff its terminal stage is Successful.
func IsTerminal(g *types.ExecutionGraph, stageID int) bool {
	for _, st := range g.Stages {
		for _, in := range st.Inputs {
			if in == stageID {
				return false
			}
		}
	}
	return true
}

// OutputLocations collects every Completed partition's output for stage,
// made available to downstream stages' task definitions as shuffle
// dependency locations.
func OutputLocations(g *types.ExecutionGraph, stageID int) []types.OutputLocation {
	stage := findStage(g, stageID)
	if stage == nil {
		return nil
	}
	out := make([]types.OutputLocation, 0, len(stage.Partitions))
	for _, p := range stage.Partitions {
		if p.Output != nil {
			out = append(out, *p.Output)
		}
	}
	return out
}

// CancelRunningTasks marks every Running partition in the graph as
// Failed(Cancelled) — used when a non-retryable failure or explicit
// JobCancel must stop in-flight work elsewhere in the same job.
func CancelRunningTasks(g *types.ExecutionGraph) []ReadyTask {
	var cancelled []ReadyTask
	for i := range g.Stages {
		st := &g.Stages[i]
		for j := range st.Partitions {
			p := &st.Partitions[j]
			if p.State == types.PartitionRunning {
				cancelled = append(cancelled, ReadyTask{JobID: g.JobID, StageID: st.ID, Partition: p.Index, Attempt: p.Attempt})
				p.State = types.PartitionFailed
				p.Error = "cancelled"
			}
		}
		if st.State != types.StageSuccessful {
			st.State = types.StageFailed
		}
	}
	return cancelled
}
