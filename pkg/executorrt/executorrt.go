// Package executorrt implements the Executor Task Runtime of spec §4.7:
// running one partition of a stage with cooperative cancellation. The
// shuffle-writer operator itself is an external collaborator (spec §1);
// this package owns only the cancellation-handle bookkeeping and the
// execute/cancel contract around it.
package executorrt

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/log"
	"github.com/skylinedb/flightdeck/pkg/types"
)

// ShuffleWriter recreates the shuffle-writer operator bound to the
// executor's working directory and runs plan to completion, returning a
// single OutputLocation that describes the task's shuffle output; no
// separate location is reported per output partition. It is the in-
// process arrow/columnar execution engine, out of scope per spec §1;
// Runtime only wraps whatever implementation is plugged in.
type ShuffleWriter interface {
	WriteShuffle(ctx context.Context, workDir string, plan []byte) (types.OutputLocation, error)
}

// taskKey identifies one in-flight task attempt.
type taskKey struct {
	jobID     string
	stageID   int
	partition int
}

// Runtime runs shuffle-write tasks and supports cooperative cancellation
// via a cancel-func map guarded by a mutex — the same scoped-acquisition
// pattern as an executor-side health-check cancellation registry, here
// keyed by (job, stage, partition) instead of by task id.
type Runtime struct {
	writer  ShuffleWriter
	workDir string
	logger  zerolog.Logger

	mu       sync.Mutex
	cancelFn map[taskKey]context.CancelFunc
}

func New(writer ShuffleWriter, workDir string) *Runtime {
	return &Runtime{
		writer:   writer,
		workDir:  workDir,
		logger:   log.WithComponent("executor_runtime"),
		cancelFn: make(map[taskKey]context.CancelFunc),
	}
}

// ExecuteShuffleWrite runs one partition's shuffle-writer plan to
// completion. The execution future is wrapped in a cancellable handle
// registered under (jobID, stageID, partition) for the duration of the
// call; CancelTask can abort it from another goroutine.
func (r *Runtime) ExecuteShuffleWrite(ctx context.Context, jobID string, stageID, partition int, plan []byte) (types.OutputLocation, error) {
	if len(plan) == 0 {
		return types.OutputLocation{}, errs.New(errs.InvalidPlan, "empty plan fragment")
	}

	key := taskKey{jobID, stageID, partition}
	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancelFn[key] = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.cancelFn, key)
		r.mu.Unlock()
		cancel()
	}()

	out, err := r.writer.WriteShuffle(runCtx, r.workDir, plan)
	if err != nil {
		if runCtx.Err() != nil {
			return types.OutputLocation{}, errs.Wrap(errs.Cancelled, fmt.Sprintf("task %s/%d/%d", jobID, stageID, partition), runCtx.Err())
		}
		return types.OutputLocation{}, err
	}
	return out, nil
}

// CancelTask aborts the in-flight execution for (jobID, stageID,
// partition), if any, and reports whether a handle was found.
// Cancellation is not retried.
func (r *Runtime) CancelTask(jobID string, stageID, partition int) bool {
	key := taskKey{jobID, stageID, partition}

	r.mu.Lock()
	cancel, ok := r.cancelFn[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	r.logger.Info().Str("job_id", jobID).Int("stage_id", stageID).Int("partition", partition).Msg("task cancelled")
	return true
}
