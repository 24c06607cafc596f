package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/skylinedb/flightdeck/pkg/client"
	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/executorrt"
	"github.com/skylinedb/flightdeck/pkg/log"
	"github.com/skylinedb/flightdeck/pkg/types"
)

// Config configures an executor daemon.
type Config struct {
	ExecutorID    string
	Host          string
	Port          int
	GRPCPort      int
	TaskSlots     int
	SchedulerAddr string
	WorkDir       string
	PushMode      bool // reserve slots at startup and serve LaunchTask, instead of polling
}

// Worker is the executor daemon: registers with a scheduler, advertises
// slots, and runs shuffle-write tasks through pkg/executorrt.
type Worker struct {
	cfg    Config
	client *client.Client
	rt     *executorrt.Runtime
	logger zerolog.Logger

	grpc *executorServer

	statusesMu sync.Mutex
	pending    []types.TaskStatus

	stopCh chan struct{}
}

// New builds a Worker bound to writer for shuffle execution.
func New(cfg Config, writer executorrt.ShuffleWriter) (*Worker, error) {
	c, err := client.NewClient(cfg.SchedulerAddr)
	if err != nil {
		return nil, errs.Wrap(errs.Connectivity, "dial scheduler "+cfg.SchedulerAddr, err)
	}
	return &Worker{
		cfg:    cfg,
		client: c,
		rt:     executorrt.New(writer, cfg.WorkDir),
		logger: log.WithExecutorID(cfg.ExecutorID),
		stopCh: make(chan struct{}),
	}, nil
}

func (w *Worker) metadata() types.ExecutorMetadata {
	return types.ExecutorMetadata{
		ID: w.cfg.ExecutorID, Host: w.cfg.Host, Port: w.cfg.Port, GRPCPort: w.cfg.GRPCPort,
		Spec: types.ExecutorSpec{TaskSlots: w.cfg.TaskSlots},
	}
}

// Start registers with the scheduler and launches the heartbeat and
// (pull-mode) poll loops. It blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.client.RegisterExecutor(w.metadata(), w.cfg.PushMode); err != nil {
		return errs.Wrap(errs.Connectivity, "register executor", err)
	}
	w.logger.Info().Int("task_slots", w.cfg.TaskSlots).Bool("push_mode", w.cfg.PushMode).Msg("executor registered")

	if w.cfg.PushMode {
		w.grpc = newExecutorServer(w.rt, w.reportStatus)
		go func() {
			if err := w.grpc.serve(fmt.Sprintf(":%d", w.cfg.GRPCPort)); err != nil {
				w.logger.Error().Err(err).Msg("executor rpc server stopped")
			}
		}()
	}

	go w.heartbeatLoop(ctx)
	if !w.cfg.PushMode {
		go w.pollLoop(ctx)
	}

	<-ctx.Done()
	return w.Stop()
}

// Stop halts background loops and closes the scheduler connection.
func (w *Worker) Stop() error {
	close(w.stopCh)
	if w.grpc != nil {
		w.grpc.stop()
	}
	return w.client.Close()
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := w.client.Heartbeat(w.cfg.ExecutorID, "alive"); err != nil {
				w.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}
	}
}

// pollLoop drives pull-mode scheduling: report finished task statuses and
// ask for the next task definition every tick.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.pollOnce(ctx)
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	w.statusesMu.Lock()
	statuses := w.pending
	w.pending = nil
	w.statusesMu.Unlock()

	resp, err := w.client.PollWork(w.metadata(), true, statuses)
	if err != nil {
		w.logger.Warn().Err(err).Msg("poll failed")
		w.statusesMu.Lock()
		w.pending = append(w.pending, statuses...)
		w.statusesMu.Unlock()
		return
	}
	if resp.Task == nil {
		return
	}
	go w.runTask(ctx, *resp.Task)
}

func (w *Worker) runTask(ctx context.Context, task types.TaskDefinition) {
	logger := w.logger.With().Str("job_id", task.JobID).Int("stage_id", task.StageID).Int("partition", task.Partition).Logger()
	logger.Info().Msg("task started")

	out, err := w.rt.ExecuteShuffleWrite(ctx, task.JobID, task.StageID, task.Partition, task.PlanFragment)
	status := types.TaskStatus{JobID: task.JobID, StageID: task.StageID, Partition: task.Partition, TaskID: task.TaskID}
	switch {
	case err == nil:
		status.State = types.TaskSuccessful
		status.Output = &out
	case errs.Is(err, errs.Cancelled):
		status.State = types.TaskFailedRetryable
		status.Error = err.Error()
	default:
		status.State = types.TaskFailedNonRetryable
		status.Error = err.Error()
	}

	logger.Info().Str("state", string(status.State)).Msg("task finished")
	w.reportStatus(status)
}

// reportStatus queues a finished task's status for the next poll cycle
// (pull mode) or reports it immediately (push mode).
func (w *Worker) reportStatus(status types.TaskStatus) {
	if !w.cfg.PushMode {
		w.statusesMu.Lock()
		w.pending = append(w.pending, status)
		w.statusesMu.Unlock()
		return
	}
	if err := w.client.UpdateTaskStatus(w.cfg.ExecutorID, []types.TaskStatus{status}); err != nil {
		w.logger.Warn().Err(err).Msg("failed to report task status")
	}
}
