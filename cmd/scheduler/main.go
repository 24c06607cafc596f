package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/skylinedb/flightdeck/pkg/cluster"
	"github.com/skylinedb/flightdeck/pkg/eventloop"
	"github.com/skylinedb/flightdeck/pkg/jobstate"
	"github.com/skylinedb/flightdeck/pkg/log"
	"github.com/skylinedb/flightdeck/pkg/metrics"
	"github.com/skylinedb/flightdeck/pkg/rpc"
	"github.com/skylinedb/flightdeck/pkg/storage"
	"github.com/skylinedb/flightdeck/pkg/taskmgr"
	"github.com/skylinedb/flightdeck/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "flightdeck-scheduler",
	Short:   "FlightDeck scheduler: executor manager, job state, and task dispatch for a distributed query cluster",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("flightdeck-scheduler version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "./data/scheduler", "State backend data directory (bbolt)")
	serveCmd.Flags().Bool("in-memory", false, "Use an in-memory state backend instead of bbolt (testing only)")
	serveCmd.Flags().String("listen-addr", ":50051", "RPC listen address")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics listen address")
	serveCmd.Flags().String("scheduler-id", "", "Scheduler replica id (defaults to hostname)")
	serveCmd.Flags().String("scheduling-policy", "pull-staged", "pull-staged or push-staged")
	serveCmd.Flags().String("executor-slots-policy", "bias", "bias, round-robin, or round-robin-local")
	serveCmd.Flags().Int("event-loop-buffer-size", eventloop.DefaultBufferSize, "Event loop queue depth")
	serveCmd.Flags().Duration("liveness-timeout", cluster.DefaultLivenessTimeout, "Executor heartbeat liveness window")
	serveCmd.Flags().Duration("expiry-interval", 15*time.Second, "Executor expiry scan interval")
	serveCmd.Flags().Duration("push-offer-interval", 2*time.Second, "Reservation-offer tick interval in push-staged mode")
	serveCmd.Flags().String("result-route-endpoint", "", "advertise_flight_result_route_endpoint: optional result-streaming proxy endpoint")
}

func runServe(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	inMemory, _ := cmd.Flags().GetBool("in-memory")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	schedulerID, _ := cmd.Flags().GetString("scheduler-id")
	schedulingPolicy, _ := cmd.Flags().GetString("scheduling-policy")
	slotsPolicyName, _ := cmd.Flags().GetString("executor-slots-policy")
	bufferSize, _ := cmd.Flags().GetInt("event-loop-buffer-size")
	liveness, _ := cmd.Flags().GetDuration("liveness-timeout")
	expiryInterval, _ := cmd.Flags().GetDuration("expiry-interval")
	pushInterval, _ := cmd.Flags().GetDuration("push-offer-interval")
	_, _ = cmd.Flags().GetString("result-route-endpoint") // accepted but unused: nothing sets TaskDefinition.ResultRoute (see DESIGN.md)

	if schedulerID == "" {
		host, _ := os.Hostname()
		schedulerID = host
	}

	slotsPolicy, err := parseSlotsPolicy(slotsPolicyName)
	if err != nil {
		return err
	}

	var store storage.Store
	if inMemory {
		store = storage.NewMemStore()
	} else {
		store, err = storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open state backend: %w", err)
		}
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "")

	var clusterMgr *cluster.Manager
	pool := rpc.NewExecutorPool(func(id string) (types.ExecutorMetadata, error) {
		return clusterMgr.GetExecutorMetadata(id)
	})
	defer pool.Close()

	clusterMgr = cluster.NewManager(store, cluster.Config{Liveness: liveness, Pinger: pool, Notify: pool})
	jobs := jobstate.New(store)
	tasks := taskmgr.New(jobs, schedulerID)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := clusterMgr.StartHeartbeatWatcher(ctx); err != nil {
		metrics.RegisterComponent("storage", false, err.Error())
		return fmt.Errorf("start heartbeat watcher: %w", err)
	}
	clusterMgr.StartExpiryLoop(expiryInterval)

	collector := metrics.NewCollector(clusterMgr)
	collector.Start()
	defer collector.Stop()

	loop := eventloop.New(clusterMgr, jobs, tasks, passthroughPlanner{}, pool, eventloop.Config{
		BufferSize:  bufferSize,
		SchedulerID: schedulerID,
	})
	go loop.Run(ctx)
	metrics.RegisterComponent("eventloop", true, "")
	go drainClusterEvents(ctx, clusterMgr, loop)

	server := rpc.NewServer(clusterMgr, jobs, tasks, loop, rpc.Config{
		SlotPolicy:       slotsPolicy,
		SchedulingPolicy: rpc.SchedulingPolicy(schedulingPolicy),
	})
	metrics.RegisterComponent("rpc", true, "")

	if schedulingPolicy == "push-staged" {
		go pushOfferLoop(ctx, loop, clusterMgr, slotsPolicy, pushInterval, log.WithComponent("push_scheduler"))
	}

	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.WithComponent("health").Error().Err(err).Msg("health server stopped")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listenAddr); err != nil {
			metrics.RegisterComponent("rpc", false, err.Error())
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		server.Stop()
		return nil
	case err := <-errCh:
		return err
	}
}

// drainClusterEvents forwards executor lifecycle events from the Executor
// Manager onto the query-stage event loop, so a heartbeat-expired executor's
// running tasks get requeued instead of hanging forever.
func drainClusterEvents(ctx context.Context, clusterMgr *cluster.Manager, loop *eventloop.Loop) {
	sub := clusterMgr.Subscribe()
	defer clusterMgr.Unsubscribe(sub)
	logger := log.WithComponent("cluster_events")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Kind != cluster.ExecutorLost {
				continue
			}
			out := eventloop.Event{Kind: eventloop.KindExecutorLost, ExecutorLost: &eventloop.ExecutorLostPayload{
				ExecutorID: ev.ExecutorID, Reason: ev.Reason,
			}}
			if err := loop.Post(ctx, out); err != nil {
				logger.Error().Err(err).Str("executor_id", ev.ExecutorID).Msg("failed to post executor-lost event")
			}
		}
	}
}

func parseSlotsPolicy(name string) (cluster.Policy, error) {
	switch name {
	case "bias":
		return cluster.Bias, nil
	case "round-robin":
		return cluster.RoundRobin, nil
	case "round-robin-local":
		return cluster.RoundRobinLocal, nil
	default:
		return 0, fmt.Errorf("unknown executor-slots-policy %q", name)
	}
}

// pushOfferLoop periodically reserves every free slot and offers it to the
// event loop, implementing scheduler-initiated (push-staged) dispatch.
func pushOfferLoop(ctx context.Context, loop *eventloop.Loop, clusterMgr *cluster.Manager, policy cluster.Policy, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reservations, err := clusterMgr.ReserveSlots(1<<20, policy, "")
			if err != nil {
				logger.Error().Err(err).Msg("failed to reserve slots for push offer")
				continue
			}
			if len(reservations) == 0 {
				continue
			}
			ev := eventloop.Event{Kind: eventloop.KindReservationOffering, ReservationOffering: &eventloop.ReservationOfferingPayload{Reservations: reservations}}
			if err := loop.Post(ctx, ev); err != nil {
				logger.Error().Err(err).Msg("failed to post reservation offering")
			}
		}
	}
}

// passthroughPlanner wraps a raw query as a single stage with one
// partition. The columnar/arrow query planner is an external collaborator
// out of scope for this module; this stands in until one is wired up.
type passthroughPlanner struct{}

func (passthroughPlanner) PlanStages(ctx context.Context, plan []byte, session types.Session) ([]types.Stage, error) {
	if len(plan) == 0 {
		return nil, fmt.Errorf("empty query plan")
	}
	shuffleParts := session.ShuffleParts
	if shuffleParts <= 0 {
		shuffleParts = 1
	}
	partitions := make([]types.Partition, shuffleParts)
	for i := range partitions {
		partitions[i] = types.Partition{Index: i, State: types.PartitionUnscheduled}
	}
	return []types.Stage{{ID: 0, State: types.StagePending, Partitions: partitions, PlanFragment: plan}}, nil
}
