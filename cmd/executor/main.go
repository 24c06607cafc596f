package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/skylinedb/flightdeck/pkg/errs"
	"github.com/skylinedb/flightdeck/pkg/log"
	"github.com/skylinedb/flightdeck/pkg/types"
	"github.com/skylinedb/flightdeck/pkg/worker"
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
	Use:     "flightdeck-executor",
	Short:   "FlightDeck executor: runs shuffle-write tasks dispatched by a scheduler",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("flightdeck-executor version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the executor daemon",
	RunE:  runExecutor,
}

func init() {
	runCmd.Flags().String("executor-id", "", "Executor id (defaults to a generated name)")
	runCmd.Flags().String("host", "127.0.0.1", "Host advertised to the scheduler for shuffle reads")
	runCmd.Flags().Int("port", 9000, "Shuffle/data port advertised to the scheduler")
	runCmd.Flags().Int("grpc-port", 9001, "Control-plane gRPC port (push-staged mode)")
	runCmd.Flags().Int("task-slots", 4, "Number of concurrent task slots")
	runCmd.Flags().String("scheduler-addr", "127.0.0.1:50051", "Scheduler RPC address")
	runCmd.Flags().String("work-dir", "./data/executor", "Local directory for shuffle output files")
	runCmd.Flags().Bool("push-mode", false, "Accept tasks pushed by the scheduler instead of polling")
}

func runExecutor(cmd *cobra.Command, args []string) error {
	executorID, _ := cmd.Flags().GetString("executor-id")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	grpcPort, _ := cmd.Flags().GetInt("grpc-port")
	taskSlots, _ := cmd.Flags().GetInt("task-slots")
	schedulerAddr, _ := cmd.Flags().GetString("scheduler-addr")
	workDir, _ := cmd.Flags().GetString("work-dir")
	pushMode, _ := cmd.Flags().GetBool("push-mode")

	if executorID == "" {
		host, _ := os.Hostname()
		executorID = fmt.Sprintf("exec-%s-%d", host, os.Getpid())
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	w, err := worker.New(worker.Config{
		ExecutorID:    executorID,
		Host:          host,
		Port:          port,
		GRPCPort:      grpcPort,
		TaskSlots:     taskSlots,
		SchedulerAddr: schedulerAddr,
		WorkDir:       workDir,
		PushMode:      pushMode,
	}, fileShuffleWriter{})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return w.Start(ctx)
}

// fileShuffleWriter persists a plan fragment's shuffle output to a local
// file under workDir, named by the plan's content hash. It stands in for a
// columnar execution engine, which is out of scope for this module.
type fileShuffleWriter struct{}

func (fileShuffleWriter) WriteShuffle(ctx context.Context, workDir string, plan []byte) (types.OutputLocation, error) {
	sum := sha256.Sum256(plan)
	name := hex.EncodeToString(sum[:]) + ".shuffle"
	path := filepath.Join(workDir, name)

	if err := os.WriteFile(path, plan, 0o644); err != nil {
		return types.OutputLocation{}, errs.Wrap(errs.StorageError, "write shuffle output", err)
	}
	return types.OutputLocation{Path: path, NumBatches: 1, NumBytes: int64(len(plan))}, nil
}
