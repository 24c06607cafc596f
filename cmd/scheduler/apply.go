package main

import (
	"fmt"
	"os"

	"github.com/skylinedb/flightdeck/pkg/client"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Submit a query from a session configuration file",
	Long: `Apply a session definition from a YAML file and submit its query.

Examples:
  # Submit a new session and query
  flightdeck-scheduler apply -f session.yaml

  # Resubmit a query against an existing session
  flightdeck-scheduler apply -f session.yaml --session-id sess-1234`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML session file to apply (required)")
	applyCmd.Flags().String("scheduler-addr", "localhost:50051", "Scheduler RPC address")
	applyCmd.Flags().String("session-id", "", "Reuse an existing session instead of creating one")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// SessionResource is a YAML-defined query submission: a session's options
// plus the query to run under them.
type SessionResource struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Metadata   ResourceMeta   `yaml:"metadata"`
	Spec       SessionRunSpec `yaml:"spec"`
}

type ResourceMeta struct {
	Name string `yaml:"name"`
}

// SessionRunSpec mirrors types.Session's tunables plus the query body that
// gets executed under them.
type SessionRunSpec struct {
	Query                   string            `yaml:"query"`
	QueryFile               string            `yaml:"queryFile"`
	ShuffleParts            int               `yaml:"shufflePartitions"`
	SchedulingPolicyOverride string           `yaml:"schedulingPolicyOverride,omitempty"`
	ResultRouteEndpoint     string            `yaml:"resultRouteEndpoint,omitempty"`
	Options                 map[string]string `yaml:"options,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	schedulerAddr, _ := cmd.Flags().GetString("scheduler-addr")
	sessionID, _ := cmd.Flags().GetString("session-id")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var resource SessionResource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if resource.Kind != "" && resource.Kind != "Session" {
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}

	query, err := resolveQuery(resource.Spec)
	if err != nil {
		return err
	}

	c, err := client.NewClient(schedulerAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to scheduler: %w", err)
	}
	defer c.Close()

	settings := resource.Spec.Options
	if settings == nil {
		settings = make(map[string]string)
	}
	if resource.Spec.SchedulingPolicyOverride != "" {
		settings["scheduling_policy_override"] = resource.Spec.SchedulingPolicyOverride
	}
	if resource.Spec.ResultRouteEndpoint != "" {
		settings["result_route_endpoint"] = resource.Spec.ResultRouteEndpoint
	}

	resp, err := c.ExecuteQuery([]byte(query), settings, sessionID, resource.Spec.ShuffleParts)
	if err != nil {
		return fmt.Errorf("failed to submit query: %w", err)
	}

	name := resource.Metadata.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Printf("Submitted session %s: job=%s session=%s\n", name, resp.JobID, resp.SessionID)
	return nil
}

func resolveQuery(spec SessionRunSpec) (string, error) {
	if spec.QueryFile != "" {
		data, err := os.ReadFile(spec.QueryFile)
		if err != nil {
			return "", fmt.Errorf("failed to read queryFile: %w", err)
		}
		return string(data), nil
	}
	if spec.Query == "" {
		return "", fmt.Errorf("spec.query or spec.queryFile is required")
	}
	return spec.Query, nil
}
