package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cmstate/cmstate/internal/engine"
	"github.com/cmstate/cmstate/internal/lock"
	"github.com/cmstate/cmstate/internal/state"
)

var statusOutput string

// statusReport is the machine-readable shape of cmstate status.
type statusReport struct {
	Manager       string                 `json:"manager" yaml:"manager"`
	Cluster       string                 `json:"cluster" yaml:"cluster"`
	Services      []engine.ServiceStatus `json:"services" yaml:"services"`
	LastRuns      map[string]state.Run   `json:"last_runs,omitempty" yaml:"last_runs,omitempty"`
	RunInProgress int                    `json:"run_in_progress_pid,omitempty" yaml:"run_in_progress_pid,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the observed state of the managed services",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		eng, err := engine.New(cfg, logger)
		if err != nil {
			return err
		}

		statuses, err := eng.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching status: %w", err)
		}

		rep := statusReport{
			Manager:  cfg.Manager.Host,
			Cluster:  cfg.Cluster,
			Services: statuses,
		}
		if st, err := eng.History(); err == nil && len(st.Last) > 0 {
			rep.LastRuns = st.Last
		}
		if held, pid := lock.IsHeld(""); held {
			rep.RunInProgress = pid
		}

		switch statusOutput {
		case "json":
			data, err := json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		case "yaml":
			data, err := yaml.Marshal(rep)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
		case "", "text":
			printStatusText(rep)
		default:
			return fmt.Errorf("unknown output format %q", statusOutput)
		}
		return nil
	},
}

func printStatusText(rep statusReport) {
	fmt.Printf("Cluster %s on %s\n", rep.Cluster, rep.Manager)
	if rep.RunInProgress != 0 {
		fmt.Printf("A run is in progress (PID %d).\n", rep.RunInProgress)
	}
	fmt.Println()

	fmt.Printf("  %-8s %-16s %-12s %-10s %s\n", "KIND", "SERVICE", "STATE", "HEALTH", "ROLES")
	for _, st := range rep.Services {
		service := st.Service
		if service == "" {
			service = "-"
		}
		health := st.Health
		if health == "" {
			health = "-"
		}
		fmt.Printf("  %-8s %-16s %-12s %-10s %d\n", st.Kind, service, st.State, health, len(st.Roles))
	}

	if len(rep.LastRuns) > 0 {
		fmt.Println()
		fmt.Println("Last runs:")
		for _, st := range rep.Services {
			run, ok := rep.LastRuns[st.Kind]
			if !ok {
				continue
			}
			outcome := "no change"
			if run.Changed {
				outcome = "changed"
			}
			if run.Error != "" {
				outcome = "failed: " + run.Error
			}
			fmt.Printf("  %-8s %s -> %s (%s) at %s\n",
				run.Kind, run.Desired, run.State, outcome, run.StartedAt.Format("2006-01-02 15:04:05"))
		}
	}
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "output format (text, json, yaml)")
	rootCmd.AddCommand(statusCmd)
}
