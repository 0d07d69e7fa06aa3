package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmstate/cmstate/internal/engine"
	"github.com/cmstate/cmstate/internal/reconcile"
	"github.com/cmstate/cmstate/internal/report"
)

var (
	ensureState      string
	ensureDryRun     bool
	ensureOutput     string
	ensureReportFile string
)

var ensureCmd = &cobra.Command{
	Use:   "ensure <oozie|yarn|all>",
	Short: "Converge a managed service to the desired state",
	Long: `Converge one configured service kind (or all of them) to the desired
state. The cluster is inspected first and only the missing pieces are
applied: a service that already matches is left alone.

States:
  present   service exists (created and started if missing)
  started   service exists and is running
  stopped   service exists and is not running
  absent    service is stopped and removed

With "all", kinds are processed dependencies-first; for --state absent
the order is reversed so dependents are removed before the services
they reference.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desired, err := reconcile.ParseState(ensureState)
		if err != nil {
			return err
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		eng, err := engine.New(cfg, logger)
		if err != nil {
			return err
		}

		opts := engine.EnsureOptions{DryRun: ensureDryRun}
		ctx := cmd.Context()

		rep := report.New(cfg.Manager.Host, cfg.Cluster)
		if args[0] == "all" {
			rep = eng.EnsureAll(ctx, desired, opts)
		} else {
			res, err := eng.Ensure(ctx, args[0], desired, opts)
			rep.Add(args[0], res, err)
		}

		out, err := rep.Format(ensureOutput)
		if err != nil {
			return err
		}
		fmt.Print(out)

		if ensureReportFile != "" {
			if err := report.Write(rep, ensureReportFile, reportFormatFor(ensureReportFile)); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}
		}

		if rep.Failed() {
			return fmt.Errorf("reconciliation failed")
		}
		return nil
	},
}

// reportFormatFor picks the report file format from its extension.
func reportFormatFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"):
		return "json"
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return "yaml"
	default:
		return "text"
	}
}

func init() {
	ensureCmd.Flags().StringVar(&ensureState, "state", "started", "desired state (present, started, stopped, absent)")
	ensureCmd.Flags().BoolVar(&ensureDryRun, "dry-run", false, "report planned actions without touching the cluster")
	ensureCmd.Flags().StringVarP(&ensureOutput, "output", "o", "text", "output format (text, json, yaml)")
	ensureCmd.Flags().StringVar(&ensureReportFile, "report", "", "also write the report to a file (format from extension)")
	rootCmd.AddCommand(ensureCmd)
}
