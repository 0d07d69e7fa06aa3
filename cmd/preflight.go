package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cmstate/cmstate/internal/engine"
)

var (
	preflightStrict bool
	preflightOutput string
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Verify everything an ensure run needs, without mutating anything",
	Long: `Run read-only checks against the manager: cluster reachability,
placement hosts, service dependencies and the Oozie metastore database.
Skipped checks (for example an unsupported database type) do not fail
the run unless --strict is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		eng, err := engine.New(cfg, logger)
		if err != nil {
			return err
		}

		checks := eng.Preflight(cmd.Context())

		if preflightOutput == "json" {
			data, err := json.MarshalIndent(checks, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		} else {
			fmt.Printf("Preflight for cluster %s on %s\n\n", cfg.Cluster, cfg.Manager.Host)
			for _, c := range checks {
				mark := "FAIL"
				switch {
				case c.Passed:
					mark = " OK "
				case c.Skipped:
					mark = "SKIP"
				}
				fmt.Printf("  [%s] %-20s %s\n", mark, c.Name, c.Message)
			}
			fmt.Println()
		}

		failed := 0
		for _, c := range checks {
			if !c.Passed && (!c.Skipped || preflightStrict) {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d preflight check(s) failed", failed)
		}
		return nil
	},
}

func init() {
	preflightCmd.Flags().BoolVar(&preflightStrict, "strict", false, "treat skipped checks as failures")
	preflightCmd.Flags().StringVarP(&preflightOutput, "output", "o", "text", "output format (text, json)")
	rootCmd.AddCommand(preflightCmd)
}
