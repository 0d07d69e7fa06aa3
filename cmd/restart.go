package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cmstate/cmstate/internal/engine"
	"github.com/cmstate/cmstate/internal/report"
)

var restartOutput string

var restartCmd = &cobra.Command{
	Use:   "restart <oozie|yarn>",
	Short: "Restart a managed service and wait for it to come back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		eng, err := engine.New(cfg, logger)
		if err != nil {
			return err
		}

		res, err := eng.Restart(cmd.Context(), args[0])

		rep := report.New(cfg.Manager.Host, cfg.Cluster)
		rep.Add(args[0], res, err)
		out, ferr := rep.Format(restartOutput)
		if ferr != nil {
			return ferr
		}
		fmt.Print(out)

		if err != nil {
			return fmt.Errorf("restart failed")
		}
		return nil
	},
}

func init() {
	restartCmd.Flags().StringVarP(&restartOutput, "output", "o", "text", "output format (text, json, yaml)")
	rootCmd.AddCommand(restartCmd)
}
