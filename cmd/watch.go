package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cmstate/cmstate/internal/engine"
	"github.com/cmstate/cmstate/internal/watch"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live service status table in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		eng, err := engine.New(cfg, logger)
		if err != nil {
			return err
		}
		return watch.Run(eng, watchInterval)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", watch.DefaultInterval, "refresh interval")
	rootCmd.AddCommand(watchCmd)
}
