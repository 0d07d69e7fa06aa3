package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cmstate/cmstate/internal/config"
	"github.com/cmstate/cmstate/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "cmstate",
	Short: "cmstate - declarative Hadoop service management for Cloudera Manager",
	Long: `cmstate converges Cloudera Manager-managed Hadoop services (Oozie, YARN)
to a desired state declared in a config file. Services are created,
configured, started, stopped or removed to match the declaration, and
nothing is touched when the cluster already matches.`,
	SilenceUsage: true,
}

func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.cmstate/cmstate.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error; overrides config)")
}

// setup loads and validates the config, then wires the logger. Every
// command that talks to the manager goes through it.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logging.Setup(level, cfg.Logging.Directory)
	if err != nil {
		return nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	if err := logging.Prune(cfg.Logging.Directory, cfg.Logging.RetentionDays); err != nil {
		logger.Warn("pruning old logs", "error", err)
	}
	return cfg, logger, nil
}
