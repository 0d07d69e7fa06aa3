package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmstate/cmstate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and validate the cmstate configuration file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		fmt.Printf("  Manager:\n")
		fmt.Printf("    Host:           %s\n", cfg.Manager.Host)
		fmt.Printf("    Port:           %d\n", managerPort(cfg))
		fmt.Printf("    Username:       %s\n", cfg.Manager.Username)
		fmt.Printf("    Password:       %s\n", maskSecret(cfg.Manager.Password))
		fmt.Printf("    TLS:            %t\n", cfg.Manager.TLS)
		fmt.Println()
		fmt.Printf("  Cluster:          %s\n", cfg.Cluster)

		if oozie := cfg.Services.Oozie; oozie != nil {
			fmt.Println()
			fmt.Printf("  Oozie:\n")
			fmt.Printf("    Name:           %s\n", oozie.Name)
			fmt.Printf("    Server Host:    %s\n", oozie.ServerHost)
			fmt.Printf("    Database:       %s://%s@%s:%d/%s\n",
				oozie.Database.Type, oozie.Database.User,
				oozie.Database.Host, oozie.Database.Port, oozie.Database.Name)
			fmt.Printf("    DB Password:    %s\n", maskSecret(oozie.Database.Password))
		}

		if yarn := cfg.Services.Yarn; yarn != nil {
			fmt.Println()
			fmt.Printf("  YARN:\n")
			fmt.Printf("    Name:           %s\n", yarn.Name)
			fmt.Printf("    ResourceMgr:    %s\n", yarn.ResourceManagerHost)
			fmt.Printf("    JobHistory:     %s\n", yarn.JobHistoryHost)
			fmt.Printf("    NodeManagers:   %s\n", strings.Join(yarn.NodeManagerHosts, ", "))
			if len(yarn.GatewayHosts) > 0 {
				fmt.Printf("    Gateways:       %s\n", strings.Join(yarn.GatewayHosts, ", "))
			}
		}

		fmt.Println()
		fmt.Printf("  API Listen:       %s\n", cfg.API.Listen)
		fmt.Printf("  Log Level:        %s\n", cfg.Logging.Level)
		fmt.Printf("  Log Directory:    %s\n", cfg.Logging.Directory)

		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Println("Configuration is valid.")
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the resolved config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			path = cfgFile
		}
		fmt.Println(path)
		return nil
	},
}

func managerPort(cfg *config.Config) int {
	if cfg.Manager.Port != 0 {
		return cfg.Manager.Port
	}
	if cfg.Manager.TLS {
		return 7183
	}
	return 7180
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
