package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmstate/cmstate/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long:  `Walk through prompts to create a cmstate configuration file at ~/.cmstate/cmstate.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Println("cmstate Configuration Setup")
		fmt.Println("===========================")
		fmt.Println()

		fmt.Println("Cloudera Manager")
		fmt.Println("----------------")
		host := prompt(reader, "Host", "localhost")
		tls := promptYesNo(reader, "Use TLS", false)
		portDefault := "7180"
		if tls {
			portDefault = "7183"
		}
		portStr := prompt(reader, "Port", portDefault)
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port: %s", portStr)
		}
		username := prompt(reader, "Username", "admin")
		password := prompt(reader, "Password (plain, or ${ENV:VAR} / ${VAULT:path#key} / ${AWS_SM:name#key})", "")
		cluster := prompt(reader, "Cluster name", "cluster")
		fmt.Println()

		cfg := &config.Config{
			Version: config.CurrentVersion,
			Manager: config.ManagerConfig{
				Host:     host,
				Port:     port,
				Username: username,
				Password: password,
				TLS:      tls,
			},
			Cluster: cluster,
		}

		if promptYesNo(reader, "Manage an Oozie service", true) {
			fmt.Println()
			fmt.Println("Oozie")
			fmt.Println("-----")
			serverHost := prompt(reader, "Oozie Server host", host)
			dbType := prompt(reader, "Database type (postgresql/oracle/mysql)", "postgresql")
			dbHost := prompt(reader, "Database host", "localhost")
			dbPortStr := prompt(reader, "Database port", defaultDBPort(dbType))
			dbPort, err := strconv.Atoi(dbPortStr)
			if err != nil {
				return fmt.Errorf("invalid database port: %s", dbPortStr)
			}
			dbName := prompt(reader, "Database name", "oozie")
			dbUser := prompt(reader, "Database user", "oozie")
			dbPassword := prompt(reader, "Database password", "")
			cfg.Services.Oozie = &config.OozieConfig{
				ServerHost: serverHost,
				Database: config.DatabaseConfig{
					Type:     dbType,
					Host:     dbHost,
					Port:     dbPort,
					Name:     dbName,
					User:     dbUser,
					Password: dbPassword,
				},
			}
			fmt.Println()
		}

		if promptYesNo(reader, "Manage a YARN service", false) {
			fmt.Println()
			fmt.Println("YARN")
			fmt.Println("----")
			rmHost := prompt(reader, "ResourceManager host", host)
			jhHost := prompt(reader, "JobHistory Server host", rmHost)
			nmHosts := prompt(reader, "NodeManager hosts (comma separated)", rmHost)
			cfg.Services.Yarn = &config.YarnConfig{
				ResourceManagerHost: rmHost,
				JobHistoryHost:      jhHost,
				NodeManagerHosts:    splitHosts(nmHosts),
			}
			fmt.Println()
		}

		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}

		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Config written to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  cmstate preflight    — Check connectivity and placement without changing anything")
		fmt.Println("  cmstate ensure all   — Reconcile the configured services")
		fmt.Println("  cmstate watch        — Watch service status live")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func promptYesNo(reader *bufio.Reader, label string, defaultVal bool) bool {
	def := "y/N"
	if defaultVal {
		def = "Y/n"
	}
	fmt.Printf("  %s [%s]: ", label, def)
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return defaultVal
	}
	return input == "y" || input == "yes"
}

func defaultDBPort(dbType string) string {
	switch dbType {
	case "oracle":
		return "1521"
	case "mysql":
		return "3306"
	default:
		return "5432"
	}
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
