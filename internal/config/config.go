package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.cmstate/cmstate.yaml"
)

// Config is the top-level configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Manager  ManagerConfig  `yaml:"manager"`
	Cluster  string         `yaml:"cluster"`
	Services ServicesConfig `yaml:"services"`
	Timeouts TimeoutConfig  `yaml:"timeouts,omitempty"`
	Logging  LogConfig      `yaml:"logging,omitempty"`
	API      APIConfig      `yaml:"api,omitempty"`
}

// ManagerConfig defines the Cloudera Manager connection.
type ManagerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port,omitempty"` // default 7180, or 7183 with tls
	APIVersion     string `yaml:"api_version,omitempty"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TLS            bool   `yaml:"tls,omitempty"`
	TLSSkipVerify  bool   `yaml:"tls_skip_verify,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"` // per-request, default 30
}

// ServicesConfig holds the managed service definitions. A nil entry means
// the tool does not manage that service kind.
type ServicesConfig struct {
	Oozie *OozieConfig `yaml:"oozie,omitempty"`
	Yarn  *YarnConfig  `yaml:"yarn,omitempty"`
}

// OozieConfig defines a managed Oozie service. The *_service fields pin a
// dependency to an explicit service name; left empty, dependencies are
// discovered on the cluster by service type.
type OozieConfig struct {
	Name               string            `yaml:"name,omitempty"` // default OOZIE-1
	ServerHost         string            `yaml:"server_host"`
	YarnService        string            `yaml:"yarn_service,omitempty"`
	ZookeeperService   string            `yaml:"zookeeper_service,omitempty"`
	HiveService        string            `yaml:"hive_service,omitempty"`
	SparkOnYarnService string            `yaml:"spark_on_yarn_service,omitempty"`
	Database           DatabaseConfig    `yaml:"database"`
	Config             map[string]string `yaml:"config,omitempty"`
	RoleConfig         map[string]string `yaml:"role_config,omitempty"`
}

// DatabaseConfig defines the Oozie metastore database.
type DatabaseConfig struct {
	Type     string `yaml:"type"` // postgresql, oracle or mysql
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// YarnConfig defines a managed YARN service. Dependency pinning works as
// for OozieConfig.
type YarnConfig struct {
	Name                string            `yaml:"name,omitempty"` // default YARN-1
	HDFSService         string            `yaml:"hdfs_service,omitempty"`
	ZookeeperService    string            `yaml:"zookeeper_service,omitempty"`
	ResourceManagerHost string            `yaml:"resourcemanager_host"`
	JobHistoryHost      string            `yaml:"jobhistory_host"`
	NodeManagerHosts    []string          `yaml:"nodemanager_hosts"`
	GatewayHosts        []string          `yaml:"gateway_hosts,omitempty"`
	Config              map[string]string `yaml:"config,omitempty"`
	RoleConfig          YarnRoleConfig    `yaml:"role_config,omitempty"`
}

// YarnRoleConfig carries per-role-type config group overrides.
type YarnRoleConfig struct {
	ResourceManager map[string]string `yaml:"resourcemanager,omitempty"`
	JobHistory      map[string]string `yaml:"jobhistory,omitempty"`
	NodeManager     map[string]string `yaml:"nodemanager,omitempty"`
	Gateway         map[string]string `yaml:"gateway,omitempty"`
}

// TimeoutConfig bounds the remote waits. Zero values take the defaults.
type TimeoutConfig struct {
	StartSeconds     int `yaml:"start_seconds,omitempty"`     // default 300
	StopSeconds      int `yaml:"stop_seconds,omitempty"`      // default 300
	DeploySeconds    int `yaml:"deploy_seconds,omitempty"`    // default 300
	BootstrapSeconds int `yaml:"bootstrap_seconds,omitempty"` // default 600
	SettleSeconds    int `yaml:"settle_seconds,omitempty"`    // default 60
}

func (t TimeoutConfig) Start() time.Duration  { return time.Duration(t.StartSeconds) * time.Second }
func (t TimeoutConfig) Stop() time.Duration   { return time.Duration(t.StopSeconds) * time.Second }
func (t TimeoutConfig) Deploy() time.Duration { return time.Duration(t.DeploySeconds) * time.Second }
func (t TimeoutConfig) Bootstrap() time.Duration {
	return time.Duration(t.BootstrapSeconds) * time.Second
}
func (t TimeoutConfig) Settle() time.Duration { return time.Duration(t.SettleSeconds) * time.Second }

// LogConfig defines logging settings.
type LogConfig struct {
	Level         string `yaml:"level,omitempty"`          // debug, info, warn, error
	Directory     string `yaml:"directory,omitempty"`      // default ~/.cmstate/logs/
	RetentionDays int    `yaml:"retention_days,omitempty"` // default 30
}

// APIConfig defines the local HTTP API server settings.
type APIConfig struct {
	Listen string `yaml:"listen,omitempty"` // default 127.0.0.1:8700
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.Manager.TimeoutSeconds == 0 {
		c.Manager.TimeoutSeconds = 30
	}
	if c.Services.Oozie != nil {
		if c.Services.Oozie.Name == "" {
			c.Services.Oozie.Name = "OOZIE-1"
		}
		db := &c.Services.Oozie.Database
		if db.Port == 0 {
			switch db.Type {
			case "postgresql":
				db.Port = 5432
			case "oracle":
				db.Port = 1521
			case "mysql":
				db.Port = 3306
			}
		}
	}
	if c.Services.Yarn != nil && c.Services.Yarn.Name == "" {
		c.Services.Yarn.Name = "YARN-1"
	}
	if c.Timeouts.StartSeconds == 0 {
		c.Timeouts.StartSeconds = 300
	}
	if c.Timeouts.StopSeconds == 0 {
		c.Timeouts.StopSeconds = 300
	}
	if c.Timeouts.DeploySeconds == 0 {
		c.Timeouts.DeploySeconds = 300
	}
	if c.Timeouts.BootstrapSeconds == 0 {
		c.Timeouts.BootstrapSeconds = 600
	}
	if c.Timeouts.SettleSeconds == 0 {
		c.Timeouts.SettleSeconds = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.cmstate/logs/")
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = 30
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8700"
	}
}

// Validate checks the parts of the config every command depends on.
func (c *Config) Validate() error {
	if c.Manager.Host == "" {
		return fmt.Errorf("manager.host is required")
	}
	if c.Manager.Username == "" {
		return fmt.Errorf("manager.username is required")
	}
	if c.Cluster == "" {
		return fmt.Errorf("cluster is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error (got %q)", c.Logging.Level)
	}
	if c.Services.Oozie == nil && c.Services.Yarn == nil {
		return fmt.Errorf("no services configured: define services.oozie and/or services.yarn")
	}
	if oozie := c.Services.Oozie; oozie != nil {
		if oozie.ServerHost == "" {
			return fmt.Errorf("services.oozie.server_host is required")
		}
		if err := oozie.Database.validate(); err != nil {
			return fmt.Errorf("services.oozie.database: %w", err)
		}
	}
	if yarn := c.Services.Yarn; yarn != nil {
		if yarn.ResourceManagerHost == "" {
			return fmt.Errorf("services.yarn.resourcemanager_host is required")
		}
		if yarn.JobHistoryHost == "" {
			return fmt.Errorf("services.yarn.jobhistory_host is required")
		}
		if len(yarn.NodeManagerHosts) == 0 {
			return fmt.Errorf("services.yarn.nodemanager_hosts must list at least one host")
		}
	}
	return nil
}

func (d DatabaseConfig) validate() error {
	switch d.Type {
	case "postgresql", "oracle", "mysql":
	default:
		return fmt.Errorf("type must be postgresql, oracle or mysql (got %q)", d.Type)
	}
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.User == "" {
		return fmt.Errorf("user is required")
	}
	return nil
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Manager.Password, err = ResolveValue(c.Manager.Password)
	if err != nil {
		return fmt.Errorf("manager password: %w", err)
	}
	if oozie := c.Services.Oozie; oozie != nil {
		oozie.Database.Password, err = ResolveValue(oozie.Database.Password)
		if err != nil {
			return fmt.Errorf("oozie database password: %w", err)
		}
		if err := resolveMap(oozie.Config); err != nil {
			return fmt.Errorf("oozie config: %w", err)
		}
		if err := resolveMap(oozie.RoleConfig); err != nil {
			return fmt.Errorf("oozie role config: %w", err)
		}
	}
	if yarn := c.Services.Yarn; yarn != nil {
		if err := resolveMap(yarn.Config); err != nil {
			return fmt.Errorf("yarn config: %w", err)
		}
		for _, m := range []map[string]string{
			yarn.RoleConfig.ResourceManager,
			yarn.RoleConfig.JobHistory,
			yarn.RoleConfig.NodeManager,
			yarn.RoleConfig.Gateway,
		} {
			if err := resolveMap(m); err != nil {
				return fmt.Errorf("yarn role config: %w", err)
			}
		}
	}
	return nil
}

func resolveMap(m map[string]string) error {
	for k, v := range m {
		resolved, err := ResolveValue(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		m[k] = resolved
	}
	return nil
}

// ResolveValue resolves secret references in a string value.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
