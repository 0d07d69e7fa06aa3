//go:build integration

package integration

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"testing"

	"github.com/cmstate/cmstate/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// splitServerURL breaks an httptest server URL into host and port for
// the manager config.
func splitServerURL(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parsing server url %q: %v", rawURL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing server port %q: %v", u.Port(), err)
	}
	return u.Hostname(), port
}

// testConfig builds a config for both managed kinds pointed at the fake
// manager. The metastore type has no bundled driver, so nothing dials a
// real database.
func testConfig(t *testing.T, f *fakeManager) *config.Config {
	t.Helper()
	host, port := splitServerURL(t, f.srv.URL)
	cfg := &config.Config{
		Version: 1,
		Manager: config.ManagerConfig{
			Host:           host,
			Port:           port,
			Username:       "admin",
			Password:       "secret",
			TimeoutSeconds: 5,
		},
		Cluster: f.cluster,
		Services: config.ServicesConfig{
			Oozie: &config.OozieConfig{
				ServerHost: "edge1.example.com",
				Database: config.DatabaseConfig{
					Type: "mysql",
					Host: "db1.example.com",
					Port: 3306,
					Name: "oozie",
					User: "oozie",
				},
			},
			Yarn: &config.YarnConfig{
				ResourceManagerHost: "rm1.example.com",
				JobHistoryHost:      "rm1.example.com",
				NodeManagerHosts:    []string{"nm1.example.com", "nm2.example.com"},
			},
		},
		Timeouts: config.TimeoutConfig{
			StartSeconds:     10,
			StopSeconds:      10,
			DeploySeconds:    10,
			BootstrapSeconds: 10,
			SettleSeconds:    10,
		},
	}
	cfg.Services.Oozie.Name = "OOZIE-1"
	cfg.Services.Yarn.Name = "YARN-1"
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func skipIfNoManager(t *testing.T) {
	t.Helper()
	if os.Getenv("CMSTATE_TEST_CM_HOST") == "" {
		t.Skip("skipping: CMSTATE_TEST_CM_HOST not set")
	}
}

func liveManagerConfig(t *testing.T) config.ManagerConfig {
	t.Helper()
	portStr := envOrDefault("CMSTATE_TEST_CM_PORT", "7180")
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return config.ManagerConfig{
		Host:     os.Getenv("CMSTATE_TEST_CM_HOST"),
		Port:     port,
		Username: envOrDefault("CMSTATE_TEST_CM_USER", "admin"),
		Password: envOrDefault("CMSTATE_TEST_CM_PASSWORD", "admin"),
		TLS:      os.Getenv("CMSTATE_TEST_CM_TLS") == "true",
	}
}

func liveManagerCluster(t *testing.T) string {
	t.Helper()
	return envOrDefault("CMSTATE_TEST_CM_CLUSTER", "cluster")
}
