package hadoop

import (
	"fmt"

	"github.com/cmstate/cmstate/internal/config"
)

// YARN role types.
const (
	RoleResourceManager = "RESOURCEMANAGER"
	RoleJobHistory      = "JOBHISTORY"
	RoleNodeManager     = "NODEMANAGER"
	RoleGateway         = "GATEWAY"
)

// Yarn manages a YARN (MR2) service: one ResourceManager, one JobHistory
// server, NodeManagers on the worker fleet, and optional Gateways on edge
// hosts. It depends on HDFS and optionally references ZooKeeper.
type Yarn struct {
	cfg *config.YarnConfig
}

func NewYarn(cfg *config.YarnConfig) *Yarn { return &Yarn{cfg: cfg} }

func (y *Yarn) Name() string { return "yarn" }
func (y *Yarn) Type() string { return "YARN" }

func (y *Yarn) ServiceName() string {
	if y.cfg.Name != "" {
		return y.cfg.Name
	}
	return "YARN-1"
}

func (y *Yarn) Dependencies() []Dependency {
	return []Dependency{
		{
			ConfigKey:    "hdfs_service",
			ServiceTypes: []string{"HDFS"},
			Required:     true,
			Pinned:       y.cfg.HDFSService,
		},
		{
			ConfigKey:    "zookeeper_service",
			ServiceTypes: []string{"ZOOKEEPER"},
			Pinned:       y.cfg.ZookeeperService,
		},
	}
}

func (y *Yarn) Placement() ([]RoleAssignment, error) {
	if y.cfg.ResourceManagerHost == "" {
		return nil, fmt.Errorf("yarn: resourcemanager_host is required")
	}
	if y.cfg.JobHistoryHost == "" {
		return nil, fmt.Errorf("yarn: jobhistory_host is required")
	}
	if len(y.cfg.NodeManagerHosts) == 0 {
		return nil, fmt.Errorf("yarn: nodemanager_hosts must list at least one host")
	}
	assignments := []RoleAssignment{
		{Type: RoleResourceManager, Hosts: []string{y.cfg.ResourceManagerHost}},
		{Type: RoleJobHistory, Hosts: []string{y.cfg.JobHistoryHost}},
		{Type: RoleNodeManager, Hosts: y.cfg.NodeManagerHosts},
	}
	if len(y.cfg.GatewayHosts) > 0 {
		assignments = append(assignments, RoleAssignment{Type: RoleGateway, Hosts: y.cfg.GatewayHosts})
	}
	return assignments, nil
}

func (y *Yarn) ServiceConfig() map[string]string {
	return mergeConfig(nil, y.cfg.Config)
}

func (y *Yarn) RoleGroupConfig() map[string]map[string]string {
	groups := map[string]map[string]string{}
	for roleType, overrides := range map[string]map[string]string{
		RoleResourceManager: y.cfg.RoleConfig.ResourceManager,
		RoleJobHistory:      y.cfg.RoleConfig.JobHistory,
		RoleNodeManager:     y.cfg.RoleConfig.NodeManager,
		RoleGateway:         y.cfg.RoleConfig.Gateway,
	} {
		if len(overrides) > 0 {
			groups[roleType] = mergeConfig(nil, overrides)
		}
	}
	return groups
}

// Bootstrap creates the job history directory, then the NodeManager
// remote application log directory, both in HDFS.
func (y *Yarn) Bootstrap() []BootstrapStep {
	return []BootstrapStep{
		{Command: "yarnCreateJobHistoryDirCommand", Description: "create job history directory"},
		{Command: "yarnNodeManagerRemoteAppLogDirCommand", Description: "create NodeManager remote app log directory"},
	}
}
