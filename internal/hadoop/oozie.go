package hadoop

import (
	"fmt"

	"github.com/cmstate/cmstate/internal/config"
)

// RoleOozieServer is the single Oozie role type.
const RoleOozieServer = "OOZIE_SERVER"

// Oozie manages an Oozie service backed by an external metastore
// database. It depends on a YARN (or legacy MapReduce) service and
// optionally references ZooKeeper, Hive and Spark-on-YARN.
type Oozie struct {
	cfg *config.OozieConfig
}

func NewOozie(cfg *config.OozieConfig) *Oozie { return &Oozie{cfg: cfg} }

func (o *Oozie) Name() string { return "oozie" }
func (o *Oozie) Type() string { return "OOZIE" }

func (o *Oozie) ServiceName() string {
	if o.cfg.Name != "" {
		return o.cfg.Name
	}
	return "OOZIE-1"
}

func (o *Oozie) Dependencies() []Dependency {
	return []Dependency{
		{
			ConfigKey:    "mapreduce_yarn_service",
			ServiceTypes: []string{"YARN", "MAPREDUCE"},
			Required:     true,
			Pinned:       o.cfg.YarnService,
		},
		{
			ConfigKey:    "zookeeper_service",
			ServiceTypes: []string{"ZOOKEEPER"},
			Pinned:       o.cfg.ZookeeperService,
		},
		{
			ConfigKey:    "hive_service",
			ServiceTypes: []string{"HIVE"},
			Pinned:       o.cfg.HiveService,
		},
		{
			ConfigKey:    "spark_on_yarn_service",
			ServiceTypes: []string{"SPARK_ON_YARN"},
			Pinned:       o.cfg.SparkOnYarnService,
		},
	}
}

func (o *Oozie) Placement() ([]RoleAssignment, error) {
	if o.cfg.ServerHost == "" {
		return nil, fmt.Errorf("oozie: server_host is required")
	}
	return []RoleAssignment{
		{Type: RoleOozieServer, Hosts: []string{o.cfg.ServerHost}},
	}, nil
}

func (o *Oozie) ServiceConfig() map[string]string {
	return mergeConfig(nil, o.cfg.Config)
}

// RoleGroupConfig wires the external metastore into the OOZIE_SERVER base
// group. The database host entry carries host:port.
func (o *Oozie) RoleGroupConfig() map[string]map[string]string {
	db := o.cfg.Database
	host := db.Host
	if db.Port != 0 {
		host = fmt.Sprintf("%s:%d", db.Host, db.Port)
	}
	base := map[string]string{
		"oozie_database_type":     db.Type,
		"oozie_database_host":     host,
		"oozie_database_name":     db.Name,
		"oozie_database_user":     db.User,
		"oozie_database_password": db.Password,
	}
	return map[string]map[string]string{
		RoleOozieServer: mergeConfig(base, o.cfg.RoleConfig),
	}
}

// Bootstrap creates the Oozie database schema, then installs the shared
// library into HDFS. Both must succeed before the service can start.
func (o *Oozie) Bootstrap() []BootstrapStep {
	return []BootstrapStep{
		{Command: "createOozieDb", Description: "create Oozie database schema"},
		{Command: "installOozieShareLib", Description: "install Oozie shared library"},
	}
}
