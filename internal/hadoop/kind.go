package hadoop

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cmstate/cmstate/internal/config"
)

// Kind captures everything that varies between managed service types:
// dependencies, role placement, configuration, and the bootstrap command
// sequence. The reconciler is generic over this interface.
type Kind interface {
	// Name is the CLI token, e.g. "oozie".
	Name() string
	// Type is the CM service type, e.g. "OOZIE".
	Type() string
	// ServiceName is the name used when the service has to be created.
	ServiceName() string
	// Dependencies lists the peer services this kind references. A hard
	// dependency missing from the cluster aborts the create path before
	// any mutation.
	Dependencies() []Dependency
	// Placement declares which hosts run which role types.
	Placement() ([]RoleAssignment, error)
	// ServiceConfig is the service-level configuration, without the
	// dependency references (the reconciler merges those after
	// resolution).
	ServiceConfig() map[string]string
	// RoleGroupConfig maps role type to the config applied to that
	// type's base role config group.
	RoleGroupConfig() map[string]map[string]string
	// Bootstrap lists the service-specific setup commands run once after
	// creation, in order.
	Bootstrap() []BootstrapStep
}

// Dependency is a peer service reference wired into service config.
type Dependency struct {
	// ConfigKey is the service config entry receiving the peer's name,
	// e.g. "mapreduce_yarn_service".
	ConfigKey string
	// ServiceTypes are the CM types that satisfy the dependency, in
	// preference order.
	ServiceTypes []string
	// Required makes absence fatal; optional dependencies are skipped.
	Required bool
	// Pinned overrides discovery with an explicit service name.
	Pinned string
}

// RoleAssignment places one role type on a set of hosts.
type RoleAssignment struct {
	Type  string
	Hosts []string
}

// BootstrapStep is one post-create CM command. Timeout zero means the
// reconciler's default bootstrap budget.
type BootstrapStep struct {
	Command     string
	Description string
	Timeout     time.Duration
}

// ForConfig returns the configured kind for a CLI token.
func ForConfig(name string, cfg *config.Config) (Kind, error) {
	switch strings.ToLower(name) {
	case "oozie":
		if cfg.Services.Oozie == nil {
			return nil, fmt.Errorf("services.oozie is not configured")
		}
		return NewOozie(cfg.Services.Oozie), nil
	case "yarn":
		if cfg.Services.Yarn == nil {
			return nil, fmt.Errorf("services.yarn is not configured")
		}
		return NewYarn(cfg.Services.Yarn), nil
	default:
		return nil, fmt.Errorf("unknown service kind %q (known: oozie, yarn)", name)
	}
}

// Configured returns every kind the config defines, YARN before Oozie so
// an ensure-everything pass creates dependencies before dependents.
func Configured(cfg *config.Config) []Kind {
	var kinds []Kind
	if cfg.Services.Yarn != nil {
		kinds = append(kinds, NewYarn(cfg.Services.Yarn))
	}
	if cfg.Services.Oozie != nil {
		kinds = append(kinds, NewOozie(cfg.Services.Oozie))
	}
	return kinds
}

// KindNames lists the CLI tokens for the configured kinds.
func KindNames(cfg *config.Config) []string {
	var names []string
	for _, k := range Configured(cfg) {
		names = append(names, k.Name())
	}
	return names
}

// SortHosts orders hostnames case-insensitively, breaking ties
// case-sensitively, so role numbering is stable however the config lists
// the hosts.
func SortHosts(hosts []string) []string {
	out := make([]string, len(hosts))
	copy(out, hosts)
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i]), strings.ToLower(out[j])
		if li != lj {
			return li < lj
		}
		return out[i] < out[j]
	})
	return out
}

// RoleName builds the deterministic role name for the n-th (1-based)
// instance of a role type.
func RoleName(service, roleType string, n int) string {
	return fmt.Sprintf("%s-%s-%d", service, roleType, n)
}

// BaseGroupName is the name CM gives the base role config group for a
// role type.
func BaseGroupName(service, roleType string) string {
	return service + "-" + roleType + "-BASE"
}

func mergeConfig(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
