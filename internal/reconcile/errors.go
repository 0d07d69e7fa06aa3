package reconcile

import (
	"fmt"
	"strings"
)

// ClusterNotFoundError aborts a reconciliation whose target cluster does
// not exist on the manager.
type ClusterNotFoundError struct {
	Cluster string
}

func (e *ClusterNotFoundError) Error() string {
	return fmt.Sprintf("cluster %q not found", e.Cluster)
}

// DependencyMissingError reports a hard peer-service dependency absent
// from the cluster. It is raised before any mutation.
type DependencyMissingError struct {
	Kind         string
	ConfigKey    string
	ServiceTypes []string
	Pinned       string
}

func (e *DependencyMissingError) Error() string {
	if e.Pinned != "" {
		return fmt.Sprintf("%s dependency %s: pinned service %q not found", e.Kind, e.ConfigKey, e.Pinned)
	}
	return fmt.Sprintf("%s dependency %s: no %s service on cluster", e.Kind, e.ConfigKey, strings.Join(e.ServiceTypes, "/"))
}

// HostNotFoundError reports a declared placement host unknown to the
// manager. It is raised before any mutation.
type HostNotFoundError struct {
	Host string
}

func (e *HostNotFoundError) Error() string {
	return fmt.Sprintf("host %q is not registered with the manager", e.Host)
}
