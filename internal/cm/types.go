package cm

import "sort"

// Wire types for the Cloudera Manager REST API. Field names follow CM's
// camelCase JSON exactly; lists arrive wrapped in an "items" envelope.

// Cluster describes a CM-managed cluster.
type Cluster struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	FullVersion string `json:"fullVersion,omitempty"`
	ClusterURL  string `json:"clusterUrl,omitempty"`
}

// Service lifecycle states as reported by CM.
const (
	ServiceStarted             = "STARTED"
	ServiceStopped             = "STOPPED"
	ServiceStarting            = "STARTING"
	ServiceStopping            = "STOPPING"
	ServiceUnknown             = "UNKNOWN"
	ServiceNA                  = "NA"
	ServiceHistoryNotAvailable = "HISTORY_NOT_AVAILABLE"

	// ServiceNotFound is a local sentinel for "no such service"; CM never
	// reports it on the wire.
	ServiceNotFound = "NOT_FOUND"
)

// IsTransitionalState reports whether a service state is still settling
// towards STARTED or STOPPED.
func IsTransitionalState(state string) bool {
	return state == ServiceStarting || state == ServiceStopping
}

// ClusterRef points a service back at its cluster.
type ClusterRef struct {
	ClusterName string `json:"clusterName"`
}

// Service describes a CM-managed service (e.g. one OOZIE or YARN instance).
type Service struct {
	Name                        string      `json:"name"`
	Type                        string      `json:"type"`
	ClusterRef                  *ClusterRef `json:"clusterRef,omitempty"`
	ServiceState                string      `json:"serviceState,omitempty"`
	HealthSummary               string      `json:"healthSummary,omitempty"`
	ConfigStalenessStatus       string      `json:"configStalenessStatus,omitempty"`
	ClientConfigStalenessStatus string      `json:"clientConfigStalenessStatus,omitempty"`
	ServiceURL                  string      `json:"serviceUrl,omitempty"`
}

// HostRef points a role at the host it runs on. CM identifies hosts by
// hostId, not hostname.
type HostRef struct {
	HostID string `json:"hostId"`
}

// Host describes a host known to CM.
type Host struct {
	HostID    string `json:"hostId"`
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ipAddress,omitempty"`
	RackID    string `json:"rackId,omitempty"`
}

// RoleConfigGroupRef points a role at its config group.
type RoleConfigGroupRef struct {
	RoleConfigGroupName string `json:"roleConfigGroupName"`
}

// Role is a single host-bound instance of a service component.
type Role struct {
	Name               string              `json:"name"`
	Type               string              `json:"type"`
	HostRef            HostRef             `json:"hostRef"`
	RoleState          string              `json:"roleState,omitempty"`
	RoleConfigGroupRef *RoleConfigGroupRef `json:"roleConfigGroupRef,omitempty"`
}

// RoleSpec describes a role to create.
type RoleSpec struct {
	Name   string
	Type   string
	HostID string
}

// RoleConfigGroup is the shared configuration template for all roles of a
// type within a service.
type RoleConfigGroup struct {
	Name        string `json:"name"`
	RoleType    string `json:"roleType"`
	Base        bool   `json:"base"`
	DisplayName string `json:"displayName,omitempty"`
}

// ServiceRef identifies the service a command ran against.
type ServiceRef struct {
	ClusterName string `json:"clusterName,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
}

// Command is an asynchronous remote operation handle. Active is true while
// the command is still running; Success is only meaningful once Active is
// false.
type Command struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	StartTime     string      `json:"startTime,omitempty"`
	EndTime       string      `json:"endTime,omitempty"`
	Active        bool        `json:"active"`
	Success       bool        `json:"success"`
	ResultMessage string      `json:"resultMessage,omitempty"`
	ServiceRef    *ServiceRef `json:"serviceRef,omitempty"`
}

// ConfigEntry is one key/value pair in a CM config list.
type ConfigEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ConfigList is CM's wire form for configuration updates.
type ConfigList struct {
	Items []ConfigEntry `json:"items"`
}

// NewConfigList converts a map into CM's config list form with entries
// sorted by name for stable request bodies.
func NewConfigList(cfg map[string]string) ConfigList {
	list := ConfigList{Items: make([]ConfigEntry, 0, len(cfg))}
	for _, k := range sortedKeys(cfg) {
		list.Items = append(list.Items, ConfigEntry{Name: k, Value: cfg[k]})
	}
	return list
}

// itemList is the generic "items" envelope CM wraps every collection in.
type itemList[T any] struct {
	Items []T `json:"items"`
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
