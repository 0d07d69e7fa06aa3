package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/cmstate/cmstate/internal/cm"
	"github.com/cmstate/cmstate/internal/hadoop"
)

// ServiceStatus is the observed state of one configured kind.
type ServiceStatus struct {
	Kind    string       `json:"kind"`
	Type    string       `json:"type"`
	Service string       `json:"service,omitempty"`
	State   string       `json:"state"`
	Health  string       `json:"health,omitempty"`
	Roles   []RoleStatus `json:"roles,omitempty"`
}

// RoleStatus is one role instance of a managed service.
type RoleStatus struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	State string `json:"state,omitempty"`
	Host  string `json:"host,omitempty"`
}

// Status reports the observed state of every configured kind. It is
// read-only and safe to call while a reconciliation runs.
func (e *Engine) Status(ctx context.Context) ([]ServiceStatus, error) {
	hosts, err := e.Client.ListHosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}
	hostnames := make(map[string]string, len(hosts))
	for _, h := range hosts {
		hostnames[h.HostID] = h.Hostname
	}

	var out []ServiceStatus
	for _, kind := range hadoop.Configured(e.Config) {
		st := ServiceStatus{Kind: kind.Name(), Type: kind.Type(), State: cm.ServiceNotFound}

		matches, err := cm.FindServicesByType(ctx, e.Client, e.Config.Cluster, kind.Type())
		if err != nil {
			return nil, fmt.Errorf("listing %s services: %w", kind.Type(), err)
		}
		if len(matches) > 0 {
			svc := matches[0]
			st.Service = svc.Name
			st.State = svc.ServiceState
			st.Health = svc.HealthSummary

			roles, err := e.Client.ListRoles(ctx, e.Config.Cluster, svc.Name)
			if err != nil && !cm.IsNotFound(err) {
				return nil, fmt.Errorf("listing %s roles: %w", svc.Name, err)
			}
			sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
			for _, role := range roles {
				st.Roles = append(st.Roles, RoleStatus{
					Name:  role.Name,
					Type:  role.Type,
					State: role.RoleState,
					Host:  hostnames[role.HostRef.HostID],
				})
			}
		}
		out = append(out, st)
	}
	return out, nil
}
