package cm

import (
	"context"
	"sort"
	"strings"
)

// FindServicesByType returns the cluster's services matching any of the
// given types, sorted by name. Absence is an empty slice, not an error.
// Earlier entries in types take precedence in the sort, so a caller that
// prefers YARN over MAPREDUCE lists YARN first and takes the head.
func FindServicesByType(ctx context.Context, client Client, cluster string, types ...string) ([]Service, error) {
	services, err := client.ListServices(ctx, cluster)
	if err != nil {
		return nil, err
	}

	rank := make(map[string]int, len(types))
	for i, t := range types {
		rank[t] = i
	}

	var matches []Service
	for _, svc := range services {
		if _, ok := rank[svc.Type]; ok {
			matches = append(matches, svc)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Type != matches[j].Type {
			return rank[matches[i].Type] < rank[matches[j].Type]
		}
		return matches[i].Name < matches[j].Name
	})
	return matches, nil
}

// HostIDMap resolves hostnames to CM host IDs. Keys are lowercased so
// lookups are case-insensitive, matching how CM reports inventory.
func HostIDMap(ctx context.Context, client Client) (map[string]string, error) {
	hosts, err := client.ListHosts(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(hosts))
	for _, h := range hosts {
		ids[strings.ToLower(h.Hostname)] = h.HostID
	}
	return ids, nil
}
