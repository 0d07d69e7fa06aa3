package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cmstate/cmstate/internal/cm"
	"github.com/cmstate/cmstate/internal/config"
	"github.com/cmstate/cmstate/internal/dbcheck"
	"github.com/cmstate/cmstate/internal/hadoop"
	"github.com/cmstate/cmstate/internal/reconcile"
)

// Check is one preflight verification.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Skipped bool   `json:"skipped,omitempty"`
	Message string `json:"message"`
}

// AllPassed reports whether every check passed; skipped checks count as
// passed.
func AllPassed(checks []Check) bool {
	for _, c := range checks {
		if !c.Passed && !c.Skipped {
			return false
		}
	}
	return true
}

// Preflight verifies everything an ensure run needs before any mutation
// happens: cluster reachability, placement hosts, peer dependencies and
// the Oozie metastore database.
func (e *Engine) Preflight(ctx context.Context) []Check {
	var checks []Check
	cluster := e.Config.Cluster

	if _, err := e.Client.GetCluster(ctx, cluster); err != nil {
		msg := fmt.Sprintf("cluster %s: %v", cluster, err)
		if cm.IsNotFound(err) {
			msg = fmt.Sprintf("cluster %q not found on manager", cluster)
		}
		checks = append(checks, Check{Name: "cluster", Message: msg})
		// Nothing else is checkable without the manager.
		return checks
	}
	checks = append(checks, Check{Name: "cluster", Passed: true, Message: fmt.Sprintf("cluster %s found", cluster)})

	hostIDs, err := cm.HostIDMap(ctx, e.Client)
	if err != nil {
		checks = append(checks, Check{Name: "hosts", Message: err.Error()})
		hostIDs = nil
	}

	for _, kind := range hadoop.Configured(e.Config) {
		checks = append(checks, e.placementCheck(kind, hostIDs))
		checks = append(checks, e.dependencyCheck(ctx, kind))
	}

	if oozie := e.Config.Services.Oozie; oozie != nil {
		res := dbcheck.Check(ctx, oozie.Database)
		checks = append(checks, Check{
			Name:    "oozie database",
			Passed:  res.OK,
			Skipped: res.Skipped,
			Message: fmt.Sprintf("%s: %s", res.Target, res.Message),
		})
	}

	return checks
}

func (e *Engine) placementCheck(kind hadoop.Kind, hostIDs map[string]string) Check {
	name := kind.Name() + " placement"

	placement, err := kind.Placement()
	if err != nil {
		return Check{Name: name, Message: err.Error()}
	}
	if hostIDs == nil {
		return Check{Name: name, Skipped: true, Message: "host list unavailable"}
	}

	var missing []string
	for _, a := range placement {
		for _, h := range a.Hosts {
			if _, ok := hostIDs[strings.ToLower(h)]; !ok {
				missing = append(missing, h)
			}
		}
	}
	if len(missing) > 0 {
		return Check{Name: name, Message: "hosts not registered with the manager: " + strings.Join(missing, ", ")}
	}
	return Check{Name: name, Passed: true, Message: "all placement hosts registered"}
}

func (e *Engine) dependencyCheck(ctx context.Context, kind hadoop.Kind) Check {
	name := kind.Name() + " dependencies"

	_, err := reconcile.ResolveDependencies(ctx, e.Client, e.Config.Cluster, kind, e.Logger)
	if err == nil {
		return Check{Name: name, Passed: true, Message: "all required dependencies present"}
	}

	// A dependency satisfied by another configured kind is fine: an
	// ensure-everything pass creates it first.
	var depErr *reconcile.DependencyMissingError
	if errors.As(err, &depErr) && depErr.Pinned == "" && configuredProvides(e.Config, depErr.ServiceTypes) {
		return Check{
			Name:    name,
			Passed:  true,
			Message: fmt.Sprintf("%s will be satisfied by the configured %s service", depErr.ConfigKey, strings.ToLower(depErr.ServiceTypes[0])),
		}
	}
	return Check{Name: name, Message: err.Error()}
}

// configuredProvides reports whether any configured kind offers one of
// the wanted service types.
func configuredProvides(cfg *config.Config, types []string) bool {
	for _, k := range hadoop.Configured(cfg) {
		for _, t := range types {
			if k.Type() == t {
				return true
			}
		}
	}
	return false
}
