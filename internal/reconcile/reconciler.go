package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cmstate/cmstate/internal/cm"
	"github.com/cmstate/cmstate/internal/hadoop"
)

// Timeouts bounds every remote wait in a run. Zero fields take the
// defaults.
type Timeouts struct {
	Start     time.Duration // start command, default 300s
	Stop      time.Duration // stop command, default 300s
	Deploy    time.Duration // deployClientConfig, default 300s
	Bootstrap time.Duration // each bootstrap command, default 600s
	Settle    time.Duration // state/role/removal polls, default 60s
}

func (t *Timeouts) normalize() {
	if t.Start == 0 {
		t.Start = 300 * time.Second
	}
	if t.Stop == 0 {
		t.Stop = 300 * time.Second
	}
	if t.Deploy == 0 {
		t.Deploy = 300 * time.Second
	}
	if t.Bootstrap == 0 {
		t.Bootstrap = 600 * time.Second
	}
	if t.Settle == 0 {
		t.Settle = 60 * time.Second
	}
}

// Options configures a Reconciler.
type Options struct {
	Cluster  string
	Timeouts Timeouts
	// DryRun reports the planned actions without issuing any mutation.
	DryRun   bool
	Notifier Notifier
	Logger   *slog.Logger
}

// Reconciler converges one managed service kind to a desired state with
// the minimal set of remote mutations. It runs strictly sequentially:
// each step assumes the previous step's effects are visible remotely,
// confirmed by bounded polls rather than fixed sleeps.
type Reconciler struct {
	client cm.Client
	kind   hadoop.Kind
	opts   Options
	notify Notifier
	log    *slog.Logger
}

// New builds a Reconciler for one service kind.
func New(client cm.Client, kind hadoop.Kind, opts Options) *Reconciler {
	opts.Timeouts.normalize()
	notify := opts.Notifier
	if notify == nil {
		notify = nopNotifier{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{client: client, kind: kind, opts: opts, notify: notify, log: log}
}

func (r *Reconciler) step(step, service, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.log.Info(msg, "step", step, "service", service)
	r.notify.Notify(Progress{Step: step, Service: service, Message: msg})
}

// Reconcile converges the service to the desired state. On failure the
// returned Result still lists the mutations issued before the abort;
// there is no rollback, the caller re-invokes to retry.
func (r *Reconciler) Reconcile(ctx context.Context, desired DesiredState) (*Result, error) {
	if _, err := ParseState(string(desired)); err != nil {
		return nil, err
	}

	res := &Result{
		Cluster: r.opts.Cluster,
		Service: r.kind.ServiceName(),
		Desired: desired,
		DryRun:  r.opts.DryRun,
		State:   cm.ServiceNotFound,
	}

	r.step(StepLookup, res.Service, "looking up cluster %s", r.opts.Cluster)
	if _, err := r.client.GetCluster(ctx, r.opts.Cluster); err != nil {
		if cm.IsNotFound(err) {
			return res, &ClusterNotFoundError{Cluster: r.opts.Cluster}
		}
		return res, fmt.Errorf("looking up cluster %s: %w", r.opts.Cluster, err)
	}

	current, err := r.findCurrent(ctx)
	if err != nil {
		return res, err
	}
	if current != nil {
		res.Service = current.Name
		res.State = current.ServiceState
	}
	r.echoPlacement(res)

	// A service caught mid-transition settles before the transition
	// table applies, so start/stop decisions see a stable state.
	if current != nil && cm.IsTransitionalState(current.ServiceState) && !r.opts.DryRun {
		r.step(StepLookup, current.Name, "service is %s, waiting for it to settle", current.ServiceState)
		state, err := cm.WaitServiceSettled(ctx, r.client, r.opts.Cluster, current.Name, r.opts.Timeouts.Settle)
		if err != nil {
			return res, err
		}
		res.State = state
		if state == cm.ServiceNotFound {
			current = nil
			res.Service = r.kind.ServiceName()
		} else {
			current.ServiceState = state
		}
	}

	switch desired {
	case StatePresent:
		if current != nil {
			r.step(StepDone, res.Service, "service already present in state %s", res.State)
			return res, nil
		}
		return res, r.create(ctx, res, true)
	case StateStarted:
		if current == nil {
			return res, r.create(ctx, res, true)
		}
		return res, r.ensureStarted(ctx, current, res)
	case StateStopped:
		if current == nil {
			return res, r.create(ctx, res, false)
		}
		return res, r.ensureStopped(ctx, current, res)
	default: // StateAbsent
		if current == nil {
			r.step(StepDone, res.Service, "service already absent")
			return res, nil
		}
		return res, r.remove(ctx, current, res)
	}
}

// findCurrent resolves the managed service by type on the cluster.
// Absence is nil, not an error. With several services of the same type
// the lexicographically first name wins.
func (r *Reconciler) findCurrent(ctx context.Context) (*cm.Service, error) {
	matches, err := cm.FindServicesByType(ctx, r.client, r.opts.Cluster, r.kind.Type())
	if err != nil {
		return nil, fmt.Errorf("listing %s services: %w", r.kind.Type(), err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		r.log.Warn("multiple services of managed type, using first",
			"type", r.kind.Type(), "services", strings.Join(names, ", "))
	}
	svc := matches[0]
	return &svc, nil
}

// echoPlacement fills Result.Roles with the declared placement. Errors
// are ignored here: only the create path treats bad placement as fatal.
func (r *Reconciler) echoPlacement(res *Result) {
	placement, err := r.kind.Placement()
	if err != nil {
		return
	}
	res.Roles = map[string][]string{}
	for _, a := range placement {
		for i := range hadoop.SortHosts(a.Hosts) {
			res.Roles[a.Type] = append(res.Roles[a.Type], hadoop.RoleName(res.Service, a.Type, i+1))
		}
	}
}

type rolePlan struct {
	roleType string
	specs    []cm.RoleSpec
}

// create builds the service from scratch: dependencies, service object,
// configuration, roles, client config deployment, bootstrap commands,
// and (unless the desired state is stopped) the implicit start. Any
// command failure or timeout aborts the whole run.
func (r *Reconciler) create(ctx context.Context, res *Result, withStart bool) error {
	name := r.kind.ServiceName()

	r.step(StepDependencies, name, "resolving dependencies")
	deps, err := r.resolveDependencies(ctx)
	if err != nil {
		return err
	}

	placement, err := r.kind.Placement()
	if err != nil {
		return err
	}

	hostIDs, err := cm.HostIDMap(ctx, r.client)
	if err != nil {
		return fmt.Errorf("listing hosts: %w", err)
	}

	// The whole plan is validated before the first mutation: a missing
	// host or dependency must not leave a half-created service behind.
	res.Roles = map[string][]string{}
	var plans []rolePlan
	total := 0
	for _, a := range placement {
		specs := make([]cm.RoleSpec, 0, len(a.Hosts))
		for i, host := range hadoop.SortHosts(a.Hosts) {
			id, ok := hostIDs[strings.ToLower(host)]
			if !ok {
				return &HostNotFoundError{Host: host}
			}
			roleName := hadoop.RoleName(name, a.Type, i+1)
			specs = append(specs, cm.RoleSpec{Name: roleName, Type: a.Type, HostID: id})
			res.Roles[a.Type] = append(res.Roles[a.Type], roleName)
		}
		plans = append(plans, rolePlan{roleType: a.Type, specs: specs})
		total += len(specs)
	}

	serviceConfig := mergeMaps(r.kind.ServiceConfig(), deps)
	groupConfig := r.kind.RoleGroupConfig()

	if r.opts.DryRun {
		res.mutated("would create service %s (type %s)", name, r.kind.Type())
		if len(serviceConfig) > 0 {
			res.mutated("would apply %d service config entries", len(serviceConfig))
		}
		for _, roleType := range sortedTypes(groupConfig) {
			res.mutated("would configure role group %s", hadoop.BaseGroupName(name, roleType))
		}
		res.mutated("would create %d roles", total)
		res.mutated("would deploy client configuration")
		for _, step := range r.kind.Bootstrap() {
			res.mutated("would run %s", step.Command)
		}
		if withStart {
			res.mutated("would start service %s", name)
		}
		return nil
	}

	r.step(StepCreate, name, "creating service (type %s)", r.kind.Type())
	if _, err := r.client.CreateService(ctx, r.opts.Cluster, name, r.kind.Type()); err != nil {
		return fmt.Errorf("creating service %s: %w", name, err)
	}
	res.mutated("created service %s (type %s)", name, r.kind.Type())
	res.State = cm.ServiceStopped

	if len(serviceConfig) > 0 {
		r.step(StepConfig, name, "applying service configuration (%d entries)", len(serviceConfig))
		if err := r.client.UpdateServiceConfig(ctx, r.opts.Cluster, name, serviceConfig); err != nil {
			return fmt.Errorf("applying service config: %w", err)
		}
		res.mutated("applied %d service config entries", len(serviceConfig))
	}

	if len(groupConfig) > 0 {
		groups, err := r.baseGroups(ctx, name)
		if err != nil {
			return err
		}
		for _, roleType := range sortedTypes(groupConfig) {
			groupName, ok := groups[roleType]
			if !ok {
				groupName = hadoop.BaseGroupName(name, roleType)
			}
			r.step(StepConfig, name, "configuring role group %s", groupName)
			if err := r.client.UpdateRoleConfigGroupConfig(ctx, r.opts.Cluster, name, groupName, groupConfig[roleType]); err != nil {
				return fmt.Errorf("configuring role group %s: %w", groupName, err)
			}
			res.mutated("configured role group %s", groupName)
		}
	}

	r.step(StepRoles, name, "creating %d roles", total)
	for _, plan := range plans {
		if _, err := r.client.CreateRoles(ctx, r.opts.Cluster, name, plan.specs); err != nil {
			return fmt.Errorf("creating %s roles: %w", plan.roleType, err)
		}
		res.mutated("created %d %s roles", len(plan.specs), plan.roleType)
	}
	if err := cm.WaitRoleCount(ctx, r.client, r.opts.Cluster, name, total, r.opts.Timeouts.Settle); err != nil {
		return err
	}

	r.step(StepDeploy, name, "deploying client configuration")
	cmd, err := r.client.DeployClientConfig(ctx, r.opts.Cluster, name)
	if err != nil {
		return fmt.Errorf("deploying client config: %w", err)
	}
	res.mutated("deployed client configuration")
	if _, err := cm.WaitCommand(ctx, r.client, cmd, r.opts.Timeouts.Deploy); err != nil {
		return fmt.Errorf("deploying client config: %w", err)
	}

	for _, step := range r.kind.Bootstrap() {
		timeout := step.Timeout
		if timeout == 0 {
			timeout = r.opts.Timeouts.Bootstrap
		}
		r.step(StepBootstrap, name, "%s (%s)", step.Description, step.Command)
		cmd, err := r.client.ServiceCommand(ctx, r.opts.Cluster, name, step.Command)
		if err != nil {
			return fmt.Errorf("%s: %w", step.Description, err)
		}
		res.mutated("ran %s", step.Command)
		if _, err := cm.WaitCommand(ctx, r.client, cmd, timeout); err != nil {
			return fmt.Errorf("%s: %w", step.Description, err)
		}
	}

	if withStart {
		return r.start(ctx, name, res)
	}
	r.step(StepDone, name, "service created in state %s", res.State)
	return nil
}

func (r *Reconciler) resolveDependencies(ctx context.Context) (map[string]string, error) {
	return ResolveDependencies(ctx, r.client, r.opts.Cluster, r.kind, r.log)
}

// ResolveDependencies maps a kind's dependency config keys to peer
// service names on the cluster. Pinned names are verified to exist;
// unpinned dependencies are discovered by type, first name winning. A
// missing hard dependency is a DependencyMissingError; missing optional
// dependencies are skipped.
func ResolveDependencies(ctx context.Context, client cm.Client, cluster string, kind hadoop.Kind, log *slog.Logger) (map[string]string, error) {
	if log == nil {
		log = slog.Default()
	}
	resolved := map[string]string{}
	for _, dep := range kind.Dependencies() {
		if dep.Pinned != "" {
			if _, err := client.GetService(ctx, cluster, dep.Pinned); err != nil {
				if cm.IsNotFound(err) {
					if dep.Required {
						return nil, &DependencyMissingError{
							Kind:         kind.Name(),
							ConfigKey:    dep.ConfigKey,
							ServiceTypes: dep.ServiceTypes,
							Pinned:       dep.Pinned,
						}
					}
					log.Warn("pinned optional dependency not found, skipping",
						"dependency", dep.ConfigKey, "service", dep.Pinned)
					continue
				}
				return nil, fmt.Errorf("checking dependency %s: %w", dep.ConfigKey, err)
			}
			resolved[dep.ConfigKey] = dep.Pinned
			continue
		}

		matches, err := cm.FindServicesByType(ctx, client, cluster, dep.ServiceTypes...)
		if err != nil {
			return nil, fmt.Errorf("resolving dependency %s: %w", dep.ConfigKey, err)
		}
		if len(matches) == 0 {
			if dep.Required {
				return nil, &DependencyMissingError{
					Kind:         kind.Name(),
					ConfigKey:    dep.ConfigKey,
					ServiceTypes: dep.ServiceTypes,
				}
			}
			continue
		}
		resolved[dep.ConfigKey] = matches[0].Name
	}
	return resolved, nil
}

// baseGroups maps role type to the base config group CM created with the
// service.
func (r *Reconciler) baseGroups(ctx context.Context, service string) (map[string]string, error) {
	groups, err := r.client.ListRoleConfigGroups(ctx, r.opts.Cluster, service)
	if err != nil {
		return nil, fmt.Errorf("listing role config groups: %w", err)
	}
	out := map[string]string{}
	for _, g := range groups {
		if g.Base {
			out[g.RoleType] = g.Name
		}
	}
	return out, nil
}

func (r *Reconciler) ensureStarted(ctx context.Context, svc *cm.Service, res *Result) error {
	if svc.ServiceState == cm.ServiceStarted {
		r.step(StepDone, svc.Name, "service already started")
		return nil
	}
	if r.opts.DryRun {
		res.mutated("would start service %s", svc.Name)
		return nil
	}
	return r.start(ctx, svc.Name, res)
}

func (r *Reconciler) ensureStopped(ctx context.Context, svc *cm.Service, res *Result) error {
	if svc.ServiceState == cm.ServiceStopped {
		r.step(StepDone, svc.Name, "service already stopped")
		return nil
	}
	if r.opts.DryRun {
		res.mutated("would stop service %s", svc.Name)
		return nil
	}
	return r.stop(ctx, svc.Name, res)
}

// start issues the start command and confirms STARTED is observed. A
// service that has vanished settles as NOT_FOUND instead of failing.
func (r *Reconciler) start(ctx context.Context, name string, res *Result) error {
	r.step(StepStart, name, "starting service")
	cmd, err := r.client.StartService(ctx, r.opts.Cluster, name)
	if err != nil {
		if cm.IsNotFound(err) {
			res.State = cm.ServiceNotFound
			return nil
		}
		return fmt.Errorf("starting service %s: %w", name, err)
	}
	res.mutated("started service %s", name)
	if _, err := cm.WaitCommand(ctx, r.client, cmd, r.opts.Timeouts.Start); err != nil {
		return fmt.Errorf("starting service %s: %w", name, err)
	}
	if err := cm.WaitServiceState(ctx, r.client, r.opts.Cluster, name, cm.ServiceStarted, r.opts.Timeouts.Settle); err != nil {
		return err
	}
	res.State = cm.ServiceStarted
	r.step(StepDone, name, "service started")
	return nil
}

// stop mirrors start towards STOPPED.
func (r *Reconciler) stop(ctx context.Context, name string, res *Result) error {
	r.step(StepStop, name, "stopping service")
	cmd, err := r.client.StopService(ctx, r.opts.Cluster, name)
	if err != nil {
		if cm.IsNotFound(err) {
			res.State = cm.ServiceNotFound
			return nil
		}
		return fmt.Errorf("stopping service %s: %w", name, err)
	}
	res.mutated("stopped service %s", name)
	if _, err := cm.WaitCommand(ctx, r.client, cmd, r.opts.Timeouts.Stop); err != nil {
		return fmt.Errorf("stopping service %s: %w", name, err)
	}
	if err := cm.WaitServiceState(ctx, r.client, r.opts.Cluster, name, cm.ServiceStopped, r.opts.Timeouts.Settle); err != nil {
		return err
	}
	res.State = cm.ServiceStopped
	r.step(StepDone, name, "service stopped")
	return nil
}

// remove stops the service if needed, then deletes it and waits until
// the lookup confirms it is gone. Stop is a precondition of delete: a
// stop failure aborts without deleting.
func (r *Reconciler) remove(ctx context.Context, svc *cm.Service, res *Result) error {
	if r.opts.DryRun {
		if svc.ServiceState != cm.ServiceStopped {
			res.mutated("would stop service %s", svc.Name)
		}
		res.mutated("would delete service %s", svc.Name)
		return nil
	}

	if svc.ServiceState != cm.ServiceStopped {
		if err := r.stop(ctx, svc.Name, res); err != nil {
			return err
		}
		if res.State == cm.ServiceNotFound {
			r.step(StepDone, svc.Name, "service already absent")
			return nil
		}
	}

	r.step(StepDelete, svc.Name, "deleting service")
	if err := r.client.DeleteService(ctx, r.opts.Cluster, svc.Name); err != nil {
		if cm.IsNotFound(err) {
			res.State = cm.ServiceNotFound
			return nil
		}
		return fmt.Errorf("deleting service %s: %w", svc.Name, err)
	}
	res.mutated("deleted service %s", svc.Name)
	if err := cm.WaitServiceGone(ctx, r.client, r.opts.Cluster, svc.Name, r.opts.Timeouts.Settle); err != nil {
		return err
	}
	res.State = cm.ServiceNotFound
	r.step(StepDone, svc.Name, "service removed")
	return nil
}

func mergeMaps(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func sortedTypes(groups map[string]map[string]string) []string {
	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
