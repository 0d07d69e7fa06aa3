package cm

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory test double for the Client interface. It keeps
// enough state for read-after-write flows (create then get, start then
// poll) and records every mutation so tests can assert on exactly what
// was sent to the manager.
type Fake struct {
	mu sync.Mutex

	clusters map[string]*Cluster
	hosts    []Host
	services map[string]*Service
	roles    map[string][]Role
	groups   map[string][]RoleConfigGroup
	commands map[int64]*fakeCommand
	nextID   int64

	// Errs scripts a failure per method name ("CreateService",
	// "StartService", ...). The method returns the error without
	// touching state.
	Errs map[string]error

	// CommandPolls keeps a command active for n GetCommand calls before
	// it completes. Unlisted commands complete at issue time.
	CommandPolls map[string]int

	// FailCommands makes a command finish unsuccessfully with the given
	// result message.
	FailCommands map[string]string

	// HangCommands keeps a command active forever.
	HangCommands map[string]bool

	// Track calls
	Calls           []string
	CreatedServices []Service
	DeletedServices []string
	StartedServices []string
	StoppedServices []string
	IssuedCommands  []string
	ServiceConfigs  map[string]map[string]string // service → last config sent
	GroupConfigs    map[string]map[string]string // group → last config sent
	CreatedRoles    map[string][]RoleSpec        // service → specs sent
}

type fakeCommand struct {
	cmd     Command
	polls   int
	hang    bool
	failMsg string
	applied bool
	apply   func()
}

// NewFake builds a Fake with one cluster and the given hosts. Host IDs
// are derived from the hostname so tests can predict them.
func NewFake(cluster string, hostnames ...string) *Fake {
	f := &Fake{
		clusters:     map[string]*Cluster{},
		services:     map[string]*Service{},
		roles:        map[string][]Role{},
		groups:       map[string][]RoleConfigGroup{},
		commands:     map[int64]*fakeCommand{},
		Errs:         map[string]error{},
		CommandPolls: map[string]int{},
		FailCommands: map[string]string{},
		HangCommands: map[string]bool{},

		ServiceConfigs: map[string]map[string]string{},
		GroupConfigs:   map[string]map[string]string{},
		CreatedRoles:   map[string][]RoleSpec{},
	}
	f.clusters[cluster] = &Cluster{Name: cluster, DisplayName: cluster}
	for _, h := range hostnames {
		f.hosts = append(f.hosts, Host{HostID: FakeHostID(h), Hostname: h})
	}
	return f
}

// FakeHostID returns the host ID NewFake assigns to a hostname.
func FakeHostID(hostname string) string { return "id-" + hostname }

// AddService seeds a service without recording a mutation.
func (f *Fake) AddService(svc Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := svc
	f.services[svc.Name] = &s
	if _, ok := f.groups[svc.Name]; !ok {
		f.groups[svc.Name] = baseGroupsFor(svc.Name, svc.Type)
	}
}

// baseGroupsFor models CM creating base role config groups together with
// the service itself, before any role exists.
func baseGroupsFor(service, serviceType string) []RoleConfigGroup {
	var roleTypes []string
	switch serviceType {
	case "OOZIE":
		roleTypes = []string{"OOZIE_SERVER"}
	case "YARN":
		roleTypes = []string{"RESOURCEMANAGER", "JOBHISTORY", "NODEMANAGER", "GATEWAY"}
	}
	var groups []RoleConfigGroup
	for _, rt := range roleTypes {
		groups = append(groups, RoleConfigGroup{
			Name:     service + "-" + rt + "-BASE",
			RoleType: rt,
			Base:     true,
		})
	}
	return groups
}

// AddRoles seeds roles for a service without recording a mutation.
func (f *Fake) AddRoles(service string, roles ...Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[service] = append(f.roles[service], roles...)
}

// SetGroups seeds the role config groups reported for a service.
func (f *Fake) SetGroups(service string, groups ...RoleConfigGroup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[service] = groups
}

// ServiceState reports the current state of a seeded or created service.
func (f *Fake) ServiceState(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if svc, ok := f.services[name]; ok {
		return svc.ServiceState
	}
	return ServiceNotFound
}

func (f *Fake) record(call string) { f.Calls = append(f.Calls, call) }

func (f *Fake) fail(method string) error {
	if err, ok := f.Errs[method]; ok {
		return err
	}
	return nil
}

func notFoundErr(path string) error {
	return &APIError{StatusCode: 404, Method: "GET", Path: path, Message: "not found"}
}

func (f *Fake) GetCluster(_ context.Context, name string) (*Cluster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetCluster"); err != nil {
		return nil, err
	}
	c, ok := f.clusters[name]
	if !ok {
		return nil, notFoundErr("/clusters/" + name)
	}
	out := *c
	return &out, nil
}

func (f *Fake) ListHosts(_ context.Context) ([]Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListHosts"); err != nil {
		return nil, err
	}
	out := make([]Host, len(f.hosts))
	copy(out, f.hosts)
	return out, nil
}

func (f *Fake) ListServices(_ context.Context, cluster string) ([]Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListServices"); err != nil {
		return nil, err
	}
	var out []Service
	for _, svc := range f.services {
		out = append(out, *svc)
	}
	return out, nil
}

func (f *Fake) GetService(_ context.Context, cluster, name string) (*Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetService"); err != nil {
		return nil, err
	}
	f.tickLocked()
	svc, ok := f.services[name]
	if !ok {
		return nil, notFoundErr("/clusters/" + cluster + "/services/" + name)
	}
	out := *svc
	return &out, nil
}

func (f *Fake) CreateService(_ context.Context, cluster, name, serviceType string) (*Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateService " + name)
	if err := f.fail("CreateService"); err != nil {
		return nil, err
	}
	if _, ok := f.services[name]; ok {
		return nil, &APIError{StatusCode: 400, Method: "POST", Path: "/clusters/" + cluster + "/services", Message: "service " + name + " already exists"}
	}
	created := Service{
		Name:         name,
		Type:         serviceType,
		ServiceState: ServiceStopped,
		ClusterRef:   &ClusterRef{ClusterName: cluster},
	}
	f.services[name] = &created
	f.groups[name] = baseGroupsFor(name, serviceType)
	f.CreatedServices = append(f.CreatedServices, created)
	out := created
	return &out, nil
}

func (f *Fake) DeleteService(_ context.Context, cluster, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteService " + name)
	if err := f.fail("DeleteService"); err != nil {
		return err
	}
	if _, ok := f.services[name]; !ok {
		return notFoundErr("/clusters/" + cluster + "/services/" + name)
	}
	delete(f.services, name)
	delete(f.roles, name)
	delete(f.groups, name)
	f.DeletedServices = append(f.DeletedServices, name)
	return nil
}

func (f *Fake) UpdateServiceConfig(_ context.Context, cluster, service string, config map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateServiceConfig " + service)
	if err := f.fail("UpdateServiceConfig"); err != nil {
		return err
	}
	if _, ok := f.services[service]; !ok {
		return notFoundErr("/clusters/" + cluster + "/services/" + service)
	}
	f.ServiceConfigs[service] = copyConfig(config)
	return nil
}

func (f *Fake) ListRoles(_ context.Context, cluster, service string) ([]Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListRoles"); err != nil {
		return nil, err
	}
	if _, ok := f.services[service]; !ok {
		return nil, notFoundErr("/clusters/" + cluster + "/services/" + service)
	}
	out := make([]Role, len(f.roles[service]))
	copy(out, f.roles[service])
	return out, nil
}

func (f *Fake) CreateRoles(_ context.Context, cluster, service string, specs []RoleSpec) ([]Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("CreateRoles %s n=%d", service, len(specs)))
	if err := f.fail("CreateRoles"); err != nil {
		return nil, err
	}
	if _, ok := f.services[service]; !ok {
		return nil, notFoundErr("/clusters/" + cluster + "/services/" + service)
	}
	f.CreatedRoles[service] = append(f.CreatedRoles[service], specs...)
	var created []Role
	for _, spec := range specs {
		role := Role{
			Name:    spec.Name,
			Type:    spec.Type,
			HostRef: HostRef{HostID: spec.HostID},
		}
		f.roles[service] = append(f.roles[service], role)
		created = append(created, role)
	}
	return created, nil
}

func (f *Fake) ListRoleConfigGroups(_ context.Context, cluster, service string) ([]RoleConfigGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListRoleConfigGroups"); err != nil {
		return nil, err
	}
	if _, ok := f.services[service]; !ok {
		return nil, notFoundErr("/clusters/" + cluster + "/services/" + service)
	}
	groups := f.groups[service]
	out := make([]RoleConfigGroup, len(groups))
	copy(out, groups)
	return out, nil
}

func (f *Fake) UpdateRoleConfigGroupConfig(_ context.Context, cluster, service, group string, config map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateRoleConfigGroupConfig " + group)
	if err := f.fail("UpdateRoleConfigGroupConfig"); err != nil {
		return err
	}
	if _, ok := f.services[service]; !ok {
		return notFoundErr("/clusters/" + cluster + "/services/" + service)
	}
	f.GroupConfigs[group] = copyConfig(config)
	return nil
}

func (f *Fake) StartService(_ context.Context, cluster, service string) (*Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartService " + service)
	if err := f.fail("StartService"); err != nil {
		return nil, err
	}
	svc, ok := f.services[service]
	if !ok {
		return nil, notFoundErr("/clusters/" + cluster + "/services/" + service)
	}
	f.StartedServices = append(f.StartedServices, service)
	return f.issueCommand("Start", func() { svc.ServiceState = ServiceStarted }, func() { svc.ServiceState = ServiceStarting }), nil
}

func (f *Fake) StopService(_ context.Context, cluster, service string) (*Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopService " + service)
	if err := f.fail("StopService"); err != nil {
		return nil, err
	}
	svc, ok := f.services[service]
	if !ok {
		return nil, notFoundErr("/clusters/" + cluster + "/services/" + service)
	}
	f.StoppedServices = append(f.StoppedServices, service)
	return f.issueCommand("Stop", func() { svc.ServiceState = ServiceStopped }, func() { svc.ServiceState = ServiceStopping }), nil
}

func (f *Fake) RestartService(_ context.Context, cluster, service string) (*Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RestartService " + service)
	if err := f.fail("RestartService"); err != nil {
		return nil, err
	}
	svc, ok := f.services[service]
	if !ok {
		return nil, notFoundErr("/clusters/" + cluster + "/services/" + service)
	}
	return f.issueCommand("Restart", func() { svc.ServiceState = ServiceStarted }, func() { svc.ServiceState = ServiceStarting }), nil
}

func (f *Fake) DeployClientConfig(_ context.Context, cluster, service string) (*Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeployClientConfig " + service)
	if err := f.fail("DeployClientConfig"); err != nil {
		return nil, err
	}
	if _, ok := f.services[service]; !ok {
		return nil, notFoundErr("/clusters/" + cluster + "/services/" + service)
	}
	return f.issueCommand("deployClientConfig", nil, nil), nil
}

func (f *Fake) ServiceCommand(_ context.Context, cluster, service, name string) (*Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ServiceCommand " + service + " " + name)
	if err := f.fail("ServiceCommand"); err != nil {
		return nil, err
	}
	if _, ok := f.services[service]; !ok {
		return nil, notFoundErr("/clusters/" + cluster + "/services/" + service)
	}
	return f.issueCommand(name, nil, nil), nil
}

func (f *Fake) GetCommand(_ context.Context, id int64) (*Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetCommand"); err != nil {
		return nil, err
	}
	f.tickLocked()
	fc, ok := f.commands[id]
	if !ok {
		return nil, notFoundErr(fmt.Sprintf("/commands/%d", id))
	}
	out := fc.cmd
	return &out, nil
}

// tickLocked advances every active scripted command by one poll. Both
// GetCommand and GetService tick, so state polls observe convergence the
// same way command polls do.
func (f *Fake) tickLocked() {
	for _, fc := range f.commands {
		if !fc.cmd.Active || fc.hang {
			continue
		}
		if fc.polls > 0 {
			fc.polls--
		}
		if fc.polls == 0 {
			f.finishCommand(fc)
		}
	}
}

// issueCommand registers a command and either completes it immediately or
// leaves it active per the CommandPolls/HangCommands scripts. onStart runs
// when the command stays active, modeling a transitional service state.
func (f *Fake) issueCommand(name string, onFinish, onStart func()) *Command {
	f.nextID++
	f.IssuedCommands = append(f.IssuedCommands, name)
	fc := &fakeCommand{
		cmd:   Command{ID: f.nextID, Name: name, Active: true},
		polls: f.CommandPolls[name],
		hang:  f.HangCommands[name],
		apply: onFinish,
	}
	if msg, ok := f.FailCommands[name]; ok {
		fc.failMsg = msg
	}
	f.commands[fc.cmd.ID] = fc
	if fc.polls == 0 && !fc.hang {
		f.finishCommand(fc)
	} else if onStart != nil {
		onStart()
	}
	out := fc.cmd
	return &out
}

func (f *Fake) finishCommand(fc *fakeCommand) {
	fc.cmd.Active = false
	if fc.failMsg != "" {
		fc.cmd.Success = false
		fc.cmd.ResultMessage = fc.failMsg
		return
	}
	fc.cmd.Success = true
	if fc.apply != nil && !fc.applied {
		fc.applied = true
		fc.apply()
	}
}

func copyConfig(config map[string]string) map[string]string {
	out := make(map[string]string, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}
