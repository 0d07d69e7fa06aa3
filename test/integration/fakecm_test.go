//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/cmstate/cmstate/internal/cm"
)

// envelope is the "items" wrapper the manager API puts around every
// collection.
type envelope[T any] struct {
	Items []T `json:"items"`
}

// fakeManager is an in-memory Cloudera Manager REST server covering the
// API slice the reconciler drives: cluster and host lookups, the service
// lifecycle, roles, config groups and asynchronous commands. Commands
// complete at issue time unless scripted through pollCommands, which
// keeps a named command active for n status polls.
type fakeManager struct {
	t *testing.T

	mu       sync.Mutex
	cluster  string
	hosts    []cm.Host
	services map[string]*fakeService
	commands map[int64]*fakeCommand
	nextID   int64

	pollCommands map[string]int

	deleted []string
	issued  []string

	srv *httptest.Server
}

type fakeService struct {
	svc         cm.Service
	roles       []cm.Role
	groups      []cm.RoleConfigGroup
	config      map[string]string
	groupConfig map[string]map[string]string
}

type fakeCommand struct {
	cmd   cm.Command
	polls int
	apply func()
}

func newFakeManager(t *testing.T, cluster string, hostnames ...string) *fakeManager {
	f := &fakeManager{
		t:            t,
		cluster:      cluster,
		services:     map[string]*fakeService{},
		commands:     map[int64]*fakeCommand{},
		pollCommands: map[string]int{},
	}
	for _, h := range hostnames {
		f.hosts = append(f.hosts, cm.Host{HostID: "host-" + h, Hostname: h})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v19/clusters/{cluster}", f.getCluster)
	mux.HandleFunc("GET /api/v19/hosts", f.listHosts)
	mux.HandleFunc("GET /api/v19/clusters/{cluster}/services", f.listServices)
	mux.HandleFunc("POST /api/v19/clusters/{cluster}/services", f.createService)
	mux.HandleFunc("GET /api/v19/clusters/{cluster}/services/{service}", f.getService)
	mux.HandleFunc("DELETE /api/v19/clusters/{cluster}/services/{service}", f.deleteService)
	mux.HandleFunc("PUT /api/v19/clusters/{cluster}/services/{service}/config", f.putServiceConfig)
	mux.HandleFunc("GET /api/v19/clusters/{cluster}/services/{service}/roles", f.listRoles)
	mux.HandleFunc("POST /api/v19/clusters/{cluster}/services/{service}/roles", f.createRoles)
	mux.HandleFunc("GET /api/v19/clusters/{cluster}/services/{service}/roleConfigGroups", f.listGroups)
	mux.HandleFunc("PUT /api/v19/clusters/{cluster}/services/{service}/roleConfigGroups/{group}/config", f.putGroupConfig)
	mux.HandleFunc("POST /api/v19/clusters/{cluster}/services/{service}/commands/{command}", f.runCommand)
	mux.HandleFunc("GET /api/v19/commands/{id}", f.getCommand)

	f.srv = httptest.NewServer(f.requireAuth(mux))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeManager) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			writeError(w, http.StatusUnauthorized, "Unauthorized.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

// addService seeds a service, modeling one that already exists on the
// cluster before the tool runs.
func (f *fakeManager) addService(name, serviceType, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[name] = &fakeService{
		svc: cm.Service{
			Name:         name,
			Type:         serviceType,
			ServiceState: state,
			HealthSummary: func() string {
				if state == cm.ServiceStarted {
					return "GOOD"
				}
				return ""
			}(),
			ClusterRef: &cm.ClusterRef{ClusterName: f.cluster},
		},
		groups:      baseGroups(name, serviceType),
		config:      map[string]string{},
		groupConfig: map[string]map[string]string{},
	}
}

// baseGroups models the manager creating base role config groups along
// with the service itself.
func baseGroups(service, serviceType string) []cm.RoleConfigGroup {
	var roleTypes []string
	switch serviceType {
	case "OOZIE":
		roleTypes = []string{"OOZIE_SERVER"}
	case "YARN":
		roleTypes = []string{"RESOURCEMANAGER", "JOBHISTORY", "NODEMANAGER", "GATEWAY"}
	}
	var groups []cm.RoleConfigGroup
	for _, rt := range roleTypes {
		groups = append(groups, cm.RoleConfigGroup{
			Name:     service + "-" + rt + "-BASE",
			RoleType: rt,
			Base:     true,
		})
	}
	return groups
}

func (f *fakeManager) serviceState(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.services[name]; ok {
		return s.svc.ServiceState
	}
	return cm.ServiceNotFound
}

func (f *fakeManager) serviceConfig(name string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.services[name]; ok {
		out := map[string]string{}
		for k, v := range s.config {
			out[k] = v
		}
		return out
	}
	return nil
}

func (f *fakeManager) groupConfigFor(service, group string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.services[service]; ok {
		out := map[string]string{}
		for k, v := range s.groupConfig[group] {
			out[k] = v
		}
		return out
	}
	return nil
}

func (f *fakeManager) roleCount(service string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.services[service]; ok {
		return len(s.roles)
	}
	return 0
}

func (f *fakeManager) issuedCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.issued))
	copy(out, f.issued)
	return out
}

func (f *fakeManager) deletedServices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

func (f *fakeManager) setCommandPolls(command string, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCommands[command] = polls
}

func (f *fakeManager) getCluster(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := r.PathValue("cluster")
	if name != f.cluster {
		writeError(w, http.StatusNotFound, "Cluster '"+name+"' not found.")
		return
	}
	writeJSON(w, cm.Cluster{Name: f.cluster, DisplayName: f.cluster})
}

func (f *fakeManager) listHosts(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, envelope[cm.Host]{Items: f.hosts})
}

func (f *fakeManager) listServices(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := envelope[cm.Service]{}
	for _, s := range f.services {
		out.Items = append(out.Items, s.svc)
	}
	writeJSON(w, out)
}

func (f *fakeManager) lookup(w http.ResponseWriter, name string) (*fakeService, bool) {
	s, ok := f.services[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Service '"+name+"' not found.")
		return nil, false
	}
	return s, true
}

func (f *fakeManager) createService(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var req envelope[cm.Service]
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "Malformed service list.")
		return
	}
	spec := req.Items[0]
	if _, exists := f.services[spec.Name]; exists {
		writeError(w, http.StatusBadRequest, "Service '"+spec.Name+"' already exists.")
		return
	}
	created := &fakeService{
		svc: cm.Service{
			Name:         spec.Name,
			Type:         spec.Type,
			ServiceState: cm.ServiceStopped,
			ClusterRef:   &cm.ClusterRef{ClusterName: f.cluster},
		},
		groups:      baseGroups(spec.Name, spec.Type),
		config:      map[string]string{},
		groupConfig: map[string]map[string]string{},
	}
	f.services[spec.Name] = created
	writeJSON(w, envelope[cm.Service]{Items: []cm.Service{created.svc}})
}

func (f *fakeManager) getService(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.lookup(w, r.PathValue("service"))
	if !ok {
		return
	}
	writeJSON(w, s.svc)
}

func (f *fakeManager) deleteService(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := r.PathValue("service")
	if _, ok := f.lookup(w, name); !ok {
		return
	}
	delete(f.services, name)
	f.deleted = append(f.deleted, name)
	writeJSON(w, cm.Service{Name: name})
}

func (f *fakeManager) putServiceConfig(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.lookup(w, r.PathValue("service"))
	if !ok {
		return
	}
	var req cm.ConfigList
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed config list.")
		return
	}
	for _, item := range req.Items {
		s.config[item.Name] = item.Value
	}
	writeJSON(w, req)
}

func (f *fakeManager) listRoles(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.lookup(w, r.PathValue("service"))
	if !ok {
		return
	}
	writeJSON(w, envelope[cm.Role]{Items: s.roles})
}

func (f *fakeManager) createRoles(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.lookup(w, r.PathValue("service"))
	if !ok {
		return
	}
	var req envelope[cm.Role]
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed role list.")
		return
	}
	for i := range req.Items {
		req.Items[i].RoleState = cm.ServiceStopped
	}
	s.roles = append(s.roles, req.Items...)
	writeJSON(w, req)
}

func (f *fakeManager) listGroups(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.lookup(w, r.PathValue("service"))
	if !ok {
		return
	}
	writeJSON(w, envelope[cm.RoleConfigGroup]{Items: s.groups})
}

func (f *fakeManager) putGroupConfig(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.lookup(w, r.PathValue("service"))
	if !ok {
		return
	}
	group := r.PathValue("group")
	var req cm.ConfigList
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed config list.")
		return
	}
	if s.groupConfig[group] == nil {
		s.groupConfig[group] = map[string]string{}
	}
	for _, item := range req.Items {
		s.groupConfig[group][item.Name] = item.Value
	}
	writeJSON(w, req)
}

// runCommand issues a service command. Lifecycle commands flip the
// service state when they finish; scripted commands hold the service in
// a transitional state until enough polls arrive.
func (f *fakeManager) runCommand(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.lookup(w, r.PathValue("service"))
	if !ok {
		return
	}
	name := r.PathValue("command")
	f.issued = append(f.issued, name)

	var apply func()
	transitional := ""
	switch name {
	case "start", "restart":
		apply = func() { s.svc.ServiceState = cm.ServiceStarted }
		transitional = cm.ServiceStarting
	case "stop":
		apply = func() { s.svc.ServiceState = cm.ServiceStopped }
		transitional = cm.ServiceStopping
	}

	f.nextID++
	fc := &fakeCommand{
		cmd:   cm.Command{ID: f.nextID, Name: name, Active: true},
		polls: f.pollCommands[name],
		apply: apply,
	}
	f.commands[fc.cmd.ID] = fc
	if fc.polls == 0 {
		finishCommand(fc)
	} else if transitional != "" {
		s.svc.ServiceState = transitional
	}
	writeJSON(w, fc.cmd)
}

func (f *fakeManager) getCommand(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Malformed command id.")
		return
	}
	fc, ok := f.commands[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Command not found.")
		return
	}
	if fc.cmd.Active {
		fc.polls--
		if fc.polls <= 0 {
			finishCommand(fc)
		}
	}
	writeJSON(w, fc.cmd)
}

func finishCommand(fc *fakeCommand) {
	fc.cmd.Active = false
	fc.cmd.Success = true
	if fc.apply != nil {
		fc.apply()
	}
}
