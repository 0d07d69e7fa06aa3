package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cmstate/cmstate/internal/cm"
	"github.com/cmstate/cmstate/internal/config"
	"github.com/cmstate/cmstate/internal/engine"
	"github.com/cmstate/cmstate/internal/reconcile"
	"github.com/cmstate/cmstate/internal/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Version: 1,
		Manager: config.ManagerConfig{Host: "cm1.example.com", Username: "admin", Password: "admin"},
		Cluster: "prod",
		Services: config.ServicesConfig{
			Oozie: &config.OozieConfig{
				ServerHost: "edge1.example.com",
				Database:   config.DatabaseConfig{Type: "mysql", Host: "db1.example.com", Port: 3306, Name: "oozie", User: "oozie", Password: "pw"},
			},
		},
		Timeouts: config.TimeoutConfig{StartSeconds: 1, StopSeconds: 1, DeploySeconds: 1, BootstrapSeconds: 1, SettleSeconds: 1},
	}
}

func oozieFake() *cm.Fake {
	f := cm.NewFake("prod", "edge1.example.com")
	f.AddService(cm.Service{Name: "YARN-1", Type: "YARN", ServiceState: cm.ServiceStarted})
	return f
}

// testServer builds a Server whose engine records state under a temp
// home directory.
func testServer(t *testing.T, cfg *config.Config, f *cm.Fake, opts ...Option) (*Server, *engine.Engine) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	eng := engine.NewWithClient(cfg, discardLogger(), f)
	s := New(eng, discardLogger(), "127.0.0.1:0", opts...)
	return s, eng
}

// serveMux creates an http.ServeMux with the server's routes registered.
func serveMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := testServer(t, testConfig(), oozieFake())
	mux := serveMux(s)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := oozieFake()
	f.AddService(cm.Service{Name: "OOZIE-1", Type: "OOZIE", ServiceState: cm.ServiceStarted})
	s, _ := testServer(t, testConfig(), f)
	mux := serveMux(s)

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var statuses []engine.ServiceStatus
	if err := json.NewDecoder(w.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("statuses = %+v", statuses)
	}
	if statuses[0].Kind != "oozie" || statuses[0].Service != "OOZIE-1" || statuses[0].State != cm.ServiceStarted {
		t.Errorf("status = %+v", statuses[0])
	}
}

func TestServicesEndpoint(t *testing.T) {
	s, _ := testServer(t, testConfig(), oozieFake())
	mux := serveMux(s)

	req := httptest.NewRequest("GET", "/api/services", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var infos []ServiceInfo
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("services = %+v", infos)
	}
	info := infos[0]
	if info.Kind != "oozie" || info.Type != "OOZIE" || info.Service != "OOZIE-1" {
		t.Errorf("service = %+v", info)
	}
	if len(info.Placement) != 1 || info.Placement[0].RoleType != "OOZIE_SERVER" {
		t.Errorf("placement = %+v", info.Placement)
	}
}

func TestEnsureDryRun(t *testing.T) {
	f := oozieFake()
	s, _ := testServer(t, testConfig(), f)
	mux := serveMux(s)

	body, _ := json.Marshal(EnsureRequest{Service: "oozie", State: "started", DryRun: true})
	req := httptest.NewRequest("POST", "/api/ensure", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var res reconcile.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.DryRun || !res.Changed {
		t.Errorf("result = %+v", res)
	}
	for _, a := range res.Actions {
		if !strings.HasPrefix(a, "would ") {
			t.Errorf("dry-run action %q", a)
		}
	}
	if len(f.CreatedServices) != 0 {
		t.Errorf("dry run created services: %+v", f.CreatedServices)
	}
}

func TestEnsureInvalidState(t *testing.T) {
	s, _ := testServer(t, testConfig(), oozieFake())
	mux := serveMux(s)

	body, _ := json.Marshal(EnsureRequest{Service: "oozie", State: "paused"})
	req := httptest.NewRequest("POST", "/api/ensure", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestEnsureUnknownService(t *testing.T) {
	s, _ := testServer(t, testConfig(), oozieFake())
	mux := serveMux(s)

	body, _ := json.Marshal(EnsureRequest{Service: "hbase", State: "started"})
	req := httptest.NewRequest("POST", "/api/ensure", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestEnsureBadBody(t *testing.T) {
	s, _ := testServer(t, testConfig(), oozieFake())
	mux := serveMux(s)

	req := httptest.NewRequest("POST", "/api/ensure", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestEnsureRunsInBackground(t *testing.T) {
	f := oozieFake()
	s, eng := testServer(t, testConfig(), f)
	mux := serveMux(s)

	body, _ := json.Marshal(EnsureRequest{Service: "oozie", State: "started"})
	req := httptest.NewRequest("POST", "/api/ensure", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var acc RunAccepted
	if err := json.NewDecoder(w.Body).Decode(&acc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acc.Status != "accepted" || acc.RunID == "" {
		t.Fatalf("response = %+v", acc)
	}

	var run state.Run
	waitFor(t, "run to be recorded", func() bool {
		st, err := eng.History()
		if err != nil {
			return false
		}
		r, ok := st.LastRun("oozie")
		run = r
		return ok
	})
	if run.ID != acc.RunID {
		t.Errorf("recorded run ID = %q, want %q", run.ID, acc.RunID)
	}
	if !run.Changed || run.State != cm.ServiceStarted {
		t.Errorf("run = %+v", run)
	}
	if len(f.CreatedServices) != 1 {
		t.Errorf("CreatedServices = %+v", f.CreatedServices)
	}
}

func TestEnsureConflictWhileRunning(t *testing.T) {
	f := oozieFake()
	f.HangCommands["deployClientConfig"] = true
	s, eng := testServer(t, testConfig(), f)
	mux := serveMux(s)

	body, _ := json.Marshal(EnsureRequest{Service: "oozie", State: "started"})
	req := httptest.NewRequest("POST", "/api/ensure", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("first request status = %d", w.Code)
	}

	waitFor(t, "first run to start", func() bool {
		_, busy := eng.Running()
		return busy
	})

	body, _ = json.Marshal(EnsureRequest{Service: "oozie", State: "started"})
	req = httptest.NewRequest("POST", "/api/ensure", bytes.NewReader(body))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("second request status = %d, want %d", w.Code, http.StatusConflict)
	}

	// The hanging deploy command times out and releases the engine.
	waitFor(t, "first run to finish", func() bool {
		_, busy := eng.Running()
		return !busy
	})
}

func TestRestartEndpoint(t *testing.T) {
	f := oozieFake()
	f.AddService(cm.Service{Name: "OOZIE-1", Type: "OOZIE", ServiceState: cm.ServiceStarted})
	s, eng := testServer(t, testConfig(), f)
	mux := serveMux(s)

	body, _ := json.Marshal(RestartRequest{Service: "oozie"})
	req := httptest.NewRequest("POST", "/api/restart", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var run state.Run
	waitFor(t, "restart to be recorded", func() bool {
		st, err := eng.History()
		if err != nil {
			return false
		}
		r, ok := st.LastRun("oozie")
		run = r
		return ok
	})
	if run.Desired != "restart" || !run.Changed {
		t.Errorf("run = %+v", run)
	}
	if got := strings.Join(f.IssuedCommands, " "); got != "Restart" {
		t.Errorf("commands = %q, want Restart", got)
	}
}

func TestRestartUnknownService(t *testing.T) {
	s, _ := testServer(t, testConfig(), oozieFake())
	mux := serveMux(s)

	body, _ := json.Marshal(RestartRequest{Service: "hbase"})
	req := httptest.NewRequest("POST", "/api/restart", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPreflightEndpoint(t *testing.T) {
	s, _ := testServer(t, testConfig(), oozieFake())
	mux := serveMux(s)

	req := httptest.NewRequest("GET", "/api/preflight", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp PreflightResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.AllPassed {
		t.Errorf("checks = %+v", resp.Checks)
	}
	if len(resp.Checks) == 0 {
		t.Error("no checks returned")
	}
}

func TestStateEndpoint(t *testing.T) {
	s, eng := testServer(t, testConfig(), oozieFake())
	mux := serveMux(s)

	if _, err := eng.Ensure(context.Background(), "oozie", reconcile.StateStarted, engine.EnsureOptions{}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/state", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var st state.State
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	run, ok := st.Last["oozie"]
	if !ok {
		t.Fatalf("state = %+v, want a last run for oozie", st)
	}
	if run.State != cm.ServiceStarted {
		t.Errorf("run = %+v", run)
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		status     int
		wantLevel  string
		wantStatus string
	}{
		{"read", http.MethodGet, http.StatusOK, "level=DEBUG", "status=200"},
		{"mutation", http.MethodPost, http.StatusAccepted, "level=INFO", "status=202"},
		{"failed read", http.MethodGet, http.StatusBadGateway, "level=INFO", "status=502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			h := requestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, "/api/ensure", nil))

			out := buf.String()
			if !strings.Contains(out, tt.wantLevel) {
				t.Errorf("log = %q, want %s", out, tt.wantLevel)
			}
			if !strings.Contains(out, tt.wantStatus) {
				t.Errorf("log = %q, want %s", out, tt.wantStatus)
			}
		})
	}
}

func TestCORSHeaders(t *testing.T) {
	h := corsHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin header")
	}

	// OPTIONS is answered by the middleware itself.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/ensure", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("options status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
