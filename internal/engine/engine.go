package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cmstate/cmstate/internal/cm"
	"github.com/cmstate/cmstate/internal/config"
	"github.com/cmstate/cmstate/internal/hadoop"
	"github.com/cmstate/cmstate/internal/lock"
	"github.com/cmstate/cmstate/internal/reconcile"
	"github.com/cmstate/cmstate/internal/report"
	"github.com/cmstate/cmstate/internal/state"
)

// ErrBusy is returned when a reconciliation is already in flight. Runs
// are strictly serialized: two concurrent ensures against the same
// manager could interleave mutations.
var ErrBusy = errors.New("another reconciliation is already running")

// Engine ties configuration, the manager client and the reconciler
// together. Every interface (CLI, HTTP API, TUI) goes through it.
type Engine struct {
	Config *config.Config
	Logger *slog.Logger
	Client cm.Client

	statePath string
	lockPath  string

	mu      sync.Mutex
	running string // kind of the in-flight run, "" when idle
}

// New builds an Engine with an HTTP client from the manager config.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	client, err := cm.NewHTTPClient(clientOptions(cfg.Manager))
	if err != nil {
		return nil, fmt.Errorf("building manager client: %w", err)
	}
	return NewWithClient(cfg, logger, client), nil
}

// NewWithClient builds an Engine around an existing client. Tests
// substitute the manager through it.
func NewWithClient(cfg *config.Config, logger *slog.Logger, client cm.Client) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Config:    cfg,
		Logger:    logger,
		Client:    client,
		statePath: config.ExpandHome(state.DefaultPath),
		lockPath:  config.ExpandHome(lock.DefaultPath),
	}
}

func clientOptions(m config.ManagerConfig) cm.Options {
	return cm.Options{
		Host:          m.Host,
		Port:          m.Port,
		APIVersion:    m.APIVersion,
		Username:      m.Username,
		Password:      m.Password,
		TLS:           m.TLS,
		TLSSkipVerify: m.TLSSkipVerify,
		Timeout:       time.Duration(m.TimeoutSeconds) * time.Second,
	}
}

// EnsureOptions adjusts a single reconciliation run.
type EnsureOptions struct {
	// DryRun reports the planned actions without mutating the cluster.
	DryRun bool
	// RunID identifies the run in records and progress streams. Empty
	// means a fresh ID is generated.
	RunID string
	// Notifier receives step-by-step progress events.
	Notifier reconcile.Notifier
}

// Ensure converges one configured service kind to the desired state.
// Only one run may be in flight per process, and a pidfile serializes
// mutating runs across processes.
func (e *Engine) Ensure(ctx context.Context, kindName string, desired reconcile.DesiredState, opts EnsureOptions) (*reconcile.Result, error) {
	kind, err := hadoop.ForConfig(kindName, e.Config)
	if err != nil {
		return nil, err
	}

	if err := e.begin(kind.Name()); err != nil {
		return nil, err
	}
	defer e.end()

	if !opts.DryRun {
		runLock, err := lock.Acquire(e.lockPath)
		if err != nil {
			return nil, err
		}
		defer runLock.Release()
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	rec := reconcile.New(e.Client, kind, reconcile.Options{
		Cluster:  e.Config.Cluster,
		Timeouts: e.timeouts(),
		DryRun:   opts.DryRun,
		Notifier: opts.Notifier,
		Logger:   e.Logger.With("kind", kind.Name(), "run", runID),
	})

	start := time.Now()
	res, err := rec.Reconcile(ctx, desired)
	e.record(runID, kind.Name(), string(desired), res, err, start)
	return res, err
}

// EnsureAll reconciles every configured kind and aggregates the
// outcomes. Kinds are ordered dependencies-first; removal runs in
// reverse so dependents go before the services they reference.
func (e *Engine) EnsureAll(ctx context.Context, desired reconcile.DesiredState, opts EnsureOptions) *report.Report {
	rep := report.New(e.Config.Manager.Host, e.Config.Cluster)

	kinds := hadoop.Configured(e.Config)
	if desired == reconcile.StateAbsent {
		for i, j := 0, len(kinds)-1; i < j; i, j = i+1, j-1 {
			kinds[i], kinds[j] = kinds[j], kinds[i]
		}
	}

	for _, k := range kinds {
		res, err := e.Ensure(ctx, k.Name(), desired, opts)
		if err != nil {
			e.Logger.Error("reconciliation failed", "kind", k.Name(), "error", err)
		}
		rep.Add(k.Name(), res, err)
	}
	return rep
}

// Restart issues a restart command for a kind's service and waits for
// it to come back to STARTED. The service must exist.
func (e *Engine) Restart(ctx context.Context, kindName string) (*reconcile.Result, error) {
	kind, err := hadoop.ForConfig(kindName, e.Config)
	if err != nil {
		return nil, err
	}

	if err := e.begin(kind.Name()); err != nil {
		return nil, err
	}
	defer e.end()

	runLock, err := lock.Acquire(e.lockPath)
	if err != nil {
		return nil, err
	}
	defer runLock.Release()

	runID := uuid.NewString()
	start := time.Now()
	res := &reconcile.Result{
		Cluster: e.Config.Cluster,
		Service: kind.ServiceName(),
		Desired: reconcile.StateStarted,
		State:   cm.ServiceNotFound,
	}
	err = e.restart(ctx, kind, res)
	e.record(runID, kind.Name(), "restart", res, err, start)
	return res, err
}

func (e *Engine) restart(ctx context.Context, kind hadoop.Kind, res *reconcile.Result) error {
	cluster := e.Config.Cluster
	matches, err := cm.FindServicesByType(ctx, e.Client, cluster, kind.Type())
	if err != nil {
		return fmt.Errorf("listing %s services: %w", kind.Type(), err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no %s service on cluster %s", kind.Type(), cluster)
	}
	svc := matches[0]
	res.Service = svc.Name
	res.State = svc.ServiceState

	e.Logger.Info("restarting service", "service", svc.Name)
	cmd, err := e.Client.RestartService(ctx, cluster, svc.Name)
	if err != nil {
		return fmt.Errorf("restarting service %s: %w", svc.Name, err)
	}
	res.Changed = true
	res.Actions = append(res.Actions, fmt.Sprintf("restarted service %s", svc.Name))

	t := e.timeouts()
	if _, err := cm.WaitCommand(ctx, e.Client, cmd, t.Start); err != nil {
		return fmt.Errorf("restarting service %s: %w", svc.Name, err)
	}
	if err := cm.WaitServiceState(ctx, e.Client, cluster, svc.Name, cm.ServiceStarted, t.Settle); err != nil {
		return err
	}
	res.State = cm.ServiceStarted
	return nil
}

// Running reports the kind currently being reconciled, if any.
func (e *Engine) Running() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running, e.running != ""
}

// History returns the recorded runs.
func (e *Engine) History() (*state.State, error) {
	return state.Load(e.statePath)
}

func (e *Engine) begin(kind string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running != "" {
		return fmt.Errorf("%w (%s)", ErrBusy, e.running)
	}
	e.running = kind
	return nil
}

func (e *Engine) end() {
	e.mu.Lock()
	e.running = ""
	e.mu.Unlock()
}

func (e *Engine) timeouts() reconcile.Timeouts {
	t := e.Config.Timeouts
	return reconcile.Timeouts{
		Start:     t.Start(),
		Stop:      t.Stop(),
		Deploy:    t.Deploy(),
		Bootstrap: t.Bootstrap(),
		Settle:    t.Settle(),
	}
}

// record appends the run to the on-disk history. Recording failures are
// logged, not returned: the reconciliation outcome matters more.
func (e *Engine) record(runID, kind, desired string, res *reconcile.Result, runErr error, start time.Time) {
	st, err := state.Load(e.statePath)
	if err != nil {
		e.Logger.Error("loading run history", "error", err)
		return
	}
	run := state.Run{
		ID:        runID,
		Kind:      kind,
		Cluster:   e.Config.Cluster,
		Desired:   desired,
		StartedAt: start,
		Duration:  time.Since(start).Round(time.Millisecond).String(),
	}
	if res != nil {
		run.Service = res.Service
		run.State = res.State
		run.Changed = res.Changed
		run.DryRun = res.DryRun
		run.Actions = res.Actions
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	st.Record(run)
	if err := st.Save(e.statePath); err != nil {
		e.Logger.Error("saving run history", "error", err)
	}
}
