package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cmstate/cmstate/internal/config"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "~/.cmstate/state.yaml"

// historyLimit caps the run log kept on disk.
const historyLimit = 50

// Run records the outcome of one reconciliation run.
type Run struct {
	ID        string    `yaml:"id,omitempty" json:"id,omitempty"`
	Kind      string    `yaml:"kind" json:"kind"`
	Cluster   string    `yaml:"cluster" json:"cluster"`
	Service   string    `yaml:"service" json:"service"`
	Desired   string    `yaml:"desired" json:"desired"`
	State     string    `yaml:"state" json:"state"`
	Changed   bool      `yaml:"changed" json:"changed"`
	DryRun    bool      `yaml:"dry_run,omitempty" json:"dry_run,omitempty"`
	Actions   []string  `yaml:"actions,omitempty" json:"actions,omitempty"`
	Error     string    `yaml:"error,omitempty" json:"error,omitempty"`
	StartedAt time.Time `yaml:"started_at" json:"started_at"`
	Duration  string    `yaml:"duration,omitempty" json:"duration,omitempty"`
}

// State holds the most recent reconciliation outcome per service kind
// plus a bounded run history, newest first.
type State struct {
	LastUpdated time.Time      `yaml:"last_updated" json:"last_updated"`
	Last        map[string]Run `yaml:"last,omitempty" json:"last,omitempty"`
	History     []Run          `yaml:"history,omitempty" json:"history,omitempty"`
}

// New creates an empty state.
func New() *State {
	return &State{
		LastUpdated: time.Now(),
		Last:        make(map[string]Run),
	}
}

// Load reads the state file. A missing file is a fresh state, not an
// error.
func Load(path string) (*State, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	s := &State{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if s.Last == nil {
		s.Last = make(map[string]Run)
	}

	return s, nil
}

// Save writes the state to disk.
func (s *State) Save(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	s.LastUpdated = time.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Record stores a finished run as the latest for its kind and prepends
// it to the history. Dry runs are recorded in the history only, so the
// per-kind entry always reflects what was actually done.
func (s *State) Record(run Run) {
	if !run.DryRun {
		s.Last[run.Kind] = run
	}
	s.History = append([]Run{run}, s.History...)
	if len(s.History) > historyLimit {
		s.History = s.History[:historyLimit]
	}
}

// LastRun returns the most recent non-dry run for a kind.
func (s *State) LastRun(kind string) (Run, bool) {
	run, ok := s.Last[kind]
	return run, ok
}
