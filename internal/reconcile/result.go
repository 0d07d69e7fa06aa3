package reconcile

import "fmt"

// DesiredState is the requested end state of a service.
type DesiredState string

const (
	StatePresent DesiredState = "present"
	StateStarted DesiredState = "started"
	StateStopped DesiredState = "stopped"
	StateAbsent  DesiredState = "absent"
)

// ParseState validates a CLI/API state token.
func ParseState(s string) (DesiredState, error) {
	switch DesiredState(s) {
	case StatePresent, StateStarted, StateStopped, StateAbsent:
		return DesiredState(s), nil
	default:
		return "", fmt.Errorf("invalid state %q (want present, started, stopped or absent)", s)
	}
}

// Result reports one reconciliation run. Changed is true iff at least one
// remote mutation was issued; a fully converged run reports false.
type Result struct {
	Changed bool                `json:"changed" yaml:"changed"`
	DryRun  bool                `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Cluster string              `json:"cluster" yaml:"cluster"`
	Service string              `json:"service" yaml:"service"`
	Desired DesiredState        `json:"desired" yaml:"desired"`
	State   string              `json:"state" yaml:"state"`
	Actions []string            `json:"actions,omitempty" yaml:"actions,omitempty"`
	Roles   map[string][]string `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// mutated records a remote mutation. In dry-run mode the action is
// recorded as planned without flipping Changed semantics: a dry run that
// would mutate still reports Changed so callers can detect drift.
func (r *Result) mutated(format string, args ...any) {
	r.Changed = true
	r.Actions = append(r.Actions, fmt.Sprintf(format, args...))
}
