package api

import "github.com/cmstate/cmstate/internal/engine"

// EnsureRequest is the request body for POST /api/ensure.
type EnsureRequest struct {
	Service string `json:"service"`
	State   string `json:"state"`
	DryRun  bool   `json:"dry_run,omitempty"`
}

// RestartRequest is the request body for POST /api/restart.
type RestartRequest struct {
	Service string `json:"service"`
}

// RunAccepted is the response for runs started in the background.
// Progress for the run streams over the WebSocket hub.
type RunAccepted struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

// ServiceInfo describes one configured service kind.
type ServiceInfo struct {
	Kind      string          `json:"kind"`
	Type      string          `json:"type"`
	Service   string          `json:"service"`
	Placement []PlacementInfo `json:"placement,omitempty"`
}

// PlacementInfo is the configured host set for one role type.
type PlacementInfo struct {
	RoleType string   `json:"role_type"`
	Hosts    []string `json:"hosts"`
}

// PreflightResponse is the response for GET /api/preflight.
type PreflightResponse struct {
	AllPassed bool           `json:"all_passed"`
	Checks    []engine.Check `json:"checks"`
}
