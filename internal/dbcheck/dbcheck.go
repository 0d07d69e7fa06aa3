// Package dbcheck verifies that an external metastore database is
// reachable before a service create is attempted. Creating a service
// whose bootstrap then fails against an unreachable database leaves a
// half-built service behind; checking up front keeps that failure cheap.
package dbcheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cmstate/cmstate/internal/config"
)

// DefaultTimeout bounds a connectivity check when the caller's context
// carries no deadline.
const DefaultTimeout = 10 * time.Second

// Result reports one connectivity check.
type Result struct {
	Type    string `json:"type"`
	Target  string `json:"target"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Message string `json:"message"`
}

// Check runs a trivial query against the configured database. Types
// without a bundled driver are skipped, not failed: the manager node may
// still reach a database this tool cannot.
func Check(ctx context.Context, cfg config.DatabaseConfig) Result {
	res := Result{
		Type:   cfg.Type,
		Target: fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Name),
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	var version string
	var err error
	switch strings.ToLower(cfg.Type) {
	case "postgresql", "postgres":
		version, err = checkPostgres(ctx, cfg)
	case "oracle":
		version, err = checkOracle(ctx, cfg)
	default:
		res.Skipped = true
		res.Message = fmt.Sprintf("no connectivity check for database type %q", cfg.Type)
		return res
	}

	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.OK = true
	res.Message = version
	return res
}
