package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cmstate/cmstate/internal/reconcile"
)

// Entry is the outcome for one service kind within a run.
type Entry struct {
	Kind   string            `json:"kind" yaml:"kind"`
	Result *reconcile.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Error  string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report aggregates the results of one ensure invocation across service
// kinds.
type Report struct {
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	Manager     string    `json:"manager" yaml:"manager"`
	Cluster     string    `json:"cluster" yaml:"cluster"`
	Changed     bool      `json:"changed" yaml:"changed"`
	Entries     []Entry   `json:"entries" yaml:"entries"`
}

// New creates an empty report for a manager and cluster.
func New(manager, cluster string) *Report {
	return &Report{
		GeneratedAt: time.Now(),
		Manager:     manager,
		Cluster:     cluster,
	}
}

// Add appends one kind's outcome. A failed run may still carry a partial
// result listing the mutations issued before the abort.
func (r *Report) Add(kind string, res *reconcile.Result, err error) {
	e := Entry{Kind: kind, Result: res}
	if err != nil {
		e.Error = err.Error()
	}
	if res != nil && res.Changed {
		r.Changed = true
	}
	r.Entries = append(r.Entries, e)
}

// Failed reports whether any entry carries an error.
func (r *Report) Failed() bool {
	for _, e := range r.Entries {
		if e.Error != "" {
			return true
		}
	}
	return false
}

// Format renders the report as "text", "json" or "yaml".
func (r *Report) Format(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return FormatText(r), nil
	case "json":
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling report: %w", err)
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("marshaling report: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown report format %q (want text, json or yaml)", format)
	}
}

// Write renders the report to a file in the given format.
func Write(r *Report, path, format string) error {
	out, err := r.Format(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	return os.WriteFile(path, []byte(out), 0o644)
}

// FormatText renders the report as human-readable text.
func FormatText(r *Report) string {
	var b strings.Builder

	b.WriteString("=== Service State Report ===\n")
	b.WriteString(fmt.Sprintf("Generated: %s\n", r.GeneratedAt.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("Manager:   %s\n", r.Manager))
	b.WriteString(fmt.Sprintf("Cluster:   %s\n\n", r.Cluster))

	for _, e := range r.Entries {
		writeEntry(&b, e)
	}

	switch {
	case r.Failed():
		b.WriteString("Overall: failed\n")
	case r.Changed:
		b.WriteString("Overall: changed\n")
	default:
		b.WriteString("Overall: no changes\n")
	}

	return b.String()
}

func writeEntry(b *strings.Builder, e Entry) {
	title := e.Kind
	if e.Result != nil && e.Result.Service != "" {
		title = fmt.Sprintf("%s (%s)", e.Kind, e.Result.Service)
	}
	b.WriteString(title + ":\n")

	if e.Result != nil {
		res := e.Result
		b.WriteString(fmt.Sprintf("  Desired: %s\n", res.Desired))
		b.WriteString(fmt.Sprintf("  State:   %s\n", res.State))
		changed := "no"
		if res.Changed {
			changed = "yes"
		}
		if res.DryRun {
			changed += " (dry run)"
		}
		b.WriteString(fmt.Sprintf("  Changed: %s\n", changed))
		if len(res.Actions) > 0 {
			b.WriteString("  Actions:\n")
			for i, a := range res.Actions {
				b.WriteString(fmt.Sprintf("    %d. %s\n", i+1, a))
			}
		}
		if len(res.Roles) > 0 {
			b.WriteString("  Roles:\n")
			types := make([]string, 0, len(res.Roles))
			for t := range res.Roles {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				b.WriteString(fmt.Sprintf("    %s: %s\n", t, strings.Join(res.Roles[t], ", ")))
			}
		}
	}

	if e.Error != "" {
		b.WriteString(fmt.Sprintf("  Error:   %s\n", e.Error))
	}
	b.WriteString("\n")
}

// ReadJSON reads a report back from a JSON file.
func ReadJSON(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	r := &Report{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return r, nil
}
