package state

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileIsFresh(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Last) != 0 || len(s.History) != 0 {
		t.Errorf("fresh state not empty: %+v", s)
	}
}

func TestRecordAndRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")

	s := New()
	s.Record(Run{
		Kind:      "oozie",
		Cluster:   "prod",
		Service:   "OOZIE-1",
		Desired:   "started",
		State:     "STARTED",
		Changed:   true,
		Actions:   []string{"created service OOZIE-1 (type OOZIE)"},
		StartedAt: time.Now(),
		Duration:  "42s",
	})
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	run, ok := loaded.LastRun("oozie")
	if !ok {
		t.Fatal("no last run for oozie")
	}
	if run.Service != "OOZIE-1" || run.State != "STARTED" || !run.Changed {
		t.Errorf("run = %+v", run)
	}
	if len(loaded.History) != 1 {
		t.Errorf("history length = %d, want 1", len(loaded.History))
	}
}

func TestRecordKeepsNewestPerKind(t *testing.T) {
	s := New()
	s.Record(Run{Kind: "yarn", State: "STOPPED"})
	s.Record(Run{Kind: "yarn", State: "STARTED"})

	run, ok := s.LastRun("yarn")
	if !ok || run.State != "STARTED" {
		t.Errorf("LastRun = (%+v, %v), want the newest STARTED run", run, ok)
	}
	if s.History[0].State != "STARTED" {
		t.Errorf("history[0] = %+v, want newest first", s.History[0])
	}
}

func TestDryRunNotRecordedAsLast(t *testing.T) {
	s := New()
	s.Record(Run{Kind: "oozie", State: "STARTED"})
	s.Record(Run{Kind: "oozie", State: "STOPPED", DryRun: true})

	run, _ := s.LastRun("oozie")
	if run.State != "STARTED" {
		t.Errorf("last run state = %q, dry run overwrote it", run.State)
	}
	if len(s.History) != 2 {
		t.Errorf("history length = %d, want dry run in history", len(s.History))
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := New()
	for i := 0; i < historyLimit+10; i++ {
		s.Record(Run{Kind: "oozie", Service: fmt.Sprintf("OOZIE-%d", i)})
	}
	if len(s.History) != historyLimit {
		t.Errorf("history length = %d, want %d", len(s.History), historyLimit)
	}
	if s.History[0].Service != fmt.Sprintf("OOZIE-%d", historyLimit+9) {
		t.Errorf("history[0] = %+v, want the newest run", s.History[0])
	}
}
