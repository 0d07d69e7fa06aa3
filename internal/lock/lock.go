package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cmstate/cmstate/internal/config"
)

const DefaultPath = "~/.cmstate/cmstate.lock"

// Lock is a held pidfile. Mutating commands take it before touching the
// manager so two runs cannot interleave lifecycle commands against the
// same cluster.
type Lock struct {
	path string
}

// Acquire takes the pidfile at path. A file left behind by a process
// that no longer runs is stale and taken over; a live holder is an
// error naming its PID and start time. Re-acquiring from the same
// process succeeds.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	if pid, started, ok := read(path); ok && pid != os.Getpid() && isProcessRunning(pid) {
		msg := fmt.Sprintf("another cmstate run is in progress (PID %d", pid)
		if !started.IsZero() {
			msg += ", started " + started.Format(time.RFC3339)
		}
		msg += "); concurrent runs against the same manager are not allowed"
		return nil, errors.New(msg)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return &Lock{path: path}, nil
}

// Release removes the pidfile. Releasing twice is harmless.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsHeld reports whether a live process holds the lock at path, and its
// PID. Unreadable or unparsable files read as not held.
func IsHeld(path string) (bool, int) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}
	pid, _, ok := read(path)
	if !ok {
		return false, 0
	}
	if isProcessRunning(pid) {
		return true, pid
	}
	return false, pid
}

// read parses the pidfile: PID on the first line, start time on the
// second. Older single-line files parse with a zero start time.
func read(path string) (int, time.Time, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, false
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, time.Time{}, false
	}
	var started time.Time
	if len(lines) == 2 {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); err == nil {
			started = t
		}
	}
	return pid, started, true
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
