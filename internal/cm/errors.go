package cm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is a non-2xx response from the CM API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("cm api %s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("cm api %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the CM API. Lookup callers
// use this to treat absence as "not present yet" rather than a failure.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// CommandError is a remote command that finished but reported failure.
type CommandError struct {
	Name    string
	ID      int64
	Message string
}

func (e *CommandError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("command %s (id %d) failed: %s", e.Name, e.ID, e.Message)
	}
	return fmt.Sprintf("command %s (id %d) failed", e.Name, e.ID)
}

// CommandTimeoutError is a command that did not finish within its bounded
// wait.
type CommandTimeoutError struct {
	Name    string
	ID      int64
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %s (id %d) did not finish within %s", e.Name, e.ID, e.Timeout)
}
