package cm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrWaitTimeout is returned by the poll helpers when the bounded wait
// budget runs out before the condition holds.
var ErrWaitTimeout = errors.New("wait budget exhausted")

// WaitTimeoutError reports a state poll that never converged.
type WaitTimeoutError struct {
	What      string
	Timeout   time.Duration
	LastState string
}

func (e *WaitTimeoutError) Error() string {
	if e.LastState != "" {
		return fmt.Sprintf("%s did not converge within %s (last state %s)", e.What, e.Timeout, e.LastState)
	}
	return fmt.Sprintf("%s did not converge within %s", e.What, e.Timeout)
}

func (e *WaitTimeoutError) Unwrap() error { return ErrWaitTimeout }

// WaitCommand blocks until the command finishes or the budget runs out,
// polling GetCommand with exponential backoff. A finished command that
// reports failure becomes a CommandError; an expired budget becomes a
// CommandTimeoutError.
func WaitCommand(ctx context.Context, client Client, cmd *Command, timeout time.Duration) (*Command, error) {
	if cmd == nil {
		return nil, fmt.Errorf("nil command handle")
	}

	deadline := time.Now().Add(timeout)
	interval := newBackoff(2*time.Second, 15*time.Second)
	current := cmd
	for {
		if !current.Active {
			if current.Success {
				return current, nil
			}
			return nil, &CommandError{Name: current.Name, ID: current.ID, Message: current.ResultMessage}
		}
		if !time.Now().Before(deadline) {
			return nil, &CommandTimeoutError{Name: current.Name, ID: current.ID, Timeout: timeout}
		}

		if err := sleepFor(ctx, boundedWait(interval, deadline)); err != nil {
			return nil, err
		}

		updated, err := client.GetCommand(ctx, current.ID)
		if err != nil {
			return nil, fmt.Errorf("polling command %s (id %d): %w", current.Name, current.ID, err)
		}
		current = updated
	}
}

// WaitServiceState polls until the service reports the target state. The
// service disappearing mid-wait is an error; use WaitServiceGone for
// deletions.
func WaitServiceState(ctx context.Context, client Client, cluster, service, target string, timeout time.Duration) error {
	last := ""
	err := pollUntil(ctx, timeout, 2*time.Second, 15*time.Second, func(ctx context.Context) (bool, error) {
		svc, err := client.GetService(ctx, cluster, service)
		if err != nil {
			return false, err
		}
		last = svc.ServiceState
		return svc.ServiceState == target, nil
	})
	if errors.Is(err, ErrWaitTimeout) {
		return &WaitTimeoutError{
			What:      fmt.Sprintf("service %s state %s", service, target),
			Timeout:   timeout,
			LastState: last,
		}
	}
	return err
}

// WaitServiceSettled polls until the service leaves a transitional state
// (STARTING/STOPPING) and returns what it settled into. A service that
// disappears mid-wait settles as NOT_FOUND.
func WaitServiceSettled(ctx context.Context, client Client, cluster, service string, timeout time.Duration) (string, error) {
	last := ""
	err := pollUntil(ctx, timeout, 2*time.Second, 15*time.Second, func(ctx context.Context) (bool, error) {
		svc, err := client.GetService(ctx, cluster, service)
		if IsNotFound(err) {
			last = ServiceNotFound
			return true, nil
		}
		if err != nil {
			return false, err
		}
		last = svc.ServiceState
		return !IsTransitionalState(svc.ServiceState), nil
	})
	if errors.Is(err, ErrWaitTimeout) {
		return last, &WaitTimeoutError{
			What:      fmt.Sprintf("service %s settle", service),
			Timeout:   timeout,
			LastState: last,
		}
	}
	return last, err
}

// WaitServiceGone polls until a service lookup reports not-found,
// confirming a delete has settled.
func WaitServiceGone(ctx context.Context, client Client, cluster, service string, timeout time.Duration) error {
	err := pollUntil(ctx, timeout, 1*time.Second, 10*time.Second, func(ctx context.Context) (bool, error) {
		_, err := client.GetService(ctx, cluster, service)
		if IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return false, nil
	})
	if errors.Is(err, ErrWaitTimeout) {
		return &WaitTimeoutError{What: fmt.Sprintf("service %s removal", service), Timeout: timeout}
	}
	return err
}

// WaitRoleCount polls until the service reports at least want roles,
// confirming role creation has settled.
func WaitRoleCount(ctx context.Context, client Client, cluster, service string, want int, timeout time.Duration) error {
	got := 0
	err := pollUntil(ctx, timeout, 1*time.Second, 10*time.Second, func(ctx context.Context) (bool, error) {
		roles, err := client.ListRoles(ctx, cluster, service)
		if err != nil {
			return false, err
		}
		got = len(roles)
		return got >= want, nil
	})
	if errors.Is(err, ErrWaitTimeout) {
		return &WaitTimeoutError{
			What:      fmt.Sprintf("service %s roles", service),
			Timeout:   timeout,
			LastState: fmt.Sprintf("%d of %d", got, want),
		}
	}
	return err
}

// pollUntil runs fn until it reports done, an error, ctx cancellation, or
// an exhausted budget (ErrWaitTimeout). The first probe fires immediately;
// subsequent probes back off exponentially.
func pollUntil(ctx context.Context, timeout, initial, max time.Duration, fn func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	interval := newBackoff(initial, max)
	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrWaitTimeout
		}
		if err := sleepFor(ctx, boundedWait(interval, deadline)); err != nil {
			return err
		}
	}
}

func newBackoff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0 // the caller bounds the wait
	b.Reset()
	return b
}

// boundedWait clips the next backoff interval so a poll never overshoots
// the deadline by more than one probe.
func boundedWait(b *backoff.ExponentialBackOff, deadline time.Time) time.Duration {
	wait := b.NextBackOff()
	if remaining := time.Until(deadline); wait > remaining {
		wait = remaining
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
