// Package retry implements bounded-attempt retry policies with an escalating
// wait-condition ladder, used by both the static fetch and browser navigation.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/jmylchreest/slipstream/internal/control"
)

// WaitCondition is the page-readiness condition a navigation attempt waits for.
type WaitCondition string

const (
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitLoad             WaitCondition = "load"
	WaitNetworkIdle      WaitCondition = "networkidle"
	WaitNone             WaitCondition = "none"
)

// NavigationLadder is tried in order across navigation attempts; attempts past
// the end of the ladder reuse its last entry.
var NavigationLadder = []WaitCondition{
	WaitDOMContentLoaded,
	WaitLoad,
	WaitNetworkIdle,
	WaitNone,
}

// State describes one attempt.
type State struct {
	Attempt     int
	MaxAttempts int
	Wait        WaitCondition
	LastErr     error
}

// Final reports whether this is the last permitted attempt.
func (s State) Final() bool {
	return s.Attempt >= s.MaxAttempts
}

// Policy is a bounded retry policy.
type Policy struct {
	MaxAttempts int
	Ladder      []WaitCondition
	// Backoff returns the pause before the given (1-based) attempt.
	// It is consulted for attempts 2..MaxAttempts.
	Backoff func(attempt int) time.Duration
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(st State, err error, pause time.Duration)
}

// Fixed returns a backoff with a constant pause.
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// StaticPolicy is the static fetch policy: 3 attempts, 2s apart.
func StaticPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: Fixed(2 * time.Second)}
}

// NavigationPolicy is the browser navigation policy: 5 attempts escalating
// through NavigationLadder with the given backoff between attempts.
func NavigationPolicy(backoff func(int) time.Duration) Policy {
	return Policy{MaxAttempts: 5, Ladder: NavigationLadder, Backoff: backoff}
}

// waitFor returns the ladder entry for a 1-based attempt.
func (p Policy) waitFor(attempt int) WaitCondition {
	if len(p.Ladder) == 0 {
		return WaitNone
	}
	i := attempt - 1
	if i >= len(p.Ladder) {
		i = len(p.Ladder) - 1
	}
	return p.Ladder[i]
}

// Run calls fn until it succeeds, returns a permanent error, or attempts run
// out. A checkpoint on sig precedes every retry, and the pause between attempts
// is interruptible by a stop. After exhaustion the last attempt's error is
// returned unchanged. The returned State describes the last attempt made.
func (p Policy) Run(ctx context.Context, sig *control.Signal, fn func(ctx context.Context, st State) error) (State, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}

	var st State
	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		st = State{Attempt: attempt, MaxAttempts: limit, Wait: p.waitFor(attempt), LastErr: lastErr}

		if attempt > 1 {
			var pause time.Duration
			if p.Backoff != nil {
				pause = p.Backoff(attempt)
			}
			if p.OnRetry != nil {
				p.OnRetry(st, lastErr, pause)
			}
			if err := sig.Sleep(ctx, pause); err != nil {
				return st, err
			}
		} else if err := sig.Checkpoint(ctx); err != nil {
			return st, err
		}

		err := fn(ctx, st)
		if err == nil {
			return st, nil
		}
		if errors.Is(err, control.ErrCancelled) {
			return st, err
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return st, perm.err
		}
		if cerr := sig.Err(ctx.Err()); cerr != nil {
			return st, cerr
		}
		lastErr = err
	}
	return st, lastErr
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. Run returns the wrapped error as-is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
