// Package control provides the cooperative pause/stop primitive shared between
// a control surface and the worker running a scrape session.
//
// The worker consults the Signal at checkpoints. A stop request takes effect at
// the next checkpoint; a pause request blocks the worker at the next checkpoint
// until it is resumed or stopped. Once stopped, a Signal never runs again.
package control

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCancelled is returned from checkpoints after Stop has been called.
var ErrCancelled = errors.New("scrape cancelled")

// State is the tri-state of a Signal.
type State int

const (
	Running State = iota
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Signal is safe for concurrent use. A nil *Signal is always running.
type Signal struct {
	mu      sync.Mutex
	state   State
	resumed chan struct{} // closed when leaving the paused state
	paused  chan struct{} // closed when entering the paused state
	stopped chan struct{} // closed once on Stop
}

// New returns a running Signal.
func New() *Signal {
	resumed := make(chan struct{})
	close(resumed)
	return &Signal{
		state:   Running,
		resumed: resumed,
		paused:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Pause moves a running signal to paused. It reports whether the state changed.
func (s *Signal) Pause() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return false
	}
	s.state = Paused
	s.resumed = make(chan struct{})
	close(s.paused)
	return true
}

// Resume moves a paused signal back to running. It reports whether the state changed.
func (s *Signal) Resume() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return false
	}
	s.state = Running
	close(s.resumed)
	s.paused = make(chan struct{})
	return true
}

// Stop is terminal and idempotent. A paused worker is released and observes the stop.
func (s *Signal) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return
	}
	if s.state == Paused {
		close(s.resumed)
	}
	s.state = Stopped
	close(s.stopped)
}

// State returns the current state.
func (s *Signal) State() State {
	if s == nil {
		return Running
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsStopped reports whether Stop has been called.
func (s *Signal) IsStopped() bool {
	return s.State() == Stopped
}

// Pausing returns a channel that is closed once the signal is paused. Each
// resume hands out a fresh channel. It returns nil for a nil Signal.
func (s *Signal) Pausing() <-chan struct{} {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Done returns a channel that is closed when the signal is stopped.
// It returns nil for a nil Signal, which blocks forever in a select.
func (s *Signal) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.stopped
}

// AwaitIfPaused blocks while the signal is paused. It returns ErrCancelled if
// the signal is (or becomes) stopped and ctx.Err() if ctx ends first.
func (s *Signal) AwaitIfPaused(ctx context.Context) error {
	if s == nil {
		return ctx.Err()
	}
	for {
		s.mu.Lock()
		state, resumed := s.state, s.resumed
		s.mu.Unlock()

		switch state {
		case Stopped:
			return ErrCancelled
		case Running:
			return nil
		}

		select {
		case <-resumed:
		case <-s.stopped:
			return ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Checkpoint waits out a pause and then reports a stop as ErrCancelled.
func (s *Signal) Checkpoint(ctx context.Context) error {
	if err := s.AwaitIfPaused(ctx); err != nil {
		return err
	}
	if s.IsStopped() {
		return ErrCancelled
	}
	return ctx.Err()
}

// Sleep waits for d, waking early on stop or context cancellation, and then
// passes a checkpoint. A pause requested mid-sleep takes effect when the sleep ends.
func (s *Signal) Sleep(ctx context.Context, d time.Duration) error {
	if err := s.Checkpoint(ctx); err != nil {
		return err
	}
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.Done():
			return ErrCancelled
		case <-ctx.Done():
			return s.Err(ctx.Err())
		}
	}
	return s.Checkpoint(ctx)
}

// Bind returns a context derived from parent that is cancelled when the signal
// is stopped, so in-flight network and browser calls abort promptly.
func (s *Signal) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	if s == nil {
		return ctx, func() { cancel(context.Canceled) }
	}
	go func() {
		select {
		case <-s.stopped:
			cancel(ErrCancelled)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// Err maps err to ErrCancelled when the signal has been stopped, so callers
// see a cancellation instead of the context error it caused.
func (s *Signal) Err(err error) error {
	if err != nil && s.IsStopped() {
		return ErrCancelled
	}
	return err
}
