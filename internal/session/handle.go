package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/progress"
)

// eventBuffer is how many progress events may queue before the worker blocks.
const eventBuffer = 64

// Handle is a session running on its own goroutine.
type Handle struct {
	ID     string
	Signal *control.Signal

	events chan progress.Event
	done   chan Outcome
}

// Start runs a session in the background. Events must be drained until the
// channel closes; the outcome follows on Done.
func Start(ctx context.Context, req models.ScrapeRequest, sig *control.Signal, opts ...Option) *Handle {
	if sig == nil {
		sig = control.New()
	}
	h := &Handle{
		ID:     uuid.NewString(),
		Signal: sig,
		events: make(chan progress.Event, eventBuffer),
		done:   make(chan Outcome, 1),
	}
	opts = append(opts, WithSessionID(h.ID))
	go func() {
		out := Run(ctx, req, sig, h.events, opts...)
		close(h.events)
		h.done <- out
		close(h.done)
	}()
	return h
}

// Events streams progress. It is closed before the outcome is delivered.
func (h *Handle) Events() <-chan progress.Event { return h.events }

// Done yields the outcome once.
func (h *Handle) Done() <-chan Outcome { return h.done }
