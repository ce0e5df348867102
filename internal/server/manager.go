package server

import (
	"context"
	"sync"
	"time"

	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/progress"
	"github.com/jmylchreest/slipstream/internal/session"
)

// Manager runs at most one session at a time and keeps the last one around
// for inspection until the next starts.
type Manager struct {
	ctx  context.Context
	opts []session.Option

	mu  sync.Mutex
	cur *Tracked
}

// NewManager creates a manager. Sessions inherit ctx and opts.
func NewManager(ctx context.Context, opts ...session.Option) *Manager {
	return &Manager{ctx: ctx, opts: opts}
}

// Start validates req and launches it. It fails with SESSION_CONFLICT while
// another session is unfinished.
func (m *Manager) Start(req models.ScrapeRequest) (*Tracked, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil && !m.cur.Finished() {
		return nil, models.NewScrapeError(models.ErrCodeConflict,
			"session "+m.cur.ID()+" is still running", nil)
	}

	h := session.Start(m.ctx, req, nil, m.opts...)
	t := &Tracked{
		handle:    h,
		url:       req.URL,
		startedAt: time.Now(),
		changed:   make(chan struct{}),
		finished:  make(chan struct{}),
	}
	go t.pump()
	m.cur = t
	logger.Info("session accepted", "session", h.ID, "url", req.URL, "mode", req.Mode)
	return t, nil
}

// Current returns the running or most recent session, or nil.
func (m *Manager) Current() *Tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Shutdown stops the current session and waits for it to finish or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	t := m.Current()
	if t == nil {
		return nil
	}
	t.handle.Signal.Stop()
	select {
	case <-t.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tracked records the progress and outcome of one session.
type Tracked struct {
	handle    *session.Handle
	url       string
	startedAt time.Time

	mu      sync.Mutex
	events  []progress.Event
	outcome *session.Outcome
	// changed is closed and replaced on every update.
	changed  chan struct{}
	finished chan struct{}
}

func (t *Tracked) pump() {
	for ev := range t.handle.Events() {
		t.mu.Lock()
		t.events = append(t.events, ev)
		t.notifyLocked()
		t.mu.Unlock()
	}
	out := <-t.handle.Done()

	t.mu.Lock()
	t.outcome = &out
	t.notifyLocked()
	t.mu.Unlock()
	close(t.finished)
	logger.Info("session finished", "session", out.SessionID, "kind", out.Kind)
}

func (t *Tracked) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// ID is the session id.
func (t *Tracked) ID() string { return t.handle.ID }

// Pause pauses the session at its next checkpoint.
func (t *Tracked) Pause() bool { return t.handle.Signal.Pause() }

// Resume releases a paused session.
func (t *Tracked) Resume() bool { return t.handle.Signal.Resume() }

// Stop cancels the session.
func (t *Tracked) Stop() { t.handle.Signal.Stop() }

// Finished reports whether the outcome is available.
func (t *Tracked) Finished() bool {
	select {
	case <-t.finished:
		return true
	default:
		return false
	}
}

// Wait blocks until the session finishes or ctx is done.
func (t *Tracked) Wait(ctx context.Context) (*session.Outcome, error) {
	select {
	case <-t.finished:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, nil
}

// Since returns the events after the first n, the outcome if finished, and
// a channel that closes on the next update.
func (t *Tracked) Since(n int) ([]progress.Event, *session.Outcome, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var evs []progress.Event
	if n < len(t.events) {
		evs = append(evs, t.events[n:]...)
	}
	return evs, t.outcome, t.changed
}

// Status is the JSON view of a tracked session.
type Status struct {
	SessionID string           `json:"session_id"`
	URL       string           `json:"url"`
	State     string           `json:"state"`
	Events    int              `json:"events"`
	StartedAt time.Time        `json:"started_at"`
	Outcome   *session.Outcome `json:"outcome,omitempty"`
}

// Status snapshots the session. State is the control state until the
// session finishes, then "finished".
func (t *Tracked) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.handle.Signal.State().String()
	if t.outcome != nil {
		state = "finished"
	}
	return Status{
		SessionID: t.handle.ID,
		URL:       t.url,
		State:     state,
		Events:    len(t.events),
		StartedAt: t.startedAt,
		Outcome:   t.outcome,
	}
}
