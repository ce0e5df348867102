// Package progress carries human-readable session progress from the worker
// to whichever control surface is rendering it.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/logger"
)

// Stage is the pipeline stage an event belongs to.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageDetect  Stage = "detect"
	StageResolve Stage = "resolve"
	StageExtract Stage = "extract"
	StageDeliver Stage = "deliver"
)

// Level grades an event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarn    Level = "warn"
	LevelSuccess Level = "success"
)

// Event is one progress line.
type Event struct {
	Seq       int64     `json:"seq"`
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id"`
	Stage     Stage     `json:"stage"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// String renders the event as a single display line.
func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Sink delivers events in order to a channel. Reporting waits while the
// session is paused, so nothing is emitted until it resumes.
type Sink struct {
	ch        chan<- Event
	sig       *control.Signal
	sessionID string
	log       *slog.Logger

	mu  sync.Mutex
	seq int64
}

// NewSink returns a Sink writing to ch. A nil ch discards events, which are
// still mirrored to the debug log.
func NewSink(ch chan<- Event, sig *control.Signal, sessionID string) *Sink {
	return &Sink{
		ch:        ch,
		sig:       sig,
		sessionID: sessionID,
		log:       logger.With("session_id", sessionID),
	}
}

// Report emits an event. It waits while the session is paused, and a pause
// that lands while the send is blocked withdraws the event until resume. It
// returns control.ErrCancelled if the session is stopped first, or ctx.Err()
// if ctx ends before the event is taken.
func (s *Sink) Report(ctx context.Context, stage Stage, level Level, msg string) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev := Event{
		Seq:       s.seq,
		SessionID: s.sessionID,
		Stage:     stage,
		Level:     level,
		Message:   msg,
	}

	for {
		if err := s.sig.AwaitIfPaused(ctx); err != nil {
			return err
		}
		pausing := s.sig.Pausing()
		select {
		case <-pausing:
			continue
		default:
		}

		ev.Time = time.Now()
		if s.ch == nil {
			s.logEvent(ev)
			return nil
		}
		select {
		case s.ch <- ev:
			s.logEvent(ev)
			return nil
		case <-pausing:
		case <-s.sig.Done():
			return control.ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sink) logEvent(ev Event) {
	s.log.Debug("progress", "seq", ev.Seq, "stage", ev.Stage, "level", ev.Level, "message", ev.Message)
}

// Infof reports an info event.
func (s *Sink) Infof(ctx context.Context, stage Stage, format string, args ...any) error {
	return s.Report(ctx, stage, LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf reports a warning event.
func (s *Sink) Warnf(ctx context.Context, stage Stage, format string, args ...any) error {
	return s.Report(ctx, stage, LevelWarn, fmt.Sprintf(format, args...))
}

// Successf reports a success event.
func (s *Sink) Successf(ctx context.Context, stage Stage, format string, args ...any) error {
	return s.Report(ctx, stage, LevelSuccess, fmt.Sprintf(format, args...))
}
