package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

// resetLogger resets the logger to default state for test isolation
func resetLogger() {
	Init(Options{})
}

// --- Level Tests ---

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		logged  []string
		dropped []string
	}{
		{"default", Options{}, []string{"info", "warn", "error"}, []string{"debug"}},
		{"debug", Options{Debug: true}, []string{"debug", "info", "warn", "error"}, nil},
		{"quiet", Options{Quiet: true}, []string{"error"}, []string{"debug", "info", "warn"}},
		{"quiet overrides debug", Options{Debug: true, Quiet: true}, []string{"error"}, []string{"debug", "info"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			opts := tt.opts
			opts.Output = buf
			Init(opts)
			defer resetLogger()

			Debug("msg-debug")
			Info("msg-info")
			Warn("msg-warn")
			Error("msg-error")

			out := buf.String()
			for _, lvl := range tt.logged {
				if !strings.Contains(out, "msg-"+lvl) {
					t.Errorf("%s message should be logged", lvl)
				}
			}
			for _, lvl := range tt.dropped {
				if strings.Contains(out, "msg-"+lvl) {
					t.Errorf("%s message should not be logged", lvl)
				}
			}
		})
	}
}

// --- Format Tests ---

func TestInit_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{JSON: true, Output: buf})
	defer resetLogger()

	Info("fetch complete", "status", 200)

	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("JSON format should produce JSON output, got %q", out)
	}
	if !strings.Contains(out, `"status":200`) {
		t.Errorf("JSON output should contain structured args, got %q", out)
	}
}

func TestInit_TextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Output: buf})
	defer resetLogger()

	Info("navigation attempt", "attempt", 2)

	out := buf.String()
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "attempt=2") {
		t.Errorf("unexpected text output %q", out)
	}
}

func TestInit_CustomLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Logger: slog.New(slog.NewTextHandler(buf, nil))})
	defer resetLogger()

	Info("custom")
	if !strings.Contains(buf.String(), "custom") {
		t.Error("custom logger should receive records")
	}
}

// --- Scoped Logger Tests ---

func TestWithSession(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Output: buf})
	defer resetLogger()

	WithSession("abc-123", "https://example.com").Info("stage started")

	out := buf.String()
	if !strings.Contains(out, "session.id=abc-123") {
		t.Errorf("expected session id attribute, got %q", out)
	}
	if !strings.Contains(out, "session.url=https://example.com") {
		t.Errorf("expected session url attribute, got %q", out)
	}
}

func TestWith_ReturnsLoggerWithAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Output: buf})
	defer resetLogger()

	With("component", "resolver").Info("poll")
	if !strings.Contains(buf.String(), "component=resolver") {
		t.Errorf("expected attributes in output, got %q", buf.String())
	}
}

func TestEnabled(t *testing.T) {
	Init(Options{Output: &bytes.Buffer{}})
	defer resetLogger()

	ctx := context.Background()
	if Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be disabled at default level")
	}
	if !Enabled(ctx, slog.LevelWarn) {
		t.Error("warn should be enabled at default level")
	}
}

// --- Context Tests ---

func TestContextVariants(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Debug: true, Output: buf})
	defer resetLogger()

	ctx := context.Background()
	DebugContext(ctx, "ctx-debug")
	InfoContext(ctx, "ctx-info")
	WarnContext(ctx, "ctx-warn")
	ErrorContext(ctx, "ctx-error")

	for _, msg := range []string{"ctx-debug", "ctx-info", "ctx-warn", "ctx-error"} {
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("expected %q in output", msg)
		}
	}
}
