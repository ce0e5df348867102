package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/session"
)

func succeeded(id string) session.Outcome {
	return session.Outcome{
		SessionID: id,
		Kind:      session.Succeeded,
		Result: &session.Result{
			URL:      "https://example.com/",
			FinalURL: "https://example.com/home",
			Title:    "Home",
			Mode:     models.FetchModeStatic,
			Items: map[string][]string{
				"tag": {"first", "second, with comma"},
				"css": {"[IMAGE] https://example.com/a.png"},
			},
			Warnings: []string{"recaptcha_v2 challenge unresolved"},
		},
		StartedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		FinishedAt: time.Date(2026, 1, 2, 3, 4, 9, 0, time.UTC),
	}
}

func failed(id string) session.Outcome {
	return session.Outcome{
		SessionID: id,
		Kind:      session.Failed,
		Error:     &models.ErrorDetail{Code: models.ErrCodeTransport, Message: "static fetch failed"},
	}
}

// --- Formats ---

func TestNewWriter_Types(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatJSON, "*output.JSONWriter"},
		{FormatJSONL, "*output.JSONLWriter"},
		{FormatYAML, "*output.YAMLWriter"},
		{FormatCSV, "*output.CSVWriter"},
		{FormatText, "*output.TextWriter"},
	}
	for _, tt := range tests {
		w, err := NewWriter(&bytes.Buffer{}, tt.format)
		if err != nil {
			t.Fatalf("NewWriter(%s) error = %v", tt.format, err)
		}
		if got := typeName(w); got != tt.want {
			t.Errorf("NewWriter(%s) = %s, want %s", tt.format, got, tt.want)
		}
	}
}

func typeName(w Writer) string {
	switch w.(type) {
	case *JSONWriter:
		return "*output.JSONWriter"
	case *JSONLWriter:
		return "*output.JSONLWriter"
	case *YAMLWriter:
		return "*output.YAMLWriter"
	case *CSVWriter:
		return "*output.CSVWriter"
	case *TextWriter:
		return "*output.TextWriter"
	}
	return "unknown"
}

func TestNewWriter_UnsupportedFormat(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, Format("xml"))
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"json": FormatJSON, "JSONL": FormatJSONL, "yml": FormatYAML,
		"csv": FormatCSV, "txt": FormatText, " text ": FormatText,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) succeeded")
	}
}

func TestFormatForPath(t *testing.T) {
	if got := FormatForPath("out/results.CSV", FormatJSON); got != FormatCSV {
		t.Errorf("FormatForPath(csv) = %s", got)
	}
	if got := FormatForPath("results", FormatYAML); got != FormatYAML {
		t.Errorf("FormatForPath(no ext) = %s", got)
	}
	if got := FormatForPath("results.bin", FormatJSON); got != FormatJSON {
		t.Errorf("FormatForPath(bin) = %s", got)
	}
}

// --- JSON ---

func TestJSONWriter_SingleOutcome(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, true, "  ")
	if err := w.Write(succeeded("s1")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got struct {
		SessionID string `json:"session_id"`
		Kind      string `json:"kind"`
		Result    struct {
			Results map[string][]string `json:"results"`
		} `json:"result"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal output: %v\n%s", err, buf.String())
	}
	if got.SessionID != "s1" || got.Kind != "succeeded" {
		t.Errorf("unexpected outcome: %+v", got)
	}
	if img := got.Result.Results["css"]; len(img) != 1 || img[0] != "[IMAGE] https://example.com/a.png" {
		t.Errorf("css results = %v", img)
	}
}

func TestJSONWriter_MultipleOutcomesOutputsArray(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, false, "")
	_ = w.Write(succeeded("s1"))
	_ = w.Write(failed("s2"))
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var got []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(got))
	}
	if errObj, ok := got[1]["error"].(map[string]any); !ok || errObj["code"] != models.ErrCodeTransport {
		t.Errorf("error detail = %v", got[1]["error"])
	}
	if lines := strings.Split(strings.TrimSpace(buf.String()), "\n"); len(lines) != 1 {
		t.Errorf("compact output has %d lines", len(lines))
	}
}

func TestJSONWriter_FlushTwiceWritesOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, true, "  ")
	_ = w.Write(succeeded("s1"))
	_ = w.Flush()
	n := buf.Len()
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if buf.Len() != n {
		t.Errorf("Close after Flush wrote %d more bytes", buf.Len()-n)
	}
}

// --- JSONL ---

func TestJSONLWriter_SeparateLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONLWriter(buf)
	_ = w.Write(succeeded("s1"))
	_ = w.Write(failed("s2"))
	_ = w.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Errorf("line %d is not JSON: %v", i, err)
		}
	}
}

// --- YAML ---

func TestYAMLWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewYAMLWriter(buf)
	_ = w.Write(succeeded("s1"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal YAML: %v", err)
	}
	if got["session_id"] != "s1" || got["kind"] != "succeeded" {
		t.Errorf("unexpected YAML: %v", got)
	}
}

// --- CSV ---

func TestCSVWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewCSVWriter(buf)
	if err := w.Write(succeeded("s1")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(failed("s2")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = w.Close()

	rows, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	want := [][]string{
		{"session_id", "mode", "index", "content"},
		{"s1", "tag", "1", "first"},
		{"s1", "tag", "2", "second, with comma"},
		{"s1", "css", "1", "[IMAGE] https://example.com/a.png"},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v", rows)
	}
	for i := range want {
		if strings.Join(rows[i], "|") != strings.Join(want[i], "|") {
			t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}
}

// --- Text ---

func TestTextWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf, "  ")
	_ = w.Write(succeeded("s1"))
	_ = w.Write(failed("s2"))
	_ = w.Close()

	out := buf.String()
	for _, want := range []string{
		"Session s1: succeeded",
		"Title: Home",
		"Results for tag:\n  first\n  second, with comma\n",
		"Results for css:\n  [IMAGE] https://example.com/a.png\n",
		"Warnings:\n  - recaptcha_v2 challenge unresolved\n",
		"Session s2: failed",
		"Error: TRANSPORT_ERROR: static fetch failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Results for tag") > strings.Index(out, "Results for css") {
		t.Error("modes not in selection order")
	}
}

// --- HTML ---

func TestSaveHTML(t *testing.T) {
	dir := t.TempDir()
	raw := `<html><body><div><p>hi</p></div></body></html>`

	plain := filepath.Join(dir, "plain.html")
	if err := SaveHTML(plain, raw, false); err != nil {
		t.Fatalf("SaveHTML() error = %v", err)
	}
	if b, _ := os.ReadFile(plain); string(b) != raw {
		t.Errorf("plain = %q", b)
	}

	pretty := filepath.Join(dir, "pretty.html")
	if err := SaveHTML(pretty, raw, true); err != nil {
		t.Fatalf("SaveHTML() error = %v", err)
	}
	b, _ := os.ReadFile(pretty)
	if !strings.Contains(string(b), "\n") || !strings.Contains(string(b), "hi") {
		t.Errorf("pretty = %q", b)
	}

	if err := SaveHTML(filepath.Join(dir, "missing", "x.html"), raw, false); err == nil {
		t.Error("SaveHTML into a missing directory succeeded")
	}
}
