package output

import (
	"bufio"
	"fmt"
	"io"

	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/session"
)

// TextWriter writes a human-readable report.
type TextWriter struct {
	w      *bufio.Writer
	indent string
}

// NewTextWriter creates a text writer.
func NewTextWriter(w io.Writer, indent string) *TextWriter {
	return &TextWriter{w: bufio.NewWriter(w), indent: indent}
}

// Write renders one outcome.
func (w *TextWriter) Write(out session.Outcome) error {
	fmt.Fprintf(w.w, "Session %s: %s\n", out.SessionID, out.Kind)

	switch {
	case out.Error != nil:
		fmt.Fprintf(w.w, "Error: %s: %s\n", out.Error.Code, out.Error.Message)
	case out.Result != nil:
		r := out.Result
		fmt.Fprintf(w.w, "URL: %s\n", r.FinalURL)
		if r.Title != "" {
			fmt.Fprintf(w.w, "Title: %s\n", r.Title)
		}
		fmt.Fprintf(w.w, "Mode: %s\n", r.Mode)

		for _, mode := range models.SelectionModes {
			items, ok := r.Items[string(mode)]
			if !ok {
				continue
			}
			fmt.Fprintf(w.w, "\nResults for %s:\n", mode)
			if len(items) == 0 {
				fmt.Fprintf(w.w, "%s(no matches)\n", w.indent)
			}
			for _, item := range items {
				fmt.Fprintf(w.w, "%s%s\n", w.indent, item)
			}
		}

		if len(r.Warnings) > 0 {
			fmt.Fprintf(w.w, "\nWarnings:\n")
			for _, warn := range r.Warnings {
				fmt.Fprintf(w.w, "%s- %s\n", w.indent, warn)
			}
		}
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}
	return w.w.Flush()
}

// Flush flushes the buffer.
func (w *TextWriter) Flush() error {
	return w.w.Flush()
}

// Close flushes the writer.
func (w *TextWriter) Close() error {
	return w.Flush()
}
