package output

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/session"
)

var csvHeader = []string{"session_id", "mode", "index", "content"}

// CSVWriter writes one row per extracted item.
type CSVWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewCSVWriter creates a CSV writer.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write emits the items of a successful outcome in selection-mode order.
// Other outcomes only contribute the header.
func (w *CSVWriter) Write(out session.Outcome) error {
	if !w.wroteHeader {
		if err := w.w.Write(csvHeader); err != nil {
			return err
		}
		w.wroteHeader = true
	}
	if out.Result == nil {
		return nil
	}
	for _, mode := range models.SelectionModes {
		items, ok := out.Result.Items[string(mode)]
		if !ok {
			continue
		}
		for i, item := range items {
			if err := w.w.Write([]string{out.SessionID, string(mode), strconv.Itoa(i + 1), item}); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

// Flush flushes buffered rows.
func (w *CSVWriter) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// Close flushes the writer.
func (w *CSVWriter) Close() error {
	return w.Flush()
}
