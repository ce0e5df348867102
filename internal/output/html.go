package output

import (
	"fmt"
	"os"

	"github.com/yosssi/gohtml"
)

// SaveHTML writes a fetched document to path, optionally re-indented.
func SaveHTML(path, html string, pretty bool) error {
	if pretty {
		html = gohtml.Format(html)
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to save HTML: %w", err)
	}
	return nil
}
