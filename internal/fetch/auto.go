package fetch

import (
	"strings"
)

// SPA root containers rendered empty by the server.
var spaMarkers = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<app-root></app-root>`,
	`<div id="__next"></div>`,
	`<div id="__nuxt"></div>`,
	`<div data-reactroot`,
	`ng-app`,
	`v-cloak`,
}

var loadingIndicators = []string{
	"loading",
	"javascript required",
	"enable javascript",
}

var noscriptIndicators = []string{
	"javascript",
	"enable",
	"required",
	"browser",
}

// NeedsJavaScript reports whether a statically fetched page looks like it
// only renders in a browser.
func NeedsJavaScript(doc *Document) bool {
	if doc == nil {
		return false
	}
	html := strings.ToLower(doc.HTML)

	for _, marker := range spaMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}

	text := doc.Text()
	if len(text) < 100 {
		lower := strings.ToLower(text)
		for _, indicator := range loadingIndicators {
			if strings.Contains(lower, indicator) {
				return true
			}
		}
	}

	if noscript := between(html, "<noscript>", "</noscript>"); noscript != "" {
		for _, indicator := range noscriptIndicators {
			if strings.Contains(noscript, indicator) {
				return true
			}
		}
	}
	return false
}

// Escalate decides whether an auto-mode static result should be retried in
// the browser, and why.
func Escalate(doc *Document, err error) (bool, string) {
	switch {
	case err != nil:
		return true, "static fetch failed"
	case doc.Blocked:
		return true, "static response blocked"
	case NeedsJavaScript(doc):
		return true, "page requires JavaScript"
	}
	return false, ""
}

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i == -1 {
		return ""
	}
	s = s[i+len(start):]
	j := strings.Index(s, end)
	if j == -1 {
		return ""
	}
	return s[:j]
}
