// Package fetch retrieves target documents, either with a single stealthy
// HTTP request or by driving a real browser.
package fetch

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Document is a fetched page.
type Document struct {
	URL         string    `json:"url" yaml:"url"`
	FinalURL    string    `json:"final_url" yaml:"final_url"`
	HTML        string    `json:"-" yaml:"-"`
	Title       string    `json:"title,omitempty" yaml:"title,omitempty"`
	StatusCode  int       `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	ContentType string    `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	FetchedAt   time.Time `json:"fetched_at" yaml:"fetched_at"`
	// Blocked is set when the body looks like a bot-mitigation page.
	Blocked bool `json:"blocked" yaml:"blocked"`
}

// Text returns the visible body text with whitespace collapsed.
func (d *Document) Text() string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(d.HTML))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, iframe, svg").Remove()
	return cleanText(doc.Find("body").Text())
}

// parseTitle fills in the title from the HTML if the fetcher did not supply one.
func (d *Document) parseTitle() {
	if d.Title != "" || d.HTML == "" {
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(d.HTML))
	if err != nil {
		return
	}
	d.Title = strings.TrimSpace(doc.Find("title").First().Text())
}

// cleanText normalizes whitespace in text.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
