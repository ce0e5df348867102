// Package extract pulls caller-selected content out of a fetched document.
package extract

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"

	"github.com/jmylchreest/slipstream/internal/models"
)

const (
	// MaxMatches caps the nodes considered per mode.
	MaxMatches = 10
	// MaxItems caps the items kept per mode.
	MaxItems = 10
)

// imageSourceAttrs lists img source attributes in priority order.
var imageSourceAttrs = []string{"src", "data-src", "data-lazy-src", "data-original"}

// ItemKind distinguishes text from image items.
type ItemKind string

const (
	KindText  ItemKind = "text"
	KindImage ItemKind = "image"
)

// Item is one extracted value.
type Item struct {
	Kind  ItemKind `json:"kind" yaml:"kind"`
	Value string   `json:"value" yaml:"value"`
}

// String renders the item in output form. Images become "[IMAGE] <url>".
func (i Item) String() string {
	if i.Kind == KindImage {
		return "[IMAGE] " + i.Value
	}
	return i.Value
}

// SelectorError records a selector that failed to compile.
type SelectorError struct {
	Mode     models.SelectionMode `json:"mode" yaml:"mode"`
	Selector string               `json:"selector" yaml:"selector"`
	Err      error                `json:"-" yaml:"-"`
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("invalid %s selector %q: %v", e.Mode, e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error { return e.Err }

// Result holds the items found for each configured mode.
type Result struct {
	Items  map[models.SelectionMode][]Item
	Errors []*SelectorError
}

// Flatten renders the result as mode name to output strings. Every configured
// mode is present, even when it matched nothing.
func (r Result) Flatten() map[string][]string {
	out := make(map[string][]string, len(r.Items))
	for mode, items := range r.Items {
		vals := make([]string, 0, len(items))
		for _, it := range items {
			vals = append(vals, it.String())
		}
		out[string(mode)] = vals
	}
	return out
}

// Count returns the total number of items.
func (r Result) Count() int {
	n := 0
	for _, items := range r.Items {
		n += len(items)
	}
	return n
}

// Extract applies every non-empty selection in sel to htmlContent. Relative
// image URLs are resolved against baseURL, or the document's <base href> when
// present. A bad selector empties its own mode and is recorded in Errors.
func Extract(htmlContent, baseURL string, sel models.Selections) Result {
	res := Result{Items: make(map[models.SelectionMode][]Item)}
	if sel.Empty() {
		return res
	}

	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		// x/net/html only fails on reader errors.
		root = &html.Node{Type: html.DocumentNode}
	}
	doc := goquery.NewDocumentFromNode(root)
	base := documentBase(doc, baseURL)

	for _, mode := range models.SelectionModes {
		query := strings.TrimSpace(sel.Get(mode))
		if query == "" {
			continue
		}
		nodes, scalar, err := match(doc, root, mode, query)
		if err != nil {
			res.Errors = append(res.Errors, &SelectorError{Mode: mode, Selector: query, Err: err})
			res.Items[mode] = []Item{}
			continue
		}
		if scalar != nil {
			res.Items[mode] = scalarItems(*scalar)
			continue
		}
		if len(nodes) > MaxMatches {
			nodes = nodes[:MaxMatches]
		}
		res.Items[mode] = collect(doc, nodes, base)
	}
	return res
}

// match returns the selected nodes. XPath expressions that evaluate to a
// string, number or boolean return that value as scalar instead.
func match(doc *goquery.Document, root *html.Node, mode models.SelectionMode, query string) ([]*html.Node, *string, error) {
	switch mode {
	case models.ModeTag:
		name := strings.ToLower(query)
		return doc.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return goquery.NodeName(s) == name
		}).Nodes, nil, nil

	case models.ModeClass:
		return doc.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return hasClass(s.AttrOr("class", ""), query)
		}).Nodes, nil, nil

	case models.ModeID:
		found := doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.AttrOr("id", "") == query
		}).First()
		return found.Nodes, nil, nil

	case models.ModeCSS:
		m, err := cascadia.Compile(query)
		if err != nil {
			return nil, nil, err
		}
		return doc.FindMatcher(m).Nodes, nil, nil

	case models.ModeXPath:
		expr, err := xpath.Compile(query)
		if err != nil {
			return nil, nil, err
		}
		if scalar, ok := evaluateScalar(expr, root); ok {
			return nil, &scalar, nil
		}
		return htmlquery.QuerySelectorAll(root, expr), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown selection mode %q", mode)
}

// evaluateScalar formats the result of expressions like count(//p) or
// string(//title). Node-set expressions report false.
func evaluateScalar(expr *xpath.Expr, root *html.Node) (string, bool) {
	switch v := expr.Evaluate(htmlquery.CreateXPathNavigator(root)).(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

func scalarItems(v string) []Item {
	v = strings.Join(strings.Fields(v), " ")
	if v == "" {
		return []Item{}
	}
	return []Item{{Kind: KindText, Value: v}}
}

// hasClass matches a single class token, or the whole attribute when want
// contains spaces.
func hasClass(attr, want string) bool {
	if strings.ContainsAny(want, " \t\n") {
		return strings.Join(strings.Fields(attr), " ") == strings.Join(strings.Fields(want), " ")
	}
	for _, c := range strings.Fields(attr) {
		if c == want {
			return true
		}
	}
	return false
}

func collect(doc *goquery.Document, nodes []*html.Node, base *url.URL) []Item {
	items := make([]Item, 0, len(nodes))
	for _, n := range nodes {
		if len(items) >= MaxItems {
			break
		}
		if isImage(n) {
			if src, ok := imageURL(n, base); ok {
				items = append(items, Item{Kind: KindImage, Value: src})
			}
			continue
		}

		if text := nodeText(n); text != "" {
			items = append(items, Item{Kind: KindText, Value: text})
		}
		doc.FindNodes(n).Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
			if len(items) >= MaxItems {
				return false
			}
			if src, ok := imageURL(img.Get(0), base); ok {
				items = append(items, Item{Kind: KindImage, Value: src})
			}
			return true
		})
	}
	return items
}

func isImage(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "img"
}

// imageURL resolves the first non-empty source attribute of an img.
func imageURL(n *html.Node, base *url.URL) (string, bool) {
	for _, name := range imageSourceAttrs {
		raw := strings.TrimSpace(htmlquery.SelectAttr(n, name))
		if raw == "" {
			continue
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return raw, true
		}
		if base == nil {
			return ref.String(), true
		}
		return base.ResolveReference(ref).String(), true
	}
	return "", false
}

// nodeText returns the whitespace-normalized text under n, skipping script
// and style bodies.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// documentBase returns the URL relative references resolve against.
func documentBase(doc *goquery.Document, pageURL string) *url.URL {
	base, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || pageURL == "" {
		base = nil
	}
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return base
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return base
	}
	if base == nil {
		return ref
	}
	return base.ResolveReference(ref)
}
