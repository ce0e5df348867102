package extract

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/jmylchreest/slipstream/internal/models"
)

const page = `<html><head><title>Shop</title></head><body>
<div class="card featured" id="first">Widget <b>Pro</b><img src="/img/widget.png"></div>
<div class="card"><span>Gadget</span><img data-src="gadget.jpg"></div>
<div class="card"><img></div>
<p id="first">duplicate id</p>
<ul><li>one</li><li>two</li></ul>
<a href="/buy" title="Buy now">Buy</a>
<script>var hidden = "no";</script>
</body></html>`

func flat(r Result, mode models.SelectionMode) []string {
	return r.Flatten()[string(mode)]
}

// --- Modes ---

func TestExtract_ClassWithImage(t *testing.T) {
	html := `<div class="x">Hello<img src="/a.png"></div>`
	r := Extract(html, "https://example.com/page", models.Selections{Class: "x"})

	want := []string{"Hello", "[IMAGE] https://example.com/a.png"}
	if got := flat(r, models.ModeClass); !reflect.DeepEqual(got, want) {
		t.Errorf("class items = %q, want %q", got, want)
	}
}

func TestExtract_Modes(t *testing.T) {
	base := "https://shop.example/products/list.html"
	tests := []struct {
		name string
		sel  models.Selections
		mode models.SelectionMode
		want []string
	}{
		{
			name: "tag",
			sel:  models.Selections{Tag: "LI"},
			mode: models.ModeTag,
			want: []string{"one", "two"},
		},
		{
			name: "class token",
			sel:  models.Selections{Class: "card"},
			mode: models.ModeClass,
			want: []string{
				"Widget Pro",
				"[IMAGE] https://shop.example/img/widget.png",
				"Gadget",
				"[IMAGE] https://shop.example/products/gadget.jpg",
			},
		},
		{
			name: "class whole attribute",
			sel:  models.Selections{Class: "card featured"},
			mode: models.ModeClass,
			want: []string{"Widget Pro", "[IMAGE] https://shop.example/img/widget.png"},
		},
		{
			name: "id takes first match",
			sel:  models.Selections{ID: "first"},
			mode: models.ModeID,
			want: []string{"Widget Pro", "[IMAGE] https://shop.example/img/widget.png"},
		},
		{
			name: "css",
			sel:  models.Selections{CSS: "div.card > span"},
			mode: models.ModeCSS,
			want: []string{"Gadget"},
		},
		{
			name: "css direct image",
			sel:  models.Selections{CSS: "img"},
			mode: models.ModeCSS,
			want: []string{
				"[IMAGE] https://shop.example/img/widget.png",
				"[IMAGE] https://shop.example/products/gadget.jpg",
			},
		},
		{
			name: "xpath elements",
			sel:  models.Selections{XPath: "//ul/li"},
			mode: models.ModeXPath,
			want: []string{"one", "two"},
		},
		{
			name: "xpath attribute",
			sel:  models.Selections{XPath: "//a/@title"},
			mode: models.ModeXPath,
			want: []string{"Buy now"},
		},
		{
			name: "xpath text",
			sel:  models.Selections{XPath: "//a/text()"},
			mode: models.ModeXPath,
			want: []string{"Buy"},
		},
		{
			name: "xpath count",
			sel:  models.Selections{XPath: "count(//li)"},
			mode: models.ModeXPath,
			want: []string{"2"},
		},
		{
			name: "xpath string",
			sel:  models.Selections{XPath: "string(//title)"},
			mode: models.ModeXPath,
			want: []string{"Shop"},
		},
		{
			name: "xpath boolean",
			sel:  models.Selections{XPath: "boolean(//ul)"},
			mode: models.ModeXPath,
			want: []string{"true"},
		},
		{
			name: "script text skipped",
			sel:  models.Selections{Tag: "body"},
			mode: models.ModeTag,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Extract(page, base, tt.sel)
			if len(r.Errors) != 0 {
				t.Fatalf("unexpected errors: %v", r.Errors)
			}
			got := flat(r, tt.mode)
			if tt.want == nil {
				if len(got) == 0 || strings.Contains(got[0], "hidden") {
					t.Errorf("body text = %q", got)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("items = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_EmptySelections(t *testing.T) {
	r := Extract(page, "https://shop.example/", models.Selections{})
	if len(r.Items) != 0 || len(r.Errors) != 0 {
		t.Errorf("Extract() = %+v, want empty", r)
	}
}

func TestExtract_NoMatchKeepsMode(t *testing.T) {
	r := Extract(page, "https://shop.example/", models.Selections{ID: "missing"})
	got, ok := r.Flatten()["id"]
	if !ok {
		t.Fatal("id mode missing from output")
	}
	if len(got) != 0 {
		t.Errorf("id items = %q, want none", got)
	}
}

// --- Images ---

func TestExtract_ImageSourcePriority(t *testing.T) {
	html := `<img data-original="c.png" data-lazy-src="b.png">` +
		`<img data-lazy-src="lazy.png">` +
		`<img src="https://cdn.example/abs.png" data-src="ignored.png">` +
		`<img alt="none">`
	r := Extract(html, "https://example.com/dir/", models.Selections{Tag: "img"})
	want := []string{
		"[IMAGE] https://example.com/dir/b.png",
		"[IMAGE] https://example.com/dir/lazy.png",
		"[IMAGE] https://cdn.example/abs.png",
	}
	if got := flat(r, models.ModeTag); !reflect.DeepEqual(got, want) {
		t.Errorf("items = %q, want %q", got, want)
	}
}

func TestExtract_BaseHref(t *testing.T) {
	html := `<html><head><base href="/static/"></head><body><img src="a.png"></body></html>`
	r := Extract(html, "https://example.com/page/x", models.Selections{Tag: "img"})
	want := []string{"[IMAGE] https://example.com/static/a.png"}
	if got := flat(r, models.ModeTag); !reflect.DeepEqual(got, want) {
		t.Errorf("items = %q, want %q", got, want)
	}
}

// --- Caps ---

func TestExtract_MatchCap(t *testing.T) {
	var b strings.Builder
	for i := range 25 {
		fmt.Fprintf(&b, "<p>item %d</p>", i)
	}
	r := Extract(b.String(), "", models.Selections{Tag: "p"})
	got := flat(r, models.ModeTag)
	if len(got) != MaxMatches {
		t.Fatalf("len = %d, want %d", len(got), MaxMatches)
	}
	if got[0] != "item 0" || got[9] != "item 9" {
		t.Errorf("items not in document order: %q", got)
	}
}

func TestExtract_ItemCap(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<div class="gallery">Gallery`)
	for i := range 20 {
		fmt.Fprintf(&b, `<img src="/%d.png">`, i)
	}
	b.WriteString(`</div>`)

	r := Extract(b.String(), "https://example.com/", models.Selections{Class: "gallery"})
	got := flat(r, models.ModeClass)
	if len(got) != MaxItems {
		t.Fatalf("len = %d, want %d", len(got), MaxItems)
	}
	if got[0] != "Gallery" || got[9] != "[IMAGE] https://example.com/8.png" {
		t.Errorf("items = %q", got)
	}
}

// --- Selector errors ---

func TestExtract_SelectorErrorsAreLocal(t *testing.T) {
	sel := models.Selections{Tag: "li", CSS: "div[", XPath: "//ul[@"}
	r := Extract(page, "https://shop.example/", sel)

	if len(r.Errors) != 2 {
		t.Fatalf("len(Errors) = %d, want 2: %v", len(r.Errors), r.Errors)
	}
	modes := map[models.SelectionMode]bool{}
	for _, e := range r.Errors {
		modes[e.Mode] = true
		if e.Err == nil || !strings.Contains(e.Error(), "invalid") {
			t.Errorf("error = %v", e)
		}
		var se *SelectorError
		if !errors.As(error(e), &se) {
			t.Errorf("errors.As failed for %v", e)
		}
	}
	if !modes[models.ModeCSS] || !modes[models.ModeXPath] {
		t.Errorf("error modes = %v", modes)
	}

	if got := flat(r, models.ModeCSS); len(got) != 0 {
		t.Errorf("css items = %q, want none", got)
	}
	if got := flat(r, models.ModeTag); !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("tag items = %q", got)
	}
}

func TestItemString(t *testing.T) {
	if s := (Item{Kind: KindText, Value: "x"}).String(); s != "x" {
		t.Errorf("text String() = %q", s)
	}
	if s := (Item{Kind: KindImage, Value: "http://a/b.png"}).String(); s != "[IMAGE] http://a/b.png" {
		t.Errorf("image String() = %q", s)
	}
}
