package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/slipstream/internal/control"
)

type point struct{ x, y float64 }

// fakePage records what the resolver does to it.
type fakePage struct {
	mu sync.Mutex

	url         string
	html        string
	afterReload string
	box         *Box
	present     map[string]bool
	shot        []byte

	moves   []point
	downs   int
	ups     int
	reloads int
	scripts []string
	fills   map[string]string
	cookies []Cookie
	htmlErr error
	onUp    func(p *fakePage)
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.htmlErr != nil {
		return "", p.htmlErr
	}
	return p.html, nil
}

func (p *fakePage) Evaluate(_ context.Context, script string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	return nil
}

func (p *fakePage) Reload(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	if p.afterReload != "" {
		p.html = p.afterReload
	}
	return nil
}

func (p *fakePage) Box(context.Context, string, time.Duration) (Box, bool, error) {
	if p.box == nil {
		return Box{}, false, nil
	}
	return *p.box, true, nil
}

func (p *fakePage) Exists(_ context.Context, sel string) (bool, error) {
	return p.present[sel], nil
}

func (p *fakePage) MouseMove(_ context.Context, x, y float64) error {
	p.moves = append(p.moves, point{x, y})
	return nil
}

func (p *fakePage) MouseDown(context.Context) error { p.downs++; return nil }

func (p *fakePage) MouseUp(context.Context) error {
	p.ups++
	if p.onUp != nil {
		p.onUp(p)
	}
	return nil
}

func (p *fakePage) Screenshot(context.Context, string) ([]byte, error) {
	if p.shot == nil {
		return nil, errors.New("no element")
	}
	return p.shot, nil
}

func (p *fakePage) Fill(_ context.Context, sel, value string) error {
	if p.fills == nil {
		p.fills = map[string]string{}
	}
	p.fills[sel] = value
	return nil
}

func (p *fakePage) SetCookies(_ context.Context, cookies []Cookie) error {
	p.cookies = append(p.cookies, cookies...)
	return nil
}

const sliderHTML = `<div id="nc_1_nocaptcha" class="nc-container"><span id="nc_1_n1z"></span></div>`

func testConfig() Config {
	return Config{MaxPolls: 30, Timing: Timing{}}
}

// --- Slider ---

func TestSlider_DragGeometry(t *testing.T) {
	page := &fakePage{
		url:     "https://www.alibaba.com/x",
		html:    sliderHTML,
		box:     &Box{X: 100, Y: 200, Width: 300, Height: 34},
		present: map[string]bool{".nc_ok": true},
	}

	res := NewResolver(testConfig()).Resolve(context.Background(), control.New(), page,
		Challenge{Type: TypeAlibabaSlider, PageURL: page.url})

	if !res.Resolved() {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if page.downs != 1 || page.ups != 1 {
		t.Errorf("downs=%d ups=%d, want 1 each", page.downs, page.ups)
	}

	// 5 approach moves, the press move, 15-25 drag steps, the final move
	if n := len(page.moves); n < 22 || n > 32 {
		t.Errorf("moves = %d, want 22..32", n)
	}
	if first := page.moves[0]; first != (point{120, 217}) {
		t.Errorf("first move = %+v, want {120 217}", first)
	}
	if approach := page.moves[4]; approach != (point{160, 217}) {
		t.Errorf("last approach move = %+v, want {160 217}", approach)
	}
	// distance = 300 - 40 - 10
	if last := page.moves[len(page.moves)-1]; last != (point{370, 217}) {
		t.Errorf("final move = %+v, want {370 217}", last)
	}
	for _, m := range page.moves[6 : len(page.moves)-1] {
		if m.y < 216 || m.y > 218 {
			t.Errorf("drag step y = %v strays more than 1px", m.y)
		}
		if m.x < 118 || m.x > 372 {
			t.Errorf("drag step x = %v outside track", m.x)
		}
	}
}

func TestSlider_ResolvedWhenBlockGone(t *testing.T) {
	page := &fakePage{
		html: sliderHTML,
		box:  &Box{X: 0, Y: 0, Width: 260, Height: 30},
		onUp: func(p *fakePage) { p.html = "<html><body>product list</body></html>" },
	}
	res := NewResolver(testConfig()).Resolve(context.Background(), nil, page, Challenge{Type: TypeAlibabaSlider})
	if !res.Resolved() {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if !strings.Contains(res.HTML, "product list") {
		t.Errorf("resolution html = %q", res.HTML)
	}
}

func TestSlider_SuccessMarkerSurvivesReadError(t *testing.T) {
	page := &fakePage{
		html:    sliderHTML,
		box:     &Box{Width: 260, Height: 30},
		present: map[string]bool{".nc_ok": true},
		onUp:    func(p *fakePage) { p.htmlErr = errors.New("target closed") },
	}
	res := NewResolver(testConfig()).Resolve(context.Background(), nil, page, Challenge{Type: TypeAlibabaSlider})
	if !res.Resolved() {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil", res.Err)
	}
	if res.HTML != "" {
		t.Errorf("HTML = %q, want empty after failed re-read", res.HTML)
	}
}

func TestSlider_UnclearIsUnresolved(t *testing.T) {
	page := &fakePage{html: sliderHTML, box: &Box{Width: 260, Height: 30}}
	res := NewResolver(testConfig()).Resolve(context.Background(), nil, page, Challenge{Type: TypeAlibabaSlider})
	if res.Status != StatusUnresolved {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Err != nil {
		t.Errorf("unclear verification should not be an error: %v", res.Err)
	}
	if res.HTML == "" {
		t.Error("unresolved slider should still carry the re-read page")
	}
	if len(res.Recommendations) == 0 {
		t.Error("no recommendations for unresolved slider")
	}
}

func TestSlider_HandleMissing(t *testing.T) {
	page := &fakePage{html: sliderHTML}
	res := NewResolver(testConfig()).Resolve(context.Background(), nil, page, Challenge{Type: TypeAlibabaSlider})
	if res.Status != StatusUnresolved || res.Reason != "slider handle not found" {
		t.Errorf("res = %s %q", res.Status, res.Reason)
	}
	if page.downs != 0 {
		t.Error("pressed mouse without a handle")
	}
}

// --- Remote service ---

func TestResolve_NoCredentialNoNetwork(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	cfg := testConfig()
	cfg.ServiceURL = srv.URL
	page := &fakePage{}
	res := NewResolver(cfg).Resolve(context.Background(), nil, page,
		Challenge{Type: TypeRecaptchaV2, SiteKey: "k", PageURL: "https://example.com"})

	if res.Status != StatusUnresolved || !errors.Is(res.Err, ErrNoCredential) {
		t.Errorf("res = %s err=%v", res.Status, res.Err)
	}
	if hits != 0 {
		t.Errorf("service contacted %d times without a credential", hits)
	}
}

func TestResolve_RecaptchaWithoutSiteKey(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "k"
	cfg.ServiceURL = "http://127.0.0.1:1"
	res := NewResolver(cfg).Resolve(context.Background(), nil, &fakePage{},
		Challenge{Type: TypeRecaptchaV2, PageURL: "https://example.com"})
	if res.Status != StatusUnresolved || res.Reason != "no site key on page" {
		t.Errorf("res = %s %q", res.Status, res.Reason)
	}
}

func TestResolve_RecaptchaInjectsAndReloads(t *testing.T) {
	svc := &fakeService{pollReply: notReadyUntil(2)}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	cfg := testConfig()
	cfg.APIKey = "k"
	cfg.ServiceURL = srv.URL
	page := &fakePage{html: `<div class="g-recaptcha" data-sitekey="sk"></div>`, afterReload: "<p>welcome</p>"}

	var statuses []Status
	r := NewResolver(cfg).Observe(func(s Status, _ string) { statuses = append(statuses, s) })
	res := r.Resolve(context.Background(), control.New(), page,
		Challenge{Type: TypeRecaptchaV2, SiteKey: "sk", PageURL: "https://example.com/login"})

	if !res.Resolved() {
		t.Fatalf("status = %s (%s, %v)", res.Status, res.Reason, res.Err)
	}
	if len(page.scripts) != 1 || !strings.Contains(page.scripts[0], `"TOKEN-XYZ"`) ||
		!strings.Contains(page.scripts[0], "g-recaptcha-response") {
		t.Errorf("injection scripts = %v", page.scripts)
	}
	if page.reloads != 1 || res.HTML != "<p>welcome</p>" {
		t.Errorf("reloads=%d html=%q", page.reloads, res.HTML)
	}
	if len(statuses) < 3 || statuses[0] != StatusDetected || statuses[1] != StatusResolving ||
		statuses[len(statuses)-1] != StatusResolved {
		t.Errorf("transitions = %v", statuses)
	}
}

func TestResolve_ImageFillsInput(t *testing.T) {
	svc := &fakeService{pollReply: func(int) string { return `{"status":1,"request":"x7k2"}` }}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	cfg := testConfig()
	cfg.APIKey = "k"
	cfg.ServiceURL = srv.URL
	page := &fakePage{shot: []byte("img")}
	res := NewResolver(cfg).Resolve(context.Background(), nil, page, Challenge{Type: TypeImage})

	if !res.Resolved() {
		t.Fatalf("status = %s (%s, %v)", res.Status, res.Reason, res.Err)
	}
	if got := page.fills[inputSelector]; got != "x7k2" {
		t.Errorf("filled %q", got)
	}
}

func TestResolve_ServiceErrorIsUnresolved(t *testing.T) {
	svc := &fakeService{submitRes: `{"status":0,"request":"ERROR_ZERO_BALANCE"}`, pollReply: notReadyUntil(1)}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	cfg := testConfig()
	cfg.APIKey = "k"
	cfg.ServiceURL = srv.URL
	res := NewResolver(cfg).Resolve(context.Background(), nil, &fakePage{},
		Challenge{Type: TypeHCaptcha, SiteKey: "sk"})
	if res.Status != StatusUnresolved || !IsServiceError(res.Err) {
		t.Errorf("res = %s err=%v", res.Status, res.Err)
	}
}

// --- Other types ---

func TestResolve_Unknown(t *testing.T) {
	res := NewResolver(testConfig()).Resolve(context.Background(), nil, &fakePage{}, Challenge{Type: TypeUnknown})
	if res.Status != StatusUnresolved || res.Reason != "no resolution strategy" {
		t.Errorf("res = %s %q", res.Status, res.Reason)
	}
	if len(res.Recommendations) == 0 {
		t.Error("no recommendations")
	}
}

func TestResolve_StoppedBeforeStart(t *testing.T) {
	sig := control.New()
	sig.Stop()
	page := &fakePage{box: &Box{Width: 300}}
	res := NewResolver(testConfig()).Resolve(context.Background(), sig, page, Challenge{Type: TypeAlibabaSlider})
	if !errors.Is(res.Err, control.ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", res.Err)
	}
	if len(page.moves) != 0 {
		t.Error("page touched after stop")
	}
}

func TestResolve_CloudflareInstallsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","solution":{"url":%q,"status":200,"response":"<p>ok</p>",
			"cookies":[{"name":"cf_clearance","value":"abc","domain":".example.com","path":"/","secure":true}]}}`, req["url"])
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.FlareSolverrURL = srv.URL
	page := &fakePage{html: `<div id="cf-challenge-running"></div>`, afterReload: "<p>content</p>"}
	res := NewResolver(cfg).Resolve(context.Background(), nil, page,
		Challenge{Type: TypeCloudflare, PageURL: "https://example.com"})

	if !res.Resolved() {
		t.Fatalf("status = %s (%s, %v)", res.Status, res.Reason, res.Err)
	}
	if len(page.cookies) != 1 || page.cookies[0].Name != "cf_clearance" || !page.cookies[0].Secure {
		t.Errorf("cookies = %+v", page.cookies)
	}
}

func TestResolve_CloudflareWithoutEndpoint(t *testing.T) {
	res := NewResolver(testConfig()).Resolve(context.Background(), nil, &fakePage{}, Challenge{Type: TypeCloudflare})
	if res.Status != StatusUnresolved {
		t.Errorf("status = %s", res.Status)
	}
}
