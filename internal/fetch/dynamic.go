package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/slipstream/internal/captcha"
	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/retry"
	"github.com/jmylchreest/slipstream/internal/stealth"
)

// DynamicFetcher drives a stealth-configured Chrome through chromedp.
type DynamicFetcher struct {
	config DynamicConfig
}

// NewDynamic creates a browser fetcher.
func NewDynamic(cfg DynamicConfig) *DynamicFetcher {
	return &DynamicFetcher{config: cfg}
}

// Tab is one isolated browser with a single page. It satisfies captcha.Page.
type Tab struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	timing   Timing
	simulate bool
	profile  stealth.Profile
	idle     *idleTracker

	url     string
	mouseX  float64
	mouseY  float64
	pressed bool
}

var _ captcha.Page = (*Tab)(nil)

// Open launches an isolated browser for profile and prepares its page. The
// browser lives until Close or until ctx is cancelled. A launch or setup
// failure is an AUTOMATION_SETUP_FAILED error.
func (f *DynamicFetcher) Open(ctx context.Context, profile stealth.Profile) (*Tab, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], profile.AllocatorOptions(f.config.Headless)...)

	chromePath := f.config.ChromePath
	if chromePath == "" {
		chromePath = FindChromePath()
	}
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}
	if f.config.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(f.config.Proxy))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)

	t := &Tab{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		timing:      f.config.Timing,
		simulate:    f.config.Simulate,
		profile:     profile,
		idle:        newIdleTracker(),
	}
	chromedp.ListenTarget(tabCtx, t.idle.handle)

	logger.Debug("launching browser",
		"headless", f.config.Headless,
		"chrome", chromePath,
		"proxy", f.config.Proxy != "",
		"viewport", fmt.Sprintf("%dx%d", profile.Viewport.Width, profile.Viewport.Height),
		"timezone", profile.Timezone,
		"hardened", profile.Hardened)

	setup := []chromedp.Action{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(profile.InitScript()).Do(ctx)
			return err
		}),
		emulation.SetTimezoneOverride(profile.Timezone),
		emulation.SetDeviceMetricsOverride(int64(profile.Viewport.Width), int64(profile.Viewport.Height), 1, false),
		network.SetExtraHTTPHeaders(network.Headers(profile.BrowserHeaders())),
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		t.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewScrapeError(models.ErrCodeAutomationSetup, "browser launch failed", err)
	}
	return t, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (t *Tab) Close() error {
	t.cancelTab()
	t.cancelAlloc()
	return nil
}

// run executes actions on the tab, bounded by timeout (if positive) and by
// the caller's ctx.
func (t *Tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(t.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(t.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads target with the navigation retry ladder, lets the page
// settle, optionally simulates a visitor and returns the rendered document.
func (t *Tab) Navigate(ctx context.Context, sig *control.Signal, target string) (*Document, error) {
	ctx, cancel := sig.Bind(ctx)
	defer cancel()

	if err := sig.Sleep(ctx, t.timing.PreNavigate.Pick()); err != nil {
		return nil, sig.Err(err)
	}

	policy := retry.NavigationPolicy(func(int) time.Duration { return t.timing.RetryPause.Pick() })
	policy.OnRetry = func(st retry.State, err error, pause time.Duration) {
		logger.Warn("navigation failed, retrying",
			"url", target,
			"attempt", st.Attempt,
			"max_attempts", st.MaxAttempts,
			"wait", st.Wait,
			"pause", pause,
			"error", err)
	}
	_, err := policy.Run(ctx, sig, func(ctx context.Context, st retry.State) error {
		logger.Debug("navigating", "url", target, "attempt", st.Attempt, "wait", st.Wait)
		return t.navigateOnce(ctx, target, st.Wait)
	})
	if err != nil {
		if err = sig.Err(err); errors.Is(err, control.ErrCancelled) {
			return nil, err
		}
		return nil, models.NewScrapeError(models.ErrCodeNavigation, "navigation failed", err)
	}

	if err := t.settle(ctx, sig); err != nil {
		return nil, sig.Err(err)
	}
	if err := sig.Sleep(ctx, t.timing.Settle.Pick()); err != nil {
		return nil, sig.Err(err)
	}
	return t.Document(ctx)
}

func (t *Tab) navigateOnce(ctx context.Context, target string, wait retry.WaitCondition) error {
	if t.timing.NavigateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timing.NavigateTimeout)
		defer cancel()
	}

	t.idle.reset()
	err := t.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errText, _, err := page.Navigate(target).Do(ctx)
		if err != nil {
			return err
		}
		if errText != "" {
			return errors.New(errText)
		}
		return nil
	}))
	if err != nil {
		return err
	}

	switch wait {
	case retry.WaitDOMContentLoaded:
		return t.waitReadyState(ctx, false)
	case retry.WaitLoad:
		return t.waitReadyState(ctx, true)
	case retry.WaitNetworkIdle:
		return t.idle.wait(ctx, t.timing.IdleWindow)
	}
	return nil
}

// settle runs the post-navigation waits. Each is bounded and non-fatal; only
// cancellation is returned.
func (t *Tab) settle(ctx context.Context, sig *control.Signal) error {
	steps := []struct {
		name    string
		timeout time.Duration
		wait    func(ctx context.Context) error
	}{
		{"dom ready", t.timing.DOMReadyTimeout, func(ctx context.Context) error { return t.waitReadyState(ctx, false) }},
		{"load", t.timing.LoadTimeout, func(ctx context.Context) error { return t.waitReadyState(ctx, true) }},
		{"network idle", t.timing.IdleTimeout, func(ctx context.Context) error { return t.idle.wait(ctx, t.timing.IdleWindow) }},
	}
	for _, s := range steps {
		if err := sig.Checkpoint(ctx); err != nil {
			return err
		}
		if s.timeout <= 0 {
			continue
		}
		stepCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.wait(stepCtx)
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Debug("post-navigation wait incomplete", "step", s.name, "error", err)
		}
	}

	if t.simulate {
		return t.simulateHuman(ctx, sig)
	}
	return nil
}

// waitReadyState polls document.readyState until it reaches interactive (or
// complete when full is set).
func (t *Tab) waitReadyState(ctx context.Context, full bool) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		var state string
		// Evaluations fail while a navigation swaps the document; keep polling.
		if err := t.run(ctx, 5*time.Second, chromedp.Evaluate(`document.readyState`, &state)); err == nil {
			if state == "complete" || (!full && state == "interactive") {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Document reads the current page.
func (t *Tab) Document(ctx context.Context) (*Document, error) {
	var html, title, location string
	err := t.run(ctx, 30*time.Second,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Location(&location),
	)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	t.url = location

	doc := &Document{
		URL:        location,
		FinalURL:   location,
		HTML:       html,
		Title:      title,
		StatusCode: 200, // chromedp doesn't easily expose status codes
		FetchedAt:  time.Now(),
		Blocked:    captcha.IsBlocked(html),
	}
	logger.Debug("browser document read", "url", location, "title", title, "html_size", len(html), "blocked", doc.Blocked)
	return doc, nil
}

// --- captcha.Page ---

// URL returns the page's last known location.
func (t *Tab) URL() string { return t.url }

// HTML returns the current outer HTML.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	doc, err := t.Document(ctx)
	if err != nil {
		return "", err
	}
	return doc.HTML, nil
}

// Evaluate runs script in the page, discarding its result.
func (t *Tab) Evaluate(ctx context.Context, script string) error {
	return t.run(ctx, 30*time.Second, chromedp.Evaluate(script, nil))
}

// Reload reloads the page and waits for it to load.
func (t *Tab) Reload(ctx context.Context) error {
	t.idle.reset()
	return t.run(ctx, t.timing.NavigateTimeout, chromedp.Reload())
}

type rect struct {
	Found  bool    `json:"found"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Box waits up to timeout for a visible element matching sel.
func (t *Tab) Box(ctx context.Context, sel string, timeout time.Duration) (captcha.Box, bool, error) {
	q, err := json.Marshal(sel)
	if err != nil {
		return captcha.Box{}, false, err
	}
	script := fmt.Sprintf(`(function() {
    const el = document.querySelector(%s);
    if (!el) { return {found: false}; }
    const r = el.getBoundingClientRect();
    return {found: r.width > 0 && r.height > 0, x: r.x, y: r.y, width: r.width, height: r.height};
})()`, q)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		var r rect
		if err := t.run(ctx, 5*time.Second, chromedp.Evaluate(script, &r)); err == nil && r.Found {
			return captcha.Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, true, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return captcha.Box{}, false, nil
			}
			return captcha.Box{}, false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Exists reports whether any element matches sel.
func (t *Tab) Exists(ctx context.Context, sel string) (bool, error) {
	q, err := json.Marshal(sel)
	if err != nil {
		return false, err
	}
	var found bool
	err = t.run(ctx, 10*time.Second, chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%s) !== null`, q), &found))
	return found, err
}

// MouseMove moves the pointer, keeping any pressed button held.
func (t *Tab) MouseMove(ctx context.Context, x, y float64) error {
	t.mouseX, t.mouseY = x, y
	ev := input.DispatchMouseEvent(input.MouseMoved, x, y)
	if t.pressed {
		ev = ev.WithButton(input.Left).WithButtons(1)
	}
	return t.run(ctx, 10*time.Second, ev)
}

// MouseDown presses the left button at the current pointer position.
func (t *Tab) MouseDown(ctx context.Context) error {
	err := t.run(ctx, 10*time.Second,
		input.DispatchMouseEvent(input.MousePressed, t.mouseX, t.mouseY).
			WithButton(input.Left).
			WithButtons(1).
			WithClickCount(1))
	if err == nil {
		t.pressed = true
	}
	return err
}

// MouseUp releases the left button at the current pointer position.
func (t *Tab) MouseUp(ctx context.Context) error {
	t.pressed = false
	return t.run(ctx, 10*time.Second,
		input.DispatchMouseEvent(input.MouseReleased, t.mouseX, t.mouseY).
			WithButton(input.Left).
			WithClickCount(1))
}

// Screenshot captures the first visible element matching sel as PNG.
func (t *Tab) Screenshot(ctx context.Context, sel string) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, 15*time.Second, chromedp.Screenshot(sel, &buf, chromedp.ByQuery, chromedp.NodeVisible))
	return buf, err
}

// Fill sets the value of the first element matching sel.
func (t *Tab) Fill(ctx context.Context, sel, value string) error {
	return t.run(ctx, 15*time.Second, chromedp.SetValue(sel, value, chromedp.ByQuery))
}

// SetCookies installs cookies for the current page's site.
func (t *Tab) SetCookies(ctx context.Context, cookies []captcha.Cookie) error {
	u, err := url.Parse(t.url)
	if err != nil {
		return fmt.Errorf("failed to parse URL for cookies: %w", err)
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = u.Hostname()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     path,
			Secure:   c.Secure || u.Scheme == "https",
			HTTPOnly: c.HTTPOnly,
		})
	}
	return t.run(ctx, 10*time.Second, network.SetCookies(params))
}
