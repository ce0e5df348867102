package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/stealth"
)

// Status is a step of the resolution state machine:
// detected -> resolving -> resolved | unresolved.
type Status string

const (
	StatusDetected   Status = "detected"
	StatusResolving  Status = "resolving"
	StatusResolved   Status = "resolved"
	StatusUnresolved Status = "unresolved"
)

// Box is an element's bounding box in CSS pixels.
type Box struct {
	X, Y, Width, Height float64
}

// Cookie is a cookie to install in the browser.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// Page is the browser surface the resolver strategies drive.
type Page interface {
	URL() string
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) error
	Reload(ctx context.Context) error
	// Box waits up to timeout for sel to be visible and returns its box.
	// It reports false when the element never appears.
	Box(ctx context.Context, sel string, timeout time.Duration) (Box, bool, error)
	Exists(ctx context.Context, sel string) (bool, error)
	MouseMove(ctx context.Context, x, y float64) error
	MouseDown(ctx context.Context) error
	MouseUp(ctx context.Context) error
	Screenshot(ctx context.Context, sel string) ([]byte, error)
	Fill(ctx context.Context, sel, value string) error
	SetCookies(ctx context.Context, cookies []Cookie) error
}

// Resolution is the outcome of one resolution attempt.
type Resolution struct {
	Challenge       Challenge `json:"challenge" yaml:"challenge"`
	Status          Status    `json:"status" yaml:"status"`
	Strategy        string    `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Reason          string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	// HTML is the page re-read after a resolution step, empty if it was not
	// re-read.
	HTML string `json:"-" yaml:"-"`
	Err  error  `json:"-" yaml:"-"`
}

// Resolved reports whether the challenge was resolved.
func (r Resolution) Resolved() bool {
	return r.Status == StatusResolved
}

// Timing holds every pause the resolver takes. Zero values skip the pause.
type Timing struct {
	Approach     stealth.Delay `mapstructure:"approach"`
	Press        stealth.Delay `mapstructure:"press"`
	Hold         stealth.Delay `mapstructure:"hold"`
	Step         stealth.Delay `mapstructure:"step"`
	Release      stealth.Delay `mapstructure:"release"`
	AfterRelease stealth.Delay `mapstructure:"after_release"`
	Verify       stealth.Delay `mapstructure:"verify"`

	HandleWait   time.Duration `mapstructure:"handle_wait"`
	BeforeReload time.Duration `mapstructure:"before_reload"`
	AfterReload  time.Duration `mapstructure:"after_reload"`
}

// DefaultTiming returns human-paced timings.
func DefaultTiming() Timing {
	return Timing{
		Approach:     stealth.Between(100*time.Millisecond, 300*time.Millisecond),
		Press:        stealth.Between(200*time.Millisecond, 500*time.Millisecond),
		Hold:         stealth.Between(100*time.Millisecond, 300*time.Millisecond),
		Step:         stealth.Between(50*time.Millisecond, 150*time.Millisecond),
		Release:      stealth.Between(200*time.Millisecond, 500*time.Millisecond),
		AfterRelease: stealth.Between(500*time.Millisecond, time.Second),
		Verify:       stealth.Between(2*time.Second, 4*time.Second),
		HandleWait:   10 * time.Second,
		BeforeReload: 2 * time.Second,
		AfterReload:  3 * time.Second,
	}
}

// Config configures a Resolver.
type Config struct {
	APIKey          string        `mapstructure:"api_key"`
	ServiceURL      string        `mapstructure:"service_url"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPolls        int           `mapstructure:"max_polls"`
	FlareSolverrURL string        `mapstructure:"flaresolverr_url"`
	Timing          Timing        `mapstructure:"timing"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ServiceURL:   DefaultServiceURL,
		PollInterval: 10 * time.Second,
		MaxPolls:     30,
		Timing:       DefaultTiming(),
	}
}

// Observer receives state machine transitions.
type Observer func(status Status, message string)

// Resolver picks and runs a resolution strategy for a challenge.
type Resolver struct {
	config       Config
	slider       *SliderSolver
	twoCaptcha   *TwoCaptcha
	flareSolverr *FlareSolverr
	observe      Observer
}

// NewResolver creates a resolver. Remote strategies are only available when
// their credential or endpoint is configured.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		config: cfg,
		slider: NewSliderSolver(cfg.Timing),
	}
	if cfg.APIKey != "" {
		r.twoCaptcha = NewTwoCaptcha(cfg)
	}
	if cfg.FlareSolverrURL != "" {
		r.flareSolverr = NewFlareSolverr(cfg.FlareSolverrURL)
	}
	return r
}

// Observe registers fn for state transitions. It returns r for chaining.
func (r *Resolver) Observe(fn Observer) *Resolver {
	r.observe = fn
	return r
}

func (r *Resolver) notify(status Status, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Debug("captcha resolver", "status", status, "message", msg)
	if r.observe != nil {
		r.observe(status, msg)
	}
}

// Resolve tries to get past ch on page. It only returns a Resolution; the
// strategy error, if any, is in Resolution.Err. A cancelled session surfaces
// as Err == control.ErrCancelled.
func (r *Resolver) Resolve(ctx context.Context, sig *control.Signal, page Page, ch Challenge) Resolution {
	res := Resolution{Challenge: ch, Status: StatusDetected}
	r.notify(StatusDetected, "challenge detected: %s", ch.Type)

	if err := sig.Checkpoint(ctx); err != nil {
		return r.unresolved(res, "cancelled", err)
	}

	switch ch.Type {
	case TypeAlibabaSlider:
		res.Strategy = "slider"
		r.notify(StatusResolving, "dragging slider")
		res = r.finish(res, r.slider.Solve(ctx, sig, page))

	case TypeRecaptchaV2, TypeHCaptcha, TypeImage:
		res.Strategy = "2captcha"
		if r.twoCaptcha == nil {
			return r.unresolved(res, "no captcha service credential configured", ErrNoCredential)
		}
		r.notify(StatusResolving, "submitting %s to captcha service", ch.Type)
		res = r.finish(res, r.solveRemote(ctx, sig, page, ch))

	case TypeCloudflare:
		res.Strategy = "flaresolverr"
		if r.flareSolverr == nil {
			return r.unresolved(res, "no FlareSolverr endpoint configured", nil)
		}
		r.notify(StatusResolving, "solving via FlareSolverr")
		res = r.finish(res, r.solveCloudflare(ctx, sig, page, ch))

	default:
		return r.unresolved(res, "no resolution strategy", nil)
	}
	return res
}

// finish folds a strategy outcome into res.
func (r *Resolver) finish(res Resolution, out strategyResult) Resolution {
	res.HTML = out.html
	if out.resolved {
		res.Status = StatusResolved
		res.Reason = out.reason
		r.notify(StatusResolved, "%s: %s", res.Strategy, out.reason)
		return res
	}
	return r.unresolved(res, out.reason, out.err)
}

func (r *Resolver) unresolved(res Resolution, reason string, err error) Resolution {
	res.Status = StatusUnresolved
	res.Reason = reason
	res.Err = err
	if !errors.Is(err, control.ErrCancelled) {
		res.Recommendations = Recommendations(res.Challenge.Type)
	}
	if err != nil {
		r.notify(StatusUnresolved, "%s: %v", reason, err)
	} else {
		r.notify(StatusUnresolved, "%s", reason)
	}
	return res
}

type strategyResult struct {
	resolved bool
	reason   string
	html     string
	err      error
}

// imageSelector and inputSelector locate image captchas and their answer box.
const (
	imageSelector = `img[src*="captcha"], img[alt*="captcha"], img[id*="captcha"]`
	inputSelector = `input[name*="captcha"], input[id*="captcha"]`
)

func (r *Resolver) solveRemote(ctx context.Context, sig *control.Signal, page Page, ch Challenge) strategyResult {
	task := Task{PageURL: ch.PageURL}
	switch ch.Type {
	case TypeRecaptchaV2, TypeHCaptcha:
		if ch.SiteKey == "" {
			return strategyResult{reason: "no site key on page"}
		}
		task.SiteKey = ch.SiteKey
		task.Method = MethodRecaptcha
		if ch.Type == TypeHCaptcha {
			task.Method = MethodHCaptcha
		}
	case TypeImage:
		img, err := page.Screenshot(ctx, imageSelector)
		if err != nil {
			return strategyResult{reason: "captcha image not captured", err: err}
		}
		task.Method = MethodImage
		task.Image = img
	}

	solution, err := r.twoCaptcha.Solve(ctx, sig, task)
	if err != nil {
		return strategyResult{reason: "captcha service failed", err: err}
	}
	r.notify(StatusResolving, "solution received, injecting")

	if err := inject(ctx, page, ch.Type, solution); err != nil {
		return strategyResult{reason: "solution injection failed", err: err}
	}

	html, err := r.reload(ctx, sig, page)
	if err != nil {
		return strategyResult{reason: "reload after injection failed", err: err}
	}
	return strategyResult{resolved: true, reason: "solution injected", html: html}
}

// inject writes a service solution into the page.
func inject(ctx context.Context, page Page, typ ChallengeType, solution string) error {
	token, err := json.Marshal(solution)
	if err != nil {
		return err
	}
	switch typ {
	case TypeRecaptchaV2:
		return page.Evaluate(ctx, fmt.Sprintf(`(function(token) {
    var el = document.querySelector('[name="g-recaptcha-response"]');
    if (el) { el.value = token; }
    if (typeof grecaptcha !== 'undefined') {
        grecaptcha.getResponse = function() { return token; };
    }
})(%s);`, token))
	case TypeHCaptcha:
		return page.Evaluate(ctx, fmt.Sprintf(`(function(token) {
    ['[name="h-captcha-response"]', '[name="g-recaptcha-response"]'].forEach(function(sel) {
        var el = document.querySelector(sel);
        if (el) { el.value = token; }
    });
})(%s);`, token))
	case TypeImage:
		return page.Fill(ctx, inputSelector, solution)
	}
	return fmt.Errorf("no injection for %s", typ)
}

// reload pauses, reloads the page, pauses again and re-reads the document.
func (r *Resolver) reload(ctx context.Context, sig *control.Signal, page Page) (string, error) {
	if err := sig.Sleep(ctx, r.config.Timing.BeforeReload); err != nil {
		return "", err
	}
	if err := page.Reload(ctx); err != nil {
		return "", err
	}
	if err := sig.Sleep(ctx, r.config.Timing.AfterReload); err != nil {
		return "", err
	}
	return page.HTML(ctx)
}

func (r *Resolver) solveCloudflare(ctx context.Context, sig *control.Signal, page Page, ch Challenge) strategyResult {
	solution, err := r.flareSolverr.Solve(ctx, ch.PageURL, "")
	if err != nil {
		return strategyResult{reason: "FlareSolverr failed", err: err}
	}
	if err := page.SetCookies(ctx, solution.Cookies()); err != nil {
		return strategyResult{reason: "cookie install failed", err: err}
	}
	html, err := r.reload(ctx, sig, page)
	if err != nil {
		return strategyResult{reason: "reload after cookie install failed", err: err}
	}
	if IsBlocked(html) {
		return strategyResult{reason: "challenge still present after clearance", html: html}
	}
	return strategyResult{resolved: true, reason: "clearance cookies installed", html: html}
}

// Recommendations returns operator advice for an unresolved challenge.
func Recommendations(typ ChallengeType) []string {
	var recs []string
	switch typ {
	case TypeAlibabaSlider:
		recs = []string{
			"retry in dynamic mode",
			"configure a proxy",
			"wait 5-10 minutes before retrying",
		}
	case TypeCloudflare:
		recs = []string{
			"configure a FlareSolverr endpoint",
			"retry in dynamic mode",
			"configure a proxy",
		}
	default:
		recs = []string{
			"configure a captcha service key",
			"retry in dynamic mode",
			"configure a proxy",
			"wait 5-10 minutes before retrying",
		}
	}
	return append(recs, "consider residential proxies")
}

// IsServiceError reports whether err came from a remote solving service.
func IsServiceError(err error) bool {
	return models.HasCode(err, models.ErrCodeCaptchaService)
}
