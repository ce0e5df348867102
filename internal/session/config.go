package session

import (
	"context"

	"github.com/jmylchreest/slipstream/internal/captcha"
	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/fetch"
	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/stealth"
)

// Config holds all session configuration.
type Config struct {
	Static  fetch.StaticConfig  `mapstructure:"static"`
	Dynamic fetch.DynamicConfig `mapstructure:"dynamic"`
	Captcha captcha.Config      `mapstructure:"captcha"`

	// MaxResolveRounds bounds detect/resolve/re-read cycles in the browser.
	MaxResolveRounds int `mapstructure:"max_resolve_rounds"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Static:           fetch.DefaultStaticConfig(),
		Dynamic:          fetch.DefaultDynamicConfig(),
		Captcha:          captcha.DefaultConfig(),
		MaxResolveRounds: 2,
	}
}

// forRequest overlays the per-request proxy and credentials.
func (c Config) forRequest(req models.ScrapeRequest) Config {
	if req.Proxy != "" {
		c.Static.Proxy = req.Proxy
		c.Dynamic.Proxy = req.Proxy
	}
	if req.CaptchaAPIKey != "" {
		c.Captcha.APIKey = req.CaptchaAPIKey
	}
	if req.FlareSolverrURL != "" {
		c.Captcha.FlareSolverrURL = req.FlareSolverrURL
	}
	if c.MaxResolveRounds < 1 {
		c.MaxResolveRounds = 1
	}
	return c
}

// StaticFetcher performs the single-request fetch.
type StaticFetcher interface {
	Fetch(ctx context.Context, sig *control.Signal, target string, profile stealth.Profile) (*fetch.Document, error)
}

// Browser is one launched browser page.
type Browser interface {
	captcha.Page
	Navigate(ctx context.Context, sig *control.Signal, target string) (*fetch.Document, error)
	Document(ctx context.Context) (*fetch.Document, error)
	Close() error
}

// BrowserLauncher starts a browser for profile.
type BrowserLauncher func(ctx context.Context, cfg fetch.DynamicConfig, profile stealth.Profile) (Browser, error)

// Resolver attempts to clear a challenge on a browser page.
type Resolver interface {
	Resolve(ctx context.Context, sig *control.Signal, page captcha.Page, ch captcha.Challenge) captcha.Resolution
}

// LaunchChrome opens a stealth-configured Chrome tab.
func LaunchChrome(ctx context.Context, cfg fetch.DynamicConfig, profile stealth.Profile) (Browser, error) {
	tab, err := fetch.NewDynamic(cfg).Open(ctx, profile)
	if err != nil {
		return nil, err
	}
	return tab, nil
}

// Option configures a session.
type Option func(*runner)

// WithConfig replaces the session configuration.
func WithConfig(cfg Config) Option {
	return func(r *runner) {
		r.cfg = cfg
	}
}

// WithStaticFetcher sets the static fetcher. The default is built from
// Config.Static.
func WithStaticFetcher(f StaticFetcher) Option {
	return func(r *runner) {
		r.static = f
	}
}

// WithBrowserLauncher sets how browsers are started. The default is
// LaunchChrome.
func WithBrowserLauncher(l BrowserLauncher) Option {
	return func(r *runner) {
		r.launch = l
	}
}

// WithResolver sets the challenge resolver. The default is built from
// Config.Captcha.
func WithResolver(res Resolver) Option {
	return func(r *runner) {
		r.resolver = res
	}
}

// WithSessionID sets the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(r *runner) {
		r.id = id
	}
}
