package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gocolly/colly/v2"

	"github.com/jmylchreest/slipstream/internal/captcha"
	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/retry"
	"github.com/jmylchreest/slipstream/internal/stealth"
)

// StaticFetcher performs a single stealthy HTTP GET with Colly.
type StaticFetcher struct {
	config StaticConfig
	// transport overrides the utls transport; tests point it at httptest.
	transport http.RoundTripper
}

// NewStatic creates a new static fetcher.
func NewStatic(cfg StaticConfig) *StaticFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultStaticConfig().Timeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultStaticConfig().Attempts
	}
	return &StaticFetcher{config: cfg}
}

// WithTransport replaces the HTTP transport.
func (f *StaticFetcher) WithTransport(rt http.RoundTripper) *StaticFetcher {
	f.transport = rt
	return f
}

// Fetch retrieves target. Transport failures and error statuses are retried;
// the last one is returned as a TRANSPORT_ERROR. A 2xx block page is not a
// failure: it is returned with Blocked set.
func (f *StaticFetcher) Fetch(ctx context.Context, sig *control.Signal, target string, profile stealth.Profile) (*Document, error) {
	ctx, cancel := sig.Bind(ctx)
	defer cancel()

	if err := sig.Sleep(ctx, f.config.PreDelay.Pick()); err != nil {
		return nil, sig.Err(err)
	}

	rt := f.transport
	if rt == nil {
		tr, err := stealth.NewTransport(f.config.Proxy)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeTransport, "transport setup failed", err)
		}
		defer tr.CloseIdleConnections()
		rt = tr
	}

	policy := retry.StaticPolicy()
	policy.MaxAttempts = f.config.Attempts
	policy.Backoff = retry.Fixed(f.config.RetryPause)
	policy.OnRetry = func(st retry.State, err error, pause time.Duration) {
		logger.Warn("static fetch failed, retrying",
			"url", target,
			"attempt", st.Attempt,
			"max_attempts", st.MaxAttempts,
			"pause", pause,
			"error", err)
	}

	var doc *Document
	_, err := policy.Run(ctx, sig, func(ctx context.Context, st retry.State) error {
		var err error
		doc, err = f.attempt(ctx, rt, target, profile)
		return err
	})
	if err != nil {
		if err = sig.Err(err); errors.Is(err, control.ErrCancelled) {
			return nil, err
		}
		return nil, models.NewScrapeError(models.ErrCodeTransport, "static fetch failed", err)
	}
	return doc, nil
}

// attempt performs one GET with a fresh collector.
func (f *StaticFetcher) attempt(ctx context.Context, rt http.RoundTripper, target string, profile stealth.Profile) (*Document, error) {
	doc := &Document{URL: target, FinalURL: target, FetchedAt: time.Now()}

	c := colly.NewCollector(
		colly.UserAgent(profile.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(int(f.config.MaxBodySize)),
		colly.StdlibContext(ctx),
	)
	c.WithTransport(rt)
	c.SetRequestTimeout(f.config.Timeout)

	headers := profile.Headers()
	c.OnRequest(func(r *colly.Request) {
		for k := range headers {
			r.Headers.Set(k, headers.Get(k))
		}
		logger.Debug("static fetch request", "url", r.URL.String(), "user_agent", profile.UserAgent)
	})

	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		doc.StatusCode = r.StatusCode
		doc.ContentType = r.Headers.Get("Content-Type")
		doc.FinalURL = r.Request.URL.String()
		doc.HTML = string(r.Body)
		logger.Debug("static fetch response received",
			"status", r.StatusCode,
			"content_type", doc.ContentType,
			"body_size", humanize.Bytes(uint64(len(r.Body))))
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
		logger.Debug("static fetch error", "status", status, "error", err)
	})

	if err := c.Visit(target); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	// Error statuses are retried even when the body is a block page.
	if doc.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("HTTP %d %s", doc.StatusCode, http.StatusText(doc.StatusCode))
	}
	doc.Blocked = captcha.IsBlocked(doc.HTML)
	doc.parseTitle()

	logger.Debug("static fetch complete",
		"url", target,
		"status", doc.StatusCode,
		"title", doc.Title,
		"blocked", doc.Blocked)
	return doc, nil
}
