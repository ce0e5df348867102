package captcha

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/models"
)

// DefaultServiceURL is the 2captcha API root.
const DefaultServiceURL = "http://2captcha.com"

// notReady is the service's "keep polling" answer.
const notReady = "CAPCHA_NOT_READY"

var (
	// ErrNoCredential means a remote strategy was needed but no key is set.
	ErrNoCredential = errors.New("no captcha service credential")
	// ErrSolveTimeout means the service never produced a solution within the
	// poll budget.
	ErrSolveTimeout = errors.New("captcha solve timed out")
)

// Solving methods understood by in.php.
const (
	MethodRecaptcha = "userrecaptcha"
	MethodHCaptcha  = "hcaptcha"
	MethodImage     = "base64"
)

// Task is one job for the solving service.
type Task struct {
	Method  string
	SiteKey string
	PageURL string
	Image   []byte
}

func (t Task) form(key string) map[string]string {
	f := map[string]string{
		"key":    key,
		"method": t.Method,
		"json":   "1",
	}
	switch t.Method {
	case MethodRecaptcha:
		f["googlekey"] = t.SiteKey
		f["pageurl"] = t.PageURL
	case MethodHCaptcha:
		f["sitekey"] = t.SiteKey
		f["pageurl"] = t.PageURL
	case MethodImage:
		f["body"] = base64.StdEncoding.EncodeToString(t.Image)
	}
	return f
}

type serviceResponse struct {
	Status    int    `json:"status"`
	Request   string `json:"request"`
	ErrorText string `json:"error_text"`
}

func (r serviceResponse) notReady() bool {
	return r.Request == notReady || r.ErrorText == notReady
}

func (r serviceResponse) errorText() string {
	if r.ErrorText != "" {
		return r.ErrorText
	}
	if r.Request != "" {
		return r.Request
	}
	return "unknown error"
}

// TwoCaptcha is a client for 2captcha-compatible solving services.
type TwoCaptcha struct {
	client   *resty.Client
	apiKey   string
	interval time.Duration
	maxPolls int
}

// NewTwoCaptcha creates a client from cfg.
func NewTwoCaptcha(cfg Config) *TwoCaptcha {
	base := cfg.ServiceURL
	if base == "" {
		base = DefaultServiceURL
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultConfig().MaxPolls
	}
	return &TwoCaptcha{
		client: resty.New().
			SetBaseURL(strings.TrimRight(base, "/")).
			SetTimeout(30 * time.Second),
		apiKey:   cfg.APIKey,
		interval: cfg.PollInterval,
		maxPolls: maxPolls,
	}
}

// Solve submits task and polls until a solution arrives, the service reports
// an error or the poll budget runs out. Every poll is preceded by a
// checkpoint and a paced wait.
func (c *TwoCaptcha) Solve(ctx context.Context, sig *control.Signal, task Task) (string, error) {
	if c.apiKey == "" {
		return "", models.NewScrapeError(models.ErrCodeCaptchaService, "solve", ErrNoCredential)
	}

	ctx, cancel := sig.Bind(ctx)
	defer cancel()

	// A non-positive interval yields rate.Inf and no pacing.
	limiter := rate.NewLimiter(rate.Every(c.interval), 1)

	id, err := c.submit(ctx, limiter, task)
	if err != nil {
		return "", sig.Err(err)
	}
	logger.Debug("captcha submitted", "method", task.Method, "id", id)

	for poll := 1; poll <= c.maxPolls; poll++ {
		if err := sig.Checkpoint(ctx); err != nil {
			return "", err
		}
		if err := limiter.Wait(ctx); err != nil {
			return "", sig.Err(err)
		}
		if err := sig.Checkpoint(ctx); err != nil {
			return "", err
		}

		res, err := c.poll(ctx, id)
		if err != nil {
			return "", sig.Err(err)
		}
		if res.Status == 1 {
			logger.Debug("captcha solved", "id", id, "polls", poll)
			return res.Request, nil
		}
		if !res.notReady() {
			return "", models.NewScrapeError(models.ErrCodeCaptchaService,
				"solve failed: "+res.errorText(), nil)
		}
		logger.Debug("captcha not ready", "id", id, "poll", poll, "max", c.maxPolls)
	}

	return "", models.NewScrapeError(models.ErrCodeCaptchaService,
		fmt.Sprintf("no solution after %d polls", c.maxPolls), ErrSolveTimeout)
}

func (c *TwoCaptcha) submit(ctx context.Context, limiter *rate.Limiter, task Task) (string, error) {
	if err := limiter.Wait(ctx); err != nil {
		return "", err
	}

	var out serviceResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(task.form(c.apiKey)).
		ForceContentType("application/json").
		SetResult(&out).
		Post("/in.php")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", models.NewScrapeError(models.ErrCodeCaptchaService, "submit request failed", err)
	}
	if resp.IsError() {
		return "", models.NewScrapeError(models.ErrCodeCaptchaService,
			fmt.Sprintf("submit returned HTTP %d", resp.StatusCode()), nil)
	}
	if out.Status != 1 {
		return "", models.NewScrapeError(models.ErrCodeCaptchaService,
			"submit rejected: "+out.errorText(), nil)
	}
	return out.Request, nil
}

func (c *TwoCaptcha) poll(ctx context.Context, id string) (serviceResponse, error) {
	var out serviceResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":    c.apiKey,
			"action": "get",
			"id":     id,
			"json":   "1",
		}).
		ForceContentType("application/json").
		SetResult(&out).
		Get("/res.php")
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, models.NewScrapeError(models.ErrCodeCaptchaService, "poll request failed", err)
	}
	if resp.IsError() {
		return out, models.NewScrapeError(models.ErrCodeCaptchaService,
			fmt.Sprintf("poll returned HTTP %d", resp.StatusCode()), nil)
	}
	return out, nil
}
