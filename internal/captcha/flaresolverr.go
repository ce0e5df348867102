package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jmylchreest/slipstream/internal/logger"
)

// Error types for distinguishing FlareSolverr failure reasons.
// Check with errors.Is(err, captcha.ErrCaptchaChallenge).
var (
	// ErrFlareSolverrUnavailable indicates the FlareSolverr service is not reachable.
	ErrFlareSolverrUnavailable = errors.New("FlareSolverr service unavailable")
	// ErrCaptchaChallenge indicates the site has an interactive CAPTCHA.
	ErrCaptchaChallenge = errors.New("captcha challenge detected")
	// ErrAntiBot indicates the site's anti-bot protection blocked the request.
	ErrAntiBot = errors.New("anti-bot protection detected")
	// ErrChallengeTimeout indicates a timeout while waiting for the challenge to resolve.
	ErrChallengeTimeout = errors.New("challenge timeout")
)

// FlareSolverr is a client for the FlareSolverr API, a proxy that solves
// Cloudflare challenges in its own browser.
type FlareSolverr struct {
	endpoint   string
	client     *resty.Client
	maxTimeout int // milliseconds
}

type flareRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	Session    string `json:"session,omitempty"`
	MaxTimeout int    `json:"maxTimeout,omitempty"`
}

type flareResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Solution *FlareSolution `json:"solution,omitempty"`
	StartTS  float64        `json:"startTimestamp"`
	EndTS    float64        `json:"endTimestamp"`
}

// FlareSolution contains the solved page and its clearance cookies.
type FlareSolution struct {
	URL        string        `json:"url"`
	Status     int           `json:"status"`
	Response   string        `json:"response"`
	RawCookies []flareCookie `json:"cookies"`
	UserAgent  string        `json:"userAgent"`
}

type flareCookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	HTTPOnly bool   `json:"httpOnly"`
	Secure   bool   `json:"secure"`
}

// NewFlareSolverr creates a client. A base URL without a path gets the
// standard /v1 endpoint.
func NewFlareSolverr(baseURL string) *FlareSolverr {
	endpoint := strings.TrimRight(baseURL, "/")
	if u, err := url.Parse(endpoint); err == nil && (u.Path == "" || u.Path == "/") {
		endpoint += "/v1"
	}
	return &FlareSolverr{
		endpoint:   endpoint,
		client:     resty.New().SetTimeout(120 * time.Second), // solving can take a while
		maxTimeout: 60000,
	}
}

// Solve asks FlareSolverr to load targetURL and returns its solution.
// If sessionID is set, FlareSolverr reuses that browser instance.
func (f *FlareSolverr) Solve(ctx context.Context, targetURL, sessionID string) (*FlareSolution, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(flareRequest{
			Cmd:        "request.get",
			URL:        targetURL,
			Session:    sessionID,
			MaxTimeout: f.maxTimeout,
		}).
		Post(f.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("FlareSolverr request failed", "url", targetURL, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrFlareSolverrUnavailable, err)
	}

	// FlareSolverr returns 500 with a JSON body on errors, so parse regardless
	// of status.
	var fr flareResponse
	if err := json.Unmarshal(resp.Body(), &fr); err != nil {
		logger.Warn("FlareSolverr returned invalid response", "status_code", resp.StatusCode(), "body", resp.String())
		return nil, fmt.Errorf("failed to parse FlareSolverr response: %w", err)
	}

	if fr.Status != "ok" {
		logger.Debug("FlareSolverr returned error status",
			"url", targetURL,
			"status", fr.Status,
			"message", fr.Message)
		return nil, classifyError(targetURL, fr.Message)
	}
	if fr.Solution == nil {
		logger.Warn("FlareSolverr returned no solution", "url", targetURL)
		return nil, fmt.Errorf("%w: no solution returned", ErrAntiBot)
	}

	logger.Debug("FlareSolverr solved",
		"url", targetURL,
		"status_code", fr.Solution.Status,
		"cookies", len(fr.Solution.RawCookies),
		"response_size", len(fr.Solution.Response),
		"duration_s", fmt.Sprintf("%.2f", (fr.EndTS-fr.StartTS)/1000))

	return fr.Solution, nil
}

// classifyError maps a FlareSolverr error message onto a sentinel error.
func classifyError(target, message string) error {
	msgLower := strings.ToLower(message)

	switch {
	case strings.Contains(msgLower, "timeout"), strings.Contains(msgLower, "timed out"):
		logger.Warn("FlareSolverr timed out", "url", target, "message", message)
		return fmt.Errorf("%w: %s", ErrChallengeTimeout, message)

	case strings.Contains(msgLower, "could not be solved"),
		strings.Contains(msgLower, "unable to solve"),
		strings.Contains(msgLower, "failed to solve"),
		strings.Contains(msgLower, "captcha"),
		strings.Contains(msgLower, "turnstile"),
		strings.Contains(msgLower, "cloudflare"),
		strings.Contains(msgLower, "cf-"),
		strings.Contains(msgLower, "challenge"):
		logger.Warn("FlareSolverr could not solve challenge", "url", target, "message", message)
		return fmt.Errorf("%w: %s", ErrCaptchaChallenge, message)

	case strings.Contains(msgLower, "blocked"),
		strings.Contains(msgLower, "denied"),
		strings.Contains(msgLower, "forbidden"),
		strings.Contains(msgLower, "403"):
		logger.Warn("FlareSolverr blocked by anti-bot", "url", target, "message", message)
		return fmt.Errorf("%w: %s", ErrAntiBot, message)

	case strings.Contains(msgLower, "browser"),
		strings.Contains(msgLower, "crashed"),
		strings.Contains(msgLower, "unable to process"):
		logger.Warn("FlareSolverr browser error", "url", target, "message", message)
		return fmt.Errorf("FlareSolverr internal error: %s", message)
	}

	logger.Warn("FlareSolverr failed with unknown error", "url", target, "message", message)
	return fmt.Errorf("%w: %s", ErrAntiBot, message)
}

// Cookies converts the solution's cookies for installation in a browser.
func (s *FlareSolution) Cookies() []Cookie {
	cookies := make([]Cookie, 0, len(s.RawCookies))
	for _, c := range s.RawCookies {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return cookies
}
