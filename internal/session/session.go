// Package session runs one scrape from request to outcome: fetch, challenge
// detection and resolution, then extraction. Every externally visible step is
// preceded by a control checkpoint, so a session can be paused or stopped
// from another goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jmylchreest/slipstream/internal/captcha"
	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/extract"
	"github.com/jmylchreest/slipstream/internal/fetch"
	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/progress"
	"github.com/jmylchreest/slipstream/internal/stealth"
)

// Kind is the outcome of a session.
type Kind string

const (
	Succeeded Kind = "succeeded"
	Failed    Kind = "failed"
	// Cancelled means the session was stopped. It is not an error.
	Cancelled Kind = "cancelled"
)

// Outcome is the single result of a session.
type Outcome struct {
	SessionID  string              `json:"session_id" yaml:"session_id"`
	Kind       Kind                `json:"kind" yaml:"kind"`
	Result     *Result             `json:"result,omitempty" yaml:"result,omitempty"`
	Error      *models.ErrorDetail `json:"error,omitempty" yaml:"error,omitempty"`
	Err        error               `json:"-" yaml:"-"`
	StartedAt  time.Time           `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time           `json:"finished_at" yaml:"finished_at"`
}

// Result is what a successful session produced.
type Result struct {
	URL        string               `json:"url" yaml:"url"`
	FinalURL   string               `json:"final_url" yaml:"final_url"`
	Title      string               `json:"title,omitempty" yaml:"title,omitempty"`
	Mode       models.FetchMode     `json:"mode" yaml:"mode"`
	StatusCode int                  `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Blocked    bool                 `json:"blocked" yaml:"blocked"`
	Items      map[string][]string  `json:"results" yaml:"results"`
	Warnings   []string             `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Challenges []captcha.Resolution `json:"challenges,omitempty" yaml:"challenges,omitempty"`
	FetchedAt  time.Time            `json:"fetched_at" yaml:"fetched_at"`

	Extraction extract.Result `json:"-" yaml:"-"`
	HTML       string         `json:"-" yaml:"-"`
}

type runner struct {
	id       string
	cfg      Config
	static   StaticFetcher
	launch   BrowserLauncher
	resolver Resolver

	sig  *control.Signal
	sink *progress.Sink
	log  *slog.Logger

	warnings   []string
	challenges []captcha.Resolution
}

// Run executes one session and blocks until it has an outcome. Progress is
// sent on events, which the caller must drain; a nil channel discards it.
func Run(ctx context.Context, req models.ScrapeRequest, sig *control.Signal, events chan<- progress.Event, opts ...Option) Outcome {
	r := &runner{
		cfg: DefaultConfig(),
		sig: sig,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.sink = progress.NewSink(events, sig, r.id)
	r.log = logger.WithSession(r.id, req.URL)
	return r.run(ctx, req)
}

func (r *runner) run(ctx context.Context, req models.ScrapeRequest) (out Outcome) {
	started := time.Now()
	defer func() {
		out.SessionID = r.id
		out.StartedAt = started
		out.FinishedAt = time.Now()
	}()

	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return r.fail(err)
	}

	r.cfg = r.cfg.forRequest(req)
	if r.static == nil {
		r.static = fetch.NewStatic(r.cfg.Static)
	}
	if r.launch == nil {
		r.launch = LaunchChrome
	}
	if r.resolver == nil {
		r.resolver = captcha.NewResolver(r.cfg.Captcha).Observe(func(status captcha.Status, msg string) {
			if status == captcha.StatusResolving {
				_ = r.sink.Infof(ctx, progress.StageResolve, "%s", msg)
			}
		})
	}

	r.log.Info("session started", "mode", req.Mode)
	res, err := r.execute(ctx, req)
	if err != nil {
		return r.fail(err)
	}
	r.log.Info("session succeeded", "items", res.Extraction.Count(), "warnings", len(res.Warnings))
	return Outcome{Kind: Succeeded, Result: res}
}

func (r *runner) cancelled(err error) bool {
	return errors.Is(err, control.ErrCancelled) || errors.Is(err, context.Canceled) || r.sig.IsStopped()
}

func (r *runner) fail(err error) Outcome {
	if r.cancelled(err) {
		r.log.Info("session cancelled")
		return Outcome{Kind: Cancelled}
	}
	r.log.Error("session failed", "code", models.Code(err), "error", err)
	return Outcome{Kind: Failed, Err: err, Error: models.Detail(err)}
}

func (r *runner) warn(ctx context.Context, stage progress.Stage, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	r.warnings = append(r.warnings, msg)
	return r.sink.Report(ctx, stage, progress.LevelWarn, msg)
}

// execute runs the strictly sequential stages.
func (r *runner) execute(ctx context.Context, req models.ScrapeRequest) (*Result, error) {
	if stealth.IsHardenedSite(req.URL) {
		if err := r.warn(ctx, progress.StageFetch,
			"%s is known for aggressive bot detection; expect challenges", req.URL); err != nil {
			return nil, err
		}
	}

	if err := r.sig.Checkpoint(ctx); err != nil {
		return nil, err
	}

	mode := req.Mode
	var doc *fetch.Document
	var err error
	switch mode {
	case models.FetchModeDynamic:
		doc, err = r.fetchDynamic(ctx, req)

	case models.FetchModeAuto:
		doc, err = r.fetchStatic(ctx, req)
		if err != nil && r.cancelled(err) {
			return nil, err
		}
		if escalate, reason := fetch.Escalate(doc, err); escalate {
			if rerr := r.sink.Infof(ctx, progress.StageFetch, "%s, switching to browser", reason); rerr != nil {
				return nil, rerr
			}
			mode = models.FetchModeDynamic
			doc, err = r.fetchDynamic(ctx, req)
		}

	default:
		doc, err = r.fetchStatic(ctx, req)
		if err == nil && doc.Blocked {
			err = r.flagStatic(ctx, doc)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := r.sig.Checkpoint(ctx); err != nil {
		return nil, err
	}
	ext := extract.Extract(doc.HTML, doc.FinalURL, req.Selections)
	for _, se := range ext.Errors {
		err := models.NewScrapeError(models.ErrCodeSelector, se.Error(), se.Err)
		r.log.Warn("selector rejected", "mode", se.Mode, "error", err)
		if werr := r.warn(ctx, progress.StageExtract, "%s", se.Error()); werr != nil {
			return nil, werr
		}
	}
	if err := r.sink.Successf(ctx, progress.StageExtract, "extracted %d items", ext.Count()); err != nil {
		return nil, err
	}

	if err := r.sig.Checkpoint(ctx); err != nil {
		return nil, err
	}
	if err := r.sink.Successf(ctx, progress.StageDeliver, "scrape complete"); err != nil {
		return nil, err
	}

	return &Result{
		URL:        req.URL,
		FinalURL:   doc.FinalURL,
		Title:      doc.Title,
		Mode:       mode,
		StatusCode: doc.StatusCode,
		Blocked:    doc.Blocked,
		Items:      ext.Flatten(),
		Warnings:   r.warnings,
		Challenges: r.challenges,
		FetchedAt:  doc.FetchedAt,
		Extraction: ext,
		HTML:       doc.HTML,
	}, nil
}

func (r *runner) fetchStatic(ctx context.Context, req models.ScrapeRequest) (*fetch.Document, error) {
	if err := r.sink.Infof(ctx, progress.StageFetch, "fetching %s", req.URL); err != nil {
		return nil, err
	}
	doc, err := r.static.Fetch(ctx, r.sig, req.URL, stealth.ForRequest(req.URL))
	if err != nil {
		return nil, err
	}
	err = r.sink.Infof(ctx, progress.StageFetch, "received HTTP %d, %s",
		doc.StatusCode, humanize.Bytes(uint64(len(doc.HTML))))
	return doc, err
}

// flagStatic records a challenge on a static document. Static mode has no
// page to act on, so the challenge is reported and left in place.
func (r *runner) flagStatic(ctx context.Context, doc *fetch.Document) error {
	ch, ok := captcha.Detect(doc.HTML, doc.FinalURL)
	if !ok {
		return nil
	}
	if err := r.sink.Report(ctx, progress.StageDetect, progress.LevelWarn,
		fmt.Sprintf("challenge detected: %s", ch.Type)); err != nil {
		return err
	}
	return r.record(ctx, captcha.Resolution{
		Challenge:       ch,
		Status:          captcha.StatusUnresolved,
		Reason:          "static mode does not resolve challenges",
		Recommendations: captcha.Recommendations(ch.Type),
	})
}

func (r *runner) fetchDynamic(ctx context.Context, req models.ScrapeRequest) (*fetch.Document, error) {
	if err := r.sink.Infof(ctx, progress.StageFetch, "launching browser"); err != nil {
		return nil, err
	}
	b, err := r.launch(ctx, r.cfg.Dynamic, stealth.ForBrowser(req.URL))
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if err := r.sink.Infof(ctx, progress.StageFetch, "navigating to %s", req.URL); err != nil {
		return nil, err
	}
	doc, err := b.Navigate(ctx, r.sig, req.URL)
	if err != nil {
		return nil, err
	}
	if err := r.sink.Infof(ctx, progress.StageFetch, "page loaded: %s", doc.Title); err != nil {
		return nil, err
	}
	return r.resolveChallenges(ctx, b, doc)
}

// resolveChallenges runs detect, resolve and re-read until the page is clear,
// a resolution fails, or the round limit is reached. The last document read
// is returned either way.
func (r *runner) resolveChallenges(ctx context.Context, b Browser, doc *fetch.Document) (*fetch.Document, error) {
	for round := 1; doc.Blocked && round <= r.cfg.MaxResolveRounds; round++ {
		if err := r.sig.Checkpoint(ctx); err != nil {
			return nil, err
		}
		ch, ok := captcha.Detect(doc.HTML, doc.FinalURL)
		if !ok {
			break
		}
		if err := r.sink.Report(ctx, progress.StageDetect, progress.LevelWarn,
			fmt.Sprintf("challenge detected: %s (round %d/%d)", ch.Type, round, r.cfg.MaxResolveRounds)); err != nil {
			return nil, err
		}

		res := r.resolver.Resolve(ctx, r.sig, b, ch)
		if errors.Is(res.Err, control.ErrCancelled) {
			return nil, res.Err
		}
		if err := r.record(ctx, res); err != nil {
			return nil, err
		}

		if res.Resolved() || res.HTML != "" {
			next, err := b.Document(ctx)
			if err != nil {
				if r.cancelled(err) {
					return nil, err
				}
				r.log.Warn("re-reading page after resolution failed", "error", err)
				break
			}
			doc = next
		}
		if !res.Resolved() {
			break
		}
	}

	if doc.Blocked && len(r.challenges) > 0 {
		if err := r.warn(ctx, progress.StageResolve, "page still shows a challenge; extracting from it anyway"); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// record keeps a resolution for the report and emits its progress.
func (r *runner) record(ctx context.Context, res captcha.Resolution) error {
	r.challenges = append(r.challenges, res)
	if res.Resolved() {
		return r.sink.Successf(ctx, progress.StageResolve, "%s challenge resolved via %s: %s",
			res.Challenge.Type, res.Strategy, res.Reason)
	}

	msg := fmt.Sprintf("%s challenge unresolved: %s", res.Challenge.Type, res.Reason)
	if res.Err != nil {
		msg += fmt.Sprintf(" (%v)", res.Err)
	}
	if len(res.Recommendations) > 0 {
		msg += "; try: " + strings.Join(res.Recommendations, ", ")
	}
	return r.warn(ctx, progress.StageResolve, "%s", msg)
}
