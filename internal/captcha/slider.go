package captcha

import (
	"context"
	"math"

	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/stealth"
)

const (
	sliderHandle      = "#nc_1_n1z"
	sliderHandleWidth = 40
	sliderMargin      = 10
)

// sliderSuccess are selectors present once a slider has been accepted.
// [class*="success"] can match unrelated page chrome.
var sliderSuccess = []string{
	`#nc_1_n1t[style*="width: 100%"]`,
	`.nc_ok`,
	`[class*="success"]`,
}

// SliderSolver drags the Alibaba NoCaptcha slider like a person would.
type SliderSolver struct {
	timing Timing
}

// NewSliderSolver creates a slider solver with the given pacing.
func NewSliderSolver(t Timing) *SliderSolver {
	return &SliderSolver{timing: t}
}

func (s *SliderSolver) pause(ctx context.Context, sig *control.Signal, d stealth.Delay) error {
	return sig.Sleep(ctx, d.Pick())
}

// Solve performs the drag and checks the result. Verification is optimistic:
// an unclear outcome is reported unresolved but the caller carries on with
// the page as it is.
func (s *SliderSolver) Solve(ctx context.Context, sig *control.Signal, page Page) strategyResult {
	box, ok, err := page.Box(ctx, sliderHandle, s.timing.HandleWait)
	if err != nil {
		return strategyResult{reason: "slider lookup failed", err: err}
	}
	if !ok {
		return strategyResult{reason: "slider handle not found"}
	}

	if err := s.drag(ctx, sig, page, box); err != nil {
		return strategyResult{reason: "slider drag failed", err: err}
	}

	if err := s.pause(ctx, sig, s.timing.Verify); err != nil {
		return strategyResult{reason: "cancelled", err: err}
	}

	for _, sel := range sliderSuccess {
		found, err := page.Exists(ctx, sel)
		if err != nil {
			logger.Debug("slider success probe failed", "selector", sel, "error", err)
			continue
		}
		if found {
			html, err := page.HTML(ctx)
			if err != nil {
				logger.Debug("slider page re-read failed", "selector", sel, "error", err)
			}
			return strategyResult{resolved: true, reason: "success marker " + sel, html: html}
		}
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return strategyResult{reason: "page re-read failed", err: err}
	}
	if !IsBlocked(html) {
		return strategyResult{resolved: true, reason: "block signature gone", html: html}
	}
	return strategyResult{reason: "verification unclear, continuing", html: html}
}

func (s *SliderSolver) drag(ctx context.Context, sig *control.Signal, page Page, box Box) error {
	distance := box.Width - sliderHandleWidth - sliderMargin
	startX := box.X + 20
	startY := box.Y + box.Height/2

	logger.Debug("slider drag", "distance", distance, "start_x", startX, "start_y", startY)

	// approach
	for i := range 5 {
		if err := page.MouseMove(ctx, startX+float64(i*10), startY); err != nil {
			return err
		}
		if err := s.pause(ctx, sig, s.timing.Approach); err != nil {
			return err
		}
	}

	// press
	if err := page.MouseMove(ctx, startX, startY); err != nil {
		return err
	}
	if err := s.pause(ctx, sig, s.timing.Press); err != nil {
		return err
	}
	if err := page.MouseDown(ctx); err != nil {
		return err
	}
	if err := s.pause(ctx, sig, s.timing.Hold); err != nil {
		return err
	}

	// drag along a slightly curved path
	steps := stealth.Intn(15, 25)
	for i := range steps {
		p := float64(i) / float64(steps)
		x := startX + distance*p + math.Sin(p*math.Pi)*stealth.Uniform(-2, 2)
		y := startY + stealth.Uniform(-1, 1)
		if err := page.MouseMove(ctx, x, y); err != nil {
			return err
		}
		if err := s.pause(ctx, sig, s.timing.Step); err != nil {
			return err
		}
	}

	// release
	if err := page.MouseMove(ctx, startX+distance, startY); err != nil {
		return err
	}
	if err := s.pause(ctx, sig, s.timing.Release); err != nil {
		return err
	}
	if err := page.MouseUp(ctx); err != nil {
		return err
	}
	return s.pause(ctx, sig, s.timing.AfterRelease)
}
