package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/stealth"
)

// maxScrollSteps bounds scrolling on infinite-scroll pages.
const maxScrollSteps = 200

const evalTimeout = 10 * time.Second

// simulateHuman scrolls through the page and moves the mouse the way a
// reader would. Failures are logged and skipped; only cancellation stops it.
func (t *Tab) simulateHuman(ctx context.Context, sig *control.Signal) error {
	if err := t.scrollThrough(ctx, sig); err != nil {
		if cancelled(ctx, sig, err) {
			return err
		}
		logger.Debug("scroll simulation failed", "error", err)
	}
	if err := t.wanderMouse(ctx, sig); err != nil {
		if cancelled(ctx, sig, err) {
			return err
		}
		logger.Debug("mouse simulation failed", "error", err)
	}
	return nil
}

func cancelled(ctx context.Context, sig *control.Signal, err error) bool {
	return errors.Is(err, control.ErrCancelled) || sig.IsStopped() || ctx.Err() != nil
}

func (t *Tab) scrollTo(ctx context.Context, y int) error {
	return t.run(ctx, evalTimeout, chromedp.Evaluate(fmt.Sprintf(`window.scrollTo(0, %d)`, y), nil))
}

func (t *Tab) scrollThrough(ctx context.Context, sig *control.Signal) error {
	tm := t.timing
	if tm.ScrollStep.Max <= 0 {
		return nil
	}

	var height int
	if err := t.run(ctx, evalTimeout, chromedp.Evaluate(
		`Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight)`, &height)); err != nil {
		return err
	}
	logger.Debug("simulating scroll", "height", height)

	pos := 0
	for step := 0; pos < height && step < maxScrollSteps; step++ {
		if err := sig.Sleep(ctx, tm.ScrollPause.Pick()); err != nil {
			return err
		}
		pos += tm.ScrollStep.Pick()
		if err := t.scrollTo(ctx, pos); err != nil {
			return err
		}

		if stealth.Chance(tm.BackChance) {
			if err := sig.Sleep(ctx, tm.BackPause.Pick()); err != nil {
				return err
			}
			pos -= tm.ScrollBack.Pick()
			if err := t.scrollTo(ctx, pos); err != nil {
				return err
			}
		}
	}

	if err := t.scrollTo(ctx, 0); err != nil {
		return err
	}
	return sig.Sleep(ctx, tm.TopPause.Pick())
}

func (t *Tab) wanderMouse(ctx context.Context, sig *control.Signal) error {
	for range t.timing.MouseMoves {
		x := float64(stealth.Intn(100, 800))
		y := float64(stealth.Intn(100, 600))
		if err := t.MouseMove(ctx, x, y); err != nil {
			return err
		}
		if err := sig.Sleep(ctx, t.timing.MousePause.Pick()); err != nil {
			return err
		}
	}
	return nil
}
