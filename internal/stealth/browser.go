package stealth

import (
	"strings"

	"github.com/chromedp/chromedp"
)

// AllocatorOptions returns the Chrome launch flags for this profile, to be
// appended to chromedp.DefaultExecAllocatorOptions.
func (p Profile) AllocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),

		// automation tells
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),

		chromedp.Flag("disable-plugins-discovery", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("use-fake-ui-for-media-stream", true),

		chromedp.WindowSize(p.Viewport.Width, p.Viewport.Height),
		chromedp.UserAgent(p.UserAgent),
		chromedp.Flag("lang", strings.Join(p.Languages, ",")),
		chromedp.Flag("accept-lang", p.AcceptLanguage),
	}
	return opts
}
