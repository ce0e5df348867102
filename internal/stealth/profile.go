// Package stealth generates randomized, human-plausible client fingerprints:
// user agents, request header sets, the browser init script and the browser
// launch flags that go with them.
package stealth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

type userAgent struct {
	ua       string
	browser  string // chrome, edge, firefox, safari
	platform string // navigator.platform
	chPlat   string // Sec-CH-UA-Platform
}

var userAgents = []userAgent{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "chrome", "Win32", "Windows"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "chrome", "MacIntel", "macOS"},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "chrome", "Linux x86_64", "Linux"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36", "chrome", "Win32", "Windows"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36", "chrome", "Win32", "Windows"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0", "edge", "Win32", "Windows"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0", "firefox", "Win32", "Windows"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15", "safari", "MacIntel", "macOS"},
}

// Viewport is a window/screen geometry.
type Viewport struct {
	Width  int
	Height int
}

var viewports = []Viewport{
	{1920, 1080},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Los_Angeles",
	"Europe/London",
}

var acceptLanguages = []struct {
	header    string
	languages []string
}{
	{"en-US,en;q=0.9", []string{"en-US", "en"}},
	{"en-US,en;q=0.8", []string{"en-US", "en"}},
	{"en-GB,en;q=0.9,en-US;q=0.8", []string{"en-GB", "en", "en-US"}},
}

// Profile is one randomized fingerprint. It is generated once per session and
// used consistently for every request the session makes.
type Profile struct {
	UserAgent           string
	Browser             string
	Platform            string
	AcceptLanguage      string
	Languages           []string
	Viewport            Viewport
	Timezone            string
	HardwareConcurrency int
	DeviceMemory        int
	DoNotTrack          bool
	// Hardened marks targets known to run aggressive bot mitigation; the
	// browser gets extra countermeasures for them.
	Hardened bool

	chPlatform string
}

// ForRequest returns a profile for plain HTTP requests. Any browser family may
// be chosen since only headers are sent.
func ForRequest(target string) Profile {
	return newProfile(target, userAgents)
}

// ForBrowser returns a profile for the Chromium-driven browser. Only Chromium
// family user agents are used so the UA agrees with the engine's JS surface.
func ForBrowser(target string) Profile {
	var chromium []userAgent
	for _, ua := range userAgents {
		if ua.browser == "chrome" || ua.browser == "edge" {
			chromium = append(chromium, ua)
		}
	}
	return newProfile(target, chromium)
}

func newProfile(target string, pool []userAgent) Profile {
	ua := pick(pool)
	lang := pick(acceptLanguages)
	return Profile{
		UserAgent:           ua.ua,
		Browser:             ua.browser,
		Platform:            ua.platform,
		AcceptLanguage:      lang.header,
		Languages:           lang.languages,
		Viewport:            pick(viewports),
		Timezone:            pick(timezones),
		HardwareConcurrency: pick([]int{4, 8, 8, 12, 16}),
		DeviceMemory:        pick([]int{4, 8, 8, 16}),
		DoNotTrack:          Chance(0.5),
		Hardened:            IsHardenedSite(target),
		chPlatform:          ua.chPlat,
	}
}

var chromeVersion = regexp.MustCompile(`Chrome/(\d+)`)

// Headers returns the request header set for a plain HTTP GET of a document.
func (p Profile) Headers() http.Header {
	h := http.Header{}
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Set("Accept-Language", p.AcceptLanguage)
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
	if p.DoNotTrack {
		h.Set("DNT", "1")
	}

	if m := chromeVersion.FindStringSubmatch(p.UserAgent); m != nil && p.chPlatform != "" {
		brand := "Google Chrome"
		if p.Browser == "edge" {
			brand = "Microsoft Edge"
		}
		h.Set("Sec-CH-UA", fmt.Sprintf(`"Not_A Brand";v="8", "Chromium";v="%s", "%s";v="%s"`, m[1], brand, m[1]))
		h.Set("Sec-CH-UA-Mobile", "?0")
		h.Set("Sec-CH-UA-Platform", fmt.Sprintf("%q", p.chPlatform))
	}
	return h
}

// BrowserHeaders returns the extra headers applied to browser requests. Chrome
// manages the rest of its header set itself.
func (p Profile) BrowserHeaders() map[string]any {
	h := map[string]any{"Accept-Language": p.AcceptLanguage}
	if p.DoNotTrack {
		h["DNT"] = "1"
	}
	return h
}

// hardenedSites are large retail sites with aggressive bot mitigation.
var hardenedSites = []string{
	"alibaba.com",
	"aliexpress.com",
	"amazon.com",
	"ebay.com",
	"walmart.com",
	"target.com",
	"bestbuy.com",
	"homedepot.com",
	"lowes.com",
	"costco.com",
	"wayfair.com",
	"overstock.com",
	"zappos.com",
	"nordstrom.com",
	"macys.com",
}

// IsHardenedSite reports whether target belongs to a known hardened site.
func IsHardenedSite(target string) bool {
	lower := strings.ToLower(target)
	for _, site := range hardenedSites {
		if strings.Contains(lower, site) {
			return true
		}
	}
	return false
}
