// Package captcha detects bot-mitigation pages, classifies the challenge they
// present and drives the strategies that try to get past them.
package captcha

import (
	"regexp"
	"strings"
)

// ChallengeType identifies the kind of challenge a blocked page presents.
type ChallengeType string

const (
	TypeAlibabaSlider ChallengeType = "alibaba_slider"
	TypeRecaptchaV2   ChallengeType = "recaptcha_v2"
	TypeHCaptcha      ChallengeType = "hcaptcha"
	TypeImage         ChallengeType = "image"
	TypeCloudflare    ChallengeType = "cloudflare"
	TypeUnknown       ChallengeType = "unknown"
)

// Challenge is a detected challenge on a page.
type Challenge struct {
	Type    ChallengeType `json:"type" yaml:"type"`
	SiteKey string        `json:"site_key,omitempty" yaml:"site_key,omitempty"`
	PageURL string        `json:"page_url" yaml:"page_url"`
	HTML    string        `json:"-" yaml:"-"`
}

// blockMarkers are lowercase substrings that mark a page as a block or
// challenge page rather than content.
var blockMarkers = []string{
	// generic bot-mitigation phrasing
	"captcha",
	"unusual traffic",
	"verify you are human",
	"bot detection",
	"access denied",
	"suspicious activity",
	"security check",
	"verification required",
	"ddos protection",
	"too many requests",

	// named providers
	"nocaptcha",
	"recaptcha",
	"hcaptcha",
	"cf-challenge",
	"cf_chl_opt",
	"cf-turnstile",
	"challenges.cloudflare.com",

	// alibaba slider vendor; the punish page is served from a /punish path
	"/punish",
	"captcha-loading",
	"nc_token",
	"x5secdata",
	"nc-verify-form",
	"bx-feedback-btn",
	"slide to verify",
	"nc_1_nocaptcha",
	"nc-container",
	"slidetounlock",
}

// IsBlocked reports whether html looks like a bot-mitigation page.
func IsBlocked(html string) bool {
	lower := strings.ToLower(html)
	for _, m := range blockMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Rule maps a predicate over lowercased HTML to a challenge type.
type Rule struct {
	Type  ChallengeType
	Match func(lower string) bool
}

func anyOf(markers ...string) func(string) bool {
	return func(lower string) bool {
		for _, m := range markers {
			if strings.Contains(lower, m) {
				return true
			}
		}
		return false
	}
}

// Rules is the classification table. Order matters: the first match wins.
var Rules = []Rule{
	{TypeAlibabaSlider, anyOf("nc_1_nocaptcha", "slidetounlock", "slide to verify", "nc-container")},
	{TypeRecaptchaV2, anyOf("g-recaptcha", "recaptcha")},
	{TypeHCaptcha, anyOf("hcaptcha", "h-captcha")},
	{TypeImage, func(lower string) bool {
		return strings.Contains(lower, "captcha") &&
			(strings.Contains(lower, "<img") || strings.Contains(lower, "image"))
	}},
	{TypeCloudflare, anyOf("cloudflare", "cf-challenge", "cf_chl_opt", "cf-turnstile")},
}

// Classify returns the challenge type for html. It never fails; pages that
// match no rule are TypeUnknown.
func Classify(html string) ChallengeType {
	lower := strings.ToLower(html)
	for _, r := range Rules {
		if r.Match(lower) {
			return r.Type
		}
	}
	return TypeUnknown
}

var siteKeyPattern = regexp.MustCompile(`data-sitekey="([^"]+)"`)

// ExtractSiteKey returns the first data-sitekey attribute value in html.
func ExtractSiteKey(html string) (string, bool) {
	m := siteKeyPattern.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Detect classifies a blocked page. It reports false when html is not blocked.
func Detect(html, pageURL string) (Challenge, bool) {
	if !IsBlocked(html) {
		return Challenge{}, false
	}
	ch := Challenge{
		Type:    Classify(html),
		PageURL: pageURL,
		HTML:    html,
	}
	ch.SiteKey, _ = ExtractSiteKey(html)
	return ch, true
}
