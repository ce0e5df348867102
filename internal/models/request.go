package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FetchMode determines how pages are fetched.
type FetchMode string

const (
	FetchModeStatic  FetchMode = "static"
	FetchModeDynamic FetchMode = "dynamic"
	// FetchModeAuto fetches statically and escalates to the browser when the
	// page needs JavaScript or is blocked.
	FetchModeAuto FetchMode = "auto"
)

// SelectionMode names one of the five content selection modes.
type SelectionMode string

const (
	ModeTag   SelectionMode = "tag"
	ModeClass SelectionMode = "class"
	ModeID    SelectionMode = "id"
	ModeCSS   SelectionMode = "css"
	ModeXPath SelectionMode = "xpath"
)

// SelectionModes lists the modes in output order.
var SelectionModes = []SelectionMode{ModeTag, ModeClass, ModeID, ModeCSS, ModeXPath}

// Selections holds the optional selection specs. Empty fields are skipped.
type Selections struct {
	Tag   string `json:"tag,omitempty" yaml:"tag,omitempty" mapstructure:"tag"`
	Class string `json:"class,omitempty" yaml:"class,omitempty" mapstructure:"class"`
	ID    string `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	CSS   string `json:"css,omitempty" yaml:"css,omitempty" mapstructure:"css"`
	XPath string `json:"xpath,omitempty" yaml:"xpath,omitempty" mapstructure:"xpath"`
}

// Get returns the spec for a mode.
func (s Selections) Get(mode SelectionMode) string {
	switch mode {
	case ModeTag:
		return s.Tag
	case ModeClass:
		return s.Class
	case ModeID:
		return s.ID
	case ModeCSS:
		return s.CSS
	case ModeXPath:
		return s.XPath
	}
	return ""
}

// Empty reports whether no selection is configured.
func (s Selections) Empty() bool {
	for _, m := range SelectionModes {
		if strings.TrimSpace(s.Get(m)) != "" {
			return false
		}
	}
	return true
}

// ScrapeRequest is one scrape invocation. It is treated as immutable once a
// session has started.
type ScrapeRequest struct {
	URL             string     `json:"url" yaml:"url" validate:"required,http_url"`
	Mode            FetchMode  `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=static dynamic auto"`
	Selections      Selections `json:"selections" yaml:"selections"`
	Proxy           string     `json:"proxy,omitempty" yaml:"proxy,omitempty" validate:"omitempty,url"`
	CaptchaAPIKey   string     `json:"captcha_api_key,omitempty" yaml:"-"`
	FlareSolverrURL string     `json:"flaresolverr_url,omitempty" yaml:"flaresolverr_url,omitempty" validate:"omitempty,http_url"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Normalize returns a copy with defaults applied: an empty mode becomes
// static and a proxy without a scheme gets "http://".
func (r ScrapeRequest) Normalize() ScrapeRequest {
	r.URL = strings.TrimSpace(r.URL)
	if r.Mode == "" {
		r.Mode = FetchModeStatic
	}
	r.Proxy = NormalizeProxy(r.Proxy)
	return r
}

// Validate checks the request and returns an INVALID_REQUEST ScrapeError
// describing every failing field.
func (r ScrapeRequest) Validate() error {
	err := getValidator().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewScrapeError(ErrCodeInvalidRequest, "invalid request", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return NewScrapeError(ErrCodeInvalidRequest, strings.Join(msgs, "; "), nil)
}

// NormalizeProxy prepends http:// to a proxy address without a scheme.
func NormalizeProxy(proxy string) string {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" || strings.Contains(proxy, "://") {
		return proxy
	}
	return "http://" + proxy
}
