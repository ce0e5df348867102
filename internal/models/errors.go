// Package models holds the request and error types shared by the fetch,
// captcha, session and server packages.
package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeTransport       = "TRANSPORT_ERROR"
	ErrCodeNavigation      = "NAVIGATION_FAILED"
	ErrCodeAutomationSetup = "AUTOMATION_SETUP_FAILED"
	ErrCodeSelector        = "SELECTOR_INVALID"
	ErrCodeCaptchaService  = "CAPTCHA_SERVICE_ERROR"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeConflict        = "SESSION_CONFLICT"
	ErrCodeNotFound        = "SESSION_NOT_FOUND"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses and saved outcomes.
type ErrorDetail struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// Code returns the code of the first ScrapeError in err's chain, or
// ErrCodeInternal when there is none.
func Code(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// Detail converts any error into an ErrorDetail.
func Detail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		d := se.ToDetail()
		if se.Err != nil {
			d.Message = fmt.Sprintf("%s: %v", se.Message, se.Err)
		}
		return d
	}
	return &ErrorDetail{Code: ErrCodeInternal, Message: err.Error()}
}
