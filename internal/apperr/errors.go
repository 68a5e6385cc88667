// Package apperr defines the application error taxonomy: coded errors that
// carry a human-readable cause and, where applicable, a suggested remedy.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for the application.
const (
	CodeUnknown        = "UNKNOWN"
	CodeDecode         = "DECODE"
	CodeStoreAccess    = "STORE_ACCESS"
	CodeQueryCancelled = "QUERY_CANCELLED"
	CodeAuth           = "AUTH"
	CodeRateLimited    = "RATE_LIMITED"
	CodeUnavailable    = "UNAVAILABLE"
)

// CodedError is the interface implemented by all application errors.
type CodedError interface {
	error
	Code() string
	Unwrap() error
}

// Error is the base coded error. Remedy is a user-actionable suggestion and
// may be empty for errors that are absorbed internally.
type Error struct {
	code    string
	message string
	remedy  string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *Error) Code() string { return e.code }

func (e *Error) Unwrap() error { return e.err }

// Remedy returns the suggested user action, or "" if none applies.
func (e *Error) Remedy() string { return e.remedy }

// Code extracts the application error code from err, or CodeUnknown.
func Code(err error) string {
	var ce CodedError
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return CodeUnknown
}

// Remedy extracts the suggested remedy from err, or "".
func Remedy(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.remedy
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.base.remedy
	}
	return ""
}

// NewDecodeError marks a message payload as undecodable. Callers degrade the
// message to empty text; this never aborts a scan.
func NewDecodeError(message string, cause error) error {
	return &Error{code: CodeDecode, message: message, err: cause}
}

// NewStoreAccessError reports that the message store is missing or unreadable.
// Fatal to the calling operation.
func NewStoreAccessError(message string, cause error) error {
	return &Error{
		code:    CodeStoreAccess,
		message: message,
		remedy:  "grant the service read access to the message store file, or point db_path at a readable copy",
		err:     cause,
	}
}

// NewAuthError reports a missing, invalid, or unrefreshable catalog
// credential. Requires the re-authorization flow.
func NewAuthError(message string, cause error) error {
	return &Error{
		code:    CodeAuth,
		message: message,
		remedy:  "re-authorize with the music catalog via /api/auth/login",
		err:     cause,
	}
}

// NewUnavailableError reports a transient catalog failure (network error or
// 5xx). Retryable with bounded attempts.
func NewUnavailableError(message string, cause error) error {
	return &Error{
		code:    CodeUnavailable,
		message: message,
		remedy:  "check network connectivity and retry",
		err:     cause,
	}
}

// RateLimitedError reports a catalog rate-limit response. RetryAfter is the
// backoff suggested by the catalog and must be treated as a floor by retry
// loops.
type RateLimitedError struct {
	base       Error
	RetryAfter time.Duration
}

func NewRateLimitedError(retryAfter time.Duration) error {
	return &RateLimitedError{
		base: Error{
			code:    CodeRateLimited,
			message: fmt.Sprintf("catalog rate limit exceeded, retry after %s", retryAfter),
			remedy:  "wait for the suggested backoff before retrying",
		},
		RetryAfter: retryAfter,
	}
}

func (e *RateLimitedError) Error() string { return e.base.Error() }

func (e *RateLimitedError) Code() string { return e.base.Code() }

func (e *RateLimitedError) Unwrap() error { return e.base.Unwrap() }

// IsRetryable reports whether err is a transient catalog condition that a
// bounded retry loop may attempt again.
func IsRetryable(err error) bool {
	switch Code(err) {
	case CodeRateLimited, CodeUnavailable:
		return true
	}
	return false
}
