// Package apierr maps the proxy's internal failure kinds to the HTTP status
// and body the client surface returns, per the error table in SPEC_FULL.md
// §7. The Postgres lock-conflict code itself is translated in
// internal/store (classifyPQError); here KindLockConflict maps to 409, and
// an unclassified error maps to 500.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the failure categories the request pipeline and payment
// service can produce.
type Kind int

const (
	// KindInternal is an unclassified internal failure; surfaced as 500.
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindRateLimited
	KindLockConflict
	KindUpstreamUnavailable
	KindUpstreamTimeout
	KindNotFound
	KindPaymentNotPending
)

// Error is a typed failure carrying the HTTP status it maps to.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfterSeconds is set only for KindRateLimited.
	RetryAfterSeconds int
	err               error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindLockConflict:
		return http.StatusConflict
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindNotFound:
		return http.StatusNotFound
	case KindPaymentNotPending:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches context to err and classifies it, following the standard
// fmt.Errorf("%s: %w", ...) wrapping convention but retaining the Kind for
// HTTP mapping.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, err: err}
}

// RateLimited builds a KindRateLimited error carrying the Retry-After value.
func RateLimited(retryAfterSeconds int) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfterSeconds: retryAfterSeconds}
}

// As extracts an *Error from err, matching the standard errors.As contract.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
