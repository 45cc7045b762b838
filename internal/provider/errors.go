package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"clientdesk/backend/internal/domain"
)

type ErrorKind string

const (
	// KindAuthExpired: the refresh token is invalid or revoked. Never
	// retried; the user must re-run the connect flow.
	KindAuthExpired ErrorKind = "auth_expired"
	// KindUnavailable: transient network or 5xx failure, safe to retry.
	KindUnavailable ErrorKind = "unavailable"
	// KindRejected: the provider rejected the request (4xx). Fatal.
	KindRejected ErrorKind = "rejected"
	KindNotFound ErrorKind = "not_found"
)

type Error struct {
	Provider domain.Provider
	Kind     ErrorKind
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(p domain.Provider, kind ErrorKind, op string, err error) *Error {
	return &Error{Provider: p, Kind: kind, Op: op, Err: err}
}

// FromStatus classifies an HTTP status in the common way; adapters layer
// provider-specific cases (invalid_grant and friends) on top.
func FromStatus(p domain.Provider, op string, status int, err error) *Error {
	switch {
	case status == http.StatusUnauthorized:
		return NewError(p, KindAuthExpired, op, err)
	case status == http.StatusNotFound || status == http.StatusGone:
		return NewError(p, KindNotFound, op, err)
	case status == http.StatusTooManyRequests || status >= 500:
		return NewError(p, KindUnavailable, op, err)
	default:
		return NewError(p, KindRejected, op, err)
	}
}

func kindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

func IsAuthExpired(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuthExpired
}

func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

func IsRejected(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRejected
}

// IsTransient reports whether retrying could help. Timeouts count: an
// aborted in-flight call is indistinguishable from a dropped network.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	k, ok := kindOf(err)
	return ok && k == KindUnavailable
}
