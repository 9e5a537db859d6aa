// Package errors defines the typed error taxonomy for the booking engine.
// Callers branch on Kind, never on message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindNotFound             Kind = "not_found"
	KindUnauthorized         Kind = "unauthorized"
	KindRaceLost             Kind = "race_lost"
	KindNoPaymentMethod      Kind = "no_payment_method"
	KindCardDeclined         Kind = "card_declined"
	KindRequiresAction       Kind = "payment_requires_action"
	KindAuthorityUnavailable Kind = "payment_authority_unavailable"
	KindDatastoreUnavailable Kind = "datastore_unavailable"
	KindRateLimited          Kind = "rate_limited"
	KindInternal             Kind = "internal_error"
)

// Error carries a machine-readable kind alongside a human message.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// RetryAfter is set in seconds for KindRateLimited responses.
	RetryAfter int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// RetryAfterOf returns the retry-after hint in seconds, zero when absent.
func RetryAfterOf(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error kind to the response status per the API contract:
// 409 signals a lost race, 429 a rate limit, 402 user-recoverable payment
// outcomes and 5xx transient collaborator failure.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRaceLost:
		return http.StatusConflict
	case KindNoPaymentMethod, KindCardDeclined, KindRequiresAction:
		return http.StatusPaymentRequired
	case KindAuthorityUnavailable, KindDatastoreUnavailable:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
