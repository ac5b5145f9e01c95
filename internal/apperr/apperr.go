// Package apperr defines the closed error taxonomy shared by every HTTP route.
//
// Domain packages return their own sentinel or typed errors; handlers convert
// them into an *Error with a Kind, which fixes both the HTTP status and the
// stable machine-readable code written to the response envelope.
package apperr

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// Kind classifies an error for the response formatter.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
	KindTimeout
	KindUnavailable
)

var kindInfo = map[Kind]struct {
	code   string
	status int
}{
	KindInternal:        {"INTERNAL_ERROR", http.StatusInternalServerError},
	KindValidation:      {"VALIDATION_ERROR", http.StatusBadRequest},
	KindUnauthenticated: {"UNAUTHENTICATED", http.StatusUnauthorized},
	KindForbidden:       {"FORBIDDEN", http.StatusForbidden},
	KindNotFound:        {"NOT_FOUND", http.StatusNotFound},
	KindConflict:        {"CONFLICT", http.StatusConflict},
	KindRateLimited:     {"RATE_LIMITED", http.StatusTooManyRequests},
	KindTimeout:         {"TIMEOUT", http.StatusGatewayTimeout},
	KindUnavailable:     {"SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
}

// Code returns the stable machine-readable code for k.
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return kindInfo[KindInternal].code
}

// Status returns the HTTP status code for k.
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func (k Kind) String() string { return k.Code() }

// Error is an error enriched with everything the response formatter needs.
type Error struct {
	Kind    Kind
	Message string
	// Details is optional structured context, e.g. per-field validation
	// messages. Stripped outside development for internal errors.
	Details any
	// RetryAfter is only meaningful for KindRateLimited.
	RetryAfter time.Duration
	// Code overrides Kind.Code() when set.
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// MachineCode returns Code if set, otherwise the Kind's code.
func (e *Error) MachineCode() string {
	if e.Code != "" {
		return e.Code
	}
	return e.Kind.Code()
}

// Status returns the HTTP status for the error.
func (e *Error) Status() int { return e.Kind.Status() }

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Validation(msg string, details any) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

func Unauthenticated(msg string) *Error { return newError(KindUnauthenticated, msg) }

func Forbidden(msg string) *Error { return newError(KindForbidden, msg) }

func NotFound(msg string) *Error { return newError(KindNotFound, msg) }

func Conflict(msg string) *Error { return newError(KindConflict, msg) }

func Timeout(msg string) *Error { return newError(KindTimeout, msg) }

// RateLimited builds a 429 error that carries the retry hint.
func RateLimited(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: msg, RetryAfter: retryAfter}
}

// Unavailable builds a 503 error for a failed-closed dependency.
func Unavailable(code, msg string, err error) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: msg, Err: err}
}

// Internal wraps an unexpected error.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// From converts any error into an *Error. Deadline errors become timeouts so
// a handler cancelled by Timeout middleware reports 504.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	return Internal(err)
}

// IsKind reports whether err converts to an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
