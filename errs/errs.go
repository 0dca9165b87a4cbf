// Package errs provides structured error types and helpers for the tidewire session layer.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a session-layer error category.
type Code string

const (
	// CodeInvalidState indicates a method was called out of lifecycle order.
	CodeInvalidState Code = "invalid_state"
	// CodeRequestInvalid indicates a non-security-scoped protocol error in a response.
	CodeRequestInvalid Code = "request_invalid"
	// CodeTimeout indicates a timed result retrieval expired before the response arrived.
	CodeTimeout Code = "timeout"
	// CodeCancelled indicates the caller cancelled the pending request.
	CodeCancelled Code = "cancelled"
	// CodeNetwork indicates a transport failure talking to the daemon.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource or correlation.
	CodeNotFound Code = "not_found"
	// CodeSubscriptionFailure indicates a terminal per-security subscription failure.
	CodeSubscriptionFailure Code = "subscription_failure"
	// CodeUnavailable indicates the session or daemon is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the tidewire stack.
type E struct {
	Component   string
	Code        Code
	Correlation string
	Security    string
	Field       string
	Message     string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component:   strings.TrimSpace(component),
		Code:        code,
		Correlation: "",
		Security:    "",
		Field:       "",
		Message:     "",
		cause:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCorrelation records the correlation id the error relates to.
func WithCorrelation(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.Correlation = trimmed
	}
}

// WithSecurity records the security identifier the error is scoped to.
func WithSecurity(security string) Option {
	trimmed := strings.TrimSpace(security)
	return func(e *E) {
		e.Security = trimmed
	}
}

// WithField records the field mnemonic the error is scoped to.
func WithField(field string) Option {
	trimmed := strings.TrimSpace(field)
	return func(e *E) {
		e.Field = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Correlation != "" {
		parts = append(parts, "correlation="+e.Correlation)
	}
	if e.Security != "" {
		parts = append(parts, "security="+strconv.Quote(e.Security))
	}
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the session-layer code from err, or an empty code when err
// does not wrap an *E envelope.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return ""
}

// IsInvalidState reports whether err is an invalid-state error.
func IsInvalidState(err error) bool { return CodeOf(err) == CodeInvalidState }

// IsRequestInvalid reports whether err is a fatal request-level protocol error.
func IsRequestInvalid(err error) bool { return CodeOf(err) == CodeRequestInvalid }

// IsTimeout reports whether err is a result-retrieval timeout.
func IsTimeout(err error) bool { return CodeOf(err) == CodeTimeout }

// IsCancelled reports whether err represents a caller-initiated cancellation.
func IsCancelled(err error) bool { return CodeOf(err) == CodeCancelled }

// IsSubscriptionFailure reports whether err is a terminal subscription failure.
func IsSubscriptionFailure(err error) bool { return CodeOf(err) == CodeSubscriptionFailure }
