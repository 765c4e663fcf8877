package model

import (
	"errors"
	"fmt"
)

// Kind classifies a broker Error for HTTP status mapping and logging.
// Grounded on the original service's exception hierarchy (ValidationError,
// NotFoundError, ConflictError, ConnectorError, RateLimitError,
// AuthenticationError, AuthorizationError, ConfigurationError,
// TransientFailureError), collapsed into one type plus an enum.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindConnector        Kind = "connector"
	KindRateLimit        Kind = "rate_limit"
	KindAuthentication   Kind = "authentication"
	KindAuthorization    Kind = "authorization"
	KindConfiguration    Kind = "configuration"
	KindTransientFailure Kind = "transient_failure"
)

// Error is the single error type the broker raises across component
// boundaries. Field and Details are optional and only ever surfaced
// for KindValidation.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Details map[string]any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

func NewValidation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func NewNotFound(resourceType, resourceID string) *Error {
	msg := resourceType + " not found"
	if resourceID != "" {
		msg = fmt.Sprintf("%s %q not found", resourceType, resourceID)
	}
	return &Error{Kind: KindNotFound, Message: msg}
}

func NewConflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NewConnector(connector, operation string, err error) *Error {
	msg := fmt.Sprintf("%s error during %s", connector, operation)
	return &Error{Kind: KindConnector, Message: msg, Wrapped: err}
}

func NewRateLimit(limit int, windowSeconds int) *Error {
	return &Error{
		Kind:    KindRateLimit,
		Message: fmt.Sprintf("rate limit exceeded: %d requests per %d seconds", limit, windowSeconds),
	}
}

func NewAuthentication(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

func NewAuthorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NewConfiguration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func NewTransientFailure(format string, args ...any) *Error {
	return &Error{Kind: KindTransientFailure, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps err into a *Error if it (or something it wraps) is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
