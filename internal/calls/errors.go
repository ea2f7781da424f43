package calls

import (
	"errors"
	"fmt"
)

// Kind is the machine-distinguishable category of a call lifecycle error.
type Kind string

const (
	KindInvalidNumberFormat Kind = "invalid_number_format"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindDuplicateToken      Kind = "duplicate_token"
	KindUnknownCallToken    Kind = "unknown_call_token"
	KindUnknownStatusValue  Kind = "unknown_status_value"
	KindNotFound            Kind = "not_found"
	KindInvalidEvent        Kind = "invalid_event"
	KindInvariantViolation  Kind = "invariant_violation"
	KindInternal            Kind = "internal"
)

// Error carries a Kind plus a human-readable message.
// errors.Is matches any *Error of the same Kind, so the sentinels below work through wrapping.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// E builds an *Error.
func E(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

var (
	ErrInvalidNumberFormat = E(KindInvalidNumberFormat, "invalid phone number format", nil)
	ErrProviderUnavailable = E(KindProviderUnavailable, "voice provider unavailable", nil)
	ErrDuplicateToken      = E(KindDuplicateToken, "call token already recorded", nil)
	ErrUnknownCallToken    = E(KindUnknownCallToken, "unknown call token", nil)
	ErrUnknownStatusValue  = E(KindUnknownStatusValue, "unknown status value", nil)
	ErrNotFound            = E(KindNotFound, "call record not found", nil)
	ErrInvalidEvent        = E(KindInvalidEvent, "invalid status event", nil)
	ErrInvariantViolation  = E(KindInvariantViolation, "call record invariant violated", nil)
)

// KindOf extracts the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human-readable message of err without wrapped causes.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
