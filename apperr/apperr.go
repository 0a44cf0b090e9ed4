// Package apperr classifies lifecycle failures so transport layers can react
// to the kind of failure without parsing message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an operation.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuthorization   Kind = "authorization"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindDeadlineExpired Kind = "deadline_expired"
	KindInternal        Kind = "internal"
)

// Error is a classified error. It wraps an inner error so errors.Is and
// errors.As keep working through the chain.
type Error struct {
	Kind Kind
	Err  error
}

// Kind sentinels. errors.Is(err, ErrConflict) matches any *Error of that kind.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrAuthorization   = &Error{Kind: KindAuthorization}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrDeadlineExpired = &Error{Kind: KindDeadlineExpired}
	ErrInternal        = &Error{Kind: KindInternal}
)

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Err != nil {
		return e == t
	}
	return t.Kind == e.Kind
}

// Validation creates a validation error: malformed or out-of-range input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// Authorization creates an authorization error: the caller is known but not
// permitted to act on this record.
func Authorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Err: fmt.Errorf(format, args...)}
}

// Conflict creates a conflict error: the operation would break a uniqueness
// or lock rule.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Err: fmt.Errorf(format, args...)}
}

// DeadlineExpired creates a deadline error: a time window has closed.
func DeadlineExpired(format string, args ...any) *Error {
	return &Error{Kind: KindDeadlineExpired, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error.
func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain. Unclassified
// errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
