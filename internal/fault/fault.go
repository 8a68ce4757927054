// Package fault defines the error taxonomy shared by every service: callers
// correct Validation errors, AccessDenied and InvalidState describe policy,
// Upstream wraps broker/storage/mail failures without leaking their payloads.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAccessDenied
	KindInvalidState
	KindNotFound
	KindTokenExpired
	KindInvalidToken
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAccessDenied:
		return "access_denied"
	case KindInvalidState:
		return "invalid_state"
	case KindNotFound:
		return "not_found"
	case KindTokenExpired:
		return "token_expired"
	case KindInvalidToken:
		return "invalid_token"
	case KindUpstream:
		return "upstream_failure"
	default:
		return "unknown"
	}
}

// Error carries a kind, a caller-facing message and an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns the caller-facing message without the wrapped cause.
func (e *Error) Message() string { return e.Msg }

// Validation reports a caller-correctable input error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// AccessDenied reports a role or ownership mismatch.
func AccessDenied(format string, args ...any) error {
	return &Error{Kind: KindAccessDenied, Msg: fmt.Sprintf(format, args...)}
}

// InvalidState reports an illegal workflow transition, carrying the current
// state in the message.
func InvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports an unresolvable document id.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// TokenExpired reports an expired bearer token.
func TokenExpired(msg string) error {
	return &Error{Kind: KindTokenExpired, Msg: msg}
}

// InvalidToken reports a token that failed validation for any other reason.
func InvalidToken(msg string) error {
	return &Error{Kind: KindInvalidToken, Msg: msg}
}

// Upstream wraps a failed broker/storage/mail call. The cause stays internal;
// only msg is shown to callers.
func Upstream(msg string, err error) error {
	return &Error{Kind: KindUpstream, Msg: msg, Err: err}
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
