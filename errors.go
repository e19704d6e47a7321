package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authcore/storage"
)

// ErrorKind classifies every failure returned by the [Engine]. Callers
// branch on the kind, never on message text.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindAccountInactive    ErrorKind = "account_inactive"
	KindNotVerified        ErrorKind = "not_verified"
	KindEmailInUse         ErrorKind = "email_in_use"
	KindWeakPassword       ErrorKind = "weak_password"
	KindInvalidToken       ErrorKind = "invalid_token"
	KindTokenExpired       ErrorKind = "token_expired"
	KindUserNotFound       ErrorKind = "user_not_found"
	KindRoleNotFound       ErrorKind = "role_not_found"
	KindRoleNameInUse      ErrorKind = "role_name_in_use"
	KindAccessDenied       ErrorKind = "access_denied"
	KindUnavailable        ErrorKind = "unavailable"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindRateLimited        ErrorKind = "rate_limited"
)

var kindMessages = map[ErrorKind]string{
	KindInvalidCredentials: "invalid credentials",
	KindAccountInactive:    "invalid credentials",
	KindNotVerified:        "invalid credentials",
	KindEmailInUse:         "email already in use",
	KindWeakPassword:       "password does not satisfy policy",
	KindInvalidToken:       "invalid token",
	KindTokenExpired:       "token expired",
	KindUserNotFound:       "user not found",
	KindRoleNotFound:       "role not found",
	KindRoleNameInUse:      "role name already in use",
	KindAccessDenied:       "access denied",
	KindUnavailable:        "service unavailable",
	KindInvalidInput:       "invalid input",
	KindRateLimited:        "too many attempts",
}

// Error is the single error type returned by engine operations.
//
// Err holds the underlying cause for logging and errors.Is chains. It is
// never rendered by Error for authentication-class kinds, so an unknown
// account and a wrong password produce byte-identical messages.
type Error struct {
	Kind    ErrorKind
	Reasons []string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg, ok := kindMessages[e.Kind]
	if !ok {
		msg = string(e.Kind)
	}
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	if e.Err != nil && !e.Kind.authentication() {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

func (k ErrorKind) authentication() bool {
	switch k {
	case KindInvalidCredentials, KindAccountInactive, KindNotVerified:
		return true
	default:
		return false
	}
}

// Kind sentinels for errors.Is.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrAccountInactive    = &Error{Kind: KindAccountInactive}
	ErrNotVerified        = &Error{Kind: KindNotVerified}
	ErrEmailInUse         = &Error{Kind: KindEmailInUse}
	ErrWeakPassword       = &Error{Kind: KindWeakPassword}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired}
	ErrUserNotFound       = &Error{Kind: KindUserNotFound}
	ErrRoleNotFound       = &Error{Kind: KindRoleNotFound}
	ErrRoleNameInUse      = &Error{Kind: KindRoleNameInUse}
	ErrAccessDenied       = &Error{Kind: KindAccessDenied}
	ErrUnavailable        = &Error{Kind: KindUnavailable}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
)

// KindOf returns the kind carried by err, or "" when err is nil or not an
// engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return ""
}

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func weakPassword(reasons []string) *Error {
	return &Error{Kind: KindWeakPassword, Reasons: append([]string(nil), reasons...)}
}

func invalidInput(reason string) *Error {
	return &Error{Kind: KindInvalidInput, Reasons: []string{reason}}
}

// unavailableIfTransient returns an Unavailable error when err stems from
// the caller's context or a backend outage, and nil otherwise.
func unavailableIfTransient(err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, storage.ErrUnavailable) {
		return newError(KindUnavailable, err)
	}
	return nil
}

// storageError maps a storage failure onto one kind. notFound is the kind
// used for storage.ErrNotFound, which depends on what was being looked up.
func storageError(err error, notFound ErrorKind) error {
	if err == nil {
		return nil
	}
	if u := unavailableIfTransient(err); u != nil {
		return u
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return newError(notFound, err)
	case errors.Is(err, storage.ErrExpired):
		return newError(KindTokenExpired, err)
	case errors.Is(err, storage.ErrEmailInUse):
		return newError(KindEmailInUse, err)
	case errors.Is(err, storage.ErrRoleNameInUse):
		return newError(KindRoleNameInUse, err)
	default:
		return newError(KindUnavailable, err)
	}
}
