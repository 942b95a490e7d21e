// Package apperr defines the structured errors that cross the engine's
// boundary. Every error carries a kind from a closed set, the module that
// raised it, and a human-readable message. Driver errors are wrapped, never
// exposed directly.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error condition. Kinds are strings so they serialise
// naturally into activity result envelopes.
type Kind string

const (
	// KindConnection means a legacy source or the document store could not be reached.
	KindConnection Kind = "CONNECTION_FAILURE"

	// KindRequest means the server rejected a query.
	KindRequest Kind = "REQUEST_FAILURE"

	// KindDriver covers any other driver-level failure.
	KindDriver Kind = "DRIVER_FAILURE"

	// KindNotFound means an expected entity is absent.
	KindNotFound Kind = "NOT_FOUND"

	// KindValidation means a record failed a business rule.
	KindValidation Kind = "VALIDATION"

	// KindDataShape means a record had an unexpected format.
	KindDataShape Kind = "DATA_SHAPE"

	// KindConflict means a conditional write lost to a newer one.
	KindConflict Kind = "CONFLICT"

	// KindMigrationFatal aborts a migration page.
	KindMigrationFatal Kind = "MIGRATION_FATAL"

	// KindInternal is everything else.
	KindInternal Kind = "INTERNAL"
)

// Error is the engine's structured error
type Error struct {
	Kind    Kind   `json:"kind"`
	Module  string `json:"module"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Module, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Module, e.Kind, e.Message)
}

// Summary renders the error without its cause. Only this form may leave
// the engine; the full chain belongs in logs.
func (e *Error) Summary() string {
	return fmt.Sprintf("%s [%s]: %s", e.Module, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, apperr.NotFoundError) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Module == "" && t.Message == "" && t.Kind == e.Kind
}

// New creates an error of the given kind
func New(kind Kind, module, message string) *Error {
	return &Error{Kind: kind, Module: module, Message: message}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, module, message string, err error) *Error {
	return &Error{Kind: kind, Module: module, Message: message, Err: err}
}

// NotFound is a shorthand for a KindNotFound error
func NotFound(module, message string) *Error {
	return New(KindNotFound, module, message)
}

// Sentinel values for errors.Is
var (
	NotFoundError   = &Error{Kind: KindNotFound}
	ConnectionError = &Error{Kind: KindConnection}
	ValidationError = &Error{Kind: KindValidation}
)

// KindOf returns the kind of the first *Error in the chain, or KindInternal
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict reports whether err is a lost conditional write
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsRetryable reports whether the workflow host should redeliver the activity
func IsRetryable(err error) bool {
	return KindOf(err) == KindConnection
}

// From converts any error into an *Error, keeping an existing one as is
func From(module string, err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(KindInternal, module, "unexpected failure", err)
}

// Describe returns the boundary-safe summary of any error
func Describe(module string, err error) string {
	return From(module, err).Summary()
}
