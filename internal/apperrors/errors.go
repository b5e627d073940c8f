// SPDX-License-Identifier: AGPL-3.0-only

// Package apperrors defines the error taxonomy described in the service's
// error-handling design: validation failures surfaced to RPC callers,
// storage failures that abort an operation, execution failures captured as
// history entries, and migration failures that are logged but never fatal.
package apperrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an apperrors.Error for callers that need to branch on it
// (e.g. the RPC surface deciding whether to include a stack trace).
type Kind string

const (
	KindValidation Kind = "validation"
	KindStore      Kind = "store"
	KindExecution  Kind = "execution"
	KindTimeout    Kind = "timeout"
	KindMigration  Kind = "migration"
	KindInternal   Kind = "internal"
)

// Error is a typed, optionally stack-carrying error. The stack is populated
// only for kinds where a trace is useful to an operator (store/migration/internal);
// validation errors are user mistakes and never carry one.
type Error struct {
	kind  Kind
	msg   string
	cause error
	stack error // non-nil only when a stack trace was captured
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Stack renders the captured stack trace, or "" if none was captured.
func (e *Error) Stack() string {
	if e.stack == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.stack)
}

func newError(kind Kind, withStack bool, msg string, cause error) *Error {
	e := &Error{kind: kind, msg: msg, cause: cause}
	if withStack {
		if cause != nil {
			e.stack = errors.WithStack(cause)
		} else {
			e.stack = errors.New(msg)
		}
	}
	return e
}

// InvalidInput builds a ValidationError with a human-readable reason.
func InvalidInput(msg string) *Error {
	return newError(KindValidation, false, msg, nil)
}

// NotFound builds a ValidationError for a missing entity, per the taxonomy
// ("non-existent task id" is classified as validation, not store, because it
// never reaches storage).
func NotFound(entity, id string) *Error {
	return newError(KindValidation, false, fmt.Sprintf("%s not found: %s", entity, id), nil)
}

// AlreadyExists builds a ValidationError for an id collision.
func AlreadyExists(entity, id string) *Error {
	return newError(KindValidation, false, fmt.Sprintf("%s already exists: %s", entity, id), nil)
}

// Store wraps an underlying persistence failure as a StoreError, capturing a
// stack trace for operator diagnosis.
func Store(cause error) *Error {
	return newError(KindStore, true, "store error", cause)
}

// Execution wraps a failure that occurred while servicing a fire.
func Execution(msg string, cause error) *Error {
	return newError(KindExecution, false, msg, cause)
}

// Timeout builds the canonical sampling-timeout ExecutionError.
func Timeout(seconds int) *Error {
	return newError(KindTimeout, false, fmt.Sprintf("Sampling request timed out after %ds", seconds), nil)
}

// Migration wraps a legacy-import failure. Never fatal; callers log it.
func Migration(cause error) *Error {
	return newError(KindMigration, true, "legacy migration failed", cause)
}

// Internal wraps an unexpected failure, capturing a stack trace.
func Internal(cause error) *Error {
	return newError(KindInternal, true, "internal error", cause)
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return kindOf(err) == KindValidation }

// IsStore reports whether err is a StoreError.
func IsStore(err error) bool { return kindOf(err) == KindStore }

func kindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.kind
	}
	return ""
}
