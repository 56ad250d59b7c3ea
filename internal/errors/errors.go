// Package errors defines the classified error type carried through the
// generation pipeline. Every failure surfaced from a running job has a kind
// and a human-readable message; the kind decides retry eligibility and is
// persisted on the job verbatim.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors for persistence and retry routing.
type Kind string

const (
	// KindMissingAsset means a referenced content object is absent from storage.
	KindMissingAsset Kind = "missing_asset"
	// KindUnresolvedChoice means no condition matched and no default target exists.
	KindUnresolvedChoice Kind = "unresolved_choice"
	// KindMissingTab means the requested workbook tab does not exist.
	KindMissingTab Kind = "missing_tab"
	// KindValidation means a precondition failed before a job was created.
	KindValidation Kind = "validation"
	// KindTransientStorage means a collaborator failed in a retryable way.
	KindTransientStorage Kind = "transient_storage"
	// KindTimeout means execution exceeded its bound.
	KindTimeout Kind = "timeout"
	// KindInternal covers everything else surfaced from the pipeline.
	KindInternal Kind = "internal"
)

// Error is the classified pipeline error.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New builds a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a classified error around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether retrying can change the outcome. Resolution
// errors are deterministic; only transient collaborator failures qualify.
func (e *Error) Retryable() bool { return e.Kind == KindTransientStorage }

// Is matches on kind, so errors.Is comparisons work across wrap layers.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// As extracts a classified error from an error chain.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns the kind carried by err, or KindInternal for unclassified
// errors (nothing leaves the pipeline without a kind).
func KindOf(err error) Kind {
	if ce, ok := As(err); ok {
		return ce.Kind
	}
	return KindInternal
}

// Retryable reports whether err carries a retryable kind.
func Retryable(err error) bool {
	if ce, ok := As(err); ok {
		return ce.Retryable()
	}
	return false
}
