// Package adapters holds the error vocabulary shared by all backend adapters.
// Adapters classify every failure into one Kind; the orchestrator decides the
// policy (retry, clear mapping, skip, abort) from the Kind alone.
package adapters

import (
	"errors"
	"fmt"
)

// Kind classifies an adapter failure.
type Kind int

const (
	// KindTransient is a failure worth retrying on the next cycle
	// (network, 5xx, timeouts, busy subprocess).
	KindTransient Kind = iota
	// KindNotFound means the remote entity is gone; mappings referring to
	// it should be cleared.
	KindNotFound
	// KindMalformed is an unparseable payload or an unrecognized vocabulary
	// value; logged and skipped, never retried silently.
	KindMalformed
	// KindForbidden is an auth/permission failure; logged sparingly, skipped.
	KindForbidden
	// KindFatal aborts the cycle and marks the daemon unhealthy.
	KindFatal
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed"
	case KindForbidden:
		return "forbidden"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified adapter failure wrapping the underlying cause.
type Error struct {
	Kind Kind
	Op   string // adapter operation, e.g. "primary.ListIssues"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is NewError with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// treated as transient so they get another chance next cycle.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

// IsTransient reports whether err should be retried on a later cycle.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsNotFound reports whether err means the remote entity no longer exists.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
