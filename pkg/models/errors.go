package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the stable error taxonomy exposed over the wire and in
// telemetry. Raw error strings never leave the node; kinds do.
type ErrorKind string

// Error kinds, ordered roughly by where they occur in the request path.
const (
	KindNone                  ErrorKind = ""
	KindBadRequest            ErrorKind = "bad_request"
	KindOverCapacity          ErrorKind = "over_capacity"
	KindTimeout               ErrorKind = "timeout"
	KindCancelled             ErrorKind = "cancelled"
	KindDependencyUnavailable ErrorKind = "dependency_unavailable"
	KindIncompatibleEmbedding ErrorKind = "incompatible_embedding"
	KindChecksumMismatch      ErrorKind = "checksum_mismatch"
	KindParseError            ErrorKind = "parse_error"
	KindNoRollbackTarget      ErrorKind = "no_rollback_target"
	KindUnhealthy             ErrorKind = "unhealthy"
	KindInternal              ErrorKind = "internal"
)

// KindError pairs an ErrorKind with an underlying cause. It is the only
// error type that crosses component boundaries upward.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// NewKindError wraps err with a stable kind.
func NewKindError(kind ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

// Kindf is shorthand for NewKindError with a formatted cause.
func Kindf(kind ErrorKind, format string, args ...any) *KindError {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies an error into the wire taxonomy. Unclassified errors
// are Internal; context errors map to Timeout/Cancelled so that deadline
// and cancel propagation keeps its kind without explicit wrapping.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}

// Retryable reports whether a single retry is permitted for this kind.
// Only transient dependency failures qualify.
func (k ErrorKind) Retryable() bool {
	return k == KindDependencyUnavailable
}
