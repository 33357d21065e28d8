package ports

import "errors"

// Typed port error set. Implementations translate their backend errors into
// these before returning; no driver error types may leak into core
// components. Core components map them onto the wire taxonomy in turn.
var (
	// ErrUnavailable means the backend is unreachable or gone. Retryable
	// once for transient paths; surfaces as degraded health when persistent.
	ErrUnavailable = errors.New("port backend unavailable")

	// ErrOverloaded means the backend refused work due to load. Retryable.
	ErrOverloaded = errors.New("port backend overloaded")

	// ErrMalformedInput means the request can never succeed (e.g. a prompt
	// the backend rejects). Fatal for the request, never retried.
	ErrMalformedInput = errors.New("malformed input for port backend")

	// ErrNotFound is returned by keyed lookups with no matching record.
	ErrNotFound = errors.New("record not found")
)
