package models

import "errors"

// Failure kinds for store, index, and search operations. Callers match
// these with errors.Is; lower layers wrap them with context via fmt.Errorf.
var (
	// ErrInvalidArgument marks a caller-supplied constraint out of range
	// (limit <= 0, min_similarity outside [0,1], k < 1). Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDimensionMismatch marks a vector whose length disagrees with the
	// store dimensionality. A caller or provider bug, not transient.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotFound marks a missing record on Get or Delete.
	ErrNotFound = errors.New("record not found")

	// ErrIndexFailure marks an index or store that could not complete the
	// operation (backend I/O, corrupted data). The caller decides retry policy.
	ErrIndexFailure = errors.New("index failure")

	// ErrEmbeddingFailure marks an embedding provider failure. Distinct from
	// an empty result set so callers can tell "no similar items" from
	// "could not analyze the submitted image".
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrTimeout marks a query that exceeded the caller-supplied deadline.
	ErrTimeout = errors.New("query timeout")
)
