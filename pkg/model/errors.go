package model

import (
	"context"
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrValidation indicates malformed input: empty content, an invalid
	// scope, or a reserved metadata key outside its allowed range.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrEmbeddingUnavailable indicates that the embedding provider kept
	// failing after retries were exhausted.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrIndexInconsistency indicates that the vector index and the record
	// store disagree about a memory.
	ErrIndexInconsistency = errors.New("vector index and record store disagree")

	// ErrTimeout indicates that a search deadline expired before any
	// candidate was gathered.
	ErrTimeout = errors.New("deadline exceeded")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Add",
//	    Err: ErrEmbeddingUnavailable,
//	}
//	// Error() returns: "memstore: Add: embedding provider unavailable"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "memstore: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("memstore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error so errors.Is and errors.As see
// through MemoryError.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("Add", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// Validationf returns an error wrapping ErrValidation with a formatted detail.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an error wrapping ErrNotFound for the given id.
func NotFound(id int64) error {
	return fmt.Errorf("%w: id %d", ErrNotFound, id)
}

// Kind is the structured error kind reported to API callers.
type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindNotFound             Kind = "not_found"
	KindEmbeddingUnavailable Kind = "embedding_unavailable"
	KindIndexInconsistency   Kind = "index_inconsistency"
	KindTimeout              Kind = "timeout"
	KindInternal             Kind = "internal"
)

// KindOf classifies err into one of the structured kinds.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEmbeddingUnavailable):
		return KindEmbeddingUnavailable
	case errors.Is(err, ErrIndexInconsistency):
		return KindIndexInconsistency
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}
