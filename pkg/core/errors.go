package core

import "github.com/oceanbase/memstore/pkg/model"

// Errors returned by the client. They are the model sentinels, re-exported
// so callers can test them with errors.Is without importing model.
var (
	ErrValidation           = model.ErrValidation
	ErrNotFound             = model.ErrNotFound
	ErrEmbeddingUnavailable = model.ErrEmbeddingUnavailable
	ErrIndexInconsistency   = model.ErrIndexInconsistency
	ErrTimeout              = model.ErrTimeout
	ErrInvalidConfig        = model.ErrInvalidConfig
	ErrStorageOperation     = model.ErrStorageOperation
)

// MemoryError wraps errors with operation context.
type MemoryError = model.MemoryError

// NewMemoryError creates a new MemoryError wrapping the given error. It
// returns nil when err is nil.
func NewMemoryError(op string, err error) error {
	return model.NewMemoryError(op, err)
}
