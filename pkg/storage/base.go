// Package storage defines the record store: the durable home of memory
// records, keyed by the same id the vector index uses.
//
// Backends live in sub-packages (sqlite, postgres, oceanbase). They share
// the column layout and row codec defined here.
package storage

import (
	"context"
	"fmt"

	"github.com/oceanbase/memstore/pkg/model"
)

// OpError wraps a failure of the backend during op. The result matches both
// model.ErrStorageOperation and err.
//
// Args:
//   - op: the RecordStore method that failed (e.g. "Insert")
//   - err: the driver or codec error
//
// Returns:
//   - error: nil when err is nil
func OpError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStorageOperation, err)
}

// RecordStore persists memory records.
//
// Implementations must be safe for concurrent use. Lookups of a missing id
// return an error wrapping model.ErrNotFound.
type RecordStore interface {
	// Insert stores a new record.
	Insert(ctx context.Context, memory *model.Memory) error

	// Get retrieves a record by id.
	Get(ctx context.Context, id int64) (*model.Memory, error)

	// GetMany retrieves the records that exist among ids. Missing ids are
	// absent from the result rather than an error.
	GetMany(ctx context.Context, ids []int64) (map[int64]*model.Memory, error)

	// Update replaces every mutable column of an existing record.
	Update(ctx context.Context, memory *model.Memory) error

	// Delete removes a record.
	Delete(ctx context.Context, id int64) error

	// List returns records matching opts, newest first.
	List(ctx context.Context, opts *ListOptions) ([]*model.Memory, error)

	// DeleteAll removes every record matching opts and reports how many
	// were removed.
	DeleteAll(ctx context.Context, opts *DeleteAllOptions) (int64, error)

	// IDs returns the id of every stored record.
	IDs(ctx context.Context) ([]int64, error)

	// Close releases the underlying connection.
	Close() error
}

// ListOptions filters and paginates List.
type ListOptions struct {
	// Scope restricts results to one partition (nil = all scopes).
	Scope *model.Scope

	// Stages restricts results to the given lifecycle stages (empty = all).
	Stages []model.Stage

	// Limit is the maximum number of records (0 = unlimited).
	Limit int

	// Offset skips records for pagination.
	Offset int
}

// DeleteAllOptions filters DeleteAll.
type DeleteAllOptions struct {
	// Scope restricts deletion to one partition (nil = everything).
	Scope *model.Scope
}
