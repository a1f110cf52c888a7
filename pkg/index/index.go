// Package index defines the vector index: approximate nearest-neighbour
// lookup over memory embeddings, partitioned by scope and keyed by the same
// id as the record store.
//
// Backends live in sub-packages:
//   - memory: exact, in-process, copy-on-write partitions
//   - chromem: embedded chromem-go database, one collection per scope
//   - qdrant: remote Qdrant collection with a scope payload filter
package index

import (
	"context"
	"fmt"

	"github.com/oceanbase/memstore/pkg/model"
)

// Hit is one query result.
type Hit struct {
	// ID is the memory id.
	ID int64

	// Score is the similarity under the index metric; higher is closer.
	Score float64
}

// Filter restricts a query.
type Filter struct {
	// Scope limits the query to one partition. Nil searches every partition.
	Scope *model.Scope
}

// Index is a vector index.
//
// Implementations must be safe for concurrent use and must not block
// readers behind writers for longer than a single write.
type Index interface {
	// Insert adds or replaces the vector for id in the partition of scope.
	Insert(ctx context.Context, id int64, scope model.Scope, embedding []float64) error

	// Remove deletes the vector for id. Removing an absent id is not an error.
	Remove(ctx context.Context, id int64) error

	// Query returns up to k hits ordered by descending score.
	Query(ctx context.Context, vector []float64, k int, filter *Filter) ([]Hit, error)

	// Contains reports whether a vector is stored for id.
	Contains(ctx context.Context, id int64) (bool, error)

	// Close releases resources.
	Close() error
}

// Lister is implemented by indexes that can enumerate their ids, which
// lets consistency checks find vectors without a record.
type Lister interface {
	IDs(ctx context.Context) ([]int64, error)
}

// Metric is a similarity metric. It is fixed per index instance and used
// for both inserts and queries.
type Metric string

const (
	// MetricCosine is cosine similarity.
	MetricCosine Metric = "cosine"

	// MetricIP is the raw inner product.
	MetricIP Metric = "ip"
)

// CheckDimensions validates a vector against an expected dimension. A zero
// expectation accepts any non-empty vector.
func CheckDimensions(expected int, vector []float64) error {
	if len(vector) == 0 {
		return model.Validationf("empty embedding")
	}
	if expected > 0 && len(vector) != expected {
		return model.Validationf("embedding has %d dimensions, index expects %d", len(vector), expected)
	}
	return nil
}

// ToFloat32 converts a vector for backends that store float32.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// ScopeCollection names the per-scope collection used by backends that
// partition by collection.
func ScopeCollection(prefix string, scope model.Scope) string {
	return fmt.Sprintf("%s%s", prefix, scope.Key())
}
