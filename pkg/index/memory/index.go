// Package memory provides an exact in-process vector index.
//
// Each scope is a partition. Partitions are immutable once published: a
// write copies the touched partition and swaps in a new partition map
// through an atomic pointer, so queries run lock-free on a consistent
// snapshot while writers serialise on a short mutex.
package memory

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/atomic"
	"gonum.org/v1/gonum/floats"

	"github.com/oceanbase/memstore/pkg/index"
	"github.com/oceanbase/memstore/pkg/model"
)

// Config configures the in-memory index.
type Config struct {
	// Dimensions fixes the vector dimension. Zero adopts the dimension of
	// the first insert.
	Dimensions int

	// Metric is the similarity metric (default: cosine).
	Metric index.Metric
}

type partition struct {
	ids  []int64
	vecs [][]float64
}

type snapshot map[string]*partition

// Index is an exact vector index partitioned by scope.
type Index struct {
	metric index.Metric
	dim    *atomic.Int64
	parts  *atomic.Pointer[snapshot]

	// mu serialises writers; loc is only touched under mu.
	mu  sync.Mutex
	loc map[int64]string
}

var _ index.Index = (*Index)(nil)
var _ index.Lister = (*Index)(nil)

// New creates an empty index.
func New(cfg *Config) *Index {
	if cfg == nil {
		cfg = &Config{}
	}
	metric := cfg.Metric
	if metric == "" {
		metric = index.MetricCosine
	}
	empty := snapshot{}
	return &Index{
		metric: metric,
		dim:    atomic.NewInt64(int64(cfg.Dimensions)),
		parts:  atomic.NewPointer(&empty),
		loc:    make(map[int64]string),
	}
}

// Insert adds or replaces the vector for id.
func (x *Index) Insert(ctx context.Context, id int64, scope model.Scope, embedding []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vec := x.prepare(embedding)

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dim.Load() == 0 {
		x.dim.Store(int64(len(embedding)))
	}
	if err := index.CheckDimensions(int(x.dim.Load()), embedding); err != nil {
		return err
	}

	key := scope.Key()
	next := x.copySnapshot()
	if prev, ok := x.loc[id]; ok && prev != key {
		removeFrom(next, prev, id)
	}

	p := clonePartition(next[key])
	replaced := false
	for i, existing := range p.ids {
		if existing == id {
			p.vecs[i] = vec
			replaced = true
			break
		}
	}
	if !replaced {
		p.ids = append(p.ids, id)
		p.vecs = append(p.vecs, vec)
	}
	next[key] = p

	x.loc[id] = key
	x.parts.Store(&next)
	return nil
}

// Remove deletes the vector for id, if present.
func (x *Index) Remove(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	key, ok := x.loc[id]
	if !ok {
		return nil
	}
	next := x.copySnapshot()
	removeFrom(next, key, id)
	delete(x.loc, id)
	x.parts.Store(&next)
	return nil
}

// Query scans the selected partitions of the current snapshot.
func (x *Index) Query(ctx context.Context, vector []float64, k int, filter *index.Filter) ([]index.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := index.CheckDimensions(int(x.dim.Load()), vector); err != nil {
		return nil, err
	}
	q := x.prepare(vector)
	snap := *x.parts.Load()

	var parts []*partition
	if filter != nil && filter.Scope != nil {
		if p, ok := snap[filter.Scope.Key()]; ok {
			parts = append(parts, p)
		}
	} else {
		for _, p := range snap {
			parts = append(parts, p)
		}
	}

	var hits []index.Hit
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, v := range p.vecs {
			hits = append(hits, index.Hit{ID: p.ids[i], Score: floats.Dot(q, v)})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Contains reports whether id has a vector.
func (x *Index) Contains(_ context.Context, id int64) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.loc[id]
	return ok, nil
}

// IDs lists every indexed id.
func (x *Index) IDs(_ context.Context) ([]int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ids := make([]int64, 0, len(x.loc))
	for id := range x.loc {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Len returns the number of indexed vectors.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.loc)
}

// Close is a no-op.
func (x *Index) Close() error {
	return nil
}

// prepare copies v, normalising it for cosine.
func (x *Index) prepare(v []float64) []float64 {
	out := append([]float64(nil), v...)
	if x.metric == index.MetricCosine {
		if n := floats.Norm(out, 2); n > 0 {
			floats.Scale(1/n, out)
		}
	}
	return out
}

func (x *Index) copySnapshot() snapshot {
	cur := *x.parts.Load()
	next := make(snapshot, len(cur)+1)
	for k, p := range cur {
		next[k] = p
	}
	return next
}

func clonePartition(p *partition) *partition {
	if p == nil {
		return &partition{}
	}
	return &partition{
		ids:  append([]int64(nil), p.ids...),
		vecs: append([][]float64(nil), p.vecs...),
	}
}

// removeFrom replaces partition key in snap with a copy lacking id.
func removeFrom(snap snapshot, key string, id int64) {
	p, ok := snap[key]
	if !ok {
		return
	}
	np := &partition{
		ids:  make([]int64, 0, len(p.ids)),
		vecs: make([][]float64, 0, len(p.vecs)),
	}
	for i, existing := range p.ids {
		if existing == id {
			continue
		}
		np.ids = append(np.ids, existing)
		np.vecs = append(np.vecs, p.vecs[i])
	}
	if len(np.ids) == 0 {
		delete(snap, key)
		return
	}
	snap[key] = np
}
