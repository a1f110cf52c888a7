// Package chromem provides a vector index backed by chromem-go, an embedded
// vector database. Each scope gets its own collection, so a scoped query
// only touches that scope's documents.
package chromem

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/oceanbase/memstore/pkg/index"
	"github.com/oceanbase/memstore/pkg/model"
)

const collectionPrefix = "memstore_"

// Config configures the chromem index.
type Config struct {
	// Path persists the database to this directory. Empty keeps it in memory.
	Path string

	// Compress gzips persisted files.
	Compress bool

	// Dimensions fixes the vector dimension (0 = accept any).
	Dimensions int
}

// Index implements index.Index on chromem-go.
type Index struct {
	db   *chromem.DB
	dims int

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	loc         map[int64]string
}

var _ index.Index = (*Index)(nil)

// New opens (or creates) a chromem database.
func New(cfg *Config) (*Index, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	var db *chromem.DB
	if cfg.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("NewChromemIndex: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	x := &Index{
		db:          db,
		dims:        cfg.Dimensions,
		collections: make(map[string]*chromem.Collection),
		loc:         make(map[int64]string),
	}
	for name, col := range db.ListCollections() {
		x.collections[name] = col
	}
	return x, nil
}

// getOrCreateCollection returns the collection for a scope.
func (x *Index) getOrCreateCollection(scope model.Scope) (*chromem.Collection, error) {
	name := index.ScopeCollection(collectionPrefix, scope)

	x.mu.RLock()
	col, ok := x.collections[name]
	x.mu.RUnlock()
	if ok {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if col, ok := x.collections[name]; ok {
		return col, nil
	}

	col, err := x.db.GetOrCreateCollection(name, map[string]string{"scope": scope.Key()}, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	x.collections[name] = col
	return col, nil
}

// Insert adds or replaces the document for id.
func (x *Index) Insert(ctx context.Context, id int64, scope model.Scope, embedding []float64) error {
	if err := index.CheckDimensions(x.dims, embedding); err != nil {
		return err
	}

	col, err := x.getOrCreateCollection(scope)
	if err != nil {
		return err
	}

	name := index.ScopeCollection(collectionPrefix, scope)
	if prev, ok := x.location(id); ok && prev != name {
		if err := x.Remove(ctx, id); err != nil {
			return err
		}
	}

	key := strconv.FormatInt(id, 10)
	// AddDocument does not overwrite; drop any previous version first.
	if err := col.Delete(ctx, nil, nil, key); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:        key,
		Metadata:  map[string]string{"scope": scope.Key()},
		Embedding: index.ToFloat32(embedding),
		Content:   key,
	})
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	x.mu.Lock()
	x.loc[id] = name
	x.mu.Unlock()
	return nil
}

// Remove deletes the document for id from whichever collection holds it.
func (x *Index) Remove(ctx context.Context, id int64) error {
	key := strconv.FormatInt(id, 10)

	name, known := x.location(id)
	for _, col := range x.candidates(name, known) {
		if err := col.Delete(ctx, nil, nil, key); err != nil {
			return fmt.Errorf("Remove: %w", err)
		}
	}

	x.mu.Lock()
	delete(x.loc, id)
	x.mu.Unlock()
	return nil
}

// Query searches one scope collection, or all of them without a filter.
func (x *Index) Query(ctx context.Context, vector []float64, k int, filter *index.Filter) ([]index.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := index.CheckDimensions(x.dims, vector); err != nil {
		return nil, err
	}

	var cols []*chromem.Collection
	if filter != nil && filter.Scope != nil {
		x.mu.RLock()
		col, ok := x.collections[index.ScopeCollection(collectionPrefix, *filter.Scope)]
		x.mu.RUnlock()
		if ok {
			cols = append(cols, col)
		}
	} else {
		cols = x.candidates("", false)
	}

	q := index.ToFloat32(vector)
	var hits []index.Hit
	for _, col := range cols {
		n := k
		if c := col.Count(); c < n {
			n = c
		}
		if n == 0 {
			continue
		}
		results, err := col.QueryEmbedding(ctx, q, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		for _, r := range results {
			id, err := strconv.ParseInt(r.ID, 10, 64)
			if err != nil {
				continue
			}
			hits = append(hits, index.Hit{ID: id, Score: float64(r.Similarity)})
		}
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Contains reports whether any collection holds id.
func (x *Index) Contains(ctx context.Context, id int64) (bool, error) {
	key := strconv.FormatInt(id, 10)
	name, known := x.location(id)
	for _, col := range x.candidates(name, known) {
		if _, err := col.GetByID(ctx, key); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// Close is a no-op; persistent databases write through on every change.
func (x *Index) Close() error {
	return nil
}

func (x *Index) location(id int64) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	name, ok := x.loc[id]
	return name, ok
}

// candidates returns the collection known to hold an id, or every
// collection when the location is unknown (e.g. after reopening a
// persistent database).
func (x *Index) candidates(name string, known bool) []*chromem.Collection {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if known {
		if col, ok := x.collections[name]; ok {
			return []*chromem.Collection{col}
		}
	}
	cols := make([]*chromem.Collection, 0, len(x.collections))
	for _, col := range x.collections {
		cols = append(cols, col)
	}
	return cols
}
