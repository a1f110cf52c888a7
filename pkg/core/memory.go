package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/oceanbase/memstore/pkg/embedder"
	"github.com/oceanbase/memstore/pkg/index"
	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/retrieval"
	"github.com/oceanbase/memstore/pkg/storage"
)

// Client is the Memory Store.
//
// It keeps each memory's record and vector in step: a write that fails on
// one side is compensated on the other, and anything that still slips
// through is queued for Repair. Writes to the same id are serialised, and
// every write stamps a strictly increasing UpdatedAt, so concurrent
// updates resolve last-write-wins without losing metadata merges.
//
// The client is safe for concurrent use from multiple goroutines.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	memory, _ := client.Add(ctx, "User likes Python",
//	    core.WithUserID("user_001"),
//	    core.WithImportance(0.8),
//	)
type Client struct {
	// config contains the client configuration.
	config *Config

	// records is the durable home of memory records.
	records storage.RecordStore

	// index holds the vectors, partitioned by scope.
	index index.Index

	// embedder is the retrying embedding provider.
	embedder *embedder.Retrying

	// engine runs searches.
	engine *retrieval.Engine

	logger *slog.Logger
	clock  func() time.Time

	// snowflakeNode generates unique IDs for memories.
	snowflakeNode *snowflake.Node

	// locks serialises writes per memory id.
	locks *keyedMutex

	// repairs queues ids whose record and vector disagree.
	repairs chan int64

	closeOnce sync.Once
	closeErr  error
}

const repairQueueSize = 1024

// NewClient creates a new memstore client.
//
// Collaborators not injected through options are built from cfg:
//   - Record store (SQLite, PostgreSQL or OceanBase)
//   - Vector index (in-memory, chromem or Qdrant)
//   - Embedding provider (OpenAI, Qwen or the offline hash embedder)
//
// A nil cfg means DefaultConfig. An in-process index (memory, or chromem
// without a path) is loaded from the record store before NewClient returns.
//
// Example:
//
//	client, err := core.NewClient(core.DefaultConfig(),
//	    core.WithLogger(logger),
//	)
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	var closers []func() error
	fail := func(err error) (*Client, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	provider := o.embedder
	if provider == nil {
		p, err := initEmbedder(cfg.Embedder)
		if err != nil {
			return fail(err)
		}
		provider = p
	}
	emb := embedder.WithRetry(provider, embedder.RetryConfig{
		MaxAttempts: cfg.Embedder.MaxAttempts,
		Logger:      o.logger,
	})
	closers = append(closers, emb.Close)

	dims := cfg.Embedder.Dimensions
	if d := emb.Dimensions(); d > 0 {
		dims = d
	}

	records := o.records
	if records == nil {
		r, err := initStorage(cfg.Store, dims)
		if err != nil {
			return fail(err)
		}
		records = r
	}
	closers = append(closers, records.Close)

	idx := o.index
	rebuild := false
	if idx == nil {
		x, err := initIndex(cfg.VectorIndex, dims)
		if err != nil {
			return fail(err)
		}
		idx = x
		rebuild = cfg.VectorIndex.Volatile()
	}
	closers = append(closers, idx.Close)

	node, err := snowflake.NewNode(1)
	if err != nil {
		return fail(NewMemoryError("NewClient", err))
	}

	c := &Client{
		config:        cfg,
		records:       records,
		index:         idx,
		embedder:      emb,
		logger:        o.logger,
		clock:         o.clock,
		snowflakeNode: node,
		locks:         newKeyedMutex(),
		repairs:       make(chan int64, repairQueueSize),
	}

	engine, err := retrieval.NewEngine(records, idx, emb, retrieval.Config{
		OverFetchFactor: cfg.Retrieval.OverFetchFactor,
		SemanticWeight:  cfg.Retrieval.SemanticWeight,
		KeywordWeight:   cfg.Retrieval.KeywordWeight,
		Timeout:         cfg.Retrieval.Timeout.Std(),
		CacheMaxCost:    cfg.Retrieval.CacheSize,
		CacheTTL:        cfg.Retrieval.CacheTTL.Std(),
	},
		retrieval.WithLogger(o.logger),
		retrieval.WithInconsistencyHandler(c.reportInconsistency),
	)
	if err != nil {
		return fail(NewMemoryError("NewClient", err))
	}
	c.engine = engine

	if rebuild {
		if err := c.loadIndex(); err != nil {
			engine.Close()
			return fail(err)
		}
	}

	return c, nil
}

// loadIndex fills an in-process index from the persisted records.
func (c *Client) loadIndex() error {
	start := time.Now()
	report, err := c.CheckConsistency(context.Background(), true)
	if err != nil {
		return NewMemoryError("NewClient", err)
	}
	if report.Records > 0 {
		c.logger.Info("loaded vector index from record store",
			"records", report.Records,
			"loaded", report.Repaired,
			"duration", time.Since(start))
	}
	return nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config {
	return c.config
}

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Add adds a new memory to the store.
//
// The method:
//  1. Validates content, scope and metadata
//  2. Generates an embedding vector for the content
//  3. Stores the record, then the vector, undoing the record if the
//     vector write fails
//
// Nothing is persisted when embedding fails.
//
// Example:
//
//	memory, err := client.Add(ctx, "User likes Python programming",
//	    core.WithUserID("user_001"),
//	    core.WithMetadata(map[string]interface{}{
//	        "source":           "conversation",
//	        "importance_score": 0.7,
//	    }),
//	)
func (c *Client) Add(ctx context.Context, content string, opts ...AddOption) (*Memory, error) {
	addOpts := applyAddOptions(opts)

	memory, err := c.newMemory(content, addOpts)
	if err != nil {
		return nil, NewMemoryError("Add", err)
	}

	embedding, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return nil, NewMemoryError("Add", err)
	}
	memory.Embedding = embedding

	unlock := c.locks.Lock(memory.ID)
	defer unlock()

	if err := c.insert(ctx, memory); err != nil {
		return nil, NewMemoryError("Add", err)
	}

	return memory.Clone(), nil
}

// newMemory builds and validates a memory without embedding it.
func (c *Client) newMemory(content string, addOpts *AddOptions) (*Memory, error) {
	if strings.TrimSpace(content) == "" {
		return nil, model.Validationf("content must not be empty")
	}
	if err := addOpts.Scope.Validate(); err != nil {
		return nil, err
	}

	patch, err := model.ParseMetadata(addOpts.Metadata)
	if err != nil {
		return nil, err
	}
	if patch.Stage != nil && *patch.Stage != model.StageActive {
		return nil, model.Validationf("new memories start active; lifecycle_stage %q is not allowed", *patch.Stage)
	}

	now := c.now()
	memory := &Memory{
		ID:             c.snowflakeNode.Generate().Int64(),
		Content:        content,
		Scope:          addOpts.Scope,
		Type:           addOpts.MemoryType,
		Importance:     model.DefaultImportance,
		Stage:          model.StageActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		StageChangedAt: now,
	}
	if err := patch.Apply(memory, now); err != nil {
		return nil, err
	}
	if addOpts.Importance != nil {
		memory.Importance = *addOpts.Importance
	}
	if err := memory.Validate(); err != nil {
		return nil, err
	}
	return memory, nil
}

// insert writes record then vector. The caller holds the id lock.
func (c *Client) insert(ctx context.Context, memory *Memory) error {
	if err := c.records.Insert(ctx, memory); err != nil {
		return err
	}

	if err := c.index.Insert(ctx, memory.ID, memory.Scope, memory.Embedding); err != nil {
		c.compensate("insert", memory.ID, func(ctx context.Context) error {
			return c.records.Delete(ctx, memory.ID)
		})
		return err
	}

	c.engine.Invalidate(memory.Scope)
	return nil
}

// Get retrieves a memory by its ID. Reads never modify the memory.
func (c *Client) Get(ctx context.Context, id int64) (*Memory, error) {
	memory, err := c.records.Get(ctx, id)
	if err != nil {
		return nil, NewMemoryError("Get", err)
	}
	return memory, nil
}

// Update updates a memory's content and/or metadata.
//
// The embedding is recomputed only when the content changes. Metadata is
// merged shallowly. A rejected update leaves the stored memory unchanged.
//
// Example:
//
//	memory, err := client.Update(ctx, memoryID,
//	    core.WithContent("User likes Go"),
//	    core.WithMetadataPatch(map[string]interface{}{"importance_score": 0.9}),
//	)
func (c *Client) Update(ctx context.Context, id int64, opts ...UpdateOption) (*Memory, error) {
	updateOpts := applyUpdateOptions(opts)

	if updateOpts.Content != nil && strings.TrimSpace(*updateOpts.Content) == "" {
		return nil, NewMemoryError("Update", model.Validationf("content must not be empty"))
	}
	patch, err := model.ParseMetadata(updateOpts.Metadata)
	if err != nil {
		return nil, NewMemoryError("Update", err)
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	prev, err := c.records.Get(ctx, id)
	if err != nil {
		return nil, NewMemoryError("Update", err)
	}

	next := prev.Clone()
	now := c.nextUpdatedAt(prev)
	if err := patch.Apply(next, now); err != nil {
		return nil, NewMemoryError("Update", err)
	}
	if next.Stage == model.StageArchived && prev.Stage != model.StageArchived {
		markArchived(next, now)
	}

	contentChanged := updateOpts.Content != nil && *updateOpts.Content != prev.Content
	if contentChanged {
		next.Content = *updateOpts.Content
		embedding, err := c.embedder.Embed(ctx, next.Content)
		if err != nil {
			return nil, NewMemoryError("Update", err)
		}
		next.Embedding = embedding
	}

	next.UpdatedAt = now
	if err := next.Validate(); err != nil {
		return nil, NewMemoryError("Update", err)
	}

	if err := c.records.Update(ctx, next); err != nil {
		return nil, NewMemoryError("Update", err)
	}

	if contentChanged {
		if err := c.index.Insert(ctx, next.ID, next.Scope, next.Embedding); err != nil {
			c.compensate("update", id, func(ctx context.Context) error {
				if err := c.records.Update(ctx, prev); err != nil {
					return err
				}
				return c.index.Insert(ctx, prev.ID, prev.Scope, prev.Embedding)
			})
			return nil, NewMemoryError("Update", err)
		}
	}

	c.engine.Invalidate(next.Scope)
	return next.Clone(), nil
}

// Delete deletes a memory by its ID. Deleting a missing memory is not an
// error.
func (c *Client) Delete(ctx context.Context, id int64) error {
	unlock := c.locks.Lock(id)
	defer unlock()

	return NewMemoryError("Delete", c.deleteLocked(ctx, id))
}

// deleteLocked removes vector then record. The caller holds the id lock.
func (c *Client) deleteLocked(ctx context.Context, id int64) error {
	prev, err := c.records.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		// Clear a vector left behind by an earlier partial failure.
		return c.index.Remove(ctx, id)
	}
	if err != nil {
		return err
	}

	if err := c.index.Remove(ctx, id); err != nil {
		return err
	}

	if err := c.records.Delete(ctx, id); err != nil && !errors.Is(err, model.ErrNotFound) {
		c.compensate("delete", id, func(ctx context.Context) error {
			return c.index.Insert(ctx, prev.ID, prev.Scope, prev.Embedding)
		})
		return err
	}

	c.engine.Invalidate(prev.Scope)
	return nil
}

// Restore moves an aging or archived memory back to active. It is the only
// way a memory's stage moves backwards. Restoring an active memory is a
// no-op.
func (c *Client) Restore(ctx context.Context, id int64) (*Memory, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	prev, err := c.records.Get(ctx, id)
	if err != nil {
		return nil, NewMemoryError("Restore", err)
	}
	if prev.Stage == model.StageActive {
		return prev, nil
	}

	next := prev.Clone()
	now := c.nextUpdatedAt(prev)
	next.Stage = model.StageActive
	next.StageChangedAt = now
	next.UpdatedAt = now
	delete(next.Metadata, model.KeyArchivedAt)

	if err := c.records.Update(ctx, next); err != nil {
		return nil, NewMemoryError("Restore", err)
	}

	ok, err := c.index.Contains(ctx, id)
	if err == nil && !ok {
		err = c.index.Insert(ctx, next.ID, next.Scope, next.Embedding)
	}
	if err != nil {
		c.logger.Warn("restored memory has no vector", "id", id, "error", err)
		c.reportInconsistency(id)
	}

	c.engine.Invalidate(next.Scope)
	return next.Clone(), nil
}

// GetAll retrieves memories with optional scope and stage filtering,
// newest first.
//
// Example:
//
//	memories, err := client.GetAll(ctx,
//	    core.WithUserIDForGetAll("user_001"),
//	    core.WithLimitForGetAll(100),
//	    core.WithOffset(0),
//	)
func (c *Client) GetAll(ctx context.Context, opts ...GetAllOption) ([]*Memory, error) {
	getAllOpts := applyGetAllOptions(opts)

	if getAllOpts.Scope != nil {
		if err := getAllOpts.Scope.Validate(); err != nil {
			return nil, NewMemoryError("GetAll", err)
		}
	}
	for _, s := range getAllOpts.Stages {
		if !s.Valid() {
			return nil, NewMemoryError("GetAll", model.Validationf("unknown lifecycle_stage %q", s))
		}
	}

	memories, err := c.records.List(ctx, &storage.ListOptions{
		Scope:  getAllOpts.Scope,
		Stages: getAllOpts.Stages,
		Limit:  getAllOpts.Limit,
		Offset: getAllOpts.Offset,
	})
	if err != nil {
		return nil, NewMemoryError("GetAll", err)
	}

	return memories, nil
}

// DeleteAll deletes all memories in a scope, or every memory when no scope
// is given, and reports how many records were removed.
//
// Example:
//
//	n, err := client.DeleteAll(ctx, core.WithUserIDForDeleteAll("user_001"))
func (c *Client) DeleteAll(ctx context.Context, opts ...DeleteAllOption) (int64, error) {
	deleteAllOpts := applyDeleteAllOptions(opts)

	if deleteAllOpts.Scope != nil {
		if err := deleteAllOpts.Scope.Validate(); err != nil {
			return 0, NewMemoryError("DeleteAll", err)
		}
	}

	victims, err := c.records.List(ctx, &storage.ListOptions{Scope: deleteAllOpts.Scope})
	if err != nil {
		return 0, NewMemoryError("DeleteAll", err)
	}

	n, err := c.records.DeleteAll(ctx, &storage.DeleteAllOptions{Scope: deleteAllOpts.Scope})
	if err != nil {
		return 0, NewMemoryError("DeleteAll", err)
	}

	for _, m := range victims {
		if err := c.index.Remove(ctx, m.ID); err != nil {
			c.logger.Warn("vector left behind by DeleteAll", "id", m.ID, "error", err)
			c.reportInconsistency(m.ID)
		}
	}

	if deleteAllOpts.Scope != nil {
		c.engine.Invalidate(*deleteAllOpts.Scope)
	} else {
		c.engine.InvalidateAll()
	}
	return n, nil
}

// Search searches for memories using vector similarity, reranked by keyword
// overlap.
//
// Example:
//
//	results, err := client.Search(ctx, "Python programming",
//	    core.WithUserIDForSearch("user_001"),
//	    core.WithLimit(10),
//	    core.WithMinScore(0.5),
//	)
func (c *Client) Search(ctx context.Context, query string, opts ...SearchOption) ([]*Memory, error) {
	searchOpts := applySearchOptions(opts)

	results, err := c.engine.Search(ctx, query, retrieval.Options{
		Scope:           searchOpts.Scope,
		TopK:            searchOpts.Limit,
		MinScore:        searchOpts.MinScore,
		IncludeArchived: searchOpts.IncludeArchived,
		Rerank:          searchOpts.Rerank,
		Timeout:         searchOpts.Timeout,
	})
	if err != nil {
		return nil, NewMemoryError("Search", err)
	}
	return results, nil
}

// Close closes the client and releases all resources. It returns the first
// error encountered and is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.engine.Close()

		var errs []error
		if err := c.index.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := c.records.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			c.closeErr = errs[0]
		}
	})
	return c.closeErr
}

func (c *Client) now() time.Time {
	return c.clock().UTC()
}

// nextUpdatedAt returns a write timestamp strictly after prev's.
func (c *Client) nextUpdatedAt(prev *Memory) time.Time {
	now := c.now()
	if !now.After(prev.UpdatedAt) {
		now = prev.UpdatedAt.Add(time.Nanosecond)
	}
	return now
}

// compensate undoes the half of a write that succeeded. It runs detached
// from the caller's context so that a cancelled request still cleans up;
// if the undo fails too, the id is queued for repair.
func (c *Client) compensate(op string, id int64, undo func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := undo(ctx); err != nil {
		c.logger.Error("compensation failed, queued for repair",
			"op", op, "id", id, "error", err)
		c.reportInconsistency(id)
	}
}

func configString(m map[string]interface{}, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

// configInt accepts ints and the float64s that JSON decoding produces.
func configInt(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func invalidConfig(op, format string, args ...interface{}) error {
	return NewMemoryError(op, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
}
