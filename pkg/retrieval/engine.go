// Package retrieval implements semantic search over the memory store.
//
// A search embeds the query, over-fetches candidates from the vector index
// inside the caller's scope, joins them with their records, reranks them by
// a blend of vector similarity and keyword overlap and returns the best
// TopK. Reads never mutate memories.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/oceanbase/memstore/pkg/embedder"
	"github.com/oceanbase/memstore/pkg/index"
	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/storage"
	"github.com/oceanbase/memstore/pkg/text"
)

const (
	// DefaultTopK is the number of results when Options.TopK is zero.
	DefaultTopK = 5

	// MaxTopK caps Options.TopK.
	MaxTopK = 1000

	// DefaultOverFetchFactor multiplies TopK when querying the index, so
	// that filtering and reranking still leave TopK candidates.
	DefaultOverFetchFactor = 3

	DefaultSemanticWeight = 0.6
	DefaultKeywordWeight  = 0.4

	defaultJoinChunk = 64
)

// Config tunes the engine.
type Config struct {
	// OverFetchFactor multiplies TopK for the index query (default: 3).
	OverFetchFactor int

	// SemanticWeight and KeywordWeight blend the reranked score
	// (default: 0.6 and 0.4).
	SemanticWeight float64
	KeywordWeight  float64

	// Timeout bounds a search when the options carry none (0 = no bound).
	Timeout time.Duration

	// JoinChunkSize is the number of records fetched per round trip.
	JoinChunkSize int

	// CacheMaxCost is the result cache capacity in entries (0 = no cache).
	CacheMaxCost int64

	// CacheTTL expires cached results (0 = until evicted or invalidated).
	CacheTTL time.Duration
}

// Options controls a single search.
type Options struct {
	// Scope is the partition to search. Required.
	Scope model.Scope

	// TopK is the maximum number of results (default: 5).
	TopK int

	// MinScore drops results scoring below it.
	MinScore float64

	// IncludeArchived also returns archived memories.
	IncludeArchived bool

	// Rerank blends keyword overlap into the score. When false the score is
	// the raw vector similarity.
	Rerank bool

	// Timeout bounds this search (0 = engine default).
	Timeout time.Duration
}

// InconsistencyFunc receives ids the index returned but the record store
// does not hold.
type InconsistencyFunc func(id int64)

// Engine runs searches. It is safe for concurrent use.
type Engine struct {
	records  storage.RecordStore
	index    index.Index
	embedder embedder.Provider
	cfg      Config
	logger   *slog.Logger
	report   InconsistencyFunc
	cache    *resultCache
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithInconsistencyHandler sets the callback for dangling index hits.
func WithInconsistencyHandler(fn InconsistencyFunc) EngineOption {
	return func(e *Engine) {
		e.report = fn
	}
}

// NewEngine creates an engine over a record store, an index and an embedding
// provider.
func NewEngine(records storage.RecordStore, idx index.Index, emb embedder.Provider, cfg Config, opts ...EngineOption) (*Engine, error) {
	if records == nil || idx == nil || emb == nil {
		return nil, fmt.Errorf("NewEngine: %w: record store, index and embedder are required", model.ErrInvalidConfig)
	}
	if cfg.OverFetchFactor <= 0 {
		cfg.OverFetchFactor = DefaultOverFetchFactor
	}
	if cfg.SemanticWeight == 0 && cfg.KeywordWeight == 0 {
		cfg.SemanticWeight = DefaultSemanticWeight
		cfg.KeywordWeight = DefaultKeywordWeight
	}
	if cfg.JoinChunkSize <= 0 {
		cfg.JoinChunkSize = defaultJoinChunk
	}

	e := &Engine{
		records:  records,
		index:    idx,
		embedder: emb,
		cfg:      cfg,
		logger:   slog.Default(),
		report:   func(int64) {},
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.CacheMaxCost > 0 {
		cache, err := newResultCache(cfg.CacheMaxCost, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("NewEngine: %w", err)
		}
		e.cache = cache
	}

	return e, nil
}

// Search returns up to TopK memories in opts.Scope ranked by relevance to
// query. Each returned memory is a copy with Score set.
//
// When the deadline expires mid-search the candidates gathered so far are
// ranked and returned; model.ErrTimeout is returned only when nothing was
// gathered.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*model.Memory, error) {
	if err := e.normalize(query, &opts); err != nil {
		return nil, err
	}

	key := e.cacheKey(query, opts)
	if e.cache != nil {
		if cached, ok := e.cache.get(key); ok {
			return cached, nil
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		if isDeadline(ctx, err) {
			return nil, fmt.Errorf("%w: embedding query", model.ErrTimeout)
		}
		return nil, err
	}

	fetch := opts.TopK * e.cfg.OverFetchFactor
	hits, err := e.index.Query(ctx, vector, fetch, &index.Filter{Scope: &opts.Scope})
	if err != nil {
		if isDeadline(ctx, err) {
			return nil, fmt.Errorf("%w: querying index", model.ErrTimeout)
		}
		if errors.Is(err, model.ErrValidation) {
			return nil, err
		}
		e.logger.Warn("vector index query failed, using keyword fallback",
			"scope", opts.Scope.Key(), "error", err)
		return e.keywordFallback(ctx, query, opts)
	}

	candidates, complete, err := e.join(ctx, query, hits, opts)
	if err != nil {
		return nil, err
	}
	if !complete && len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates gathered", model.ErrTimeout)
	}

	results := rank(candidates, opts)
	if complete && e.cache != nil {
		e.cache.set(key, results)
	}
	return results, nil
}

// Invalidate drops cached results for scope.
func (e *Engine) Invalidate(scope model.Scope) {
	if e.cache != nil {
		e.cache.invalidate(scope.Key())
	}
}

// InvalidateAll drops every cached result.
func (e *Engine) InvalidateAll() {
	if e.cache != nil {
		e.cache.invalidateAll()
	}
}

// Close releases the cache.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.close()
	}
}

func (e *Engine) normalize(query string, opts *Options) error {
	if query == "" {
		return model.Validationf("query is required")
	}
	if err := opts.Scope.Validate(); err != nil {
		return err
	}
	if opts.TopK < 0 {
		return model.Validationf("top_k must be positive, got %d", opts.TopK)
	}
	if opts.TopK == 0 {
		opts.TopK = DefaultTopK
	}
	if opts.TopK > MaxTopK {
		opts.TopK = MaxTopK
	}
	if math.IsNaN(opts.MinScore) || opts.MinScore < 0 || opts.MinScore > 1 {
		return model.Validationf("min_score must be within [0, 1], got %v", opts.MinScore)
	}
	return nil
}

// join loads the records behind hits chunk by chunk and scores them. It
// reports complete=false when the deadline cut it short.
func (e *Engine) join(ctx context.Context, query string, hits []index.Hit, opts Options) ([]*model.Memory, bool, error) {
	candidates := make([]*model.Memory, 0, len(hits))

	for start := 0; start < len(hits); start += e.cfg.JoinChunkSize {
		if ctx.Err() != nil {
			return candidates, false, nil
		}

		end := start + e.cfg.JoinChunkSize
		if end > len(hits) {
			end = len(hits)
		}
		chunk := hits[start:end]

		ids := make([]int64, len(chunk))
		for i, h := range chunk {
			ids[i] = h.ID
		}

		records, err := e.records.GetMany(ctx, ids)
		if err != nil {
			if isDeadline(ctx, err) {
				return candidates, false, nil
			}
			return nil, false, err
		}

		for _, hit := range chunk {
			record, ok := records[hit.ID]
			if !ok {
				e.logger.Warn("index hit without record", "id", hit.ID)
				e.report(hit.ID)
				continue
			}
			if record.Scope != opts.Scope {
				e.logger.Warn("index hit outside its scope partition",
					"id", hit.ID, "scope", record.Scope.Key(), "want", opts.Scope.Key())
				e.report(hit.ID)
				continue
			}
			if !visible(record.Stage, opts.IncludeArchived) {
				continue
			}

			m := record.Clone()
			m.Score = e.score(hit.Score, query, m.Content, opts.Rerank)
			candidates = append(candidates, m)
		}
	}

	return candidates, true, nil
}

// keywordFallback ranks the scope's records by keyword overlap alone. It is
// used when the vector index cannot answer.
func (e *Engine) keywordFallback(ctx context.Context, query string, opts Options) ([]*model.Memory, error) {
	stages := []model.Stage{model.StageActive, model.StageAging}
	if opts.IncludeArchived {
		stages = append(stages, model.StageArchived)
	}

	records, err := e.records.List(ctx, &storage.ListOptions{Scope: &opts.Scope, Stages: stages})
	if err != nil {
		if isDeadline(ctx, err) {
			return nil, fmt.Errorf("%w: keyword fallback", model.ErrTimeout)
		}
		return nil, err
	}

	candidates := make([]*model.Memory, 0, len(records))
	for _, record := range records {
		overlap := text.Overlap(query, record.Content)
		if overlap == 0 {
			continue
		}
		m := record.Clone()
		m.Score = overlap
		candidates = append(candidates, m)
	}
	return rank(candidates, opts), nil
}

func (e *Engine) score(semantic float64, query, content string, rerank bool) float64 {
	if !rerank {
		return semantic
	}
	return e.cfg.SemanticWeight*semantic + e.cfg.KeywordWeight*text.Overlap(query, content)
}

func (e *Engine) cacheKey(query string, opts Options) string {
	gen := uint64(0)
	if e.cache != nil {
		gen = e.cache.generation(opts.Scope.Key())
	}
	return fmt.Sprintf("%d|%s|%d|%g|%t|%t|%s",
		gen, opts.Scope.Key(), opts.TopK, opts.MinScore, opts.IncludeArchived, opts.Rerank, query)
}

// rank drops low scores, orders by score then recency and truncates to TopK.
func rank(candidates []*model.Memory, opts Options) []*model.Memory {
	out := candidates[:0]
	for _, m := range candidates {
		if m.Score >= opts.MinScore {
			out = append(out, m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out
}

func visible(stage model.Stage, includeArchived bool) bool {
	if stage.Searchable() {
		return true
	}
	return includeArchived && stage == model.StageArchived
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
