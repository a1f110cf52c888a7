package core

import (
	"log/slog"
	"time"

	"github.com/oceanbase/memstore/pkg/embedder"
	"github.com/oceanbase/memstore/pkg/index"
	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/storage"
)

// AddOption is a function type for configuring Add operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type AddOption func(*AddOptions)

// AddOptions contains configuration options for Add operations.
type AddOptions struct {
	// Scope is the partition the memory belongs to. Required.
	Scope Scope

	// Metadata contains reserved keys (importance_score, confidence, ...)
	// and caller-defined attributes.
	Metadata map[string]interface{}

	// Importance overrides the default importance of 0.5.
	Importance *float64

	// MemoryType tags the memory.
	MemoryType MemoryType
}

// WithScope sets the scope for Add operations.
//
// Example:
//
//	memory, _ := client.Add(ctx, "content", core.WithScope(core.UserScope("A")))
func WithScope(scope Scope) AddOption {
	return func(opts *AddOptions) {
		opts.Scope = scope
	}
}

// WithUserID places the memory in the user's scope.
//
// Example:
//
//	memory, _ := client.Add(ctx, "content", core.WithUserID("user_001"))
func WithUserID(userID string) AddOption {
	return WithScope(model.UserScope(userID))
}

// WithSessionID places the memory in the session's scope.
func WithSessionID(sessionID string) AddOption {
	return WithScope(model.SessionScope(sessionID))
}

// WithAgentID places the memory in the agent's scope.
func WithAgentID(agentID string) AddOption {
	return WithScope(model.AgentScope(agentID))
}

// WithMetadata sets metadata for Add operations.
//
// Example:
//
//	memory, _ := client.Add(ctx, "content",
//	    core.WithUserID("user_001"),
//	    core.WithMetadata(map[string]interface{}{
//	        "source":           "conversation",
//	        "importance_score": 0.8,
//	    }),
//	)
func WithMetadata(metadata map[string]interface{}) AddOption {
	return func(opts *AddOptions) {
		opts.Metadata = metadata
	}
}

// WithImportance sets the importance score for Add operations.
func WithImportance(importance float64) AddOption {
	return func(opts *AddOptions) {
		opts.Importance = &importance
	}
}

// WithMemoryType sets the memory type for Add operations.
func WithMemoryType(memoryType MemoryType) AddOption {
	return func(opts *AddOptions) {
		opts.MemoryType = memoryType
	}
}

func applyAddOptions(opts []AddOption) *AddOptions {
	o := &AddOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UpdateOption is a function type for configuring Update operations.
type UpdateOption func(*UpdateOptions)

// UpdateOptions contains the fields an Update changes. Absent fields keep
// their stored values.
type UpdateOptions struct {
	// Content replaces the content and triggers re-embedding when it differs.
	Content *string

	// Metadata is shallow-merged into the stored metadata.
	Metadata map[string]interface{}
}

// WithContent replaces the memory content.
func WithContent(content string) UpdateOption {
	return func(opts *UpdateOptions) {
		opts.Content = &content
	}
}

// WithMetadataPatch merges metadata into the stored memory. Keys present in
// the patch overwrite, other keys are kept.
func WithMetadataPatch(metadata map[string]interface{}) UpdateOption {
	return func(opts *UpdateOptions) {
		opts.Metadata = metadata
	}
}

func applyUpdateOptions(opts []UpdateOption) *UpdateOptions {
	o := &UpdateOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SearchOption is a function type for configuring Search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for Search operations.
type SearchOptions struct {
	// Scope restricts the search to one partition. Required.
	Scope Scope

	// Limit sets the maximum number of results to return.
	// Default: 5
	Limit int

	// MinScore drops results scoring below it.
	MinScore float64

	// IncludeArchived also returns archived memories.
	IncludeArchived bool

	// Rerank blends keyword overlap into the score.
	// Default: true
	Rerank bool

	// Timeout bounds the search (0 = configured default).
	Timeout time.Duration
}

// WithScopeForSearch sets the scope for Search operations.
func WithScopeForSearch(scope Scope) SearchOption {
	return func(opts *SearchOptions) {
		opts.Scope = scope
	}
}

// WithUserIDForSearch searches the user's scope.
//
// Example:
//
//	results, _ := client.Search(ctx, "query", core.WithUserIDForSearch("user_001"))
func WithUserIDForSearch(userID string) SearchOption {
	return WithScopeForSearch(model.UserScope(userID))
}

// WithAgentIDForSearch searches the agent's scope.
func WithAgentIDForSearch(agentID string) SearchOption {
	return WithScopeForSearch(model.AgentScope(agentID))
}

// WithLimit sets the maximum number of results for Search operations.
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithMinScore sets the minimum score for Search operations.
func WithMinScore(minScore float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinScore = minScore
	}
}

// WithIncludeArchived includes archived memories in Search results.
func WithIncludeArchived(include bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.IncludeArchived = include
	}
}

// WithRerank enables or disables keyword reranking.
func WithRerank(rerank bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.Rerank = rerank
	}
}

// WithSearchTimeout bounds a single search.
func WithSearchTimeout(timeout time.Duration) SearchOption {
	return func(opts *SearchOptions) {
		opts.Timeout = timeout
	}
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	o := &SearchOptions{Rerank: true}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GetAllOption is a function type for configuring GetAll operations.
type GetAllOption func(*GetAllOptions)

// GetAllOptions contains configuration options for GetAll operations.
type GetAllOptions struct {
	// Scope restricts results to one partition (nil = all).
	Scope *Scope

	// Stages restricts results to the given stages (empty = all).
	Stages []Stage

	// Limit sets the maximum number of results.
	// Default: 100
	Limit int

	// Offset skips results for pagination.
	Offset int
}

// WithScopeForGetAll restricts GetAll to a scope.
func WithScopeForGetAll(scope Scope) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Scope = &scope
	}
}

// WithUserIDForGetAll restricts GetAll to the user's scope.
//
// Example:
//
//	memories, _ := client.GetAll(ctx, core.WithUserIDForGetAll("user_001"))
func WithUserIDForGetAll(userID string) GetAllOption {
	return WithScopeForGetAll(model.UserScope(userID))
}

// WithStages restricts GetAll to memories in the given stages.
func WithStages(stages ...Stage) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Stages = stages
	}
}

// WithLimitForGetAll sets the maximum number of results for GetAll.
func WithLimitForGetAll(limit int) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Limit = limit
	}
}

// WithOffset sets the pagination offset for GetAll.
func WithOffset(offset int) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Offset = offset
	}
}

func applyGetAllOptions(opts []GetAllOption) *GetAllOptions {
	o := &GetAllOptions{Limit: 100}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DeleteAllOption is a function type for configuring DeleteAll operations.
type DeleteAllOption func(*DeleteAllOptions)

// DeleteAllOptions contains configuration options for DeleteAll operations.
type DeleteAllOptions struct {
	// Scope restricts deletion to one partition (nil = everything).
	Scope *Scope
}

// WithScopeForDeleteAll restricts DeleteAll to a scope.
func WithScopeForDeleteAll(scope Scope) DeleteAllOption {
	return func(opts *DeleteAllOptions) {
		opts.Scope = &scope
	}
}

// WithUserIDForDeleteAll restricts DeleteAll to the user's scope.
//
// Example:
//
//	n, _ := client.DeleteAll(ctx, core.WithUserIDForDeleteAll("user_001"))
func WithUserIDForDeleteAll(userID string) DeleteAllOption {
	return WithScopeForDeleteAll(model.UserScope(userID))
}

func applyDeleteAllOptions(opts []DeleteAllOption) *DeleteAllOptions {
	o := &DeleteAllOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ClientOption injects collaborators into NewClient. Injected collaborators
// take precedence over the corresponding config sections.
type ClientOption func(*clientOptions)

type clientOptions struct {
	records  storage.RecordStore
	index    index.Index
	embedder embedder.Provider
	logger   *slog.Logger
	clock    func() time.Time
}

// WithRecordStore uses store instead of building one from Config.Store.
func WithRecordStore(store storage.RecordStore) ClientOption {
	return func(o *clientOptions) {
		o.records = store
	}
}

// WithVectorIndex uses idx instead of building one from Config.VectorIndex.
func WithVectorIndex(idx index.Index) ClientOption {
	return func(o *clientOptions) {
		o.index = idx
	}
}

// WithEmbedder uses p instead of building one from Config.Embedder. The
// provider is still wrapped with retries.
func WithEmbedder(p embedder.Provider) ClientOption {
	return func(o *clientOptions) {
		o.embedder = p
	}
}

// WithLogger sets the client logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) ClientOption {
	return func(o *clientOptions) {
		o.clock = clock
	}
}
