package core_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/core"
	"github.com/oceanbase/memstore/pkg/index"
	memindex "github.com/oceanbase/memstore/pkg/index/memory"
	"github.com/oceanbase/memstore/pkg/model"
	sqliteStore "github.com/oceanbase/memstore/pkg/storage/sqlite"
)

var errInjected = errors.New("injected failure")

// keywordEmbedder maps texts containing a known keyword to a fixed vector.
type keywordEmbedder struct {
	fail atomic.Bool
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.fail.Load() {
		return nil, errInjected
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "coffee"):
		return []float64{1, 0, 0}, nil
	case strings.Contains(lower, "developer"):
		return []float64{0, 0, 1}, nil
	}
	return []float64{0, 1, 0}, nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *keywordEmbedder) Dimensions() int { return 3 }
func (e *keywordEmbedder) Close() error    { return nil }

// flakyIndex fails inserts on demand.
type flakyIndex struct {
	*memindex.Index
	failInsert atomic.Bool
}

func (x *flakyIndex) Insert(ctx context.Context, id int64, scope model.Scope, embedding []float64) error {
	if x.failInsert.Load() {
		return errInjected
	}
	return x.Index.Insert(ctx, id, scope, embedding)
}

var _ index.Index = (*flakyIndex)(nil)

// steppedClock advances by a fixed step on every call.
type steppedClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type harness struct {
	client *core.Client
	index  *flakyIndex
	emb    *keywordEmbedder
}

func newHarness(t *testing.T, opts ...core.ClientOption) *harness {
	t.Helper()

	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:         filepath.Join(t.TempDir(), "core.db"),
		CollectionName: "memories",
	})
	require.NoError(t, err)

	h := &harness{
		index: &flakyIndex{Index: memindex.New(nil)},
		emb:   &keywordEmbedder{},
	}

	cfg := core.DefaultConfig()
	cfg.Embedder.MaxAttempts = 1

	clock := &steppedClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	base := []core.ClientOption{
		core.WithRecordStore(store),
		core.WithVectorIndex(h.index),
		core.WithEmbedder(h.emb),
		core.WithClock(clock.Now),
		core.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}

	h.client, err = core.NewClient(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.client.Close() })
	return h
}

func memoryIDs(ms []*core.Memory) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
