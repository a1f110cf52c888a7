package lifecycle_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/core"
	memindex "github.com/oceanbase/memstore/pkg/index/memory"
	"github.com/oceanbase/memstore/pkg/lifecycle"
	"github.com/oceanbase/memstore/pkg/model"
	sqliteStore "github.com/oceanbase/memstore/pkg/storage/sqlite"
)

// tableEmbedder returns a fixed vector per text.
type tableEmbedder map[string][]float64

func (e tableEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if v, ok := e[text]; ok {
		return v, nil
	}
	return []float64{0, 1, 0}, nil
}

func (e tableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (e tableEmbedder) Dimensions() int { return 3 }
func (e tableEmbedder) Close() error    { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newClient(t *testing.T, clk *clock) *core.Client {
	t.Helper()

	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:         filepath.Join(t.TempDir(), "lifecycle.db"),
		CollectionName: "memories",
	})
	require.NoError(t, err)

	client, err := core.NewClient(core.DefaultConfig(),
		core.WithRecordStore(store),
		core.WithVectorIndex(memindex.New(nil)),
		core.WithEmbedder(tableEmbedder{
			"User likes coffee":           {1, 0, 0},
			"User enjoys drinking coffee": {0.9, 0.436, 0},
			"User is a developer":         {0, 0, 1},
		}),
		core.WithClock(clk.Now),
		core.WithLogger(quiet),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newManager(client *core.Client, clk *clock, opts ...lifecycle.Option) *lifecycle.Manager {
	base := []lifecycle.Option{lifecycle.WithClock(clk.Now), lifecycle.WithLogger(quiet)}
	return lifecycle.NewManager(client, lifecycle.DefaultPolicy(), append(base, opts...)...)
}

func TestSweepConsolidatesCoffee(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	client := newClient(t, clk)
	ctx := context.Background()
	scope := core.UserScope("A")

	coffee1, err := client.Add(ctx, "User likes coffee", core.WithScope(scope), core.WithImportance(0.7))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	coffee2, err := client.Add(ctx, "User enjoys drinking coffee", core.WithScope(scope), core.WithImportance(0.5))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	dev, err := client.Add(ctx, "User is a developer", core.WithScope(scope), core.WithImportance(0.5))
	require.NoError(t, err)

	report, err := newManager(client, clk).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Consolidated)
	assert.Zero(t, report.Aged)
	assert.Zero(t, report.Errors)

	kept, err := client.Get(ctx, coffee1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageActive, kept.Stage)
	assert.Equal(t, 1, kept.Metadata.Int(model.KeyConsolidatedFrom))
	assert.Equal(t, []int64{coffee2.ID}, kept.Metadata.Int64s(model.KeyConsolidatedIDs))

	absorbed, err := client.Get(ctx, coffee2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageArchived, absorbed.Stage)
	into, ok := absorbed.Metadata.Int64(model.KeyConsolidatedInto)
	require.True(t, ok)
	assert.Equal(t, coffee1.ID, into)

	untouched, err := client.Get(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageActive, untouched.Stage)

	results, err := client.Search(ctx, "coffee", core.WithScopeForSearch(scope))
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, coffee2.ID, r.ID)
	}

	// A second sweep finds nothing more to merge.
	report, err = newManager(client, clk).Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Consolidated)
}

func TestSweepDoesNotMergeAcrossScopes(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	client := newClient(t, clk)
	ctx := context.Background()

	a, err := client.Add(ctx, "User likes coffee", core.WithUserID("A"))
	require.NoError(t, err)
	b, err := client.Add(ctx, "User likes coffee", core.WithUserID("B"))
	require.NoError(t, err)

	report, err := newManager(client, clk).Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Consolidated)

	for _, id := range []int64{a.ID, b.ID} {
		m, err := client.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StageActive, m.Stage)
	}
}

func TestSweepStages(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	client := newClient(t, clk)
	ctx := context.Background()
	mgr := newManager(client, clk)

	low, err := client.Add(ctx, "User likes coffee", core.WithUserID("A"), core.WithImportance(0.1))
	require.NoError(t, err)
	high, err := client.Add(ctx, "User is a developer", core.WithUserID("A"), core.WithImportance(0.9))
	require.NoError(t, err)

	stage := func(id int64) model.Stage {
		m, err := client.Get(ctx, id)
		require.NoError(t, err)
		return m.Stage
	}

	clk.Advance(31 * 24 * time.Hour)
	report, err := mgr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Aged)
	assert.Equal(t, model.StageAging, stage(low.ID))
	assert.Equal(t, model.StageActive, stage(high.ID), "important memories never age")

	clk.Advance(60 * 24 * time.Hour)
	report, err = mgr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived)
	assert.Equal(t, model.StageArchived, stage(low.ID))

	clk.Advance(29 * 24 * time.Hour)
	report, err = mgr.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Purged, "retention counts from archival")

	clk.Advance(2 * 24 * time.Hour)
	report, err = mgr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Purged)

	_, err = client.Get(ctx, low.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, model.StageActive, stage(high.ID))
}

func TestSweepRespectsRecentUpdates(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	client := newClient(t, clk)
	ctx := context.Background()

	m, err := client.Add(ctx, "User likes coffee", core.WithUserID("A"), core.WithImportance(0.1))
	require.NoError(t, err)

	clk.Advance(31 * 24 * time.Hour)
	_, err = client.Update(ctx, m.ID, core.WithMetadataPatch(map[string]interface{}{"seen": true}))
	require.NoError(t, err)

	report, err := newManager(client, clk).Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Aged)
}

func TestSweepSkipsWhenLeaseHeld(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	client := newClient(t, clk)
	ctx := context.Background()

	locker := lifecycle.NewLocalLocker()
	ok, err := locker.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = newManager(client, clk, lifecycle.WithLocker(locker)).Sweep(ctx)
	assert.ErrorIs(t, err, lifecycle.ErrSweepInProgress)

	require.NoError(t, locker.Unlock(ctx))
	_, err = newManager(client, clk, lifecycle.WithLocker(locker)).Sweep(ctx)
	assert.NoError(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	client := newClient(t, clk)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := newManager(client, clk).Run(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
