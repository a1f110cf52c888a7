package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/core"
	"github.com/oceanbase/memstore/pkg/model"
)

func TestTransitionEligibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.client.Add(ctx, "User likes coffee", core.WithUserID("A"))
	require.NoError(t, err)

	moved, err := h.client.Transition(ctx, m.ID, model.StageAging, func(*core.Memory) bool { return false })
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = h.client.Transition(ctx, m.ID, model.StageAging, nil)
	require.NoError(t, err)
	assert.True(t, moved)

	// Not a forward move.
	moved, err = h.client.Transition(ctx, m.ID, model.StageActive, nil)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = h.client.Transition(ctx, 987654, model.StageAging, nil)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestMerge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	keeper, err := h.client.Add(ctx, "User likes coffee", core.WithUserID("A"),
		core.WithImportance(0.7), core.WithMetadata(map[string]interface{}{"source": "chat"}))
	require.NoError(t, err)
	absorbed, err := h.client.Add(ctx, "User enjoys coffee daily", core.WithUserID("A"),
		core.WithImportance(0.9), core.WithMetadata(map[string]interface{}{"topic": "drinks"}))
	require.NoError(t, err)
	other, err := h.client.Add(ctx, "User likes coffee", core.WithUserID("B"))
	require.NoError(t, err)

	merged, err := h.client.Merge(ctx, keeper.ID, []int64{absorbed.ID, other.ID, keeper.ID})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, merged.Importance, 1e-9)
	assert.True(t, merged.UpdatedAt.After(keeper.UpdatedAt))

	got, err := h.client.Get(ctx, keeper.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageActive, got.Stage)
	assert.Equal(t, 1, got.Metadata.Int(model.KeyConsolidatedFrom))
	assert.Equal(t, []int64{absorbed.ID}, got.Metadata.Int64s(model.KeyConsolidatedIDs))
	assert.Equal(t, "chat", got.Metadata["source"])
	assert.Equal(t, "drinks", got.Metadata["topic"])

	gone, err := h.client.Get(ctx, absorbed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageArchived, gone.Stage)
	into, ok := gone.Metadata.Int64(model.KeyConsolidatedInto)
	require.True(t, ok)
	assert.Equal(t, keeper.ID, into)

	// Another scope is never absorbed.
	untouched, err := h.client.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageActive, untouched.Stage)

	_, err = h.client.Merge(ctx, keeper.ID, []int64{keeper.ID})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestMergeAccumulates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.client.Add(ctx, "coffee one", core.WithUserID("A"))
	require.NoError(t, err)
	b, err := h.client.Add(ctx, "coffee two", core.WithUserID("A"))
	require.NoError(t, err)
	c, err := h.client.Add(ctx, "coffee three", core.WithUserID("A"))
	require.NoError(t, err)

	_, err = h.client.Merge(ctx, b.ID, []int64{c.ID})
	require.NoError(t, err)
	_, err = h.client.Merge(ctx, a.ID, []int64{b.ID})
	require.NoError(t, err)

	got, err := h.client.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Metadata.Int(model.KeyConsolidatedFrom))
	want := []int64{b.ID, c.ID}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}
	assert.Equal(t, want, got.Metadata.Int64s(model.KeyConsolidatedIDs))
}

func TestNeighbors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.client.Add(ctx, "User likes coffee", core.WithUserID("A"))
	require.NoError(t, err)
	b, err := h.client.Add(ctx, "Coffee at noon", core.WithUserID("A"))
	require.NoError(t, err)
	_, err = h.client.Add(ctx, "Coffee elsewhere", core.WithUserID("B"))
	require.NoError(t, err)

	hits, err := h.client.Neighbors(ctx, a, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, b.ID, hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestPurge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.client.Add(ctx, "User likes coffee", core.WithUserID("A"))
	require.NoError(t, err)

	purged, err := h.client.Purge(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.False(t, purged, "active memories are never purged")

	_, err = h.client.Transition(ctx, m.ID, model.StageArchived, nil)
	require.NoError(t, err)

	purged, err = h.client.Purge(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.True(t, purged)

	_, err = h.client.Get(ctx, m.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Zero(t, h.index.Len())
}

func TestCheckConsistency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.client.Add(ctx, "User likes coffee", core.WithUserID("A"))
	require.NoError(t, err)

	require.NoError(t, h.index.Remove(ctx, m.ID))
	require.NoError(t, h.index.Insert(ctx, 42, model.UserScope("A"), []float64{1, 0, 0}))

	report, err := h.client.CheckConsistency(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Records)
	assert.Equal(t, []int64{m.ID}, report.MissingVectors)
	assert.Equal(t, []int64{42}, report.OrphanVectors)
	assert.Zero(t, report.Repaired)

	report, err = h.client.CheckConsistency(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Repaired)

	ok, err := h.index.Contains(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.index.Contains(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepairDanglingHit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.client.Add(ctx, "User likes coffee", core.WithUserID("A"))
	require.NoError(t, err)
	require.NoError(t, h.index.Insert(ctx, 77, model.UserScope("A"), []float64{1, 0, 0}))

	results, err := h.client.Search(ctx, "coffee", core.WithUserIDForSearch("A"))
	require.NoError(t, err)
	assert.Equal(t, []int64{m.ID}, memoryIDs(results))
	assert.Equal(t, 1, h.client.PendingRepairs())

	n, err := h.client.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, h.client.PendingRepairs())

	ok, err := h.index.Contains(ctx, 77)
	require.NoError(t, err)
	assert.False(t, ok)
}
