package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/core"
)

func TestBatchAdd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.client.BatchAdd(ctx, []string{
		"User likes coffee",
		"",
		"User is a developer",
	}, core.WithUserID("A"))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.CreatedCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 1, result.Failed[0].Index)
	assert.ErrorIs(t, result.Failed[0].Error, core.ErrValidation)
	assert.Equal(t, 2, h.index.Len())
}

func TestBatchAdd_Empty(t *testing.T) {
	h := newHarness(t)

	result, err := h.client.BatchAdd(context.Background(), nil, core.WithUserID("A"))
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Empty(t, result.Created)
}

func TestBatchAdd_EmbeddingFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.emb.fail.Store(true)

	_, err := h.client.BatchAdd(ctx, []string{"a", "b"}, core.WithUserID("A"))
	assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)

	all, err := h.client.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestBatchDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		m, err := h.client.Add(ctx, fmt.Sprintf("memory %d", i), core.WithUserID("A"))
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	result, err := h.client.BatchDelete(ctx, append(ids, 999))
	require.NoError(t, err)
	assert.Equal(t, 6, result.Total)
	assert.Equal(t, 6, result.DeletedCount)
	assert.Zero(t, h.index.Len())
}

func TestGetAllStream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := h.client.Add(ctx, fmt.Sprintf("memory %d", i), core.WithUserID("A"))
		require.NoError(t, err)
	}

	var batches, total int
	var last bool
	for batch := range h.client.GetAllStream(ctx, 3, core.WithUserIDForGetAll("A")) {
		require.NoError(t, batch.Error)
		assert.Equal(t, batches, batch.BatchIndex)
		batches++
		total += len(batch.Memories)
		last = batch.IsLastBatch
	}

	assert.Equal(t, 3, batches)
	assert.Equal(t, 7, total)
	assert.True(t, last)
}

func TestGetAllStream_ContextCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr bool
	for batch := range h.client.GetAllStream(ctx, 10) {
		if batch.Error != nil {
			sawErr = true
		}
	}
	assert.True(t, sawErr)
}
