package qdrant_test

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/index"
	"github.com/oceanbase/memstore/pkg/index/qdrant"
	"github.com/oceanbase/memstore/pkg/model"
)

func setupTestIndex(t *testing.T) *qdrant.Index {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		t.Skip("QDRANT_HOST not set, skipping Qdrant tests")
	}
	port, _ := strconv.Atoi(os.Getenv("QDRANT_PORT"))

	x, err := qdrant.New(context.Background(), &qdrant.Config{
		Host:           host,
		Port:           port,
		APIKey:         os.Getenv("QDRANT_API_KEY"),
		CollectionName: fmt.Sprintf("memstore_test_%d", time.Now().UnixNano()),
		Dimensions:     3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func TestQdrantIndexScopedQuery(t *testing.T) {
	x := setupTestIndex(t)
	ctx := context.Background()

	userA := model.UserScope("A")
	require.NoError(t, x.Insert(ctx, 1, userA, []float64{1, 0, 0}))
	require.NoError(t, x.Insert(ctx, 2, model.UserScope("B"), []float64{1, 0, 0}))

	hits, err := x.Query(ctx, []float64{1, 0, 0}, 5, &index.Filter{Scope: &userA})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].ID)

	ids, err := x.IDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, ids)

	require.NoError(t, x.Remove(ctx, 1))
	ok, err := x.Contains(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQdrantIndexRejectsWrongDimensions(t *testing.T) {
	x := setupTestIndex(t)
	err := x.Insert(context.Background(), 1, model.GlobalScope(), []float64{1, 0})
	assert.ErrorIs(t, err, model.ErrValidation)
}
