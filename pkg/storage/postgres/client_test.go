package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/storage"
	postgresStore "github.com/oceanbase/memstore/pkg/storage/postgres"
)

func setupPostgresTest(t *testing.T) storage.RecordStore {
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: POSTGRES_PASSWORD not set")
	}

	port, err := strconv.Atoi(getenv("POSTGRES_PORT", "5432"))
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: invalid POSTGRES_PORT")
	}

	collection := "memstore_test_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	store, err := postgresStore.NewClient(&postgresStore.Config{
		Host:               getenv("POSTGRES_HOST", "127.0.0.1"),
		Port:               port,
		User:               getenv("POSTGRES_USER", "postgres"),
		Password:           password,
		DBName:             getenv("POSTGRES_DATABASE", "memstore_test"),
		CollectionName:     collection,
		EmbeddingModelDims: 3,
	})
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: %v", err)
	}

	t.Cleanup(func() {
		_, _ = store.DeleteAll(context.Background(), nil)
		_ = store.Close()
	})
	return store
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresClient_CRUD(t *testing.T) {
	store := setupPostgresTest(t)
	ctx := context.Background()

	now := time.Now().UTC()
	memory := &model.Memory{
		ID:             1,
		Content:        "A likes coffee",
		Embedding:      []float64{0.5, 0.25, 0.125},
		Scope:          model.UserScope("A"),
		Importance:     0.6,
		Stage:          model.StageActive,
		Metadata:       model.Metadata{"source": "test"},
		CreatedAt:      now,
		UpdatedAt:      now,
		StageChangedAt: now,
	}
	require.NoError(t, store.Insert(ctx, memory))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, memory.Content, got.Content)
	assert.Equal(t, memory.Embedding, got.Embedding)
	assert.Equal(t, memory.Scope, got.Scope)

	memory.Content = "A likes tea"
	require.NoError(t, store.Update(ctx, memory))

	scope := model.UserScope("A")
	list, err := store.List(ctx, &storage.ListOptions{Scope: &scope, Stages: []model.Stage{model.StageActive}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A likes tea", list[0].Content)

	require.NoError(t, store.Delete(ctx, 1))
	_, err = store.Get(ctx, 1)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
