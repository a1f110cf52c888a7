package qwen_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/embedder"
	"github.com/oceanbase/memstore/pkg/embedder/qwen"
)

func TestQwenEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"output": map[string]interface{}{
				"embeddings": []map[string]interface{}{
					{"text_index": 1, "embedding": []float64{0, 1}},
					{"text_index": 0, "embedding": []float64{1, 0}},
				},
			},
		})
	}))
	defer srv.Close()

	c, err := qwen.NewClient(&qwen.Config{APIKey: "key", BaseURL: srv.URL, Dimensions: 2})
	require.NoError(t, err)

	out, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, out)
}

func TestQwenClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := qwen.NewClient(&qwen.Config{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, embedder.IsPermanent(err))
}

func TestQwenServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := qwen.NewClient(&qwen.Config{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "a")
	require.Error(t, err)
	assert.False(t, embedder.IsPermanent(err))
}
