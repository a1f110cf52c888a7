package core

import (
	"context"
	"time"

	"github.com/oceanbase/memstore/pkg/embedder"
	hashEmbedder "github.com/oceanbase/memstore/pkg/embedder/hash"
	openaiEmbedder "github.com/oceanbase/memstore/pkg/embedder/openai"
	qwenEmbedder "github.com/oceanbase/memstore/pkg/embedder/qwen"
	"github.com/oceanbase/memstore/pkg/index"
	chromemIndex "github.com/oceanbase/memstore/pkg/index/chromem"
	memoryIndex "github.com/oceanbase/memstore/pkg/index/memory"
	qdrantIndex "github.com/oceanbase/memstore/pkg/index/qdrant"
	"github.com/oceanbase/memstore/pkg/storage"
	"github.com/oceanbase/memstore/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/memstore/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/memstore/pkg/storage/sqlite"
)

// initStorage initializes the record store backend.
func initStorage(cfg StoreConfig, dims int) (storage.RecordStore, error) {
	m := cfg.Config
	if m == nil {
		m = map[string]interface{}{}
	}

	switch cfg.Provider {
	case "oceanbase":
		return oceanbase.NewClient(&oceanbase.Config{
			Host:               configString(m, "host", "127.0.0.1"),
			Port:               configInt(m, "port", 2881),
			User:               configString(m, "user", "root@sys"),
			Password:           configString(m, "password", ""),
			DBName:             configString(m, "db_name", "memstore"),
			CollectionName:     configString(m, "collection_name", "memories"),
			EmbeddingModelDims: configInt(m, "embedding_model_dims", dims),
		})
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:         configString(m, "db_path", "./memstore.db"),
			CollectionName: configString(m, "collection_name", "memories"),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:               configString(m, "host", "localhost"),
			Port:               configInt(m, "port", 5432),
			User:               configString(m, "user", "postgres"),
			Password:           configString(m, "password", ""),
			DBName:             configString(m, "db_name", "memstore"),
			CollectionName:     configString(m, "collection_name", "memories"),
			EmbeddingModelDims: configInt(m, "embedding_model_dims", dims),
			SSLMode:            configString(m, "ssl_mode", "disable"),
		})
	default:
		return nil, invalidConfig("initStorage", "unknown store provider %q", cfg.Provider)
	}
}

// initIndex initializes the vector index backend.
func initIndex(cfg VectorIndexConfig, dims int) (index.Index, error) {
	metric := index.Metric(cfg.Metric)
	switch metric {
	case "", index.MetricCosine, index.MetricIP:
	default:
		return nil, invalidConfig("initIndex", "unknown metric %q", cfg.Metric)
	}

	switch cfg.Backend {
	case "memory":
		return memoryIndex.New(&memoryIndex.Config{Dimensions: dims, Metric: metric}), nil
	case "chromem":
		if metric == index.MetricIP {
			return nil, invalidConfig("initIndex", "chromem only supports cosine similarity")
		}
		return chromemIndex.New(&chromemIndex.Config{
			Path:       cfg.Path,
			Compress:   true,
			Dimensions: dims,
		})
	case "qdrant":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return qdrantIndex.New(ctx, &qdrantIndex.Config{
			Host:           cfg.Host,
			Port:           cfg.Port,
			APIKey:         cfg.APIKey,
			CollectionName: cfg.Collection,
			Dimensions:     dims,
			Metric:         metric,
			HnswEf:         uint64(cfg.EF),
		})
	default:
		return nil, invalidConfig("initIndex", "unknown vector index backend %q", cfg.Backend)
	}
}

// initEmbedder initializes the embedder provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "qwen":
		return qwenEmbedder.NewClient(&qwenEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "hash":
		return hashEmbedder.NewClient(&hashEmbedder.Config{Dimensions: cfg.Dimensions}), nil
	default:
		return nil, invalidConfig("initEmbedder", "unknown embedder provider %q", cfg.Provider)
	}
}
