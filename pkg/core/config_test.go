package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/core"
)

func TestDefaultConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "hash", cfg.Embedder.Provider)
	assert.Equal(t, "memory", cfg.VectorIndex.Backend)
	assert.Equal(t, "sqlite", cfg.Store.Provider)
	assert.Equal(t, 0.85, cfg.Lifecycle.ConsolidationThreshold)
	assert.Equal(t, 30.0, cfg.Lifecycle.SoftAgeDays)
	assert.Equal(t, 90.0, cfg.Lifecycle.HardAgeDays)
	assert.Equal(t, time.Hour, cfg.Lifecycle.SweepInterval.Std())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_MODEL", "text-embedding-3-large")
	t.Setenv("EMBEDDING_DIMS", "3072")
	t.Setenv("VECTOR_INDEX_BACKEND", "chromem")
	t.Setenv("CONSOLIDATION_THRESHOLD", "0.9")
	t.Setenv("SOFT_AGE_DAYS", "7")
	t.Setenv("HARD_AGE_DAYS", "60")
	t.Setenv("RETENTION_DAYS", "14")
	t.Setenv("SEARCH_TIMEOUT", "250ms")
	t.Setenv("LEASE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := core.LoadConfigFromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres", cfg.Store.Provider)
	assert.Equal(t, "db.internal", cfg.Store.Config["host"])
	assert.Equal(t, "openai", cfg.Embedder.Provider)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedder.Model)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Embedder.BaseURL)
	assert.Equal(t, 3072, cfg.Embedder.Dimensions)
	assert.Equal(t, "chromem", cfg.VectorIndex.Backend)
	assert.Equal(t, 0.9, cfg.Lifecycle.ConsolidationThreshold)
	assert.Equal(t, 7.0, cfg.Lifecycle.SoftAgeDays)
	assert.Equal(t, 60.0, cfg.Lifecycle.HardAgeDays)
	assert.Equal(t, 14.0, cfg.Lifecycle.RetentionDays)
	assert.Equal(t, 250*time.Millisecond, cfg.Retrieval.Timeout.Std())
	assert.Equal(t, "redis", cfg.Lifecycle.LeaseBackend)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "memstore.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"vector_index": {"backend": "qdrant", "host": "qdrant", "port": 6334},
		"lifecycle": {"soft_age_days": 10, "soft_threshold": 0.2, "hard_age_days": 20,
			"retention_days": 5, "consolidation_threshold": 0.8, "sweep_interval": "15m"}
	}`), 0o600))

	cfg, err := core.LoadConfigFromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "qdrant", cfg.VectorIndex.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Lifecycle.SweepInterval.Std())
	assert.Equal(t, "hash", cfg.Embedder.Provider, "absent sections keep defaults")

	yamlPath := filepath.Join(dir, "memstore.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
embedder:
  provider: hash
  dimensions: 64
vector_index:
  backend: chromem
  path: /var/lib/memstore/index
lifecycle:
  soft_age_days: 3
  soft_threshold: 0.4
  hard_age_days: 9
  retention_days: 1
  consolidation_threshold: 0.95
`), 0o600))

	cfg, err = core.LoadConfigFromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Embedder.Dimensions)
	assert.Equal(t, "/var/lib/memstore/index", cfg.VectorIndex.Path)
	assert.Equal(t, 0.95, cfg.Lifecycle.ConsolidationThreshold)

	_, err = core.LoadConfigFromFile(filepath.Join(dir, "memstore.toml"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*core.Config)
	}{
		{name: "missing embedder", mutate: func(c *core.Config) { c.Embedder.Provider = "" }},
		{name: "missing index backend", mutate: func(c *core.Config) { c.VectorIndex.Backend = "" }},
		{name: "missing store", mutate: func(c *core.Config) { c.Store.Provider = "" }},
		{name: "hard before soft", mutate: func(c *core.Config) { c.Lifecycle.HardAgeDays = 1 }},
		{name: "negative retention", mutate: func(c *core.Config) { c.Lifecycle.RetentionDays = -1 }},
		{name: "threshold above one", mutate: func(c *core.Config) { c.Lifecycle.ConsolidationThreshold = 1.2 }},
		{name: "zero threshold", mutate: func(c *core.Config) { c.Lifecycle.ConsolidationThreshold = 0 }},
		{name: "redis without addr", mutate: func(c *core.Config) { c.Lifecycle.LeaseBackend = "redis" }},
		{name: "negative weight", mutate: func(c *core.Config) { c.Retrieval.KeywordWeight = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}
}

func TestNewClientRejectsUnknownBackend(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.VectorIndex.Backend = "faiss"
	cfg.Store.Config["db_path"] = filepath.Join(t.TempDir(), "x.db")

	_, err := core.NewClient(cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestFindEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, found := core.FindEnvFile()
	assert.False(t, found)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o600))
	path, found := core.FindEnvFile()
	assert.True(t, found)
	assert.Equal(t, ".env", path)
}
