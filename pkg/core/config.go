// Package core provides the memstore client: the Memory Store that keeps
// memory records and their vectors in step, and the entry point for search
// and lifecycle maintenance.
package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a memstore client.
//
// It includes settings for:
//   - Embedding provider (for vector generation)
//   - Vector index (for similarity lookup)
//   - Record store (for memory persistence)
//   - Retrieval, lifecycle, logging and the HTTP server
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-ada-002",
//	        Dimensions: 1536,
//	    },
//	    VectorIndex: core.VectorIndexConfig{Backend: "memory"},
//	    Store: core.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memstore.db",
//	        },
//	    },
//	}
type Config struct {
	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// VectorIndex contains vector index configuration.
	VectorIndex VectorIndexConfig `json:"vector_index" yaml:"vector_index"`

	// Store contains record store configuration.
	Store StoreConfig `json:"store" yaml:"store"`

	// Retrieval tunes search.
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`

	// Lifecycle contains the aging, archival and consolidation policy.
	Lifecycle LifecycleConfig `json:"lifecycle" yaml:"lifecycle"`

	// Log configures the process logger.
	Log LogConfig `json:"log" yaml:"log"`

	// Server configures the HTTP API.
	Server ServerConfig `json:"server" yaml:"server"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, qwen, hash
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, qwen, hash).
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-ada-002", "text-embedding-v4").
	Model string `json:"model" yaml:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536, 1024).
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`

	// MaxAttempts bounds retries of a failed embedding call (default: 3).
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// VectorIndexConfig contains configuration for the vector index.
//
// Supported backends: memory, chromem, qdrant
type VectorIndexConfig struct {
	// Backend is the index backend name.
	Backend string `json:"backend" yaml:"backend"`

	// Metric is the similarity metric: cosine (default) or ip.
	Metric string `json:"metric,omitempty" yaml:"metric,omitempty"`

	// Path persists the chromem index to a directory (empty = in memory).
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Host, Port, APIKey and Collection address a Qdrant server.
	Host       string `json:"host,omitempty" yaml:"host,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Collection string `json:"collection,omitempty" yaml:"collection,omitempty"`

	// EF is the HNSW search candidate list size, trading latency for recall.
	EF int `json:"ef,omitempty" yaml:"ef,omitempty"`
}

// Volatile reports whether the configured index lives only in process
// memory and must be rebuilt from the record store on start.
func (c VectorIndexConfig) Volatile() bool {
	switch c.Backend {
	case "memory":
		return true
	case "chromem":
		return c.Path == ""
	default:
		return false
	}
}

// StoreConfig contains configuration for the record store.
//
// Supported providers: sqlite, postgres, oceanbase
//
// Example:
//
//	storeConfig := core.StoreConfig{
//	    Provider: "sqlite",
//	    Config: map[string]interface{}{
//	        "db_path":         "./memstore.db",
//	        "collection_name": "memories",
//	    },
//	}
type StoreConfig struct {
	// Provider is the record store provider name (sqlite, postgres, oceanbase).
	Provider string `json:"provider" yaml:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, collection_name
	// For OceanBase: host, port, user, password, db_name, collection_name, embedding_model_dims
	// For PostgreSQL: host, port, user, password, db_name, collection_name, embedding_model_dims, ssl_mode
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// RetrievalConfig tunes the retrieval engine.
type RetrievalConfig struct {
	// OverFetchFactor multiplies top_k for the index query (default: 3).
	OverFetchFactor int `json:"over_fetch_factor,omitempty" yaml:"over_fetch_factor,omitempty"`

	// SemanticWeight and KeywordWeight blend the reranked score (default: 0.6/0.4).
	SemanticWeight float64 `json:"semantic_weight,omitempty" yaml:"semantic_weight,omitempty"`
	KeywordWeight  float64 `json:"keyword_weight,omitempty" yaml:"keyword_weight,omitempty"`

	// Timeout bounds a search (0 = unbounded).
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// CacheSize is the number of cached result sets (0 = no cache).
	CacheSize int64 `json:"cache_size,omitempty" yaml:"cache_size,omitempty"`

	// CacheTTL expires cached results.
	CacheTTL Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
}

// LifecycleConfig contains the lifecycle policy and sweep scheduling.
type LifecycleConfig struct {
	// SoftAgeDays is the age after which low-importance memories start aging.
	SoftAgeDays float64 `json:"soft_age_days" yaml:"soft_age_days"`

	// SoftThreshold is the importance below which old memories start aging.
	SoftThreshold float64 `json:"soft_threshold" yaml:"soft_threshold"`

	// HardAgeDays is the age after which aging memories are archived.
	HardAgeDays float64 `json:"hard_age_days" yaml:"hard_age_days"`

	// RetentionDays is how long archived memories are kept before deletion.
	RetentionDays float64 `json:"retention_days" yaml:"retention_days"`

	// ConsolidationThreshold is the similarity at which memories are merged.
	ConsolidationThreshold float64 `json:"consolidation_threshold" yaml:"consolidation_threshold"`

	// ConsolidationBatchSize bounds the memories examined per scope and sweep.
	ConsolidationBatchSize int `json:"consolidation_batch_size,omitempty" yaml:"consolidation_batch_size,omitempty"`

	// SweepInterval schedules background sweeps (0 = no background sweeps).
	SweepInterval Duration `json:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty"`

	// LeaseBackend selects the sweep lease: local (default) or redis.
	LeaseBackend string `json:"lease_backend,omitempty" yaml:"lease_backend,omitempty"`

	// RedisAddr and RedisPassword address the Redis lease server.
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`

	// LeaseTTL bounds how long a crashed sweeper can hold the lease.
	LeaseTTL Duration `json:"lease_ttl,omitempty" yaml:"lease_ttl,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Handler is text (colored, default) or json.
	Handler string `json:"handler,omitempty" yaml:"handler,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address (default: ":8080").
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Duration is a time.Duration written as "30s" or "1h" in config files.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a local configuration: hash embeddings, an
// in-memory index and a SQLite record store.
func DefaultConfig() *Config {
	return &Config{
		Embedder: EmbedderConfig{
			Provider:    "hash",
			Dimensions:  256,
			MaxAttempts: 3,
		},
		VectorIndex: VectorIndexConfig{
			Backend: "memory",
			Metric:  "cosine",
		},
		Store: StoreConfig{
			Provider: "sqlite",
			Config: map[string]interface{}{
				"db_path":         "./memstore.db",
				"collection_name": "memories",
			},
		},
		Retrieval: RetrievalConfig{
			OverFetchFactor: 3,
			SemanticWeight:  0.6,
			KeywordWeight:   0.4,
			CacheSize:       1024,
			CacheTTL:        Duration(5 * time.Minute),
		},
		Lifecycle: defaultLifecycle(),
		Log: LogConfig{
			Level:   "info",
			Handler: "text",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

func defaultLifecycle() LifecycleConfig {
	return LifecycleConfig{
		SoftAgeDays:            30,
		SoftThreshold:          0.3,
		HardAgeDays:            90,
		RetentionDays:          30,
		ConsolidationThreshold: 0.85,
		ConsolidationBatchSize: 100,
		SweepInterval:          Duration(time.Hour),
		LeaseBackend:           "local",
		LeaseTTL:               Duration(10 * time.Minute),
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - EMBEDDING_PROVIDER, EMBEDDING_MODEL, EMBEDDING_API_KEY, EMBEDDING_BASE_URL, EMBEDDING_DIMS, EMBEDDING_MAX_ATTEMPTS
//   - VECTOR_INDEX_BACKEND, VECTOR_INDEX_METRIC, VECTOR_INDEX_PATH, VECTOR_INDEX_EF
//   - QDRANT_HOST, QDRANT_PORT, QDRANT_API_KEY, QDRANT_COLLECTION
//   - DATABASE_PROVIDER (sqlite, oceanbase, postgres) with SQLITE_*, POSTGRES_*, OCEANBASE_*
//   - CONSOLIDATION_THRESHOLD, SOFT_AGE_DAYS, SOFT_THRESHOLD, HARD_AGE_DAYS, RETENTION_DAYS
//   - SWEEP_INTERVAL, LEASE_BACKEND, REDIS_ADDR, REDIS_PASSWORD
//   - SEARCH_TIMEOUT, SEARCH_CACHE_SIZE, LOG_LEVEL, LOG_HANDLER, MEMSTORE_ADDR
//
// Malformed numbers fall back to their defaults; Validate rejects values
// that parse but are out of range.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	dims := getEnvInt("EMBEDDING_DIMS", 0)

	storeConfig := make(map[string]interface{})
	switch provider {
	case "oceanbase":
		storeConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":                 getEnvInt("OCEANBASE_PORT", 2881),
			"user":                 getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password":             os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":              getEnvOrDefault("OCEANBASE_DATABASE", "memstore"),
			"collection_name":      getEnvOrDefault("OCEANBASE_COLLECTION", "memories"),
			"embedding_model_dims": getEnvInt("OCEANBASE_EMBEDDING_MODEL_DIMS", dims),
		}
	case "sqlite":
		storeConfig = map[string]interface{}{
			"db_path":         getEnvOrDefault("SQLITE_PATH", "./memstore.db"),
			"collection_name": getEnvOrDefault("SQLITE_COLLECTION", "memories"),
		}
	case "postgres":
		storeConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 getEnvInt("POSTGRES_PORT", 5432),
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "memstore"),
			"collection_name":      getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			"embedding_model_dims": getEnvInt("POSTGRES_EMBEDDING_MODEL_DIMS", dims),
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	}
	cfg.Store = StoreConfig{Provider: provider, Config: storeConfig}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "hash")
	embedderModel := os.Getenv("EMBEDDING_MODEL")
	embedderBaseURL := os.Getenv("EMBEDDING_BASE_URL")
	switch embedderProvider {
	case "qwen":
		if embedderBaseURL == "" {
			embedderBaseURL = "https://dashscope.aliyuncs.com/api/v1"
		}
		if embedderModel == "" {
			embedderModel = "text-embedding-v4"
		}
	case "openai":
		if embedderBaseURL == "" {
			embedderBaseURL = "https://api.openai.com/v1"
		}
		if embedderModel == "" {
			embedderModel = "text-embedding-ada-002"
		}
	case "hash":
		if dims == 0 {
			dims = 256
		}
	}
	cfg.Embedder = EmbedderConfig{
		Provider:    embedderProvider,
		APIKey:      os.Getenv("EMBEDDING_API_KEY"),
		Model:       embedderModel,
		BaseURL:     embedderBaseURL,
		Dimensions:  dims,
		MaxAttempts: getEnvInt("EMBEDDING_MAX_ATTEMPTS", 3),
	}

	cfg.VectorIndex = VectorIndexConfig{
		Backend:    getEnvOrDefault("VECTOR_INDEX_BACKEND", "memory"),
		Metric:     getEnvOrDefault("VECTOR_INDEX_METRIC", "cosine"),
		Path:       os.Getenv("VECTOR_INDEX_PATH"),
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "memories"),
		EF:         getEnvInt("VECTOR_INDEX_EF", 0),
	}

	cfg.Retrieval.Timeout = Duration(getEnvDuration("SEARCH_TIMEOUT", 0))
	cfg.Retrieval.CacheSize = int64(getEnvInt("SEARCH_CACHE_SIZE", int(cfg.Retrieval.CacheSize)))

	lc := &cfg.Lifecycle
	lc.ConsolidationThreshold = getEnvFloat("CONSOLIDATION_THRESHOLD", lc.ConsolidationThreshold)
	lc.SoftAgeDays = getEnvFloat("SOFT_AGE_DAYS", lc.SoftAgeDays)
	lc.SoftThreshold = getEnvFloat("SOFT_THRESHOLD", lc.SoftThreshold)
	lc.HardAgeDays = getEnvFloat("HARD_AGE_DAYS", lc.HardAgeDays)
	lc.RetentionDays = getEnvFloat("RETENTION_DAYS", lc.RetentionDays)
	lc.SweepInterval = Duration(getEnvDuration("SWEEP_INTERVAL", lc.SweepInterval.Std()))
	lc.LeaseBackend = getEnvOrDefault("LEASE_BACKEND", lc.LeaseBackend)
	lc.RedisAddr = os.Getenv("REDIS_ADDR")
	lc.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Handler = getEnvOrDefault("LOG_HANDLER", cfg.Log.Handler)
	cfg.Server.Addr = getEnvOrDefault("MEMSTORE_ADDR", cfg.Server.Addr)

	return cfg, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Sections absent
// from the file keep their DefaultConfig values.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file. Sections absent
// from the file keep their DefaultConfig values.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	return config, nil
}

// LoadConfigFromFile picks the JSON or YAML loader by file extension.
func LoadConfigFromFile(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadConfigFromYAML(path)
	case ".json":
		return LoadConfigFromJSON(path)
	default:
		return nil, NewMemoryError("LoadConfigFromFile",
			fmt.Errorf("%w: unsupported config file %q", ErrInvalidConfig, path))
	}
}

// Validate validates the configuration.
//
// Checks that:
//   - Embedder, vector index and record store providers are specified
//   - Lifecycle ages are ordered and thresholds lie in [0, 1]
//   - Retrieval weights are non-negative
//
// Returns an error wrapping ErrInvalidConfig if validation fails.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return NewMemoryError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	if c.Embedder.Provider == "" {
		return invalid("embedder provider is required")
	}
	if c.VectorIndex.Backend == "" {
		return invalid("vector index backend is required")
	}
	if c.Store.Provider == "" {
		return invalid("store provider is required")
	}

	lc := c.Lifecycle
	if lc.SoftAgeDays < 0 || lc.HardAgeDays < 0 || lc.RetentionDays < 0 {
		return invalid("lifecycle ages must be non-negative")
	}
	if lc.HardAgeDays < lc.SoftAgeDays {
		return invalid("hard_age_days (%v) must not be below soft_age_days (%v)", lc.HardAgeDays, lc.SoftAgeDays)
	}
	if lc.SoftThreshold < 0 || lc.SoftThreshold > 1 {
		return invalid("soft_threshold must be within [0, 1]")
	}
	if lc.ConsolidationThreshold <= 0 || lc.ConsolidationThreshold > 1 {
		return invalid("consolidation_threshold must be within (0, 1]")
	}
	if lc.LeaseBackend == "redis" && lc.RedisAddr == "" {
		return invalid("redis lease requires redis_addr")
	}

	r := c.Retrieval
	if r.SemanticWeight < 0 || r.KeywordWeight < 0 {
		return invalid("retrieval weights must be non-negative")
	}
	if r.OverFetchFactor < 0 {
		return invalid("over_fetch_factor must be non-negative")
	}

	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
