package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/memstore/pkg/embedder"
	"github.com/oceanbase/memstore/pkg/model"
)

// Client is an OpenAI Embedder client.
// It implements the embedder.Provider interface on top of the OpenAI Embeddings API.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the configuration for OpenAI Embedder.
// APIKey: OpenAI API key (required)
// Model: Model name to use, defaults to text-embedding-ada-002
// BaseURL: API base URL, defaults to OpenAI official address
// Dimensions: Vector dimensions, defaults to 1536 (default dimension for text-embedding-ada-002)
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// NewClient creates a new OpenAI Embedder client.
//
// Args:
//   - cfg: OpenAI Embedder configuration containing APIKey, Model, BaseURL, Dimensions
//
// Returns:
//   - *Client: OpenAI Embedder client instance
//   - error: wraps model.ErrInvalidConfig when the API key is missing or the
//     model name is not an embedding model the SDK knows
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w: API key is required", model.ErrInvalidConfig)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	embeddingModel, err := ParseModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      embeddingModel,
		dimensions: dimensions,
	}, nil
}

// ParseModel maps a model name such as "text-embedding-ada-002" to the
// SDK's embedding model. An empty name selects AdaEmbeddingV2.
//
// Returns:
//   - openai.EmbeddingModel: the SDK model
//   - error: wraps model.ErrInvalidConfig for a name the SDK does not know
func ParseModel(name string) (openai.EmbeddingModel, error) {
	m := openai.AdaEmbeddingV2
	if name == "" {
		return m, nil
	}
	if err := m.UnmarshalText([]byte(name)); err != nil || m == openai.Unknown {
		return openai.Unknown, fmt.Errorf("openai: %w: unknown embedding model %q", model.ErrInvalidConfig, name)
	}
	return m, nil
}

// Embed converts a single text to a vector.
//
// Args:
//   - ctx: Context for controlling request lifecycle
//   - text: Text content to embed
//
// Returns:
//   - []float64: Vector representation of the text
//   - error: Error if the request fails; client errors are marked permanent
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New("openai: empty response")
	}
	return embeddings[0], nil
}

// EmbedBatch converts multiple texts to vectors in one request.
//
// Client errors other than rate limiting are marked permanent so callers do
// not retry them.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: unexpected number of results from OpenAI API (got %d, expected %d)", len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding generation failed: result index %d out of range", data.Index)
		}
		embeddings[data.Index] = toFloat64(data.Embedding)
	}

	return embeddings, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the OpenAI SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && embedder.PermanentStatus(apiErr.HTTPStatusCode) {
		return embedder.Permanent(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && embedder.PermanentStatus(reqErr.HTTPStatusCode) {
		return embedder.Permanent(err)
	}
	return err
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
