// Package qwen embeds text with the DashScope text-embedding API.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oceanbase/memstore/pkg/embedder"
)

// Client implements embedder.Provider using Alibaba Cloud DashScope Text Embedding API.
type Client struct {
	// client is the HTTP client for API requests.
	client *http.Client

	// apiKey is the DashScope API key.
	apiKey string

	// model is the Qwen embedding model name to use.
	model string

	// baseURL is the base URL for DashScope API.
	baseURL string

	// dimensions is the dimension of embedding vectors.
	dimensions int
}

// Config contains configuration for creating a Qwen Embedder client.
type Config struct {
	// APIKey is the DashScope API key (required).
	APIKey string

	// Model is the model name to use (default: "text-embedding-v4").
	Model string

	// BaseURL is the API base URL (default: DashScope official address).
	BaseURL string

	// Dimensions is the vector dimension (default: 1536 for text-embedding-v4).
	Dimensions int

	// HTTPClient is a custom HTTP client (uses default if nil).
	HTTPClient *http.Client
}

// NewClient creates a new Qwen Embedder client.
//
// Args:
//   - cfg: Qwen Embedder configuration containing APIKey, BaseURL, Model and Dimensions
//
// Returns:
//   - *Client: Qwen Embedder client instance
//   - error: Returns an error if the API key is missing
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/api/v1"
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-v4"
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		client:     client,
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text string into a vector embedding.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - text: Text content to vectorize
//
// Returns:
//   - []float64: Vector representation of the text
//   - error: Returns an error if the request fails; 4xx responses other than 429 are permanent
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New("qwen: empty response")
	}
	return embeddings[0], nil
}

type embeddingRequest struct {
	Model      string          `json:"model"`
	Input      embeddingInput  `json:"input"`
	Parameters *embeddingParam `json:"parameters,omitempty"`
	TextType   string          `json:"text_type"`
}

type embeddingInput struct {
	Texts []string `json:"texts"`
}

type embeddingParam struct {
	Dimension int `json:"dimension"`
}

type embeddingResponse struct {
	Output struct {
		Embeddings []struct {
			TextIndex int       `json:"text_index"`
			Embedding []float64 `json:"embedding"`
		} `json:"embeddings"`
	} `json:"output"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// EmbedBatch embeds texts in a single DashScope request. Results are placed
// by their text_index so the output order matches texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload := embeddingRequest{
		Model:    c.model,
		Input:    embeddingInput{Texts: texts},
		TextType: "document",
	}
	if c.dimensions > 0 {
		payload.Parameters = &embeddingParam{Dimension: c.dimensions}
	}

	var out embeddingResponse
	if err := c.post(ctx, "/services/embeddings/text-embedding/text-embedding", payload, &out); err != nil {
		return nil, err
	}

	got := out.Output.Embeddings
	if len(got) != len(texts) {
		return nil, fmt.Errorf("qwen: got %d embeddings for %d texts", len(got), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for i, emb := range got {
		idx := emb.TextIndex
		if idx < 0 || idx >= len(texts) || embeddings[idx] != nil {
			idx = i
		}
		embeddings[idx] = emb.Embedding
	}
	return embeddings, nil
}

// post sends one JSON request. Client-side failures and 4xx responses other
// than 429 are marked permanent so the retry wrapper gives up on them.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return embedder.Permanent(fmt.Errorf("qwen: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return embedder.Permanent(fmt.Errorf("qwen: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("qwen: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("qwen: status %d: %s", resp.StatusCode, string(raw))
		if embedder.PermanentStatus(resp.StatusCode) {
			return embedder.Permanent(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("qwen: decode response: %w", err)
	}
	return nil
}

// Dimensions returns the dimension of embedding vectors produced by this provider.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; HTTP clients need no explicit closing.
func (c *Client) Close() error {
	return nil
}
