// Package hash provides a deterministic, offline embedder based on feature
// hashing of text tokens.
//
// Texts that share tokens get similar vectors, which makes it usable for
// local development and tests without an embedding service.
package hash

import (
	"context"
	"hash/fnv"

	"gonum.org/v1/gonum/floats"

	"github.com/oceanbase/memstore/pkg/text"
)

// DefaultDimensions is used when Config.Dimensions is zero.
const DefaultDimensions = 256

// Config contains configuration for the hash embedder.
type Config struct {
	// Dimensions is the vector dimension (default: 256).
	Dimensions int
}

// Client implements embedder.Provider with signed feature hashing.
type Client struct {
	dim int
}

// NewClient creates a hash embedder.
func NewClient(cfg *Config) *Client {
	dim := DefaultDimensions
	if cfg != nil && cfg.Dimensions > 0 {
		dim = cfg.Dimensions
	}
	return &Client{dim: dim}
}

// Embed hashes each token of s into a signed bucket and L2-normalises the
// result.
func (c *Client) Embed(ctx context.Context, s string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := text.Tokenize(s)
	if len(tokens) == 0 {
		tokens = []string{s}
	}

	vec := make([]float64, c.dim)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(c.dim))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	if norm := floats.Norm(vec, 2); norm > 0 {
		floats.Scale(1/norm, vec)
	} else {
		vec[0] = 1
	}
	return vec, nil
}

// EmbedBatch embeds each text in order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the vector dimension.
func (c *Client) Dimensions() int {
	return c.dim
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}
