package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oceanbase/memstore/pkg/model"
)

// RetryConfig controls how Retrying re-attempts failed embedding calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first (default: 3).
	MaxAttempts int

	// InitialInterval is the first backoff delay (default: 200ms).
	InitialInterval time.Duration

	// MaxInterval caps a single backoff delay (default: 5s).
	MaxInterval time.Duration

	// Logger receives one warning per failed attempt (default: slog.Default()).
	Logger *slog.Logger
}

// Retrying wraps a Provider with exponential backoff. Once attempts are
// exhausted the error wraps model.ErrEmbeddingUnavailable; context
// cancellation is returned as is and never retried.
//
// Vectors whose length differs from the provider's Dimensions are rejected,
// which keeps the store's embedding dimension constant.
type Retrying struct {
	provider Provider
	cfg      RetryConfig
	logger   *slog.Logger
}

// WithRetry wraps p. Wrapping an already retrying provider returns it unchanged.
//
// Args:
//   - p: Provider to call
//   - cfg: Attempt count and backoff bounds; zero values take the defaults
//
// Returns:
//   - *Retrying: Provider that retries transient failures and checks dimensions
func WithRetry(p Provider, cfg RetryConfig) *Retrying {
	if r, ok := p.(*Retrying); ok {
		return r
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{provider: p, cfg: cfg, logger: logger}
}

// Embed embeds one text with retries.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float64, error) {
	var out []float64
	err := r.do(ctx, "Embed", func() error {
		v, err := r.provider.Embed(ctx, text)
		if err != nil {
			return err
		}
		if err := r.checkDims(v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// EmbedBatch embeds texts with retries. The whole batch succeeds or fails.
func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out [][]float64
	err := r.do(ctx, "EmbedBatch", func() error {
		v, err := r.provider.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("got %d embeddings for %d texts", len(v), len(texts))
		}
		for _, vec := range v {
			if err := r.checkDims(vec); err != nil {
				return err
			}
		}
		out = v
		return nil
	})
	return out, err
}

// Dimensions returns the wrapped provider's dimension.
func (r *Retrying) Dimensions() int {
	return r.provider.Dimensions()
}

// Close closes the wrapped provider.
func (r *Retrying) Close() error {
	return r.provider.Close()
}

func (r *Retrying) checkDims(v []float64) error {
	if len(v) == 0 {
		return Permanent(fmt.Errorf("provider returned an empty embedding"))
	}
	if d := r.provider.Dimensions(); d > 0 && len(v) != d {
		return Permanent(fmt.Errorf("provider returned %d dimensions, expected %d", len(v), d))
	}
	return nil
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn()
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case IsPermanent(err):
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		r.logger.Warn("embedding attempt failed",
			"op", op, "attempt", attempts, "retry_in", wait, "error", err)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %s failed after %d attempt(s): %v", model.ErrEmbeddingUnavailable, op, attempts, err)
}
