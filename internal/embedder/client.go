package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/54b3r/incidentkb/internal/budget"
	"github.com/54b3r/incidentkb/internal/incident"
	"github.com/54b3r/incidentkb/internal/logging"
)

// Observer receives the outcome of every provider call. internal/metrics
// implements it.
type Observer interface {
	ObserveEmbedding(err error, elapsed time.Duration)
}

// Config controls a Client.
type Config struct {
	// Dimensions is the required vector length. Zero means the provider's
	// own Dimensions().
	Dimensions int
	// Delay is the minimum spacing between consecutive provider calls.
	// Zero disables pacing.
	Delay time.Duration
	// Workers bounds the number of in-flight calls in EmbedAll. Values
	// below 1 are treated as 1 (strictly sequential).
	Workers int
	// MaxRetries is the number of extra attempts after a failed call.
	// Zero disables retries.
	MaxRetries int
	// MaxInputTokens is the provider's input limit; longer texts are logged
	// as a warning. Zero disables the check.
	MaxInputTokens int
	// Observer, when non-nil, is told about every provider call.
	Observer Observer
}

// ProgressFunc is called after each chunk is embedded. With more than one
// worker it may be called concurrently.
type ProgressFunc func(done, total int)

// Client paces and validates calls to a Provider. It is safe for
// concurrent use; all callers share one pacing limiter.
type Client struct {
	provider   Provider
	limiter    *rate.Limiter
	dims       int
	workers    int
	maxRetries int
	maxTokens  int
	observer   Observer
}

// NewClient wraps p according to cfg.
func NewClient(p Provider, cfg Config) (*Client, error) {
	if p == nil {
		return nil, fmt.Errorf("embedder: provider is nil")
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = p.Dimensions()
	}
	if dims <= 0 {
		return nil, fmt.Errorf("embedder: dimensions must be positive, got %d", dims)
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("embedder: delay must not be negative, got %s", cfg.Delay)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("embedder: max retries must not be negative, got %d", cfg.MaxRetries)
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &Client{
		provider:   p,
		limiter:    rate.NewLimiter(limit, 1),
		dims:       dims,
		workers:    workers,
		maxRetries: cfg.MaxRetries,
		maxTokens:  cfg.MaxInputTokens,
		observer:   cfg.Observer,
	}, nil
}

// Dimensions returns the vector length every returned embedding has.
func (c *Client) Dimensions() int { return c.dims }

// Model returns the underlying provider's model name.
func (c *Client) Model() string { return c.provider.Model() }

// Embed returns the embedding of text for role. It waits on the pacing
// limiter before every attempt and rejects vectors of the wrong length with
// ErrDimensionMismatch, which is never retried.
func (c *Client) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	if budget.Exceeds(text, c.maxTokens) {
		logging.FromContext(ctx).Warn("embedder: input likely exceeds model token limit",
			slog.String("model", c.provider.Model()),
			slog.Int("chars", len(text)),
			slog.Int("estimated_tokens", budget.Estimate(text)),
			slog.Int("limit_tokens", c.maxTokens),
		)
	}

	attempt := func() ([]float32, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("embedder: wait for rate limiter: %w", err))
		}

		start := time.Now()
		vec, err := c.provider.Embed(ctx, text, role)
		if err == nil && len(vec) != c.dims {
			err = backoff.Permanent(fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), c.dims))
		}
		if c.observer != nil {
			c.observer.ObserveEmbedding(err, time.Since(start))
		}
		if err != nil {
			return nil, err
		}
		return vec, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)
	return backoff.RetryWithData(attempt, policy)
}

// EmbedAll embeds every chunk with RoleDocument and returns them in input
// order. The first failure cancels outstanding work and is returned as a
// *ChunkError; no partial result is returned.
func (c *Client) EmbedAll(ctx context.Context, chunks []incident.Chunk, progress ProgressFunc) ([]incident.EmbeddedChunk, error) {
	out := make([]incident.EmbeddedChunk, len(chunks))
	total := len(chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	var done atomic.Int64
	for i, ch := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot may free up only because another chunk failed.
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := c.Embed(gctx, ch.Text, RoleDocument)
			if err != nil {
				return &ChunkError{
					Index:    i,
					ChunkID:  ch.ID,
					SourceID: ch.Metadata.SourceID,
					Section:  ch.Metadata.SectionName,
					Err:      err,
				}
			}
			out[i] = incident.EmbeddedChunk{Chunk: ch, Embedding: vec}
			n := done.Add(1)
			if progress != nil {
				progress(int(n), total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The parent context may have been cancelled before any chunk started.
	if err := ctx.Err(); err != nil && int(done.Load()) != total {
		return nil, fmt.Errorf("embedder: embed all: %w", err)
	}
	return out, nil
}
