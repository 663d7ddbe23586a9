package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// Default limits of the embedding service.
const (
	DefaultMaxBatchItems  = 10
	DefaultMaxBatchTokens = 80000
	DefaultMaxItemTokens  = 8191
	DefaultSafeItemChars  = 30000
	DefaultRetryBaseDelay = 500 * time.Millisecond
)

// Config tunes batching and validation.
//
// Dimension:         expected vector width; 0 disables the width check.
// MaxBatchItems:     item ceiling per request.
// MaxBatchTokens:    estimated-token ceiling per request.
// MaxItemTokens:     per-item hard limit of the service.
// SafeItemChars:     length oversized items are cut to.
// RequestsPerSecond: request pacing; 0 means unpaced.
// MaxRetries:        extra attempts for transient service errors; 0 disables retry.
type Config struct {
	Dimension         int
	MaxBatchItems     int
	MaxBatchTokens    int
	MaxItemTokens     int
	SafeItemChars     int
	RequestsPerSecond float64
	MaxRetries        int
	RetryBaseDelay    time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxBatchItems <= 0 {
		c.MaxBatchItems = DefaultMaxBatchItems
	}
	if c.MaxBatchTokens <= 0 {
		c.MaxBatchTokens = DefaultMaxBatchTokens
	}
	if c.MaxItemTokens <= 0 {
		c.MaxItemTokens = DefaultMaxItemTokens
	}
	if c.SafeItemChars <= 0 {
		c.SafeItemChars = DefaultSafeItemChars
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
}

// ProgressFunc is called after every completed request with the number of
// items embedded so far.
type ProgressFunc func(done, total int)

// Client embeds ordered lists of texts through a provider, respecting the
// service's per-item and per-request limits.
type Client struct {
	provider core.EmbeddingProvider
	cfg      Config
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewClient(provider core.EmbeddingProvider, cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{provider: provider, cfg: cfg, logger: logger}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// Dimension returns the expected vector width.
func (c *Client) Dimension() int { return c.cfg.Dimension }

type batch struct {
	start, end int
	tokens     int
}

// Embed returns one vector per text, in order. Any service failure, count
// mismatch or width mismatch fails the whole call.
func (c *Client) Embed(ctx context.Context, texts []string, onProgress ProgressFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prepared := c.preflight(texts)
	out := make([][]float32, len(prepared))
	done := 0
	for _, b := range c.plan(prepared) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vecs, err := c.embedBatch(ctx, prepared[b.start:b.end], b.tokens)
		if err != nil {
			return nil, err
		}
		if len(vecs) != b.end-b.start {
			return nil, core.NewCountError(b.end-b.start, len(vecs))
		}
		for i, v := range vecs {
			if c.cfg.Dimension > 0 && len(v) != c.cfg.Dimension {
				return nil, core.NewDimensionError(c.cfg.Dimension, len(v), b.start+i)
			}
			out[b.start+i] = v
		}

		done = b.end
		if onProgress != nil {
			onProgress(done, len(prepared))
		}
	}
	return out, nil
}

// preflight cuts items whose estimate exceeds the per-item limit.
func (c *Client) preflight(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		if EstimateTokens(t) <= c.cfg.MaxItemTokens {
			out[i] = t
			continue
		}
		r := []rune(t)
		cut := min(len(r), c.cfg.SafeItemChars)
		out[i] = string(r[:cut])
		c.logger.Warn("truncating oversized embedding input",
			zap.Int("item", i),
			zap.Int("chars", len(r)),
			zap.Int("estimated_tokens", EstimateTokens(t)),
			zap.Int("truncated_to", cut),
		)
	}
	return out
}

// plan groups items greedily under both the item and the token ceiling.
func (c *Client) plan(texts []string) []batch {
	var (
		out []batch
		cur = batch{}
	)
	for i, t := range texts {
		tok := EstimateTokens(t)
		full := cur.end-cur.start >= c.cfg.MaxBatchItems || cur.tokens+tok > c.cfg.MaxBatchTokens
		if cur.end > cur.start && full {
			out = append(out, cur)
			cur = batch{start: i, end: i}
		}
		cur.end = i + 1
		cur.tokens += tok
	}
	if cur.end > cur.start {
		out = append(out, cur)
	}
	return out
}

// embedBatch sends one request, or one request per item when the batch is
// over the token ceiling or the service rejects it as too large.
func (c *Client) embedBatch(ctx context.Context, texts []string, tokens int) ([][]float32, error) {
	if len(texts) > 1 && tokens > c.cfg.MaxBatchTokens {
		return c.embedEach(ctx, texts)
	}

	vecs, err := c.call(ctx, texts)
	var svcErr *core.EmbeddingServiceError
	if err != nil && len(texts) > 1 && errors.As(err, &svcErr) && svcErr.StatusCode == http.StatusRequestEntityTooLarge {
		c.logger.Warn("embedding batch rejected as too large, sending items one at a time",
			zap.Int("items", len(texts)), zap.Int("estimated_tokens", tokens))
		return c.embedEach(ctx, texts)
	}
	return vecs, err
}

func (c *Client) embedEach(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vecs, err := c.call(ctx, []string{t})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 {
			return nil, core.NewCountError(1, len(vecs))
		}
		out = append(out, vecs[0])
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := retryWithBackoff(ctx, c.cfg.MaxRetries+1, c.cfg.RetryBaseDelay, c.logger, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		vecs, err = c.provider.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("embed %d items: %w", len(texts), err)
	}
	return vecs, nil
}

// EstimateTokens is a rough token count (~4 characters per token).
func EstimateTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
