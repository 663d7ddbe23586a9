package llm

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// HashEmbedder produces deterministic unit vectors from an FNV hash of the
// text. It needs no network and backs EMBED_PROVIDER=hash for local runs and
// tests. EmbedTextsFunc, when set, replaces the default behaviour.
type HashEmbedder struct {
	Dim            int
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	calls atomic.Int64
}

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	h.calls.Add(1)
	if h.EmbedTextsFunc != nil {
		return h.EmbedTextsFunc(ctx, texts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = HashVector(t, h.Dim)
	}
	return out, nil
}

// Calls returns how many requests were made.
func (h *HashEmbedder) Calls() int { return int(h.calls.Load()) }

// HashVector returns the deterministic unit vector for text.
func HashVector(text string, dim int) []float32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(text))
	seed := f.Sum32()

	vec := make([]float32, dim)
	var sum float64
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000 + 0.001
		sum += float64(vec[i]) * float64(vec[i])
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}

var _ core.EmbeddingProvider = (*HashEmbedder)(nil)
