package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// NewEmbeddingProvider builds the provider selected by EMBED_PROVIDER. The
// returned close func releases provider resources and is never nil.
func NewEmbeddingProvider(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, func() error, error) {
	noop := func() error { return nil }
	switch cfg.EmbedProvider {
	case "openai", "":
		return NewHTTPEmbedder(HTTPEmbedderConfig{
			BaseURL: cfg.EmbedBaseURL,
			APIKey:  cfg.EmbedAPIKey,
			Model:   cfg.EmbedModel,
			Timeout: cfg.EmbedTimeout,
		}), noop, nil
	case "gemini":
		g, err := NewGeminiEmbedder(ctx, GeminiConfig{APIKey: cfg.AIAPIKey, Model: geminiModel(cfg.EmbedModel)})
		if err != nil {
			return nil, noop, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		return g, g.Close, nil
	case "hash":
		return NewHashEmbedder(cfg.EmbedDim), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown embedding provider %q", cfg.EmbedProvider)
	}
}

// geminiModel keeps the OpenAI default model name from reaching Gemini.
func geminiModel(name string) string {
	if strings.HasPrefix(name, "text-embedding-3") || strings.HasPrefix(name, "text-embedding-ada") {
		return ""
	}
	return name
}
