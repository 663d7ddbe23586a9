package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// Registry maps a document type to the extractor that handles it.
type Registry struct {
	extractors map[models.DocumentType]core.TextExtractor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[models.DocumentType]core.TextExtractor)}
}

// NewDefaultRegistry registers an extractor for every supported type.
func NewDefaultRegistry(pdfTimeout time.Duration) *Registry {
	r := NewRegistry()
	r.Register(models.TypePDF, NewPDFExtractor(pdfTimeout))
	r.Register(models.TypeWordDocument, &WordExtractor{})
	r.Register(models.TypePlainText, &TextExtractor{})
	r.Register(models.TypeMarkdown, &TextExtractor{})
	r.Register(models.TypeTabularText, &TabularExtractor{})
	return r
}

// Register installs (or replaces) the extractor for t.
func (r *Registry) Register(t models.DocumentType, e core.TextExtractor) {
	r.extractors[t] = e
}

// Extract runs the extractor registered for t. Every failure wraps
// core.ErrExtraction unless it is an unsupported type, an empty result or a
// cancellation of ctx.
func (r *Registry) Extract(ctx context.Context, t models.DocumentType, data []byte, filename string) (string, error) {
	e, ok := r.extractors[t]
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, t)
	}

	text, err := e.Extract(ctx, data, filename)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		if errors.Is(err, core.ErrExtraction) || errors.Is(err, core.ErrEmptyDocument) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %w", core.ErrExtraction, t, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s produced no text", core.ErrEmptyDocument, t)
	}
	return text, nil
}
