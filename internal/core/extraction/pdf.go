package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

const DefaultPDFTimeout = 30 * time.Second

// PDFExtractor reads page text with ledongthuc/pdf under a wall-clock limit.
// The parser has no cancellation hook, so on timeout the parsing goroutine
// is abandoned and finishes in the background.
type PDFExtractor struct {
	timeout time.Duration
	parse   func([]byte) (string, error)
}

func NewPDFExtractor(timeout time.Duration) *PDFExtractor {
	if timeout <= 0 {
		timeout = DefaultPDFTimeout
	}
	return &PDFExtractor{timeout: timeout, parse: readPDF}
}

func (e *PDFExtractor) Extract(ctx context.Context, data []byte, _ string) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: malformed pdf: %v", core.ErrExtraction, r)}
			}
		}()
		text, err := e.parse(data)
		done <- result{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-pctx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %w: no result after %s", core.ErrExtraction, core.ErrExtractionTimeout, e.timeout)
	}
}

func readPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", core.ErrExtraction, err)
	}
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", core.ErrExtraction, i, err)
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
