package core

import "context"

// TextExtractor turns the raw bytes of one document format into plain text.
// The filename hint lets an extractor pick a sub-format (.csv vs .xlsx).
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, filename string) (string, error)
}
