package core

import (
	"errors"
	"fmt"
)

// Ingestion failure kinds. Stage errors wrap one of these so callers can
// classify a failure with errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrExtraction        = errors.New("text extraction failed")
	ErrExtractionTimeout = errors.New("text extraction timed out")
	ErrEmptyDocument     = errors.New("document contains no extractable text")
	ErrOversizedInput    = errors.New("input exceeds maximum size")
	ErrChunking          = errors.New("chunking failed")
	ErrTooManyChunks     = errors.New("document produces too many chunks")
	ErrEmbeddingService  = errors.New("embedding service error")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrTimeout           = errors.New("ingestion timed out")

	ErrDocumentNotFound = errors.New("document not found")
)

// EmbeddingServiceError is a failed call to the embedding service. StatusCode
// is zero when the request never produced an HTTP response.
type EmbeddingServiceError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *EmbeddingServiceError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("embedding service error (status %d): %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("embedding service error: %v", e.Err)
	default:
		return "embedding service error"
	}
}

func (e *EmbeddingServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEmbeddingService}
	}
	return []error{ErrEmbeddingService, e.Err}
}

// Retryable reports whether the failure looks transient (rate limited or a
// server-side error).
func (e *EmbeddingServiceError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// DimensionMismatchError reports a vector of the wrong width, or a response
// with the wrong number of vectors.
type DimensionMismatchError struct {
	What     string // "dimension" or "vector count"
	Expected int
	Actual   int
	Index    int // item index for dimension errors, -1 otherwise
}

func (e *DimensionMismatchError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("embedding %s mismatch: expected %d, got %d (item %d)", e.What, e.Expected, e.Actual, e.Index)
	}
	return fmt.Sprintf("embedding %s mismatch: expected %d, got %d", e.What, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// NewDimensionError builds a width mismatch for the item at index.
func NewDimensionError(expected, actual, index int) *DimensionMismatchError {
	return &DimensionMismatchError{What: "dimension", Expected: expected, Actual: actual, Index: index}
}

// NewCountError builds a mismatch between sent items and returned vectors.
func NewCountError(expected, actual int) *DimensionMismatchError {
	return &DimensionMismatchError{What: "vector count", Expected: expected, Actual: actual, Index: -1}
}
