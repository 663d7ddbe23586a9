package core

import (
	"context"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// CatalogStore holds the per-document status and metadata record.
type CatalogStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	// GetDocumentByID returns ErrDocumentNotFound when no record exists.
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)

	// UpdateDocumentStatus sets status and error message together.
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, errMsg string) error
	UpdateDocumentProgress(ctx context.Context, id string, progress models.Progress) error
	UpdateDocumentType(ctx context.Context, id string, docType models.DocumentType) error
	UpdateDocumentText(ctx context.Context, id string, docType models.DocumentType, text string) error
	// MarkDocumentIngested records the final chunk count and clears the error.
	MarkDocumentIngested(ctx context.Context, id string, chunkCount int) error
}

// ChunkStore holds chunk content and embedding vectors.
type ChunkStore interface {
	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	DeleteDocumentChunks(ctx context.Context, documentID string) (int64, error)
	CountDocumentChunks(ctx context.Context, documentID string) (int, error)
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
}

// DbClient is a store that serves both the catalog and the chunk index.
type DbClient interface {
	CatalogStore
	ChunkStore
	Close() error
}

// ObjectClient archives original uploads. Keys are relative to the
// client's bucket; the returned URL is what a document records as its
// storage location.
type ObjectClient interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	DeleteObject(ctx context.Context, key string) error
	// FetchObject reads the object behind a stored URL and fails with
	// ErrOversizedInput past maxBytes.
	FetchObject(ctx context.Context, url string, maxBytes int64) ([]byte, error)
}
