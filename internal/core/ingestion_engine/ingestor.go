package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

type Ingestor interface {
	CheckSize(n int64) error
	Register(ctx context.Context, payload *models.UploadPayload) (*models.Document, error)
	Ingest(ctx context.Context, payload *models.UploadPayload) (*models.IngestResult, error)
	Reingest(ctx context.Context, documentID string) (*models.IngestResult, error)
	ReingestMatching(ctx context.Context, filter models.DocumentFilter) (*models.BulkResult, error)

	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, job Job) error
	Abandon(ctx context.Context, job Job, cause error)
	Wait()
}

var _ Ingestor = (*DocumentIngestor)(nil)
