package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// DocumentService is the intake side of ingestion: it stores originals,
// registers catalog records and queues work for the ingest workers.
type DocumentService struct {
	ingestor ingestion_engine.Ingestor
	catalog  core.CatalogStore
	storage  core.ObjectClient
	logger   *zap.Logger
}

// NewDocumentService wires the service. storage may be nil, in which case
// uploads are not archived and re-ingestion relies on stored text only.
func NewDocumentService(ing ingestion_engine.Ingestor, catalog core.CatalogStore, storage core.ObjectClient, logger *zap.Logger) *DocumentService {
	return &DocumentService{ingestor: ing, catalog: catalog, storage: storage, logger: logger}
}

// Submit registers the payload in pending and queues it. Uploaded bytes are
// archived to object storage first when it is configured.
func (s *DocumentService) Submit(ctx context.Context, p *models.UploadPayload) (*models.Document, error) {
	if err := s.ingestor.CheckSize(p.Size()); err != nil {
		return nil, err
	}
	if p.DocumentID == "" {
		p.DocumentID = uuid.NewString()
	}

	var archived string
	if s.storage != nil && p.Data != nil && p.StorageURL == "" {
		archived = objectKey(p.OrganizationID, p.DocumentID, p.FileName)
		url, err := s.storage.PutObject(ctx, archived, p.Data, p.ContentType)
		if err != nil {
			return nil, fmt.Errorf("archive upload: %w", err)
		}
		p.StorageURL = url
	}

	doc, err := s.ingestor.Register(ctx, p)
	if err != nil {
		if archived != "" {
			if derr := s.storage.DeleteObject(context.WithoutCancel(ctx), archived); derr != nil {
				s.logger.Warn("removing orphaned upload", zap.String("key", archived), zap.Error(derr))
			}
		}
		return nil, err
	}
	job := ingestion_engine.Job{Kind: ingestion_engine.JobIngest, Payload: p}
	if err := s.ingestor.Enqueue(ctx, job); err != nil {
		s.logger.Error("queueing registered document", zap.String("doc_id", doc.ID), zap.Error(err))
		s.ingestor.Abandon(ctx, job, err)
		return nil, err
	}

	s.logger.Info("document queued",
		zap.String("doc_id", doc.ID),
		zap.String("organization_id", doc.OrganizationID),
		zap.String("source", doc.Source),
		zap.Int64("bytes", doc.ByteSize))
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.catalog.GetDocumentByID(ctx, id)
}

// RequestReingest queues a rebuild of an existing document.
func (s *DocumentService) RequestReingest(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.catalog.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ingestor.Enqueue(ctx, ingestion_engine.Job{Kind: ingestion_engine.JobReingest, DocumentID: id}); err != nil {
		return nil, err
	}
	return doc, nil
}

// ReingestMatching rebuilds every matching document before returning.
func (s *DocumentService) ReingestMatching(ctx context.Context, filter models.DocumentFilter) (*models.BulkResult, error) {
	return s.ingestor.ReingestMatching(ctx, filter)
}

// objectKey creates a consistent S3 key layout.
func objectKey(orgID, docID, filename string) string {
	filename = path.Base(strings.TrimSpace(filename))
	filename = strings.ReplaceAll(filename, " ", "_")
	if filename == "" || filename == "." || filename == "/" {
		filename = "original"
	}
	if orgID == "" {
		orgID = "unscoped"
	}
	return path.Join("organizations", orgID, "documents", docID, filename)
}
