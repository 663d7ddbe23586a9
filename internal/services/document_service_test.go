package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

type stubIngestor struct {
	maxBytes    int64
	registerErr error
	enqueueErr  error
	registered  []*models.UploadPayload
	jobs        []ingestion_engine.Job
	abandoned   []ingestion_engine.Job
	docs        map[string]*models.Document
}

func newStubIngestor(maxBytes int64) *stubIngestor {
	return &stubIngestor{maxBytes: maxBytes, docs: map[string]*models.Document{}}
}

func (s *stubIngestor) CheckSize(n int64) error {
	if n > s.maxBytes {
		return fmt.Errorf("%w: %d", core.ErrOversizedInput, n)
	}
	return nil
}

func (s *stubIngestor) Register(_ context.Context, p *models.UploadPayload) (*models.Document, error) {
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	s.registered = append(s.registered, p)
	d := &models.Document{ID: p.DocumentID, OrganizationID: p.OrganizationID, StorageURL: p.StorageURL, Status: models.StatusPending}
	s.docs[d.ID] = d
	return d, nil
}

func (s *stubIngestor) Ingest(context.Context, *models.UploadPayload) (*models.IngestResult, error) {
	return nil, errors.New("not used")
}

func (s *stubIngestor) Reingest(context.Context, string) (*models.IngestResult, error) {
	return nil, errors.New("not used")
}

func (s *stubIngestor) ReingestMatching(_ context.Context, f models.DocumentFilter) (*models.BulkResult, error) {
	return &models.BulkResult{Total: 1, Succeeded: 1}, nil
}

func (s *stubIngestor) Start(context.Context, int) {}

func (s *stubIngestor) Enqueue(_ context.Context, job ingestion_engine.Job) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *stubIngestor) Abandon(_ context.Context, job ingestion_engine.Job, _ error) {
	s.abandoned = append(s.abandoned, job)
}

func (s *stubIngestor) Wait() {}

// GetDocumentByID and the rest of CatalogStore are served from the stub's map.
type stubCatalog struct {
	core.CatalogStore
	ing *stubIngestor
}

func (c stubCatalog) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	d, ok := c.ing.docs[id]
	if !ok {
		return nil, core.ErrDocumentNotFound
	}
	return d, nil
}

type recordingStorage struct {
	keys    []string
	deleted []string
}

func (r *recordingStorage) PutObject(_ context.Context, key string, _ []byte, _ string) (string, error) {
	r.keys = append(r.keys, key)
	return "s3://docs/" + key, nil
}

func (r *recordingStorage) DeleteObject(_ context.Context, key string) error {
	r.deleted = append(r.deleted, key)
	return nil
}

func (r *recordingStorage) FetchObject(context.Context, string, int64) ([]byte, error) {
	return nil, errors.New("not used")
}

func TestSubmitArchivesUploadAndQueues(t *testing.T) {
	ing := newStubIngestor(1 << 20)
	storage := &recordingStorage{}
	svc := NewDocumentService(ing, stubCatalog{ing: ing}, storage, zap.NewNop())

	doc, err := svc.Submit(context.Background(), &models.UploadPayload{
		OrganizationID: "org-1",
		FileName:       "../Quarterly Report.pdf",
		Data:           []byte("%PDF-1.4"),
	})
	require.NoError(t, err)

	require.Len(t, storage.keys, 1)
	assert.Equal(t, "organizations/org-1/documents/"+doc.ID+"/Quarterly_Report.pdf", storage.keys[0])
	assert.Equal(t, "s3://docs/"+storage.keys[0], doc.StorageURL)
	require.Len(t, ing.jobs, 1)
	assert.Equal(t, ingestion_engine.JobIngest, ing.jobs[0].Kind)
	assert.Equal(t, doc.ID, ing.jobs[0].Payload.DocumentID)
}

func TestSubmitRemovesArchiveWhenRegisterFails(t *testing.T) {
	ing := newStubIngestor(1 << 20)
	ing.registerErr = errors.New("catalog down")
	storage := &recordingStorage{}
	svc := NewDocumentService(ing, stubCatalog{ing: ing}, storage, zap.NewNop())

	_, err := svc.Submit(context.Background(), &models.UploadPayload{FileName: "a.txt", Data: []byte("abc")})
	require.Error(t, err)
	assert.Equal(t, storage.keys, storage.deleted)
	assert.Empty(t, ing.jobs)
}

func TestSubmitAbandonsJobThatCannotBeQueued(t *testing.T) {
	ing := newStubIngestor(1 << 20)
	ing.enqueueErr = context.DeadlineExceeded
	svc := NewDocumentService(ing, stubCatalog{ing: ing}, nil, zap.NewNop())

	_, err := svc.Submit(context.Background(), &models.UploadPayload{Text: "hello"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, ing.abandoned, 1)
	assert.Equal(t, ingestion_engine.JobIngest, ing.abandoned[0].Kind)
	assert.Equal(t, ing.registered[0].DocumentID, ing.abandoned[0].Payload.DocumentID)
}

func TestSubmitTextSkipsStorage(t *testing.T) {
	ing := newStubIngestor(1 << 20)
	storage := &recordingStorage{}
	svc := NewDocumentService(ing, stubCatalog{ing: ing}, storage, zap.NewNop())

	_, err := svc.Submit(context.Background(), &models.UploadPayload{OrganizationID: "org-1", Text: "hello"})
	require.NoError(t, err)
	assert.Empty(t, storage.keys)
	assert.Len(t, ing.jobs, 1)
}

func TestSubmitOversizedNeverUploads(t *testing.T) {
	ing := newStubIngestor(4)
	storage := &recordingStorage{}
	svc := NewDocumentService(ing, stubCatalog{ing: ing}, storage, zap.NewNop())

	_, err := svc.Submit(context.Background(), &models.UploadPayload{Data: []byte("12345")})
	assert.ErrorIs(t, err, core.ErrOversizedInput)
	assert.Empty(t, storage.keys)
	assert.Empty(t, ing.registered)
}

func TestRequestReingest(t *testing.T) {
	ing := newStubIngestor(1 << 20)
	svc := NewDocumentService(ing, stubCatalog{ing: ing}, nil, zap.NewNop())

	_, err := svc.RequestReingest(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
	assert.Empty(t, ing.jobs)

	ing.docs["d1"] = &models.Document{ID: "d1"}
	_, err = svc.RequestReingest(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, ing.jobs, 1)
	assert.Equal(t, ingestion_engine.Job{Kind: ingestion_engine.JobReingest, DocumentID: "d1"}, ing.jobs[0])
}
