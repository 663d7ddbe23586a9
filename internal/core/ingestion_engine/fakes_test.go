package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/core/chunking"
	"github.com/markdave123-py/contexta-ingest/internal/core/embedding"
	"github.com/markdave123-py/contexta-ingest/internal/core/extraction"
	"github.com/markdave123-py/contexta-ingest/internal/core/llm"
	objectclient "github.com/markdave123-py/contexta-ingest/internal/core/object-client"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// memStore is an in-memory core.DbClient that records every write.
type memStore struct {
	mu      sync.Mutex
	docs    map[string]models.Document
	chunks  map[string][]models.DocumentChunk
	batches []int
	writes  int

	// lose silently discards this many rows of the next insert.
	lose int
}

func newMemStore() *memStore {
	return &memStore{
		docs:   map[string]models.Document{},
		chunks: map[string][]models.DocumentChunk{},
	}
}

func (s *memStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("duplicate document %s", doc.ID)
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	s.docs[doc.ID] = *doc
	s.writes++
	return nil
}

func (s *memStore) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return &d, nil
}

func (s *memStore) ListDocuments(_ context.Context, f models.DocumentFilter) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, d := range s.docs {
		if f.OrganizationID != "" && d.OrganizationID != f.OrganizationID {
			continue
		}
		if f.EventID != "" && d.EventID != f.EventID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *memStore) update(ctx context.Context, id string, fn func(d *models.Document)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	fn(&d)
	d.UpdatedAt = time.Now()
	s.docs[id] = d
	s.writes++
	return nil
}

func (s *memStore) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, errMsg string) error {
	return s.update(ctx, id, func(d *models.Document) { d.Status, d.Error = status, errMsg })
}

func (s *memStore) UpdateDocumentProgress(ctx context.Context, id string, p models.Progress) error {
	return s.update(ctx, id, func(d *models.Document) { d.Progress = p })
}

func (s *memStore) UpdateDocumentType(ctx context.Context, id string, t models.DocumentType) error {
	return s.update(ctx, id, func(d *models.Document) { d.Type = t })
}

func (s *memStore) UpdateDocumentText(ctx context.Context, id string, t models.DocumentType, text string) error {
	return s.update(ctx, id, func(d *models.Document) { d.Type, d.ExtractedText = t, text })
}

func (s *memStore) MarkDocumentIngested(ctx context.Context, id string, n int) error {
	return s.update(ctx, id, func(d *models.Document) {
		d.Status, d.Error, d.ChunkCount = models.StatusIngested, "", n
		d.Progress = models.Progress{Stage: models.StageDone, Percent: 100}
	})
}

func (s *memStore) InsertDocumentChunks(ctx context.Context, rows []models.DocumentChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		for _, existing := range s.chunks[r.DocumentID] {
			if existing.Position == r.Position {
				return fmt.Errorf("duplicate position %d for %s", r.Position, r.DocumentID)
			}
		}
	}
	kept := rows
	if s.lose > 0 {
		kept = rows[:max(0, len(rows)-s.lose)]
		s.lose = 0
	}
	for _, r := range kept {
		s.chunks[r.DocumentID] = append(s.chunks[r.DocumentID], r)
	}
	s.batches = append(s.batches, len(rows))
	s.writes++
	return nil
}

func (s *memStore) DeleteDocumentChunks(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.chunks[id])
	delete(s.chunks, id)
	return int64(n), nil
}

func (s *memStore) CountDocumentChunks(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[id]), nil
}

func (s *memStore) GetChunksByDocument(_ context.Context, id string) ([]models.DocumentChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.DocumentChunk(nil), s.chunks[id]...)
	sort.Slice(out, func(a, b int) bool { return out[a].Position < out[b].Position })
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

func (s *memStore) doc(t *testing.T, id string) models.Document {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	require.True(t, ok, "document %s missing", id)
	return d
}

// memObjects serves objects from a map keyed by URL.
type memObjects struct {
	objects map[string][]byte
}

func (m *memObjects) PutObject(_ context.Context, key string, data []byte, _ string) (string, error) {
	url := "s3://docs/" + key
	m.objects[url] = data
	return url, nil
}

func (m *memObjects) DeleteObject(_ context.Context, key string) error {
	delete(m.objects, "s3://docs/"+key)
	return nil
}

func (m *memObjects) FetchObject(_ context.Context, url string, maxBytes int64) ([]byte, error) {
	b, ok := m.objects[url]
	if !ok {
		return nil, fmt.Errorf("no object at %s", url)
	}
	return objectclient.ReadCapped(bytes.NewReader(b), maxBytes)
}

const testDim = 8

type harness struct {
	store    *memStore
	objects  *memObjects
	provider *llm.HashEmbedder
	ingestor *DocumentIngestor
}

type harnessOption func(*harnessSettings)

type harnessSettings struct {
	cfg      IngestConfig
	size     int
	overlap  int
	embedDim int
}

func withConfig(cfg IngestConfig) harnessOption {
	return func(s *harnessSettings) { s.cfg = cfg }
}

func withWindow(size, overlap int) harnessOption {
	return func(s *harnessSettings) { s.size, s.overlap = size, overlap }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	set := harnessSettings{
		size:     chunking.DefaultChunkSize,
		overlap:  chunking.DefaultChunkOverlap,
		embedDim: testDim,
	}
	for _, o := range opts {
		o(&set)
	}

	ch, err := chunking.New(chunking.WithSize(set.size), chunking.WithOverlap(set.overlap))
	require.NoError(t, err)

	h := &harness{
		store:    newMemStore(),
		objects:  &memObjects{objects: map[string][]byte{}},
		provider: llm.NewHashEmbedder(testDim),
	}
	emb := embedding.NewClient(h.provider, embedding.Config{Dimension: set.embedDim}, zap.NewNop())
	h.ingestor = NewDocumentIngestor(h.store, h.objects, extraction.NewDefaultRegistry(time.Second), ch, emb, set.cfg, zap.NewNop())
	return h
}

func textPayload(text string) *models.UploadPayload {
	return &models.UploadPayload{
		Title:          "Notes",
		OwnerID:        "user-1",
		OrganizationID: "org-1",
		EventID:        "event-1",
		Tags:           []string{"team"},
		Text:           text,
	}
}

// paragraphs builds n paragraphs of width characters each.
func paragraphs(n, width int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = strings.Repeat(string(rune('a'+i%26)), width)
	}
	return strings.Join(parts, "\n\n")
}
