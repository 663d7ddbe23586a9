package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

func newTestStore(t *testing.T, dim int) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"), dim, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDocument(id, org string) *models.Document {
	return &models.Document{
		ID:             id,
		Title:          "Handbook",
		Type:           models.TypeUnknown,
		Source:         models.SourceUpload,
		OrganizationID: org,
		Tags:           []string{"hr", "policy"},
		Status:         models.StatusPending,
		ByteSize:       42,
		Progress:       models.Progress{Stage: models.StageQueued},
	}
}

func chunkRows(docID string, n, dim int) []models.DocumentChunk {
	out := make([]models.DocumentChunk, n)
	for i := range out {
		v := make([]float32, dim)
		v[0] = float32(i) + 0.5
		out[i] = models.DocumentChunk{
			ID:         docID + "-" + string(rune('a'+i)),
			DocumentID: docID,
			Position:   i,
			Text:       "chunk",
			Embedding:  v,
			TokenCount: 2,
			Metadata:   models.ChunkMetadata{DocumentTitle: "Handbook", StartOffset: i * 10, EndOffset: i*10 + 5, Section: "# Intro"},
		}
	}
	return out
}

func TestSQLiteDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 3)

	require.NoError(t, s.CreateDocument(ctx, testDocument("d1", "org-1")))

	got, err := s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Handbook", got.Title)
	assert.Equal(t, []string{"hr", "policy"}, got.Tags)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)

	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", models.StatusIngesting, ""))
	require.NoError(t, s.UpdateDocumentText(ctx, "d1", models.TypeMarkdown, "# Intro\n\nbody"))
	require.NoError(t, s.UpdateDocumentProgress(ctx, "d1", models.Progress{Stage: models.StageEmbedding, Percent: 40}))

	got, err = s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIngesting, got.Status)
	assert.Equal(t, models.TypeMarkdown, got.Type)
	assert.Equal(t, "# Intro\n\nbody", got.ExtractedText)
	assert.Equal(t, models.Progress{Stage: models.StageEmbedding, Percent: 40}, got.Progress)

	require.NoError(t, s.UpdateDocumentStatus(ctx, "d1", models.StatusFailed, "boom"))
	require.NoError(t, s.MarkDocumentIngested(ctx, "d1", 7))

	got, err = s.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIngested, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, 7, got.ChunkCount)
	assert.Equal(t, models.Progress{Stage: models.StageDone, Percent: 100}, got.Progress)
}

func TestSQLiteMissingDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 3)

	_, err := s.GetDocumentByID(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)

	err = s.UpdateDocumentStatus(ctx, "nope", models.StatusFailed, "x")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func TestSQLiteListDocumentsFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 3)

	a := testDocument("a", "org-1")
	a.EventID = "ev-1"
	b := testDocument("b", "org-1")
	b.Status = models.StatusFailed
	c := testDocument("c", "org-2")
	for _, d := range []*models.Document{a, b, c} {
		require.NoError(t, s.CreateDocument(ctx, d))
	}

	ids := func(f models.DocumentFilter) []string {
		docs, err := s.ListDocuments(ctx, f)
		require.NoError(t, err)
		var out []string
		for _, d := range docs {
			out = append(out, d.ID)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(models.DocumentFilter{}))
	assert.ElementsMatch(t, []string{"a", "b"}, ids(models.DocumentFilter{OrganizationID: "org-1"}))
	assert.Equal(t, []string{"a"}, ids(models.DocumentFilter{OrganizationID: "org-1", EventID: "ev-1"}))
	assert.Equal(t, []string{"b"}, ids(models.DocumentFilter{Status: models.StatusFailed}))
}

func TestSQLiteChunksRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 4)
	require.NoError(t, s.CreateDocument(ctx, testDocument("d1", "org-1")))

	require.NoError(t, s.InsertDocumentChunks(ctx, chunkRows("d1", 3, 4)))

	n, err := s.CountDocumentChunks(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	chunks, err := s.GetChunksByDocument(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Position)
		assert.Equal(t, []float32{float32(i) + 0.5, 0, 0, 0}, ch.Embedding)
		assert.Equal(t, "# Intro", ch.Metadata.Section)
		assert.Equal(t, i*10, ch.Metadata.StartOffset)
	}

	deleted, err := s.DeleteDocumentChunks(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	n, err = s.CountDocumentChunks(ctx, "d1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 4)
	require.NoError(t, s.CreateDocument(ctx, testDocument("d1", "org-1")))

	rows := chunkRows("d1", 2, 4)
	rows[1].Embedding = []float32{1, 2}

	err := s.InsertDocumentChunks(ctx, rows)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "expected 4, got 2")

	n, err := s.CountDocumentChunks(ctx, "d1")
	require.NoError(t, err)
	assert.Zero(t, n, "no partial batch is written")
}

func TestSQLiteReopenWithOtherWidthFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := NewSQLiteStore(ctx, path, 3, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.CreateDocument(ctx, testDocument("a", "org-1")))
	require.NoError(t, s.InsertDocumentChunks(ctx, chunkRows("a", 2, 3)))
	require.NoError(t, s.Close())

	_, err = NewSQLiteStore(ctx, path, 5, zap.NewNop())
	require.Error(t, err)
	var dimErr *core.DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 5, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)

	again, err := NewSQLiteStore(ctx, path, 3, zap.NewNop())
	require.NoError(t, err)
	defer again.Close()
	n, err := again.CountDocumentChunks(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteWidthInferredFromStoredVectors(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	s, err := NewSQLiteStore(ctx, path, 4, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.CreateDocument(ctx, testDocument("a", "org-1")))
	require.NoError(t, s.InsertDocumentChunks(ctx, chunkRows("a", 1, 4)))
	// a file written before the width was recorded
	_, err = s.db.ExecContext(ctx, `DELETE FROM contexta_meta`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewSQLiteStore(ctx, path, 6, zap.NewNop())
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	again, err := NewSQLiteStore(ctx, path, 4, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestSQLiteDuplicatePositionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)
	require.NoError(t, s.CreateDocument(ctx, testDocument("d1", "org-1")))

	rows := chunkRows("d1", 2, 2)
	rows[1].Position = 0

	require.Error(t, s.InsertDocumentChunks(ctx, rows))

	n, err := s.CountDocumentChunks(ctx, "d1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVectorBlobEncoding(t *testing.T) {
	v := []float32{0, -1.25, 3.5e-7, 42}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
