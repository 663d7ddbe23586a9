package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/core/chunking"
	"github.com/markdave123-py/contexta-ingest/internal/core/embedding"
	"github.com/markdave123-py/contexta-ingest/internal/core/extraction"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

const sniffLen = 512

// source is what the pipeline extracts from. docType is recorded on the
// catalog; extractAs selects the extractor.
type source struct {
	data        []byte
	filename    string
	contentType string
	docType     models.DocumentType
	extractAs   models.DocumentType
}

func (s source) size() int64 { return int64(len(s.data)) }

// sourceFromPayload resolves the document type of an upload. Pre-extracted
// text is always decoded as text.
func sourceFromPayload(p *models.UploadPayload) source {
	if p.Data == nil {
		t := extraction.Detect(p.FileName, p.ContentType, nil)
		if t != models.TypeMarkdown {
			t = models.TypePlainText
		}
		return source{
			data:        []byte(p.Text),
			filename:    p.FileName,
			contentType: p.ContentType,
			docType:     t,
			extractAs:   models.TypePlainText,
		}
	}
	head := p.Data[:min(len(p.Data), sniffLen)]
	t := extraction.Detect(p.FileName, p.ContentType, head)
	return source{
		data:        p.Data,
		filename:    p.FileName,
		contentType: p.ContentType,
		docType:     t,
		extractAs:   t,
	}
}

// CheckSize reports ErrOversizedInput when n bytes exceed the input ceiling.
func (i *DocumentIngestor) CheckSize(n int64) error {
	if n > i.cfg.MaxInputBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", core.ErrOversizedInput, n, i.cfg.MaxInputBytes)
	}
	return nil
}

func newDocument(p *models.UploadPayload) *models.Document {
	id := p.DocumentID
	if id == "" {
		id = uuid.NewString()
	}
	src, text := models.SourceUpload, ""
	if p.Data == nil {
		src, text = models.SourceText, p.Text
	}
	title := p.Title
	if title == "" {
		title = p.FileName
	}
	return &models.Document{
		ID:             id,
		Title:          title,
		Type:           models.TypeUnknown,
		Source:         src,
		OwnerID:        p.OwnerID,
		OrganizationID: p.OrganizationID,
		EventID:        p.EventID,
		Tags:           p.Tags,
		Status:         models.StatusPending,
		ByteSize:       p.Size(),
		ExtractedText:  text,
		StorageURL:     p.StorageURL,
		FileName:       p.FileName,
		ContentType:    p.ContentType,
		Progress:       models.Progress{Stage: models.StageQueued},
	}
}

// Register validates the payload size and creates its catalog record in
// pending. The payload's DocumentID is set to the new record's id.
func (i *DocumentIngestor) Register(ctx context.Context, p *models.UploadPayload) (*models.Document, error) {
	if err := i.CheckSize(p.Size()); err != nil {
		return nil, err
	}
	doc := newDocument(p)
	if err := i.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}
	p.DocumentID = doc.ID
	return doc, nil
}

// Ingest runs the full pipeline for a payload. When the payload names an
// existing record that record is reused; otherwise one is created.
func (i *DocumentIngestor) Ingest(ctx context.Context, p *models.UploadPayload) (*models.IngestResult, error) {
	if p == nil {
		return nil, errors.New("nil payload")
	}
	if err := i.CheckSize(p.Size()); err != nil {
		return nil, err
	}

	doc, err := i.loadOrCreate(ctx, p)
	if err != nil {
		return nil, err
	}
	return i.run(ctx, doc, sourceFromPayload(p))
}

func (i *DocumentIngestor) loadOrCreate(ctx context.Context, p *models.UploadPayload) (*models.Document, error) {
	if p.DocumentID != "" {
		doc, err := i.store.GetDocumentByID(ctx, p.DocumentID)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, core.ErrDocumentNotFound) {
			return nil, err
		}
	}
	doc := newDocument(p)
	if err := i.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// run drives one document from ingesting to ingested or failed under the
// job deadline. Failures are recorded on the catalog and returned.
func (i *DocumentIngestor) run(ctx context.Context, doc *models.Document, src source) (*models.IngestResult, error) {
	started := time.Now()
	log := i.logger.With(zap.String("doc_id", doc.ID))

	jobCtx, cancel := context.WithTimeout(ctx, i.cfg.JobTimeout)
	defer cancel()

	rep := newProgressReporter(i.store, doc.ID, log)
	res, err := i.pipeline(jobCtx, doc, src, rep)
	if err != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %w", core.ErrTimeout, i.cfg.JobTimeout, err)
		}
		i.fail(ctx, doc.ID, rep, err)
		log.Warn("ingestion failed",
			zap.String("type", string(src.docType)),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return nil, err
	}

	log.Info("ingestion finished",
		zap.String("type", string(res.DetectedType)),
		zap.Int("chunks", res.ChunksCreated),
		zap.Int64("bytes", res.BytesProcessed),
		zap.Duration("elapsed", time.Since(started)))
	return res, nil
}

func (i *DocumentIngestor) pipeline(ctx context.Context, doc *models.Document, src source, rep *progressReporter) (*models.IngestResult, error) {
	if err := i.store.UpdateDocumentStatus(ctx, doc.ID, models.StatusIngesting, ""); err != nil {
		return nil, fmt.Errorf("mark ingesting: %w", err)
	}
	rep.set(ctx, models.StageExtracting, 5)
	if _, err := i.store.DeleteDocumentChunks(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("clear previous chunks: %w", err)
	}

	if src.docType == models.TypeUnknown {
		return nil, fmt.Errorf("%w: cannot detect type of %q (%s)", core.ErrUnsupportedFormat, src.filename, src.contentType)
	}
	if src.docType != doc.Type {
		if err := i.store.UpdateDocumentType(ctx, doc.ID, src.docType); err != nil {
			return nil, fmt.Errorf("record type: %w", err)
		}
	}
	raw, err := i.extractor.Extract(ctx, src.extractAs, src.data, src.filename)
	if err != nil {
		return nil, err
	}
	text := chunking.Normalize(raw)

	rep.set(ctx, models.StageChunking, 15)
	chunks, err := i.chunker.Chunk(text)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks produced", core.ErrChunking)
	}
	if len(chunks) > i.cfg.MaxChunks {
		return nil, fmt.Errorf("%w: %d chunks exceeds limit of %d", core.ErrTooManyChunks, len(chunks), i.cfg.MaxChunks)
	}

	if err := i.store.UpdateDocumentText(ctx, doc.ID, src.docType, text); err != nil {
		return nil, fmt.Errorf("store extracted text: %w", err)
	}

	rep.set(ctx, models.StageEmbedding, 20)
	vectors, err := i.embed(ctx, chunks, rep)
	if err != nil {
		return nil, err
	}
	if err := i.checkVectors(chunks, vectors); err != nil {
		return nil, err
	}

	rep.set(ctx, models.StageStoring, 90)
	rows := buildRows(doc, chunks, vectors)
	if err := i.write(ctx, rows, rep); err != nil {
		return nil, err
	}

	stored, err := i.store.CountDocumentChunks(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("count stored chunks: %w", err)
	}
	if stored != len(rows) {
		return nil, fmt.Errorf("chunk index holds %d rows for %s, wrote %d", stored, doc.ID, len(rows))
	}

	if err := i.store.MarkDocumentIngested(ctx, doc.ID, len(rows)); err != nil {
		return nil, fmt.Errorf("mark ingested: %w", err)
	}
	return &models.IngestResult{
		DocumentID:     doc.ID,
		ChunksCreated:  len(rows),
		BytesProcessed: src.size(),
		DetectedType:   src.docType,
	}, nil
}

// embed runs the embedding calls and the progress heartbeat together; both
// stop as soon as the calls return.
func (i *DocumentIngestor) embed(ctx context.Context, chunks []chunking.Chunk, rep *progressReporter) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for n, c := range chunks {
		texts[n] = c.Content
	}

	g, gctx := errgroup.WithContext(ctx)
	stageCtx, stop := context.WithCancel(gctx)
	defer stop()

	var vectors [][]float32
	g.Go(func() error {
		defer stop()
		v, err := i.embedder.Embed(stageCtx, texts, func(done, total int) {
			rep.set(stageCtx, models.StageEmbedding, scale(done, total, 20, 90))
		})
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	g.Go(func() error {
		return rep.heartbeat(stageCtx, i.cfg.HeartbeatInterval)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (i *DocumentIngestor) checkVectors(chunks []chunking.Chunk, vectors [][]float32) error {
	if len(vectors) != len(chunks) {
		return core.NewCountError(len(chunks), len(vectors))
	}
	dim := i.embedder.Dimension()
	for n, v := range vectors {
		if len(v) != dim {
			return core.NewDimensionError(dim, len(v), n)
		}
	}
	return nil
}

func buildRows(doc *models.Document, chunks []chunking.Chunk, vectors [][]float32) []models.DocumentChunk {
	rows := make([]models.DocumentChunk, len(chunks))
	for n, c := range chunks {
		rows[n] = models.DocumentChunk{
			ID:             uuid.NewString(),
			DocumentID:     doc.ID,
			OrganizationID: doc.OrganizationID,
			EventID:        doc.EventID,
			Position:       c.Index,
			Text:           c.Content,
			Embedding:      vectors[n],
			TokenCount:     embedding.EstimateTokens(c.Content),
			Metadata: models.ChunkMetadata{
				DocumentTitle: doc.Title,
				StartOffset:   c.Start,
				EndOffset:     c.End,
				Section:       c.Section,
				Tags:          doc.Tags,
			},
		}
	}
	return rows
}

// write inserts rows in batches of WriteBatchSize.
func (i *DocumentIngestor) write(ctx context.Context, rows []models.DocumentChunk, rep *progressReporter) error {
	size := i.cfg.WriteBatchSize
	for start := 0; start < len(rows); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(rows))
		if err := i.store.InsertDocumentChunks(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("write chunks %d-%d: %w", start, end-1, err)
		}
		rep.set(ctx, models.StageStoring, scale(end, len(rows), 90, 99))
	}
	return nil
}

// fail records a failed job on a context detached from the job deadline and
// removes any chunk rows the job wrote.
func (i *DocumentIngestor) fail(ctx context.Context, docID string, rep *progressReporter, cause error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.FinalizeTimeout)
	defer cancel()

	log := i.logger.With(zap.String("doc_id", docID))
	if err := i.store.UpdateDocumentStatus(fctx, docID, models.StatusFailed, cause.Error()); err != nil {
		log.Error("recording failure", zap.Error(err))
	}
	last := rep.current()
	if err := i.store.UpdateDocumentProgress(fctx, docID, models.Progress{Stage: models.StageFailed, Percent: last.Percent}); err != nil {
		log.Warn("progress update failed", zap.Error(err))
	}
	if n, err := i.store.DeleteDocumentChunks(fctx, docID); err != nil {
		log.Error("removing partial chunks", zap.Error(err))
	} else if n > 0 {
		log.Info("removed partial chunks", zap.Int64("rows", n))
	}
}
