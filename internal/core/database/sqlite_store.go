package db

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// SQLiteStore keeps the catalog and chunk index in a single SQLite file.
// Vectors are stored as little-endian float32 blobs.
type SQLiteStore struct {
	db  *sql.DB
	dim int
}

func NewSQLiteStore(ctx context.Context, path string, dim int, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	script, err := loadScript("scripts/sqlite_init.sql", dim)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, script); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &SQLiteStore{db: db, dim: dim}
	if err := s.claimWidth(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite store ready", zap.String("path", path), zap.Int("embedding_dim", dim))
	return s, nil
}

// claimWidth pins the file to one vector width. Files written before the
// width was recorded take it from any stored vector.
func (s *SQLiteStore) claimWidth(ctx context.Context) error {
	var stored int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM contexta_meta WHERE name = 'embedding_dim'`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, `SELECT length(embedding) / 4 FROM document_chunks LIMIT 1`).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			stored = s.dim
		case err != nil:
			return fmt.Errorf("reading stored vector width: %w", err)
		}
		if stored == s.dim {
			if _, err := s.db.ExecContext(ctx,
				`INSERT INTO contexta_meta (name, value) VALUES ('embedding_dim', ?)`, s.dim); err != nil {
				return fmt.Errorf("recording vector width: %w", err)
			}
		}
	} else if err != nil {
		return fmt.Errorf("reading vector width: %w", err)
	}

	if stored != s.dim {
		return fmt.Errorf("sqlite index was created for another model: %w", core.NewDimensionError(s.dim, stored, -1))
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	tags, err := encodeTags(doc.Tags)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	q := `INSERT INTO documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		doc.ID, doc.Title, string(doc.Type), doc.Source, doc.OwnerID, doc.OrganizationID, doc.EventID, tags,
		string(doc.Status), doc.ByteSize, doc.ExtractedText, doc.Error, doc.StorageURL, doc.FileName, doc.ContentType,
		doc.Progress.Stage, doc.Progress.Percent, doc.ChunkCount, formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

func scanSQLiteDocument(row rowScanner) (*models.Document, error) {
	var (
		d                models.Document
		docType, status  string
		tags             string
		created, updated string
	)
	err := row.Scan(
		&d.ID, &d.Title, &docType, &d.Source, &d.OwnerID, &d.OrganizationID, &d.EventID, &tags,
		&status, &d.ByteSize, &d.ExtractedText, &d.Error, &d.StorageURL, &d.FileName, &d.ContentType,
		&d.Progress.Stage, &d.Progress.Percent, &d.ChunkCount, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	d.Type = models.DocumentType(docType)
	d.Status = models.DocumentStatus(status)
	if d.Tags, err = decodeTags([]byte(tags)); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`
	d, err := scanSQLiteDocument(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	var (
		where []string
		args  []any
	)
	if filter.OrganizationID != "" {
		where, args = append(where, "organization_id = ?"), append(args, filter.OrganizationID)
	}
	if filter.EventID != "" {
		where, args = append(where, "event_id = ?"), append(args, filter.EventID)
	}
	if filter.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(filter.Status))
	}

	q := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, errMsg string) error {
	return s.execOne(ctx, id,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, formatTime(time.Now()), id)
}

func (s *SQLiteStore) UpdateDocumentProgress(ctx context.Context, id string, p models.Progress) error {
	return s.execOne(ctx, id,
		`UPDATE documents SET progress_stage = ?, progress_percent = ?, updated_at = ? WHERE id = ?`,
		p.Stage, p.Percent, formatTime(time.Now()), id)
}

func (s *SQLiteStore) UpdateDocumentType(ctx context.Context, id string, docType models.DocumentType) error {
	return s.execOne(ctx, id,
		`UPDATE documents SET doc_type = ?, updated_at = ? WHERE id = ?`,
		string(docType), formatTime(time.Now()), id)
}

func (s *SQLiteStore) UpdateDocumentText(ctx context.Context, id string, docType models.DocumentType, text string) error {
	return s.execOne(ctx, id,
		`UPDATE documents SET doc_type = ?, extracted_text = ?, updated_at = ? WHERE id = ?`,
		string(docType), text, formatTime(time.Now()), id)
}

func (s *SQLiteStore) MarkDocumentIngested(ctx context.Context, id string, chunkCount int) error {
	return s.execOne(ctx, id,
		`UPDATE documents
		 SET status = ?, error = '', chunk_count = ?, progress_stage = ?, progress_percent = 100, updated_at = ?
		 WHERE id = ?`,
		string(models.StatusIngested), chunkCount, models.StageDone, formatTime(time.Now()), id)
}

func (s *SQLiteStore) execOne(ctx context.Context, id, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := checkDimensions(chunks, s.dim); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks
			(id, document_id, organization_id, event_id, position, text, embedding, token_count, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range chunks {
		ch := &chunks[i]
		meta, err := encodeMetadata(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.OrganizationID, ch.EventID, ch.Position, ch.Text,
			encodeVector(ch.Embedding), ch.TokenCount, meta, formatTime(ch.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %d of %s: %w", ch.Position, ch.DocumentID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteDocumentChunks(ctx context.Context, documentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks of %s: %w", documentID, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CountDocumentChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = ?`, documentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks of %s: %w", documentID, err)
	}
	return n, nil
}

func (s *SQLiteStore) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, organization_id, event_id, position, text, embedding, token_count, metadata, created_at
		FROM document_chunks
		WHERE document_id = ?
		ORDER BY position ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch      models.DocumentChunk
			emb     []byte
			meta    string
			created string
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.OrganizationID, &ch.EventID, &ch.Position, &ch.Text,
			&emb, &ch.TokenCount, &meta, &created,
		); err != nil {
			return nil, err
		}
		if ch.Embedding, err = decodeVector(emb); err != nil {
			return nil, err
		}
		if ch.Metadata, err = decodeMetadata([]byte(meta)); err != nil {
			return nil, err
		}
		if ch.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

var _ core.DbClient = (*SQLiteStore)(nil)
