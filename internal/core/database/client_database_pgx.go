package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// DatabaseClient is the Postgres + pgvector store.
type DatabaseClient struct {
	db  *sql.DB
	dim int
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, dim: cfg.EmbedDim}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Catalog

const documentColumns = `id, title, doc_type, source, owner_id, organization_id, event_id, tags,
	status, byte_size, extracted_text, error, storage_url, file_name, content_type,
	progress_stage, progress_percent, chunk_count, created_at, updated_at`

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
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

	const q = `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = c.db.ExecContext(ctx, q,
		doc.ID, doc.Title, doc.Type, doc.Source, doc.OwnerID, doc.OrganizationID, doc.EventID, tags,
		doc.Status, doc.ByteSize, doc.ExtractedText, doc.Error, doc.StorageURL, doc.FileName, doc.ContentType,
		doc.Progress.Stage, doc.Progress.Percent, doc.ChunkCount, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPgDocument(row rowScanner) (*models.Document, error) {
	var (
		d    models.Document
		tags []byte
	)
	err := row.Scan(
		&d.ID, &d.Title, &d.Type, &d.Source, &d.OwnerID, &d.OrganizationID, &d.EventID, &tags,
		&d.Status, &d.ByteSize, &d.ExtractedText, &d.Error, &d.StorageURL, &d.FileName, &d.ContentType,
		&d.Progress.Stage, &d.Progress.Percent, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if d.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanPgDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return d, nil
}

func (c *DatabaseClient) ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	var (
		where []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if filter.OrganizationID != "" {
		add("organization_id", filter.OrganizationID)
	}
	if filter.EventID != "" {
		add("event_id", filter.EventID)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}

	q := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanPgDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, errMsg string) error {
	const q = `
		UPDATE documents
		SET status = $2, error = $3, updated_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, id, q, id, status, errMsg)
}

func (c *DatabaseClient) UpdateDocumentProgress(ctx context.Context, id string, p models.Progress) error {
	const q = `
		UPDATE documents
		SET progress_stage = $2, progress_percent = $3, updated_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, id, q, id, p.Stage, p.Percent)
}

func (c *DatabaseClient) UpdateDocumentType(ctx context.Context, id string, docType models.DocumentType) error {
	const q = `UPDATE documents SET doc_type = $2, updated_at = now() WHERE id = $1`
	return c.execOne(ctx, id, q, id, docType)
}

func (c *DatabaseClient) UpdateDocumentText(ctx context.Context, id string, docType models.DocumentType, text string) error {
	const q = `
		UPDATE documents
		SET doc_type = $2, extracted_text = $3, updated_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, id, q, id, docType, text)
}

func (c *DatabaseClient) MarkDocumentIngested(ctx context.Context, id string, chunkCount int) error {
	const q = `
		UPDATE documents
		SET status = $2, error = '', chunk_count = $3,
		    progress_stage = $4, progress_percent = 100, updated_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, id, q, id, models.StatusIngested, chunkCount, models.StageDone)
}

func (c *DatabaseClient) execOne(ctx context.Context, id, q string, args ...any) error {
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}

// Chunks

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := checkDimensions(chunks, c.dim); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, organization_id, event_id, position, text, embedding, token_count, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	stmt, err := tx.PrepareContext(ctx, q)
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
			pgvector.NewVector(ch.Embedding), ch.TokenCount, meta, ch.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %d of %s: %w", ch.Position, ch.DocumentID, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteDocumentChunks(ctx context.Context, documentID string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks of %s: %w", documentID, err)
	}
	return res.RowsAffected()
}

func (c *DatabaseClient) CountDocumentChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks of %s: %w", documentID, err)
	}
	return n, nil
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, organization_id, event_id, position, text, embedding, token_count, metadata, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch   models.DocumentChunk
			emb  pgvector.Vector
			meta []byte
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.OrganizationID, &ch.EventID, &ch.Position, &ch.Text,
			&emb, &ch.TokenCount, &meta, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		if ch.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

var _ core.DbClient = (*DatabaseClient)(nil)
