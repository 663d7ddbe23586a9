package models

import (
	"time"
)

// DocumentStatus is the lifecycle state of a catalog record.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusIngesting DocumentStatus = "ingesting"
	StatusIngested  DocumentStatus = "ingested"
	StatusFailed    DocumentStatus = "failed"
)

// DocumentType is the format inferred for an upload.
type DocumentType string

const (
	TypePDF          DocumentType = "pdf"
	TypeWordDocument DocumentType = "word-document"
	TypePlainText    DocumentType = "plain-text"
	TypeMarkdown     DocumentType = "markdown"
	TypeTabularText  DocumentType = "tabular-text"
	TypeUnknown      DocumentType = "unknown"
)

// Source values recorded on a document.
const (
	SourceUpload = "upload"
	SourceText   = "text"
)

// Progress is the coarse, advisory progress of an ingestion job.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// Progress stages.
const (
	StageQueued     = "queued"
	StageExtracting = "extracting"
	StageChunking   = "chunking"
	StageEmbedding  = "embedding"
	StageStoring    = "storing"
	StageDone       = "done"
	StageFailed     = "failed"
)

// Document is the catalog record tracking one document's ingestion lifecycle.
type Document struct {
	ID             string         `db:"id" json:"id"`
	Title          string         `db:"title" json:"title"`
	Type           DocumentType   `db:"doc_type" json:"type"`
	Source         string         `db:"source" json:"source"` // "upload" or "text"
	OwnerID        string         `db:"owner_id" json:"owner_id"`
	OrganizationID string         `db:"organization_id" json:"organization_id"`
	EventID        string         `db:"event_id" json:"event_id,omitempty"`
	Tags           []string       `db:"tags" json:"tags"`
	Status         DocumentStatus `db:"status" json:"status"`
	ByteSize       int64          `db:"byte_size" json:"byte_size"`
	ExtractedText  string         `db:"extracted_text" json:"-"`
	Error          string         `db:"error" json:"error,omitempty"`
	StorageURL     string         `db:"storage_url" json:"storage_url,omitempty"` // s3:// or https URL of the original bytes
	FileName       string         `db:"file_name" json:"file_name,omitempty"`
	ContentType    string         `db:"content_type" json:"content_type,omitempty"`
	Progress       Progress       `db:"progress" json:"progress"`
	ChunkCount     int            `db:"chunk_count" json:"chunk_count"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ChunkMetadata is the provenance stored next to every chunk.
type ChunkMetadata struct {
	DocumentTitle string   `json:"document_title"`
	StartOffset   int      `json:"start_offset"`
	EndOffset     int      `json:"end_offset"`
	Section       string   `json:"section,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// DocumentChunk represents one text chunk from a document.
type DocumentChunk struct {
	ID             string        `db:"id" json:"id"`
	DocumentID     string        `db:"document_id" json:"document_id"`
	OrganizationID string        `db:"organization_id" json:"organization_id"`
	EventID        string        `db:"event_id" json:"event_id,omitempty"`
	Position       int           `db:"position" json:"position"`
	Text           string        `db:"text" json:"text"`
	Embedding      []float32     `db:"embedding" json:"embedding"` // pgvector column
	TokenCount     int           `db:"token_count" json:"token_count"`
	Metadata       ChunkMetadata `db:"metadata" json:"metadata"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// UploadPayload is what intake hands to the orchestrator. Exactly one of
// Data or Text is expected; DocumentID is set when an existing record is
// being ingested again.
type UploadPayload struct {
	DocumentID     string
	Title          string
	OwnerID        string
	OrganizationID string
	EventID        string
	Tags           []string
	FileName       string
	ContentType    string
	StorageURL     string
	Data           []byte
	Text           string
}

// Size is the number of input bytes the payload carries.
func (p *UploadPayload) Size() int64 {
	if p.Data != nil {
		return int64(len(p.Data))
	}
	return int64(len(p.Text))
}

// IngestResult is returned by a successful ingestion.
type IngestResult struct {
	DocumentID     string       `json:"document_id"`
	ChunksCreated  int          `json:"chunks_created"`
	BytesProcessed int64        `json:"bytes_processed"`
	DetectedType   DocumentType `json:"detected_type"`
}

// DocumentFilter selects documents for bulk re-ingestion. Empty fields match
// everything.
type DocumentFilter struct {
	OrganizationID string         `json:"organization_id"`
	EventID        string         `json:"event_id"`
	Status         DocumentStatus `json:"status"`
}

// BulkResult aggregates a bulk re-ingestion run.
type BulkResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Failures  map[string]string `json:"failures,omitempty"`
}
