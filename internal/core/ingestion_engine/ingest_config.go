package ingestion_engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/core/chunking"
	"github.com/markdave123-py/contexta-ingest/internal/core/embedding"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// Pipeline defaults.
const (
	DefaultMaxInputBytes     = 25 << 20
	DefaultMaxChunks         = 2000
	DefaultJobTimeout        = 5 * time.Minute
	DefaultWriteBatchSize    = 200
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultFinalizeTimeout   = 15 * time.Second
	DefaultQueueSize         = 64
)

// IngestConfig tunes the pipeline. Zero values take the defaults above.
//
// MaxInputBytes:     payloads above this are rejected before the catalog is touched.
// MaxChunks:         documents chunking into more pieces than this fail.
// JobTimeout:        wall-clock ceiling for one document, from ingesting to ingested.
// WriteBatchSize:    chunk rows per insert.
// HeartbeatInterval: how often the latest progress is re-published while embedding.
// FinalizeTimeout:   budget for recording a failure after the job context is gone.
type IngestConfig struct {
	MaxInputBytes     int64
	MaxChunks         int
	JobTimeout        time.Duration
	WriteBatchSize    int
	HeartbeatInterval time.Duration
	FinalizeTimeout   time.Duration
	QueueSize         int
}

func (c *IngestConfig) applyDefaults() {
	if c.MaxInputBytes <= 0 {
		c.MaxInputBytes = DefaultMaxInputBytes
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = DefaultMaxChunks
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.WriteBatchSize <= 0 {
		c.WriteBatchSize = DefaultWriteBatchSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
}

// Extractor turns raw bytes of a known type into text.
type Extractor interface {
	Extract(ctx context.Context, t models.DocumentType, data []byte, filename string) (string, error)
}

// Embedder produces one vector per text, all of width Dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string, onProgress embedding.ProgressFunc) ([][]float32, error)
	Dimension() int
}

// DocumentIngestor orchestrates ingestion of one document at a time per
// worker:
//
// store:     catalog records and chunk rows.
// obj:       object storage holding original uploads; may be nil.
// extractor: type → text.
// chunker:   text → ordered chunks.
// embedder:  chunks → vectors.
// jobs:      in-memory queue served by Start.
type DocumentIngestor struct {
	store     core.DbClient
	obj       core.ObjectClient
	extractor Extractor
	chunker   *chunking.Chunker
	embedder  Embedder
	cfg       IngestConfig
	logger    *zap.Logger
	jobs      chan Job
	wg        sync.WaitGroup
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue.
func NewDocumentIngestor(
	store core.DbClient,
	obj core.ObjectClient,
	extractor Extractor,
	chunker *chunking.Chunker,
	embedder Embedder,
	cfg IngestConfig,
	logger *zap.Logger,
) *DocumentIngestor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentIngestor{
		store:     store,
		obj:       obj,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger,
		jobs:      make(chan Job, cfg.QueueSize),
	}
}
