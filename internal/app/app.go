package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/api/handlers"
	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/core/chunking"
	db "github.com/markdave123-py/contexta-ingest/internal/core/database"
	"github.com/markdave123-py/contexta-ingest/internal/core/embedding"
	"github.com/markdave123-py/contexta-ingest/internal/core/extraction"
	"github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-ingest/internal/core/llm"
	objectclient "github.com/markdave123-py/contexta-ingest/internal/core/object-client"
	"github.com/markdave123-py/contexta-ingest/internal/services"
)

type App struct {
	Config       *config.Config
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Ingestor     *ingestion_engine.DocumentIngestor
	Documents    *services.DocumentService
	Server       *Server

	logger  *zap.Logger
	closers []func() error
}

// NewApp builds the store, object storage, embedding provider and the
// ingestion pipeline, then the HTTP server on top of them.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, logger: logger}

	dbClient, err := db.NewDbClient(appCtx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	logger.Info("database ready", zap.String("driver", cfg.DBDriver))

	if cfg.ObjectStorageEnabled() {
		s3, err := objectclient.NewS3Client(appCtx, cfg, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("object storage: %w", err)
		}
		a.ObjectClient = s3
	} else {
		logger.Info("object storage disabled; uploads are not archived")
	}

	provider, closeProvider, err := llm.NewEmbeddingProvider(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeProvider)

	chunker, err := chunking.New(chunking.WithSize(cfg.ChunkSize), chunking.WithOverlap(cfg.ChunkOverlap))
	if err != nil {
		a.Close()
		return nil, err
	}

	embedder := embedding.NewClient(provider, embedding.Config{
		Dimension:         cfg.EmbedDim,
		RequestsPerSecond: cfg.EmbedRPS,
		MaxRetries:        cfg.EmbedMaxRetries,
	}, logger.Named("embedding"))

	a.Ingestor = ingestion_engine.NewDocumentIngestor(
		dbClient,
		a.ObjectClient,
		extraction.NewDefaultRegistry(cfg.PDFTimeout),
		chunker,
		embedder,
		ingestion_engine.IngestConfig{
			MaxInputBytes:  cfg.MaxInputBytes,
			MaxChunks:      cfg.MaxChunks,
			JobTimeout:     cfg.JobTimeout,
			WriteBatchSize: cfg.WriteBatchSize,
		},
		logger.Named("ingest"),
	)

	a.Documents = services.NewDocumentService(a.Ingestor, dbClient, a.ObjectClient, logger)
	a.Server = NewServer(cfg, handlers.NewDocumentHandler(a.Documents, cfg.MaxInputBytes, logger), logger)

	logger.Info("ingestion pipeline ready",
		zap.String("embed_provider", cfg.EmbedProvider),
		zap.String("embed_model", cfg.EmbedModel),
		zap.Int("embed_dim", cfg.EmbedDim),
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.Int("chunk_overlap", cfg.ChunkOverlap))
	return a, nil
}

// Run starts the ingest workers and the HTTP server, and blocks until ctx
// is done. In-flight jobs get shutdownTimeout to finish.
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	a.Ingestor.Start(workerCtx, a.Config.Workers)

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.Server.Start() }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := a.Server.Shutdown(shutdownCtx); serr != nil {
		err = errors.Join(err, serr)
	}

	stopWorkers()
	done := make(chan struct{})
	go func() {
		a.Ingestor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("ingest workers still running at shutdown deadline")
	}
	if n := a.Ingestor.DrainQueue(context.Background(), errors.New("service shut down before the job ran")); n > 0 {
		a.logger.Warn("queued jobs abandoned at shutdown", zap.Int("jobs", n))
	}
	return err
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
