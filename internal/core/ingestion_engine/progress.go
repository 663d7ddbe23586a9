package ingestion_engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// progressReporter publishes advisory progress for one document. Write
// failures are logged and never returned.
type progressReporter struct {
	store  core.CatalogStore
	docID  string
	logger *zap.Logger

	mu   sync.Mutex
	last models.Progress
}

func newProgressReporter(store core.CatalogStore, docID string, logger *zap.Logger) *progressReporter {
	return &progressReporter{store: store, docID: docID, logger: logger}
}

func (r *progressReporter) set(ctx context.Context, stage string, percent int) {
	r.mu.Lock()
	r.last = models.Progress{Stage: stage, Percent: percent}
	r.mu.Unlock()
	r.publish(ctx)
}

func (r *progressReporter) current() models.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *progressReporter) publish(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	p := r.current()
	if err := r.store.UpdateDocumentProgress(ctx, r.docID, p); err != nil && ctx.Err() == nil {
		r.logger.Warn("progress update failed",
			zap.String("doc_id", r.docID),
			zap.String("stage", p.Stage),
			zap.Error(err))
	}
}

// heartbeat re-publishes the latest progress every interval until ctx is
// done.
func (r *progressReporter) heartbeat(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.publish(ctx)
		}
	}
}

// scale maps done/total onto [from, to].
func scale(done, total, from, to int) int {
	if total <= 0 {
		return to
	}
	return from + (to-from)*done/total
}
