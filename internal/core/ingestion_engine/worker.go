package ingestion_engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// JobKind selects what a worker does with a Job.
type JobKind int

const (
	// JobIngest runs the full pipeline on Job.Payload.
	JobIngest JobKind = iota
	// JobReingest rebuilds the chunks of Job.DocumentID.
	JobReingest
)

func (k JobKind) String() string {
	switch k {
	case JobIngest:
		return "ingest"
	case JobReingest:
		return "reingest"
	default:
		return fmt.Sprintf("JobKind(%d)", int(k))
	}
}

// Job is one queued unit of work.
type Job struct {
	Kind       JobKind
	DocumentID string
	Payload    *models.UploadPayload
}

// Start launches numWorkers goroutines reading from the jobs channel. Each
// job runs detached from ctx so shutdown does not abort a document midway;
// the job's own deadline still applies.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					i.logger.Debug("ingest worker shutting down", zap.Int("worker", w))
					return
				case job := <-i.jobs:
					i.process(context.WithoutCancel(ctx), w, job)
				}
			}
		}(w)
	}
	i.logger.Info("ingest workers started", zap.Int("workers", numWorkers))
}

// Wait blocks until every worker has returned.
func (i *DocumentIngestor) Wait() {
	i.wg.Wait()
}

// Enqueue schedules a job. It blocks while the queue is full, until ctx is
// done.
func (i *DocumentIngestor) Enqueue(ctx context.Context, job Job) error {
	if job.Kind == JobIngest && job.Payload == nil {
		return fmt.Errorf("ingest job without payload")
	}
	select {
	case i.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s job: %w", job.Kind, ctx.Err())
	}
}

func (i *DocumentIngestor) process(ctx context.Context, worker int, job Job) {
	docID := job.DocumentID
	if docID == "" && job.Payload != nil {
		docID = job.Payload.DocumentID
	}
	log := i.logger.With(zap.Int("worker", worker), zap.String("doc_id", docID), zap.Stringer("job", job.Kind))
	log.Debug("processing job")

	var err error
	switch job.Kind {
	case JobIngest:
		_, err = i.Ingest(ctx, job.Payload)
	case JobReingest:
		_, err = i.Reingest(ctx, job.DocumentID)
	default:
		err = fmt.Errorf("unknown job kind %s", job.Kind)
	}
	if err != nil {
		log.Warn("job failed", zap.Error(err))
	}
}

// Abandon records an ingest job that will never run as failed, so the
// document can be found and resubmitted. Reingest jobs leave their record
// as it was.
func (i *DocumentIngestor) Abandon(ctx context.Context, job Job, cause error) {
	if job.Kind != JobIngest || job.Payload == nil || job.Payload.DocumentID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.FinalizeTimeout)
	defer cancel()

	id := job.Payload.DocumentID
	log := i.logger.With(zap.String("doc_id", id))
	msg := fmt.Sprintf("ingestion never started: %v", cause)
	if err := i.store.UpdateDocumentStatus(ctx, id, models.StatusFailed, msg); err != nil {
		log.Error("recording abandoned job", zap.Error(err))
		return
	}
	if err := i.store.UpdateDocumentProgress(ctx, id, models.Progress{Stage: models.StageFailed}); err != nil {
		log.Warn("progress update failed", zap.Error(err))
	}
	log.Warn("ingest job abandoned", zap.Error(cause))
}

// DrainQueue abandons every job still queued and returns how many there
// were. Call it once the workers have stopped.
func (i *DocumentIngestor) DrainQueue(ctx context.Context, cause error) int {
	n := 0
	for {
		select {
		case job := <-i.jobs:
			i.Abandon(ctx, job, cause)
			n++
		default:
			return n
		}
	}
}
