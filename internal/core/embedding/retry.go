package embedding

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// retryWithBackoff runs operation up to maxAttempts times, doubling the
// delay after each transient failure. Only rate-limit and server-side
// service errors are retried.
func retryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, logger *zap.Logger, operation func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil || !transient(lastErr) || attempt == maxAttempts {
			return lastErr
		}

		delay := baseDelay << (attempt - 1)
		logger.Debug("embedding request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func transient(err error) bool {
	var svcErr *core.EmbeddingServiceError
	return errors.As(err, &svcErr) && svcErr.Retryable()
}
