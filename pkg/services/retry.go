package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/models"
	"github.com/stingnet/sting-engine/pkg/retry"
)

// IngestWithRetry records event, repeating the whole Ingest while it fails with
// a retryable StorageError. Ingest runs in one transaction, so a failed attempt
// leaves nothing behind. Permanent failures return after the first attempt.
//
// When ctx already carries a scope the event is attempted once: the caller's
// transaction is unusable after a failed statement. A nil cfg uses
// retry.DefaultConfig.
func IngestWithRetry(
	ctx context.Context,
	svc IngestService,
	event *models.IngestEvent,
	cfg *retry.Config,
	logger *zap.Logger,
) (*models.IngestResult, error) {
	if hasScope(ctx) {
		return svc.Ingest(ctx, event)
	}

	attempt := 0
	return retry.DoWithResultIfRetryable(ctx, cfg, func() (*models.IngestResult, error) {
		attempt++
		result, err := svc.Ingest(ctx, event)
		if err != nil && retry.IsRetryable(err) {
			logger.Warn("Ingest attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return result, err
	})
}
