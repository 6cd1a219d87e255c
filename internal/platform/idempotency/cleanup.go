package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunCleanup purges expired records every interval until ctx is cancelled. Each tick drains
// in batches so a backlog does not wait for the next interval.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, batchSize int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			total := 0
			for {
				removed, err := store.CleanupExpired(ctx, now.UTC(), batchSize)
				if err != nil {
					logger.Warn("idempotency cleanup failed", zap.Error(err))
					break
				}
				total += removed
				if removed == 0 || batchSize <= 0 || removed < batchSize {
					break
				}
			}
			if total > 0 {
				logger.Info("idempotency records purged", zap.Int("removed", total))
			}
		}
	}
}
