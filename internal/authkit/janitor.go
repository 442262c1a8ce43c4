package authkit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSessionJanitor purges expired sessions every interval until ctx is done.
func RunSessionJanitor(ctx context.Context, purger ExpiredSessionPurger, interval time.Duration, clock Clock, logger *zap.Logger) {
	if clock == nil {
		clock = NewSystemClock()
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
		case <-ticker.C:
			purgeExpiredSessions(ctx, purger, clock, logger)
		}
	}
}

func purgeExpiredSessions(ctx context.Context, purger ExpiredSessionPurger, clock Clock, logger *zap.Logger) int64 {
	removed, err := purger.DeleteExpired(ctx, clock.Now())
	if err != nil {
		logger.Warn("expired session purge failed",
			zap.String("code", "session_store.janitor.purge_failed"),
			zap.Error(err))
		return 0
	}
	if removed > 0 {
		logger.Info("expired sessions purged",
			zap.String("code", "session_store.janitor.purged"),
			zap.Int64("removed", removed))
	}
	return removed
}
