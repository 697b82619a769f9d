package checks

import (
	"context"
	"time"

	"github.com/questlog/questlog/internal/cache"
	"github.com/questlog/questlog/internal/monitoring"
)

const defaultCacheTimeout = 2 * time.Second

// Cache returns a readiness probe that exercises the configured cache store
// with a throwaway read. Works for both the database-backed and Redis stores.
func Cache(store cache.Store, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "cache not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultCacheTimeout))
		defer cancel()

		if _, _, err := store.Get(probeCtx, "health:probe"); err != nil {
			return monitoring.ResultFromError("cache", err, time.Since(start))
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
