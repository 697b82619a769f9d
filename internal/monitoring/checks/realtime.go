package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/questlog/questlog/internal/monitoring"
)

// RealtimeObserver exposes the minimal hub state required to evaluate
// realtime health.
type RealtimeObserver interface {
	ActiveConnections() int64
}

// Realtime reports on the websocket hub. An absent hub degrades readiness
// rather than failing it: the REST API keeps working without push updates.
func Realtime(observer RealtimeObserver) monitoring.Check {
	return monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if observer == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "realtime hub unavailable",
				Duration: time.Since(start),
			}
		}

		count := observer.ActiveConnections()
		if count < 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "negative connection count",
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  fmt.Sprintf("%d connections", count),
			Duration: time.Since(start),
		}
	})
}
