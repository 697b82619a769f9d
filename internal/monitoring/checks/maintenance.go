package checks

import (
	"context"
	"strings"
	"time"

	"github.com/questlog/questlog/internal/monitoring"
)

const defaultMaintenanceMaxAge = 24 * time.Hour

// JobStatus describes the last observed outcome of one background job.
type JobStatus struct {
	Job                 string
	TotalRuns           uint64
	ConsecutiveFailures int
	LastRunAt           time.Time
	LastError           string
}

// MaintenanceObserver exposes background job state for health evaluation.
type MaintenanceObserver interface {
	JobStatuses() []JobStatus
}

// Maintenance verifies that background jobs run successfully within the
// expected interval. When maxAge is zero, a default window (24h) is used so
// the twice-daily cache sweep never trips it.
func Maintenance(observer MaintenanceObserver, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if observer == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "maintenance disabled",
				Duration: time.Since(start),
			}
		}

		jobs := observer.JobStatuses()
		if len(jobs) == 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "no maintenance jobs registered",
				Duration: time.Since(start),
			}
		}

		now := time.Now()
		status := monitoring.StatusUp
		var failures []string

		for _, job := range jobs {
			if job.TotalRuns == 0 {
				failures = append(failures, job.Job+": pending first run")
				continue
			}

			if job.ConsecutiveFailures > 0 {
				status = worstStatus(status, monitoring.StatusDown)
				detail := job.Job + ": consecutive failures"
				if job.LastError != "" {
					detail += " (" + job.LastError + ")"
				}
				failures = append(failures, detail)
			}

			if !job.LastRunAt.IsZero() && now.Sub(job.LastRunAt) > maxAge {
				status = worstStatus(status, monitoring.StatusDegraded)
				failures = append(failures, job.Job+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(failures, "; "),
			Duration: time.Since(start),
		}
	})
}

func worstStatus(current, candidate monitoring.ProbeStatus) monitoring.ProbeStatus {
	if current == monitoring.StatusDown || candidate == monitoring.StatusDown {
		return monitoring.StatusDown
	}
	if current == monitoring.StatusDegraded || candidate == monitoring.StatusDegraded {
		return monitoring.StatusDegraded
	}
	return monitoring.StatusUp
}
