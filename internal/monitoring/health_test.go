package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/questlog/questlog/internal/monitoring"
	"github.com/questlog/questlog/internal/monitoring/checks"
)

func TestHealthManagerEvaluateReadiness(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
	require.Equal(t, "redis", report.Checks[1].Component)
}

func TestHealthManagerDegradedDoesNotMaskDown(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDegraded}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
}

func TestHealthManagerEmptyEvaluatesUp(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	report := manager.EvaluateLiveness(context.Background())
	require.True(t, report.Success)
	require.Equal(t, monitoring.StatusUp, report.Status)
	require.Empty(t, report.Checks)
}

func TestHealthManagerRecoversPanickingCheck(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("flaky", func(ctx context.Context) monitoring.ProbeResult {
		panic("probe exploded")
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 1)
	require.Equal(t, "flaky", report.Checks[0].Component)
	require.Equal(t, monitoring.StatusDown, report.Checks[0].Status)
	require.Equal(t, "probe exploded", report.Checks[0].Details)
}

func TestMergeReports(t *testing.T) {
	t.Parallel()

	live := monitoring.HealthReport{
		Success: true,
		Status:  monitoring.StatusUp,
		Checks:  []monitoring.ProbeResult{{Component: "process", Status: monitoring.StatusUp}},
	}
	ready := monitoring.HealthReport{
		Success: false,
		Status:  monitoring.StatusDegraded,
		Checks:  []monitoring.ProbeResult{{Component: "redis", Status: monitoring.StatusDegraded}},
	}

	merged := monitoring.MergeReports(live, ready)
	require.False(t, merged.Success)
	require.Equal(t, monitoring.StatusDegraded, merged.Status)
	require.Len(t, merged.Checks, 2)
}

func TestResultFromError(t *testing.T) {
	t.Parallel()

	up := monitoring.ResultFromError("database", nil, time.Millisecond)
	require.Equal(t, monitoring.StatusUp, up.Status)

	degraded := monitoring.ResultFromError("database", context.DeadlineExceeded, time.Millisecond)
	require.Equal(t, monitoring.StatusDegraded, degraded.Status)

	down := monitoring.ResultFromError("database", errors.New("connection refused"), time.Millisecond)
	require.Equal(t, monitoring.StatusDown, down.Status)
	require.Equal(t, "connection refused", down.Details)
}

type stubJobs struct {
	jobs []checks.JobStatus
}

func (s stubJobs) JobStatuses() []checks.JobStatus { return s.jobs }

func TestMaintenanceCheck(t *testing.T) {
	t.Parallel()

	now := time.Now()

	healthy := checks.Maintenance(stubJobs{jobs: []checks.JobStatus{{
		Job:       "session_cleanup",
		TotalRuns: 3,
		LastRunAt: now,
	}}}, 0)
	result := healthy.Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	pending := checks.Maintenance(stubJobs{jobs: []checks.JobStatus{{Job: "cache_sweep"}}}, 0)
	result = pending.Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Contains(t, result.Details, "pending first run")

	failing := checks.Maintenance(stubJobs{jobs: []checks.JobStatus{{
		Job:                 "cache_sweep",
		TotalRuns:           5,
		ConsecutiveFailures: 2,
		LastRunAt:           now,
		LastError:           "disk full",
	}}}, 0)
	result = failing.Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Contains(t, result.Details, "cache_sweep")
	require.Contains(t, result.Details, "disk full")

	stale := checks.Maintenance(stubJobs{jobs: []checks.JobStatus{{
		Job:       "session_cleanup",
		TotalRuns: 2,
		LastRunAt: now.Add(-48 * time.Hour),
	}}}, 0)
	result = stale.Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "stale run")
}

type stubHub struct {
	count int64
}

func (s stubHub) ActiveConnections() int64 { return s.count }

func TestRealtimeCheck(t *testing.T) {
	t.Parallel()

	result := checks.Realtime(stubHub{count: 3}).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Equal(t, "3 connections", result.Details)

	result = checks.Realtime(nil).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
}
