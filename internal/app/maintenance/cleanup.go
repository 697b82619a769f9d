package maintenance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/questlog/questlog/internal/auth"
	"github.com/questlog/questlog/internal/monitoring/checks"
	"github.com/questlog/questlog/pkg/logger"
)

const (
	defaultSessionSpec = "@hourly"
	defaultSweepSpec   = "@every 12h"

	jobSessionCleanup = "session_cleanup"
	jobCacheSweep     = "cache_sweep"
)

// CacheSweeper removes expired entries from a cache backend. Redis expires
// keys natively; only the database-backed store needs sweeping.
type CacheSweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Cleaner runs the recurring maintenance jobs: purging expired and revoked
// sessions, and sweeping expired rows out of the database cache.
type Cleaner struct {
	sessions *iauth.SessionService
	sweeper  CacheSweeper
	cron     *cron.Cron
	log      *zap.Logger

	mu   sync.Mutex
	jobs map[string]*jobRecord

	sessionSchedule string
	sweepSchedule   string
}

type jobRecord struct {
	totalRuns           uint64
	consecutiveFailures int
	lastRunAt           time.Time
	lastError           string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithSweepSchedule overrides the cron specification for the cache sweep.
func WithSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sweepSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency results in the
// corresponding job being skipped.
func NewCleaner(sessions *iauth.SessionService, sweeper CacheSweeper, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:        sessions,
		sweeper:         sweeper,
		jobs:            make(map[string]*jobRecord),
		sessionSchedule: defaultSessionSpec,
		sweepSchedule:   defaultSweepSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup jobs with the cron scheduler and launches it if
// at least one job is enabled.
func (c *Cleaner) Start() error {
	if c.sessions == nil && c.sweeper == nil {
		return nil
	}

	if c.sessions != nil {
		c.ensure(jobSessionCleanup)
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			_ = c.runSessionCleanup(context.Background())
		}); err != nil {
			return err
		}
	}

	if c.sweeper != nil {
		c.ensure(jobCacheSweep)
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() {
			_ = c.runCacheSweep(context.Background())
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Used by tests
// and during graceful shutdown so short-lived deployments still clean up.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		errs = multierr.Append(errs, c.runSessionCleanup(ctx))
	}
	if c.sweeper != nil {
		errs = multierr.Append(errs, c.runCacheSweep(ctx))
	}

	return errs
}

func (c *Cleaner) runSessionCleanup(ctx context.Context) error {
	removed, err := c.sessions.CleanupExpired(ctx)
	c.record(jobSessionCleanup, err)
	if err != nil {
		c.log.Warn("session cleanup failed", zap.Error(err))
		return err
	}
	if removed > 0 {
		c.log.Info("expired sessions removed", zap.Int64("count", removed))
	}
	return nil
}

func (c *Cleaner) runCacheSweep(ctx context.Context) error {
	removed, err := c.sweeper.CleanupExpired(ctx)
	c.record(jobCacheSweep, err)
	if err != nil {
		c.log.Warn("cache sweep failed", zap.Error(err))
		return err
	}
	if removed > 0 {
		c.log.Info("expired cache entries removed", zap.Int64("count", removed))
	}
	return nil
}

func (c *Cleaner) ensure(job string) *jobRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked(job)
}

func (c *Cleaner) ensureLocked(job string) *jobRecord {
	rec := c.jobs[job]
	if rec == nil {
		rec = &jobRecord{}
		c.jobs[job] = rec
	}
	return rec
}

func (c *Cleaner) record(job string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.ensureLocked(job)
	rec.totalRuns++
	rec.lastRunAt = time.Now()
	if err != nil {
		rec.consecutiveFailures++
		rec.lastError = err.Error()
	} else {
		rec.consecutiveFailures = 0
		rec.lastError = ""
	}
}

// JobStatuses reports the observed outcome of each job. Implements the
// observer expected by the maintenance health check.
func (c *Cleaner) JobStatuses() []checks.JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.jobs))
	for name := range c.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]checks.JobStatus, 0, len(names))
	for _, name := range names {
		rec := c.jobs[name]
		statuses = append(statuses, checks.JobStatus{
			Job:                 name,
			TotalRuns:           rec.totalRuns,
			ConsecutiveFailures: rec.consecutiveFailures,
			LastRunAt:           rec.lastRunAt,
			LastError:           rec.lastError,
		})
	}
	return statuses
}
