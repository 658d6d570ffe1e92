// Package maintenance holds the periodic bookkeeping around the shared
// tables: zeroing daily counts, clearing expired cooldowns and releasing
// abandoned lead locks. Every job is a single idempotent statement and is
// safe to run while selections and claims are in flight.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/leadline/internal/metrics"
	"github.com/LeventeLantos/leadline/internal/repo"
)

const (
	JobResetDaily     = "reset_daily"
	JobClearCooldowns = "clear_cooldowns"
	JobSweepLocks     = "sweep_locks"
)

type StaleSweeper interface {
	SweepStale(ctx context.Context) (int64, error)
}

type Runner struct {
	numbers repo.NumberRepository
	sweeper StaleSweeper
	metrics metrics.Collector
	now     func() time.Time
}

func NewRunner(numbers repo.NumberRepository, sweeper StaleSweeper, m metrics.Collector) *Runner {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Runner{
		numbers: numbers,
		sweeper: sweeper,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Runner) ResetDaily(ctx context.Context) (int64, error) {
	n, err := r.numbers.ResetDaily(ctx)
	return r.record(JobResetDaily, n, err)
}

func (r *Runner) ClearCooldowns(ctx context.Context) (int64, error) {
	n, err := r.numbers.ClearExpiredCooldowns(ctx, r.now())
	return r.record(JobClearCooldowns, n, err)
}

func (r *Runner) SweepLocks(ctx context.Context) (int64, error) {
	if r.sweeper == nil {
		return 0, errors.New("no lock sweeper configured")
	}
	n, err := r.sweeper.SweepStale(ctx)
	return r.record(JobSweepLocks, n, err)
}

// DailyBoundary is the day rollover: counts are zeroed and expired
// cooldowns cleared. Both run even if one fails.
func (r *Runner) DailyBoundary(ctx context.Context) error {
	_, resetErr := r.ResetDaily(ctx)
	_, clearErr := r.ClearCooldowns(ctx)
	return errors.Join(resetErr, clearErr)
}

// Run executes a job by name.
func (r *Runner) Run(ctx context.Context, job string) (int64, error) {
	switch job {
	case JobResetDaily:
		return r.ResetDaily(ctx)
	case JobClearCooldowns:
		return r.ClearCooldowns(ctx)
	case JobSweepLocks:
		return r.SweepLocks(ctx)
	}
	return 0, fmt.Errorf("unknown maintenance job %q", job)
}

func (r *Runner) record(job string, n int64, err error) (int64, error) {
	r.metrics.MaintenanceRun(job, err == nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", job, err)
	}
	slog.Info("maintenance job done", "job", job, "rows", n)
	return n, nil
}
