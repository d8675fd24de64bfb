// Package reaper fails jobs that stopped making progress, typically because
// the process that ran them went away.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository"
	"github.com/achintir-projects/android-ios-automation-sub001/pkg/config"
)

const reconcileTimeout = 15 * time.Second

var errRefreshed = errors.New("reaper: job made progress")

// Jobs is the job store view the reaper needs.
type Jobs interface {
	List(ctx context.Context, filter repository.JobFilter) ([]domain.Job, error)
	Mutate(ctx context.Context, id string, fn repository.MutateFunc) (domain.Job, error)
}

// Liveness reports jobs still executing in this process.
type Liveness interface {
	Running(id string) bool
}

// Reaper periodically fails abandoned non-terminal jobs.
type Reaper struct {
	jobs       Jobs
	live       Liveness
	cleaner    channel.Cleaner
	logger     *slog.Logger
	interval   time.Duration
	staleAfter time.Duration

	now func() time.Time
}

// New constructs a reaper. It returns nil when the loop is disabled.
func New(jobs Jobs, live Liveness, cleaner channel.Cleaner, logger *slog.Logger, cfg config.APIConfig) *Reaper {
	if jobs == nil || cfg.ReaperInterval <= 0 || cfg.ReaperStaleAfter <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		jobs:       jobs,
		live:       live,
		cleaner:    cleaner,
		logger:     logger.With("component", "reaper"),
		interval:   cfg.ReaperInterval,
		staleAfter: cfg.ReaperStaleAfter,
		now:        time.Now,
	}
}

// Run executes the reconciliation loop until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "stale_after", r.staleAfter)
	r.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.runIteration(ctx)
		}
	}
}

func (r *Reaper) runIteration(parent context.Context) int {
	timeout := reconcileTimeout
	if r.interval < timeout {
		timeout = r.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	cutoff := r.now().UTC().Add(-r.staleAfter)
	stale, err := r.jobs.List(ctx, repository.JobFilter{NonTerminal: true, UpdatedBefore: cutoff})
	if err != nil {
		r.logger.Warn("failed to list stale jobs", "error", err)
		return 0
	}
	reaped := 0
	for _, job := range stale {
		if r.live != nil && r.live.Running(job.ID) {
			continue
		}
		if r.reap(ctx, job, cutoff) {
			reaped++
		}
	}
	if reaped > 0 {
		r.logger.Info("reaped abandoned jobs", "count", reaped)
	}
	return reaped
}

func (r *Reaper) reap(ctx context.Context, job domain.Job, cutoff time.Time) bool {
	now := r.now().UTC()
	cause := fmt.Errorf("%w: job abandoned after %s without progress in %s", channel.ErrTimeout, now.Sub(job.UpdatedAt).Round(time.Second), job.Status)
	_, err := r.jobs.Mutate(ctx, job.ID, func(j *domain.Job) error {
		if !j.UpdatedAt.Before(cutoff) {
			return errRefreshed
		}
		j.Status = domain.StatusFailed
		j.AppendLog(now, channel.FailureLine(cause))
		return nil
	})
	switch {
	case errors.Is(err, errRefreshed), errors.Is(err, repository.ErrTerminal):
		return false
	case err != nil:
		r.logger.Warn("failed to reap job", "job_id", job.ID, "error", err)
		return false
	}
	r.logger.Warn("job abandoned", "job_id", job.ID, "channel", job.Channel, "last_update", job.UpdatedAt)
	if r.cleaner != nil && job.Artifact.Path != "" {
		if err := r.cleaner.Remove(job.Artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("artifact cleanup failed", "job_id", job.ID, "error", err)
		}
	}
	return true
}
