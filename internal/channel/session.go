package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository"
)

// Tracker is the job store view an adapter execution writes through.
type Tracker interface {
	Get(ctx context.Context, id string) (domain.Job, error)
	Mutate(ctx context.Context, id string, fn repository.MutateFunc) (domain.Job, error)
	AppendLog(ctx context.Context, id, message string) (domain.Job, error)
	Now() time.Time
}

// Cleaner deletes a staged artifact.
type Cleaner interface {
	Remove(path string) error
}

// Session is the handle an adapter uses to report progress on a single job.
// All writes go through the store so cancellation is observed at every step.
type Session struct {
	job     domain.Job
	tracker Tracker
	cleaner Cleaner
	policy  Policy
	logger  *slog.Logger

	cleanOnce sync.Once
}

// NewSession binds a job snapshot to its tracker.
func NewSession(job domain.Job, tracker Tracker, cleaner Cleaner, policy Policy, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		job:     job.Clone(),
		tracker: tracker,
		cleaner: cleaner,
		policy:  policy,
		logger:  logger.With("job_id", job.ID, "channel", job.Channel),
	}
}

// Job returns the snapshot taken when the session started.
func (s *Session) Job() domain.Job { return s.job }

// ID returns the job identifier.
func (s *Session) ID() string { return s.job.ID }

// Params returns the validated channel parameters.
func (s *Session) Params() domain.Parameters { return s.job.Parameters }

// Artifact returns the staged artifact.
func (s *Session) Artifact() domain.Artifact { return s.job.Artifact }

// Policy returns the poll bounds configured for this channel.
func (s *Session) Policy() Policy { return s.policy }

// Logger returns a process logger tagged with the job.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Log appends one job log line.
func (s *Session) Log(ctx context.Context, message string) error {
	return s.update(ctx, func(j *domain.Job) {
		j.AppendLog(s.tracker.Now(), message)
	})
}

// Progress raises progress and, when message is non-empty, logs it.
func (s *Session) Progress(ctx context.Context, percent int, message string) error {
	return s.update(ctx, func(j *domain.Job) {
		j.Progress = percent
		if message != "" {
			j.AppendLog(s.tracker.Now(), message)
		}
	})
}

// Enter moves the job to status.
func (s *Session) Enter(ctx context.Context, status domain.Status, percent int, message string) error {
	return s.update(ctx, func(j *domain.Job) {
		j.Status = status
		j.Progress = percent
		j.AppendLog(s.tracker.Now(), message)
	})
}

// Complete marks the job completed with an optional result locator.
func (s *Session) Complete(ctx context.Context, locator, message string) error {
	return s.update(ctx, func(j *domain.Job) {
		j.Status = domain.StatusCompleted
		j.Progress = 100
		j.ResultLocator = locator
		j.AppendLog(s.tracker.Now(), message)
	})
}

// Checkpoint reports ErrCancelled once the job was cancelled and translates
// a finished context into the matching error class.
func (s *Session) Checkpoint(ctx context.Context) error {
	job, err := s.tracker.Get(context.WithoutCancel(ctx), s.job.ID)
	if err != nil {
		return fmt.Errorf("read job state: %w", err)
	}
	if job.Status == domain.StatusCancelled {
		return ErrCancelled
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job already %s", repository.ErrTerminal, job.Status)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return s.contextError(ctx, ctxErr)
	}
	return nil
}

// Fail records err as the job's terminal outcome. Cancelled jobs stay cancelled.
func (s *Session) Fail(ctx context.Context, cause error) (domain.Job, error) {
	if errors.Is(cause, ErrCancelled) {
		const line = "cancellation observed, remaining steps skipped"
		job, err := s.tracker.Mutate(ctx, s.job.ID, func(j *domain.Job) error {
			j.Status = domain.StatusCancelled
			j.AppendLog(s.tracker.Now(), line)
			return nil
		})
		if errors.Is(err, repository.ErrTerminal) {
			return s.tracker.AppendLog(ctx, s.job.ID, line)
		}
		return job, err
	}
	job, err := s.tracker.Mutate(ctx, s.job.ID, func(j *domain.Job) error {
		j.Status = domain.StatusFailed
		j.AppendLog(s.tracker.Now(), FailureLine(cause))
		return nil
	})
	if errors.Is(err, repository.ErrTerminal) {
		return job, nil
	}
	return job, err
}

// Cleanup deletes the staged artifact at most once. Failures are logged and never returned.
func (s *Session) Cleanup(ctx context.Context) {
	s.cleanOnce.Do(func() {
		if s.cleaner == nil || s.job.Artifact.Path == "" {
			return
		}
		if err := s.cleaner.Remove(s.job.Artifact.Path); err != nil {
			s.logger.Warn("artifact cleanup failed", "path", s.job.Artifact.Path, "error", err)
			if _, logErr := s.tracker.AppendLog(ctx, s.job.ID, "cleanup warning: "+err.Error()); logErr != nil {
				s.logger.Warn("failed to record cleanup warning", "error", logErr)
			}
		}
	})
}

func (s *Session) update(ctx context.Context, fn func(j *domain.Job)) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if err := s.Checkpoint(ctx); err != nil {
			return err
		}
	}
	_, err := s.tracker.Mutate(context.WithoutCancel(ctx), s.job.ID, func(j *domain.Job) error {
		fn(j)
		return nil
	})
	if errors.Is(err, repository.ErrTerminal) {
		if cpErr := s.Checkpoint(ctx); cpErr != nil {
			return cpErr
		}
	}
	return err
}

// classify turns raw context errors surfacing from vendor calls into
// the cancellation or timeout class.
func (s *Session) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if cpErr := s.Checkpoint(ctx); cpErr != nil {
			return cpErr
		}
		return s.contextError(ctx, err)
	}
	return err
}

// contextError maps a finished context: an explicit cancel is a cancellation,
// an expired deadline is a timeout.
func (s *Session) contextError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: job deadline exceeded", ErrTimeout)
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return ErrCancelled
}

// Wait blocks for d or until ctx is done.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		if err := s.Checkpoint(ctx); err != nil {
			return err
		}
		return s.contextError(ctx, ctx.Err())
	}
}
