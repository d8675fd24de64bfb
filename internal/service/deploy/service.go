// Package deploy accepts deployment requests, runs each one on its own
// goroutine against the matching channel adapter and handles cancellation.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/service/jobs"
)

var (
	// ErrValidation wraps a *channel.ValidationError; nothing is stored.
	ErrValidation = channel.ErrValidation
	// ErrNotFound reports an unknown job id.
	ErrNotFound = repository.ErrNotFound
	// ErrInvalidTransition reports a cancel on a job that already finished.
	ErrInvalidTransition = repository.ErrInvalidTransition
	// ErrShuttingDown rejects submissions after Shutdown started and
	// interrupts jobs still running when the grace period ends.
	ErrShuttingDown = errors.New("deploy: orchestrator shutting down")
)

// Stager resolves staged artifacts, hands each one to exactly one job and
// deletes it once that job finishes.
type Stager interface {
	Resolve(artifact domain.Artifact) (domain.Artifact, error)
	Claim(artifact domain.Artifact, owner string) (domain.Artifact, error)
	Remove(path string) error
}

// Request is one submission.
type Request struct {
	Channel    domain.Channel    `json:"channel"`
	Platform   domain.Platform   `json:"platform,omitempty"`
	Artifact   domain.Artifact   `json:"artifact"`
	Parameters domain.Parameters `json:"parameters"`
}

// Options tunes execution.
type Options struct {
	JobTimeout    time.Duration
	DefaultPolicy channel.Policy
	Policies      map[domain.Channel]channel.Policy
	Registerer    prometheus.Registerer
}

// Service is the deployment orchestrator.
type Service struct {
	jobs     *jobs.Service
	registry *channel.Registry
	stager   Stager
	logger   *slog.Logger
	opts     Options
	metrics  *metrics

	base    context.Context
	stop    context.CancelCauseFunc
	closing atomic.Bool
	running sync.Map
	wg      sync.WaitGroup
}

// New constructs the orchestrator.
func New(tracker *jobs.Service, registry *channel.Registry, stager Stager, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Hour
	}
	if opts.DefaultPolicy.MaxAttempts == 0 {
		opts.DefaultPolicy = channel.DefaultPolicy
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Service{
		jobs:     tracker,
		registry: registry,
		stager:   stager,
		logger:   logger.With("component", "orchestrator"),
		opts:     opts,
		metrics:  newMetrics(opts.Registerer),
		base:     base,
		stop:     stop,
	}
}

// Submit validates req, stores a pending job and starts it. It never waits
// for the deployment itself.
func (s *Service) Submit(ctx context.Context, req Request) (domain.Job, error) {
	if s.closing.Load() {
		return domain.Job{}, ErrShuttingDown
	}
	adapter, ok := s.registry.Get(req.Channel)
	if !ok {
		return domain.Job{}, channel.Invalid(req.Channel, "channel", "unsupported channel "+strings.TrimSpace(string(req.Channel)))
	}
	artifact, err := s.stager.Resolve(req.Artifact)
	if err != nil {
		return domain.Job{}, channel.Invalid(req.Channel, "artifact", err.Error())
	}
	platform, err := resolvePlatform(req.Channel, req.Platform, artifact)
	if err != nil {
		return domain.Job{}, err
	}
	params, err := adapter.Schema().Validate(req.Channel, platform, req.Parameters)
	if err != nil {
		return domain.Job{}, err
	}

	id := uuid.NewString()
	artifact, err = s.stager.Claim(artifact, id)
	if err != nil {
		return domain.Job{}, channel.Invalid(req.Channel, "artifact", err.Error())
	}

	now := s.jobs.Now()
	job := &domain.Job{
		ID:         id,
		Platform:   platform,
		Channel:    req.Channel,
		Status:     domain.StatusPending,
		Artifact:   artifact,
		Parameters: params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	job.AppendLog(now, fmt.Sprintf("queued %s deployment of %s", req.Channel, artifact.Filename))
	if err := s.jobs.Create(ctx, job); err != nil {
		if rmErr := s.stager.Remove(artifact.Path); rmErr != nil {
			s.logger.Warn("failed to release artifact of unsaved job", "path", artifact.Path, "error", rmErr)
		}
		return domain.Job{}, err
	}
	s.metrics.submitted(req.Channel)
	s.logger.Info("deployment queued", "job_id", job.ID, "channel", job.Channel, "platform", job.Platform, "artifact", artifact.Filename)

	snapshot := job.Clone()
	s.start(snapshot, adapter)
	return snapshot, nil
}

// resolvePlatform infers the platform from the artifact; an explicit hint
// may only narrow a universal artifact.
func resolvePlatform(ch domain.Channel, hint domain.Platform, artifact domain.Artifact) (domain.Platform, error) {
	inferred := domain.PlatformForFile(artifact.Filename)
	if hint == "" {
		return inferred, nil
	}
	if !hint.Valid() {
		return "", channel.Invalid(ch, "platform", "unknown platform "+string(hint))
	}
	if inferred != domain.PlatformUniversal && hint != inferred {
		return "", channel.Invalid(ch, "platform", fmt.Sprintf("%s contradicts the %s artifact", hint, inferred))
	}
	return hint, nil
}

func (s *Service) policy(ch domain.Channel) channel.Policy {
	if p, ok := s.opts.Policies[ch]; ok && p.MaxAttempts > 0 {
		return p
	}
	return s.opts.DefaultPolicy
}

func (s *Service) start(job domain.Job, adapter channel.Adapter) {
	ctx, cancel := context.WithCancelCause(s.base)
	s.running.Store(job.ID, cancel)
	s.wg.Add(1)
	go s.execute(ctx, cancel, job, adapter)
}

func (s *Service) execute(parent context.Context, cancel context.CancelCauseFunc, job domain.Job, adapter channel.Adapter) {
	defer s.wg.Done()
	defer s.running.Delete(job.ID)
	defer cancel(nil)

	ctx, stopTimer := context.WithTimeout(parent, s.opts.JobTimeout)
	defer stopTimer()

	s.metrics.active(job.Channel, 1)
	defer s.metrics.active(job.Channel, -1)

	started := time.Now()
	sess := channel.NewSession(job, s.jobs, s.stager, s.policy(job.Channel), s.logger)
	runErr := s.supervise(ctx, adapter, sess)

	final := context.WithoutCancel(ctx)
	if runErr != nil {
		if _, err := sess.Fail(final, runErr); err != nil {
			s.logger.Error("failed to record job outcome", "job_id", job.ID, "error", err)
		}
	}
	sess.Cleanup(final)

	status := domain.StatusFailed
	if snapshot, err := s.jobs.Get(final, job.ID); err == nil {
		status = snapshot.Status
	}
	reason := channel.Kind(runErr)
	s.metrics.finished(job.Channel, status, reason, time.Since(started))
	if runErr != nil && status != domain.StatusCancelled {
		s.logger.Warn("deployment failed", "job_id", job.ID, "channel", job.Channel, "reason", reason, "error", runErr)
		return
	}
	s.logger.Info("deployment finished", "job_id", job.ID, "channel", job.Channel, "status", status, "duration", time.Since(started))
}

// supervise runs the adapter and turns a panic into an ordinary failure.
func (s *Service) supervise(ctx context.Context, adapter channel.Adapter, sess *channel.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("adapter panicked", "job_id", sess.ID(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return channel.Run(ctx, adapter, sess)
}

// Get returns a job snapshot.
func (s *Service) Get(ctx context.Context, id string) (domain.Job, error) {
	return s.jobs.Get(ctx, id)
}

// List returns jobs newest first.
func (s *Service) List(ctx context.Context, filter repository.JobFilter) ([]domain.Job, error) {
	return s.jobs.List(ctx, filter)
}

// Cancel flips a non-terminal job to cancelled and interrupts its execution.
// The adapter observes the new status at its next checkpoint.
func (s *Service) Cancel(ctx context.Context, id string) (domain.Job, error) {
	job, err := s.jobs.Mutate(ctx, id, func(j *domain.Job) error {
		j.Status = domain.StatusCancelled
		j.AppendLog(s.jobs.Now(), "cancellation requested")
		return nil
	})
	switch {
	case errors.Is(err, repository.ErrTerminal):
		current, getErr := s.jobs.Get(ctx, id)
		if getErr != nil {
			return domain.Job{}, getErr
		}
		return current, fmt.Errorf("%w: job is already %s", ErrInvalidTransition, current.Status)
	case err != nil:
		return domain.Job{}, err
	}
	if cancel, ok := s.running.Load(id); ok {
		cancel.(context.CancelCauseFunc)(channel.ErrCancelled)
	}
	s.logger.Info("deployment cancelled", "job_id", id, "channel", job.Channel)
	return job, nil
}

// Running reports whether id is executing in this process.
func (s *Service) Running(id string) bool {
	_, ok := s.running.Load(id)
	return ok
}

// Wait blocks until every started job has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown stops accepting work and waits for running jobs. Jobs still
// running when ctx ends are interrupted and fail with ErrShuttingDown.
func (s *Service) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	s.logger.Warn("interrupting running deployments")
	s.stop(ErrShuttingDown)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Error("deployments did not stop after interruption")
	}
	return ctx.Err()
}
