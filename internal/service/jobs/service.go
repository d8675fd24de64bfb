// Package jobs tracks deployment records and emits an event for every change.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository"
)

// Publisher receives job transition events. Delivery is best effort.
type Publisher interface {
	Publish(event domain.Event)
}

// Service wraps the job store with event emission.
type Service struct {
	repo      repository.JobRepository
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a job tracking service. publisher may be nil.
func New(repo repository.JobRepository, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, publisher: publisher, logger: logger, now: time.Now}
}

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// Create stores a new job and announces it.
func (s *Service) Create(ctx context.Context, job *domain.Job) error {
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return err
	}
	s.publish(job.Clone())
	return nil
}

// Get returns a job snapshot.
func (s *Service) Get(ctx context.Context, id string) (domain.Job, error) {
	return s.repo.GetJob(ctx, id)
}

// List returns jobs matching filter.
func (s *Service) List(ctx context.Context, filter repository.JobFilter) ([]domain.Job, error) {
	return s.repo.ListJobs(ctx, filter)
}

// Mutate applies fn to the job and publishes the result when it changed something.
func (s *Service) Mutate(ctx context.Context, id string, fn repository.MutateFunc) (domain.Job, error) {
	var before domain.Job
	job, err := s.repo.MutateJob(ctx, id, func(j *domain.Job) error {
		before = j.Clone()
		return fn(j)
	})
	if err != nil {
		return job, err
	}
	if job.Status != before.Status ||
		job.Progress != before.Progress ||
		job.ResultLocator != before.ResultLocator ||
		len(job.Logs) != len(before.Logs) {
		s.publish(job)
	}
	return job, nil
}

// AppendLog adds a timestamped line. It succeeds on terminal jobs.
func (s *Service) AppendLog(ctx context.Context, id, message string) (domain.Job, error) {
	job, err := s.repo.AppendJobLog(ctx, id, domain.FormatLogLine(s.now(), message))
	if err != nil {
		return job, err
	}
	s.publish(job)
	return job, nil
}

func (s *Service) publish(job domain.Job) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(domain.NewEvent(job, s.now()))
	s.logger.Debug("job event published", "job_id", job.ID, "status", job.Status, "progress", job.Progress)
}
