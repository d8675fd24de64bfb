package repository

import (
	"context"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// MutateFunc transforms a job snapshot in place. Returning an error aborts the mutation.
type MutateFunc func(job *domain.Job) error

// JobFilter narrows ListJobs results. Zero values match everything.
type JobFilter struct {
	Channel       domain.Channel
	Status        domain.Status
	NonTerminal   bool
	UpdatedBefore time.Time
	Limit         int
}

// Match reports whether job satisfies the filter.
func (f JobFilter) Match(job domain.Job) bool {
	if f.Channel != "" && job.Channel != f.Channel {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if f.NonTerminal && job.Status.Terminal() {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !job.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// JobRepository is the deployment record store.
type JobRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (domain.Job, error)
	MutateJob(ctx context.Context, id string, fn MutateFunc) (domain.Job, error)
	AppendJobLog(ctx context.Context, id, line string) (domain.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)
}
