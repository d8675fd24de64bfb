// Package memory provides an in-process job store with one lock per job.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository"
)

var _ repository.JobRepository = (*Store)(nil)

type entry struct {
	mu  sync.Mutex
	job domain.Job
}

// Store keeps jobs in memory. The index lock is only held to find or insert
// an entry; mutations lock the entry itself so different jobs never contend.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*entry
	now  func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*entry), now: time.Now}
}

// CreateJob inserts a new record.
func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return repository.ErrDuplicateID
	}
	s.jobs[job.ID] = &entry{job: job.Clone()}
	return nil
}

// GetJob returns a snapshot of the job.
func (s *Store) GetJob(_ context.Context, id string) (domain.Job, error) {
	e, ok := s.lookup(id)
	if !ok {
		return domain.Job{}, repository.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// MutateJob applies fn under the job's lock.
func (s *Store) MutateJob(_ context.Context, id string, fn repository.MutateFunc) (domain.Job, error) {
	e, ok := s.lookup(id)
	if !ok {
		return domain.Job{}, repository.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next, changed, err := repository.Apply(e.job, fn, s.now())
	if err != nil {
		return e.job.Clone(), err
	}
	if changed {
		e.job = next
	}
	return e.job.Clone(), nil
}

// AppendJobLog appends a line. It is the only write accepted after a job is terminal.
func (s *Store) AppendJobLog(_ context.Context, id, line string) (domain.Job, error) {
	e, ok := s.lookup(id)
	if !ok {
		return domain.Job{}, repository.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.Logs = append(e.job.Logs, line)
	if !e.job.Status.Terminal() {
		e.job.UpdatedAt = s.now().UTC()
	}
	return e.job.Clone(), nil
}

// ListJobs returns matching jobs, newest first.
func (s *Store) ListJobs(_ context.Context, filter repository.JobFilter) ([]domain.Job, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		job := e.job.Clone()
		e.mu.Unlock()
		if filter.Match(job) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	return e, ok
}
