package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository"
)

func newJob(id string, created time.Time) *domain.Job {
	return &domain.Job{
		ID:        id,
		Channel:   domain.ChannelObjectStorage,
		Platform:  domain.PlatformAndroid,
		Status:    domain.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	store := New()
	ctx := context.Background()
	if err := store.CreateJob(ctx, newJob("a", time.Now())); err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	if err := store.CreateJob(ctx, newJob("a", time.Now())); !errors.Is(err, repository.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestGetUnknownJob(t *testing.T) {
	if _, err := New().GetJob(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMutateTerminalIsNoop(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.CreateJob(ctx, newJob("a", time.Now()))
	if _, err := store.MutateJob(ctx, "a", func(j *domain.Job) error {
		j.Status = domain.StatusCancelled
		return nil
	}); err != nil {
		t.Fatalf("cancel mutation failed: %v", err)
	}
	job, err := store.MutateJob(ctx, "a", func(j *domain.Job) error {
		j.Status = domain.StatusFailed
		return nil
	})
	if !errors.Is(err, repository.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	if job.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled status to stick, got %s", job.Status)
	}
	job, err = store.AppendJobLog(ctx, "a", "cleanup done")
	if err != nil {
		t.Fatalf("AppendJobLog on terminal job failed: %v", err)
	}
	if job.LastLog() != "cleanup done" {
		t.Fatalf("expected log appended, got %q", job.LastLog())
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.CreateJob(ctx, newJob("a", time.Now()))
	_, _ = store.AppendJobLog(ctx, "a", "first")
	snap, _ := store.GetJob(ctx, "a")
	snap.Logs[0] = "tampered"
	again, _ := store.GetJob(ctx, "a")
	if again.Logs[0] != "first" {
		t.Fatalf("store state leaked through snapshot: %q", again.Logs[0])
	}
}

func TestConcurrentMutationsKeepLogsConsistent(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.CreateJob(ctx, newJob("a", time.Now()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.MutateJob(ctx, "a", func(j *domain.Job) error {
				j.Progress = i
				j.Logs = append(j.Logs, fmt.Sprintf("step %d", i))
				return nil
			})
		}(i)
	}
	wg.Wait()

	job, _ := store.GetJob(ctx, "a")
	if len(job.Logs) != 50 {
		t.Fatalf("expected 50 log lines, got %d", len(job.Logs))
	}
	if job.Progress != 49 {
		t.Fatalf("expected progress to settle at the maximum 49, got %d", job.Progress)
	}
}

func TestListNewestFirstWithFilter(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_ = store.CreateJob(ctx, newJob(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	_, _ = store.MutateJob(ctx, "job-1", func(j *domain.Job) error {
		j.Status = domain.StatusCancelled
		return nil
	})

	jobs, err := store.ListJobs(ctx, repository.JobFilter{NonTerminal: true})
	if err != nil {
		t.Fatalf("ListJobs returned error: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "job-2" || jobs[1].ID != "job-0" {
		t.Fatalf("unexpected list result: %+v", jobs)
	}

	limited, _ := store.ListJobs(ctx, repository.JobFilter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "job-2" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}
