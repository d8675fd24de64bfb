// Package channeltest holds helpers for adapter tests.
package channeltest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/credentials"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository/memory"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/service/jobs"
)

// Creds is an in-memory credentials.Provider.
type Creds map[string][]byte

// Resolve implements credentials.Provider.
func (c Creds) Resolve(_ context.Context, name string) ([]byte, error) {
	v, ok := c[name]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	return v, nil
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Harness is one job wired to an in-memory store.
type Harness struct {
	Tracker *jobs.Service
	Session *channel.Session
	JobID   string
}

// New validates params against adapter's schema, stages an artifact with the
// given name and content, stores a pending job and opens a session for it.
func New(t *testing.T, adapter channel.Adapter, params domain.Parameters, filename string, content []byte, policy channel.Policy) *Harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("stage artifact: %v", err)
	}
	platform := domain.PlatformForFile(filename)
	normalized, err := adapter.Schema().Validate(adapter.Channel(), platform, params)
	if err != nil {
		t.Fatalf("parameters rejected: %v", err)
	}

	tracker := jobs.New(memory.New(), nil, Logger())
	now := time.Now().UTC()
	job := &domain.Job{
		ID:         "job-" + string(adapter.Channel()),
		Platform:   platform,
		Channel:    adapter.Channel(),
		Status:     domain.StatusPending,
		Artifact:   domain.Artifact{Path: path, Filename: filename, Size: int64(len(content))},
		Parameters: normalized,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tracker.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return &Harness{
		Tracker: tracker,
		Session: channel.NewSession(*job, tracker, nil, policy, Logger()),
		JobID:   job.ID,
	}
}

// Run drives the adapter and records a failure the way the orchestrator does.
func (h *Harness) Run(ctx context.Context, adapter channel.Adapter) (domain.Job, error) {
	runErr := channel.Run(ctx, adapter, h.Session)
	if runErr != nil {
		if _, err := h.Session.Fail(context.WithoutCancel(ctx), runErr); err != nil {
			return domain.Job{}, err
		}
	}
	job, err := h.Tracker.Get(context.Background(), h.JobID)
	if err != nil {
		return domain.Job{}, err
	}
	return job, runErr
}

// Cancel flips the job to cancelled the way the cancellation controller does.
func (h *Harness) Cancel(ctx context.Context) error {
	_, err := h.Tracker.Mutate(ctx, h.JobID, func(j *domain.Job) error {
		j.Status = domain.StatusCancelled
		j.AppendLog(h.Tracker.Now(), "cancellation requested")
		return nil
	})
	return err
}
