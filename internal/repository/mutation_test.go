package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

func baseJob() domain.Job {
	created := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	return domain.Job{
		ID:         "job-1",
		Channel:    domain.ChannelObjectStorage,
		Platform:   domain.PlatformAndroid,
		Status:     domain.StatusUploading,
		Parameters: domain.Parameters{"bucketName": "b"},
		Progress:   20,
		Logs:       []string{"one"},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestApplyKeepsProgressMonotonic(t *testing.T) {
	next, changed, err := Apply(baseJob(), func(j *domain.Job) error {
		j.Progress = 5
		return nil
	}, time.Now())
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if changed {
		t.Fatal("expected no observable change when progress regresses")
	}
	if next.Progress != 20 {
		t.Fatalf("expected progress 20, got %d", next.Progress)
	}
}

func TestApplyFreezesTerminalJobs(t *testing.T) {
	job := baseJob()
	job.Status = domain.StatusCancelled
	_, _, err := Apply(job, func(j *domain.Job) error {
		j.Status = domain.StatusFailed
		return nil
	}, time.Now())
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestApplyRejectsBackwardsTransition(t *testing.T) {
	_, _, err := Apply(baseJob(), func(j *domain.Job) error {
		j.Status = domain.StatusPending
		return nil
	}, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestApplyRejectsLogRewrite(t *testing.T) {
	_, _, err := Apply(baseJob(), func(j *domain.Job) error {
		j.Logs = []string{"other", "two"}
		return nil
	}, time.Now())
	if !errors.Is(err, ErrLogRewrite) {
		t.Fatalf("expected ErrLogRewrite, got %v", err)
	}
}

func TestApplyStampsCompletion(t *testing.T) {
	job := baseJob()
	job.Status = domain.StatusProcessing
	now := time.Date(2026, time.March, 1, 11, 0, 0, 0, time.UTC)
	next, changed, err := Apply(job, func(j *domain.Job) error {
		j.Status = domain.StatusCompleted
		j.ResultLocator = "https://example.test/x"
		return nil
	}, now)
	if err != nil || !changed {
		t.Fatalf("expected change, got changed=%v err=%v", changed, err)
	}
	if next.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", next.Progress)
	}
	if next.CompletedAt == nil || !next.CompletedAt.Equal(now) {
		t.Fatalf("expected completedAt %s, got %v", now, next.CompletedAt)
	}
}

func TestApplyRestoresImmutableFields(t *testing.T) {
	next, _, err := Apply(baseJob(), func(j *domain.Job) error {
		j.ID = "other"
		j.Channel = domain.ChannelStoreRelease
		j.Parameters["bucketName"] = "tampered"
		j.Progress = 30
		return nil
	}, time.Now())
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if next.ID != "job-1" || next.Channel != domain.ChannelObjectStorage || next.Parameters["bucketName"] != "b" {
		t.Fatalf("immutable fields changed: %+v", next)
	}
}

func TestJobFilterMatch(t *testing.T) {
	job := baseJob()
	if !(JobFilter{NonTerminal: true}).Match(job) {
		t.Fatal("expected non-terminal job to match")
	}
	if (JobFilter{Channel: domain.ChannelStoreRelease}).Match(job) {
		t.Fatal("expected channel mismatch")
	}
	if (JobFilter{UpdatedBefore: job.UpdatedAt}).Match(job) {
		t.Fatal("expected updatedBefore to be exclusive")
	}
}
