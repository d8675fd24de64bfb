package reaper

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository/memory"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/service/jobs"
	"github.com/achintir-projects/android-ios-automation-sub001/pkg/config"
)

type liveSet map[string]bool

func (l liveSet) Running(id string) bool { return l[id] }

type recordingCleaner struct {
	mu      sync.Mutex
	removed []string
}

func (c *recordingCleaner) Remove(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, path)
	return nil
}

func seed(t *testing.T, tracker *jobs.Service, id string, status domain.Status, updated time.Time) {
	t.Helper()
	job := &domain.Job{
		ID:        id,
		Platform:  domain.PlatformAndroid,
		Channel:   domain.ChannelStoreRelease,
		Status:    status,
		Artifact:  domain.Artifact{Path: "/staging/" + id + ".apk", Filename: id + ".apk"},
		CreatedAt: updated,
		UpdatedAt: updated,
	}
	if err := tracker.Create(context.Background(), job); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestReaperFailsAbandonedJobs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := jobs.New(memory.New(), nil, logger)
	seed(t, tracker, "stale", domain.StatusProcessing, now.Add(-3*time.Hour))
	seed(t, tracker, "running", domain.StatusUploading, now.Add(-3*time.Hour))
	seed(t, tracker, "fresh", domain.StatusUploading, now.Add(-time.Minute))
	seed(t, tracker, "done", domain.StatusCompleted, now.Add(-5*time.Hour))

	cleaner := &recordingCleaner{}
	cfg := config.APIConfig{ReaperInterval: time.Minute, ReaperStaleAfter: time.Hour}
	r := New(tracker, liveSet{"running": true}, cleaner, logger, cfg)
	if r == nil {
		t.Fatal("expected reaper to be created")
	}
	r.now = func() time.Time { return now }

	if n := r.runIteration(context.Background()); n != 1 {
		t.Fatalf("expected one reaped job, got %d", n)
	}
	stale, err := tracker.Get(context.Background(), "stale")
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if stale.Status != domain.StatusFailed {
		t.Fatalf("expected stale job to fail, got %s", stale.Status)
	}
	if !strings.Contains(stale.LastLog(), "[Timeout]") || !strings.Contains(stale.LastLog(), "job abandoned") {
		t.Fatalf("unexpected log line %q", stale.LastLog())
	}
	for _, id := range []string{"running", "fresh"} {
		job, _ := tracker.Get(context.Background(), id)
		if job.Status != domain.StatusUploading {
			t.Fatalf("%s should be untouched, got %s", id, job.Status)
		}
	}
	if len(cleaner.removed) != 1 || cleaner.removed[0] != "/staging/stale.apk" {
		t.Fatalf("expected stale artifact cleanup, got %v", cleaner.removed)
	}

	if n := r.runIteration(context.Background()); n != 0 {
		t.Fatalf("second pass should be a no-op, reaped %d", n)
	}
}

func TestReaperDisabled(t *testing.T) {
	tracker := jobs.New(memory.New(), nil, nil)
	if r := New(tracker, nil, nil, nil, config.APIConfig{ReaperInterval: 0, ReaperStaleAfter: time.Hour}); r != nil {
		t.Fatal("expected nil reaper when interval is zero")
	}
	var r *Reaper
	r.Run(context.Background())
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	tracker := jobs.New(memory.New(), nil, nil)
	r := New(tracker, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), config.APIConfig{ReaperInterval: time.Millisecond, ReaperStaleAfter: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
