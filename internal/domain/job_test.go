package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusUploading, true},
		{StatusPending, StatusProcessing, false},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusUploading, StatusProcessing, true},
		{StatusUploading, StatusPending, false},
		{StatusUploading, StatusFailed, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusCompleted, StatusFailed, false},
		{StatusCancelled, StatusFailed, false},
		{StatusFailed, StatusCancelled, false},
		{StatusUploading, StatusUploading, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPlatformForFile(t *testing.T) {
	cases := map[string]Platform{
		"build.apk":    PlatformAndroid,
		"release.AAB":  PlatformAndroid,
		"App.ipa":      PlatformIOS,
		"bundle.zip":   PlatformUniversal,
		"no-extension": PlatformUniversal,
	}
	for name, want := range cases {
		if got := PlatformForFile(name); got != want {
			t.Fatalf("PlatformForFile(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestCloneDoesNotShareState(t *testing.T) {
	done := time.Now()
	job := Job{ID: "a", Logs: []string{"one"}, Parameters: Parameters{"k": "v"}, CompletedAt: &done}
	clone := job.Clone()
	clone.Logs[0] = "changed"
	clone.Parameters["k"] = "changed"
	*clone.CompletedAt = done.Add(time.Hour)
	if job.Logs[0] != "one" || job.Parameters["k"] != "v" || !job.CompletedAt.Equal(done) {
		t.Fatal("clone shares state with original")
	}
}

func TestParametersList(t *testing.T) {
	params := Parameters{"groups": " qa , ,beta"}
	got := params.List("groups")
	if len(got) != 2 || got[0] != "qa" || got[1] != "beta" {
		t.Fatalf("unexpected list %v", got)
	}
}
