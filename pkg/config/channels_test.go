package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadChannelsParsesDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	body := "channels:\n  review-track:\n    poll_max_attempts: 5\n    poll_interval: 15s\n    poll_backoff: 1.5\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	file, err := LoadChannels(path)
	if err != nil {
		t.Fatalf("LoadChannels returned error: %v", err)
	}
	tuning := file.For("review-track")
	if tuning.PollMaxAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", tuning.PollMaxAttempts)
	}
	if tuning.PollInterval != 15*time.Second {
		t.Fatalf("expected 15s interval, got %s", tuning.PollInterval)
	}
	if file.For("object-storage") != (ChannelTuning{}) {
		t.Fatal("expected zero tuning for unknown channel")
	}
}

func TestLoadChannelsRejectsShrinkingBackoff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	if err := os.WriteFile(path, []byte("channels:\n  beta-distribution:\n    poll_backoff: 0.5\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadChannels(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadChannelsEmptyPath(t *testing.T) {
	file, err := LoadChannels("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(file.Channels) != 0 {
		t.Fatalf("expected no channels, got %d", len(file.Channels))
	}
}

func TestGetListSplitsAndTrims(t *testing.T) {
	t.Setenv("SHIPIT_TEST_LIST", " a, ,b ,c")
	got := GetList("SHIPIT_TEST_LIST", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected list %v", got)
	}
}
