package repository

import (
	"fmt"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// Apply runs fn against a copy of current and enforces the record invariants
// shared by every store implementation:
//   - terminal jobs are frozen (ErrTerminal);
//   - identity, channel, platform, artifact, parameters and createdAt are immutable;
//   - status follows domain.CanTransition;
//   - progress never decreases and stays within 0..100;
//   - logs are append-only;
//   - completedAt is stamped exactly once, on entering a terminal status.
//
// The returned bool reports whether anything observable changed.
func Apply(current domain.Job, fn MutateFunc, now time.Time) (domain.Job, bool, error) {
	if current.Status.Terminal() {
		return current, false, ErrTerminal
	}
	next := current.Clone()
	if err := fn(&next); err != nil {
		return current, false, err
	}

	next.ID = current.ID
	next.Channel = current.Channel
	next.Platform = current.Platform
	next.Artifact = current.Artifact
	next.Parameters = current.Clone().Parameters
	next.CreatedAt = current.CreatedAt
	next.CompletedAt = nil

	if next.Status != current.Status && !domain.CanTransition(current.Status, next.Status) {
		return current, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next.Status)
	}
	if !hasPrefix(next.Logs, current.Logs) {
		return current, false, ErrLogRewrite
	}

	if next.Progress > 100 {
		next.Progress = 100
	}
	if next.Progress < current.Progress {
		next.Progress = current.Progress
	}
	if next.Status == domain.StatusCompleted {
		next.Progress = 100
	}

	changed := next.Status != current.Status ||
		next.Progress != current.Progress ||
		next.ResultLocator != current.ResultLocator ||
		len(next.Logs) != len(current.Logs)
	if !changed {
		return current, false, nil
	}
	if next.Status.Terminal() {
		at := now.UTC()
		next.CompletedAt = &at
	}
	next.UpdatedAt = now.UTC()
	return next, true, nil
}

func hasPrefix(logs, prefix []string) bool {
	if len(logs) < len(prefix) {
		return false
	}
	for i := range prefix {
		if logs[i] != prefix[i] {
			return false
		}
	}
	return true
}
