package channel

import (
	"context"
	"fmt"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// Progress milestones shared by every channel.
const (
	ProgressStarted       = 10
	ProgressAuthenticated = 20
	ProgressUploaded      = 50
	ProgressProcessing    = 60
	ProgressFinalizing    = 90
)

// Run drives sess through adapter: uploading, processing, completed. It
// returns the error that ended the run; the caller records it on the job.
func Run(ctx context.Context, adapter Adapter, sess *Session) error {
	return sess.classify(ctx, run(ctx, adapter, sess))
}

func run(ctx context.Context, adapter Adapter, sess *Session) error {
	if err := sess.Checkpoint(ctx); err != nil {
		return err
	}
	artifact := sess.Artifact()
	if err := sess.Enter(ctx, domain.StatusUploading, ProgressStarted,
		fmt.Sprintf("starting %s deployment of %s (%d bytes)", adapter.Channel(), artifact.Filename, artifact.Size)); err != nil {
		return err
	}

	release, err := adapter.Begin(ctx, sess)
	if err != nil {
		return err
	}
	if err := sess.Checkpoint(ctx); err != nil {
		return err
	}
	if err := release.Upload(ctx, sess); err != nil {
		return err
	}
	if err := sess.Checkpoint(ctx); err != nil {
		return err
	}
	if err := sess.Enter(ctx, domain.StatusProcessing, ProgressProcessing, "upload acknowledged, processing"); err != nil {
		return err
	}
	if err := release.Process(ctx, sess); err != nil {
		return err
	}
	if err := sess.Checkpoint(ctx); err != nil {
		return err
	}

	locator := release.Locator()
	message := "deployment completed"
	if locator != "" {
		message += ": " + locator
	}
	return sess.Complete(ctx, locator, message)
}
