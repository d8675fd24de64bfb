// Package appstore submits iOS builds to App Store review.
package appstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/ascapi"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// Adapter implements the review-track channel.
type Adapter struct {
	connect *ascapi.Connect
}

// New constructs the review-track adapter.
func New(connect *ascapi.Connect) *Adapter {
	return &Adapter{connect: connect}
}

// Channel implements channel.Adapter.
func (a *Adapter) Channel() domain.Channel { return domain.ChannelReviewTrack }

// Schema implements channel.Adapter.
func (a *Adapter) Schema() channel.Schema {
	return channel.Schema{
		Required:  []string{"bundleId", "versionString"},
		Optional:  []string{"whatsNew", "releaseType"},
		Platforms: []domain.Platform{domain.PlatformIOS},
		Check: channel.Checks(
			channel.OneOf("releaseType", "MANUAL", "AFTER_APPROVAL"),
			checkVersionString,
		),
	}
}

func checkVersionString(params domain.Parameters) []channel.FieldError {
	if _, err := semver.NewVersion(params["versionString"]); err != nil {
		return []channel.FieldError{{Field: "versionString", Message: "must be a dotted version such as 1.4.2"}}
	}
	return nil
}

// Begin implements channel.Adapter.
func (a *Adapter) Begin(ctx context.Context, sess *channel.Session) (channel.Release, error) {
	api, err := a.connect.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	bundleID := sess.Params().Get("bundleId")
	appID, err := api.FindApp(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if err := sess.Progress(ctx, channel.ProgressAuthenticated, fmt.Sprintf("authenticated with App Store Connect (app %s, %s)", appID, bundleID)); err != nil {
		return nil, err
	}
	return &release{api: api, appID: appID}, nil
}

type release struct {
	api   *ascapi.API
	appID string
	build ascapi.Build
	since time.Time
}

// Upload runs the ingestion tool.
func (r *release) Upload(ctx context.Context, sess *channel.Session) error {
	started, err := r.api.UploadIPA(ctx, sess.Artifact().Path)
	if err != nil {
		return err
	}
	r.since = started
	return sess.Progress(ctx, channel.ProgressUploaded, "uploaded "+sess.Artifact().Filename+" through the ingestion tool")
}

// Process waits for the build, creates the version and submits it for review.
func (r *release) Process(ctx context.Context, sess *channel.Session) error {
	build, err := r.api.WaitForBuild(ctx, sess, r.appID, r.since)
	if err != nil {
		return err
	}
	r.build = build
	if err := sess.Checkpoint(ctx); err != nil {
		return err
	}

	params := sess.Params()
	versionString := params.Get("versionString")
	versionID, err := r.api.CreateVersion(ctx, r.appID, versionString, params.Get("releaseType"))
	if err != nil {
		return err
	}
	if err := r.api.AttachBuild(ctx, versionID, build.ID); err != nil {
		return err
	}
	if err := sess.Progress(ctx, 80, fmt.Sprintf("created version %s with build %s", versionString, build.Version)); err != nil {
		return err
	}
	if notes := params.Get("whatsNew"); notes != "" {
		if err := r.api.SetWhatsNew(ctx, versionID, notes); err != nil {
			return err
		}
	}
	if err := r.api.SubmitForReview(ctx, versionID); err != nil {
		return err
	}
	return sess.Progress(ctx, channel.ProgressFinalizing, fmt.Sprintf("submitted version %s (build %s) for review", versionString, build.Version))
}

// Locator implements channel.Release. The version is pending review, so there is no result yet.
func (r *release) Locator() string { return "" }
