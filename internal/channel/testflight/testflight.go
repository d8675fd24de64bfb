// Package testflight distributes iOS builds to beta tester groups.
package testflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/ascapi"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// Adapter implements the beta-distribution channel.
type Adapter struct {
	connect *ascapi.Connect
}

// New constructs the beta-distribution adapter.
func New(connect *ascapi.Connect) *Adapter {
	return &Adapter{connect: connect}
}

// Channel implements channel.Adapter.
func (a *Adapter) Channel() domain.Channel { return domain.ChannelBetaDistribution }

// Schema implements channel.Adapter.
func (a *Adapter) Schema() channel.Schema {
	return channel.Schema{
		Required:  []string{"bundleId", "groups"},
		Optional:  []string{"whatToTest"},
		Platforms: []domain.Platform{domain.PlatformIOS},
		Check: func(params domain.Parameters) []channel.FieldError {
			if len(params.List("groups")) == 0 {
				return []channel.FieldError{{Field: "groups", Message: "must name at least one beta group"}}
			}
			return nil
		},
	}
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

// Process waits for the newest build and attaches it to every requested group.
func (r *release) Process(ctx context.Context, sess *channel.Session) error {
	build, err := r.api.WaitForBuild(ctx, sess, r.appID, r.since)
	if err != nil {
		return err
	}
	if err := sess.Checkpoint(ctx); err != nil {
		return err
	}

	names := sess.Params().List("groups")
	groups, err := r.api.BetaGroups(ctx, r.appID, names)
	if err != nil {
		return err
	}
	if notes := sess.Params().Get("whatToTest"); notes != "" {
		if err := r.api.SetWhatToTest(ctx, build.ID, notes); err != nil {
			return err
		}
	}
	for i, name := range names {
		if err := sess.Checkpoint(ctx); err != nil {
			return err
		}
		if err := r.api.AddBuildToGroup(ctx, groups[name], build.ID); err != nil {
			return err
		}
		progress := 80 + (i+1)*10/len(names)
		if err := sess.Progress(ctx, progress, fmt.Sprintf("build %s added to beta group %s", build.Version, name)); err != nil {
			return err
		}
	}
	return sess.Log(ctx, fmt.Sprintf("build %s available to %s", build.Version, strings.Join(names, ", ")))
}

// Locator implements channel.Release.
func (r *release) Locator() string { return "" }
