// Package playstore publishes Android bundles to a Google Play release track.
package playstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/googleauth"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// TokenSource mints Google access tokens.
type TokenSource interface {
	Token(ctx context.Context, scope string) (string, error)
}

// Config locates the Android Publisher API.
type Config struct {
	BaseURL   string
	UploadURL string
	Timeout   time.Duration
}

// Adapter implements the store-release channel.
type Adapter struct {
	tokens TokenSource
	api    *channel.Client
	upload *channel.Client
}

// New constructs the store-release adapter.
func New(cfg Config, tokens TokenSource) *Adapter {
	return &Adapter{
		tokens: tokens,
		api:    channel.NewClient(cfg.BaseURL, cfg.Timeout),
		upload: channel.NewClient(cfg.UploadURL, cfg.Timeout),
	}
}

// Channel implements channel.Adapter.
func (a *Adapter) Channel() domain.Channel { return domain.ChannelStoreRelease }

// Schema implements channel.Adapter.
func (a *Adapter) Schema() channel.Schema {
	return channel.Schema{
		Required:  []string{"packageName"},
		Optional:  []string{"track", "releaseStatus", "releaseName", "userFraction"},
		Defaults:  map[string]string{"track": "internal", "releaseStatus": "completed"},
		Platforms: []domain.Platform{domain.PlatformAndroid},
		Check: channel.Checks(
			channel.OneOf("releaseStatus", "completed", "draft", "halted", "inProgress"),
			checkUserFraction,
		),
	}
}

func checkUserFraction(params domain.Parameters) []channel.FieldError {
	raw, ok := params["userFraction"]
	if !ok {
		return nil
	}
	fraction, err := strconv.ParseFloat(raw, 64)
	if err != nil || fraction <= 0 || fraction >= 1 {
		return []channel.FieldError{{Field: "userFraction", Message: "must be a number between 0 and 1 (exclusive)"}}
	}
	if params["releaseStatus"] != "inProgress" && params["releaseStatus"] != "halted" {
		return []channel.FieldError{{Field: "userFraction", Message: "only valid for staged rollouts (releaseStatus inProgress or halted)"}}
	}
	return nil
}

// Begin implements channel.Adapter.
func (a *Adapter) Begin(ctx context.Context, sess *channel.Session) (channel.Release, error) {
	token, err := a.tokens.Token(ctx, googleauth.ScopeAndroidPublisher)
	if err != nil {
		return nil, err
	}
	pkg := sess.Params().Get("packageName")
	if err := sess.Progress(ctx, channel.ProgressAuthenticated, "authenticated with Google Play for "+pkg); err != nil {
		return nil, err
	}
	return &release{
		api:    a.api.WithBearer(token),
		upload: a.upload.WithBearer(token),
		app:    "androidpublisher/v3/applications/" + url.PathEscape(pkg),
	}, nil
}

type release struct {
	api         *channel.Client
	upload      *channel.Client
	app         string
	editID      string
	versionCode int64
}

func (r *release) edit() string {
	return r.app + "/edits/" + url.PathEscape(r.editID)
}

// Upload opens an edit and pushes the binary into it.
func (r *release) Upload(ctx context.Context, sess *channel.Session) error {
	var edit struct {
		ID string `json:"id"`
	}
	if err := r.api.Do(ctx, channel.Request{Method: http.MethodPost, URL: r.app + "/edits", Body: struct{}{}}, &edit); err != nil {
		return channel.Transfer("create edit", err)
	}
	if edit.ID == "" {
		return channel.Rejected("create edit returned no edit id")
	}
	r.editID = edit.ID
	if err := sess.Progress(ctx, 30, "opened edit "+edit.ID); err != nil {
		return err
	}

	artifact := sess.Artifact()
	kind := "apks"
	if artifact.Ext() == ".aab" {
		kind = "bundles"
	}
	file, err := os.Open(artifact.Path)
	if err != nil {
		return channel.Transfer("open artifact", err)
	}
	defer file.Close()

	var uploaded struct {
		VersionCode int64 `json:"versionCode"`
	}
	if err := r.upload.Do(ctx, channel.Request{
		Method:        http.MethodPost,
		URL:           r.edit() + "/" + kind,
		Query:         url.Values{"uploadType": {"media"}},
		Body:          file,
		ContentType:   "application/octet-stream",
		ContentLength: artifact.Size,
	}, &uploaded); err != nil {
		return channel.Transfer("upload "+kind, err)
	}
	r.versionCode = uploaded.VersionCode
	return sess.Progress(ctx, channel.ProgressUploaded, fmt.Sprintf("uploaded %s, versionCode %d", artifact.Filename, uploaded.VersionCode))
}

// Process assigns the uploaded version to the track and commits the edit.
func (r *release) Process(ctx context.Context, sess *channel.Session) error {
	params := sess.Params()
	track := params.Get("track")
	rel := map[string]any{
		"versionCodes": []string{strconv.FormatInt(r.versionCode, 10)},
		"status":       params.Get("releaseStatus"),
	}
	if name := params.Get("releaseName"); name != "" {
		rel["name"] = name
	}
	if raw := params.Get("userFraction"); raw != "" {
		fraction, _ := strconv.ParseFloat(raw, 64)
		rel["userFraction"] = fraction
	}
	body := map[string]any{"track": track, "releases": []any{rel}}
	if err := r.api.Do(ctx, channel.Request{Method: http.MethodPut, URL: r.edit() + "/tracks/" + url.PathEscape(track), Body: body}, nil); err != nil {
		return channel.Transfer("assign track", err)
	}
	if err := sess.Progress(ctx, 75, fmt.Sprintf("assigned versionCode %d to track %s (%s)", r.versionCode, track, params.Get("releaseStatus"))); err != nil {
		return err
	}

	if err := r.api.Do(ctx, channel.Request{Method: http.MethodPost, URL: r.edit() + ":commit"}, nil); err != nil {
		return channel.Transfer("commit edit", err)
	}
	return sess.Progress(ctx, channel.ProgressFinalizing, "committed edit "+r.editID)
}

// Locator implements channel.Release. Play handles rollout, so there is no result URL.
func (r *release) Locator() string { return "" }
