// Package ascapi is the App Store Connect client shared by the review-track
// and beta-distribution channels: API key tokens, the ingestion tool, and
// build processing lookups.
package ascapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/credentials"
	"github.com/achintir-projects/android-ios-automation-sub001/pkg/jwt"
)

// Build processing states reported by App Store Connect.
const (
	StateProcessing = "PROCESSING"
	StateFailed     = "FAILED"
	StateInvalid    = "INVALID"
	StateValid      = "VALID"
)

// uploadSkew tolerates clock drift between this host and the vendor when
// matching builds to an upload.
const uploadSkew = 2 * time.Minute

// Key is an App Store Connect API key as stored in the credential store.
type Key struct {
	IssuerID   string `json:"issuerId"`
	KeyID      string `json:"keyId"`
	PrivateKey string `json:"privateKey"`
}

// ParseKey decodes and checks a stored key.
func ParseKey(data []byte) (Key, error) {
	var k Key
	if err := json.Unmarshal(data, &k); err != nil {
		return Key{}, fmt.Errorf("decode app store connect key: %w", err)
	}
	if k.IssuerID == "" || k.KeyID == "" || k.PrivateKey == "" {
		return Key{}, fmt.Errorf("app store connect key requires issuerId, keyId and privateKey")
	}
	return k, nil
}

// Config locates the API and the ingestion tool.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Connect authenticates App Store Connect sessions.
type Connect struct {
	creds    credentials.Provider
	base     *channel.Client
	uploader Uploader
	now      func() time.Time
}

// New constructs a Connect.
func New(cfg Config, creds credentials.Provider, uploader Uploader) *Connect {
	return &Connect{
		creds:    creds,
		base:     channel.NewClient(cfg.BaseURL, cfg.Timeout),
		uploader: uploader,
		now:      time.Now,
	}
}

// Authenticate resolves the API key and signs a fresh token.
func (c *Connect) Authenticate(ctx context.Context) (*API, error) {
	raw, err := c.creds.Resolve(ctx, credentials.AppStoreConnectKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", channel.ErrAuthentication, err)
	}
	key, err := ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", channel.ErrAuthentication, err)
	}
	token, err := jwt.SignAppStoreToken(key.IssuerID, key.KeyID, []byte(key.PrivateKey), c.now(), 20*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", channel.ErrAuthentication, err)
	}
	return &API{client: c.base.WithBearer(token), key: key, uploader: c.uploader, now: c.now}, nil
}

// API is an authenticated App Store Connect session for one job.
type API struct {
	client   *channel.Client
	key      Key
	uploader Uploader
	now      func() time.Time
}

type resource struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

type listResponse struct {
	Data []resource `json:"data"`
}

type singleResponse struct {
	Data resource `json:"data"`
}

// FindApp returns the App Store Connect id of bundleID. The lookup doubles as
// the credential check, so 401/403 surface as authentication failures.
func (a *API) FindApp(ctx context.Context, bundleID string) (string, error) {
	var out listResponse
	err := a.client.Do(ctx, channel.Request{
		URL:   "/v1/apps",
		Query: url.Values{"filter[bundleId]": {bundleID}, "limit": {"1"}},
	}, &out)
	if err != nil {
		return "", channel.Transfer("look up app", err)
	}
	if len(out.Data) == 0 {
		return "", channel.Rejected("no app registered for bundle id %s", bundleID)
	}
	return out.Data[0].ID, nil
}

// UploadIPA pushes the binary through the ingestion tool and returns the
// time the upload started, used to find the resulting build.
func (a *API) UploadIPA(ctx context.Context, path string) (time.Time, error) {
	started := a.now()
	if err := a.uploader.Upload(ctx, path, a.key); err != nil {
		return started, err
	}
	return started, nil
}

// Build is one uploaded build.
type Build struct {
	ID              string
	Version         string
	ProcessingState string
	UploadedDate    time.Time
}

// ListBuilds returns the most recent builds of an app.
func (a *API) ListBuilds(ctx context.Context, appID string) ([]Build, error) {
	var out listResponse
	err := a.client.Do(ctx, channel.Request{
		URL:   "/v1/builds",
		Query: url.Values{"filter[app]": {appID}, "sort": {"-uploadedDate"}, "limit": {"20"}},
	}, &out)
	if err != nil {
		return nil, err
	}
	builds := make([]Build, 0, len(out.Data))
	for _, r := range out.Data {
		var attrs struct {
			Version         string    `json:"version"`
			ProcessingState string    `json:"processingState"`
			UploadedDate    time.Time `json:"uploadedDate"`
		}
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return nil, fmt.Errorf("decode build %s: %w", r.ID, err)
		}
		builds = append(builds, Build{ID: r.ID, Version: attrs.Version, ProcessingState: attrs.ProcessingState, UploadedDate: attrs.UploadedDate})
	}
	return builds, nil
}

// NewestBuild picks the highest build version uploaded at or after since.
// Versions that are not semver-like fall back to upload time ordering.
func NewestBuild(builds []Build, since time.Time) (Build, bool) {
	var candidates []Build
	for _, b := range builds {
		if since.IsZero() || !b.UploadedDate.Before(since.Add(-uploadSkew)) {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return Build{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		vi, errI := semver.NewVersion(candidates[i].Version)
		vj, errJ := semver.NewVersion(candidates[j].Version)
		if errI == nil && errJ == nil && !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		if (errI == nil) != (errJ == nil) {
			return errI == nil
		}
		return candidates[i].UploadedDate.After(candidates[j].UploadedDate)
	})
	return candidates[0], true
}

// WaitForBuild polls until the newest build uploaded since started finishes processing.
func (a *API) WaitForBuild(ctx context.Context, sess *channel.Session, appID string, started time.Time) (Build, error) {
	var (
		found     Build
		lastState string
	)
	err := channel.Poll(ctx, sess, sess.Policy(), "build processing", func(ctx context.Context, attempt int) (bool, error) {
		builds, err := a.ListBuilds(ctx, appID)
		if err != nil {
			return false, err
		}
		build, ok := NewestBuild(builds, started)
		if !ok {
			return false, nil
		}
		found = build
		if build.ProcessingState != lastState {
			lastState = build.ProcessingState
			progress := channel.ProgressProcessing + attempt
			if progress > 75 {
				progress = 75
			}
			if err := sess.Progress(ctx, progress, fmt.Sprintf("build %s processing state %s", build.Version, build.ProcessingState)); err != nil {
				return false, err
			}
		}
		switch build.ProcessingState {
		case StateValid:
			return true, nil
		case StateFailed, StateInvalid:
			return false, channel.Rejected("build %s processing ended in %s", build.Version, build.ProcessingState)
		default:
			return false, nil
		}
	})
	return found, err
}

// CreateVersion creates an App Store version entry for the app.
func (a *API) CreateVersion(ctx context.Context, appID, versionString, releaseType string) (string, error) {
	attrs := map[string]any{"platform": "IOS", "versionString": versionString}
	if releaseType != "" {
		attrs["releaseType"] = releaseType
	}
	body := map[string]any{"data": map[string]any{
		"type":       "appStoreVersions",
		"attributes": attrs,
		"relationships": map[string]any{
			"app": relationship("apps", appID),
		},
	}}
	var out singleResponse
	if err := a.client.Do(ctx, channel.Request{Method: http.MethodPost, URL: "/v1/appStoreVersions", Body: body}, &out); err != nil {
		return "", channel.Transfer("create app store version", err)
	}
	return out.Data.ID, nil
}

// AttachBuild selects the build for a version.
func (a *API) AttachBuild(ctx context.Context, versionID, buildID string) error {
	body := map[string]any{"data": map[string]string{"type": "builds", "id": buildID}}
	err := a.client.Do(ctx, channel.Request{Method: http.MethodPatch, URL: "/v1/appStoreVersions/" + url.PathEscape(versionID) + "/relationships/build", Body: body}, nil)
	return channel.Transfer("attach build", err)
}

// SetWhatsNew sets release notes on the version's primary localization.
func (a *API) SetWhatsNew(ctx context.Context, versionID, text string) error {
	var out listResponse
	if err := a.client.Do(ctx, channel.Request{URL: "/v1/appStoreVersions/" + url.PathEscape(versionID) + "/appStoreVersionLocalizations"}, &out); err != nil {
		return channel.Transfer("list version localizations", err)
	}
	if len(out.Data) == 0 {
		return nil
	}
	body := map[string]any{"data": map[string]any{
		"type":       "appStoreVersionLocalizations",
		"id":         out.Data[0].ID,
		"attributes": map[string]string{"whatsNew": text},
	}}
	err := a.client.Do(ctx, channel.Request{Method: http.MethodPatch, URL: "/v1/appStoreVersionLocalizations/" + url.PathEscape(out.Data[0].ID), Body: body}, nil)
	return channel.Transfer("set release notes", err)
}

// SubmitForReview submits a version to App Review.
func (a *API) SubmitForReview(ctx context.Context, versionID string) error {
	body := map[string]any{"data": map[string]any{
		"type": "appStoreVersionSubmissions",
		"relationships": map[string]any{
			"appStoreVersion": relationship("appStoreVersions", versionID),
		},
	}}
	err := a.client.Do(ctx, channel.Request{Method: http.MethodPost, URL: "/v1/appStoreVersionSubmissions", Body: body}, nil)
	return channel.Transfer("submit for review", err)
}

// BetaGroups resolves group names to ids. Missing names are a rejection.
func (a *API) BetaGroups(ctx context.Context, appID string, names []string) (map[string]string, error) {
	var out listResponse
	err := a.client.Do(ctx, channel.Request{
		URL:   "/v1/betaGroups",
		Query: url.Values{"filter[app]": {appID}, "limit": {"200"}},
	}, &out)
	if err != nil {
		return nil, channel.Transfer("list beta groups", err)
	}
	byName := make(map[string]string, len(out.Data))
	for _, r := range out.Data {
		var attrs struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(r.Attributes, &attrs); err == nil {
			byName[strings.ToLower(attrs.Name)] = r.ID
		}
	}
	resolved := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		id, ok := byName[strings.ToLower(name)]
		if !ok {
			missing = append(missing, name)
			continue
		}
		resolved[name] = id
	}
	if len(missing) > 0 {
		return nil, channel.Rejected("unknown beta group(s): %s", strings.Join(missing, ", "))
	}
	return resolved, nil
}

// AddBuildToGroup makes a build available to a beta group.
func (a *API) AddBuildToGroup(ctx context.Context, groupID, buildID string) error {
	body := map[string]any{"data": []map[string]string{{"type": "builds", "id": buildID}}}
	err := a.client.Do(ctx, channel.Request{Method: http.MethodPost, URL: "/v1/betaGroups/" + url.PathEscape(groupID) + "/relationships/builds", Body: body}, nil)
	return channel.Transfer("add build to beta group", err)
}

// SetWhatToTest creates the beta test notes for a build.
func (a *API) SetWhatToTest(ctx context.Context, buildID, text string) error {
	body := map[string]any{"data": map[string]any{
		"type":       "betaBuildLocalizations",
		"attributes": map[string]string{"locale": "en-US", "whatsNew": text},
		"relationships": map[string]any{
			"build": relationship("builds", buildID),
		},
	}}
	err := a.client.Do(ctx, channel.Request{Method: http.MethodPost, URL: "/v1/betaBuildLocalizations", Body: body}, nil)
	return channel.Transfer("set what to test", err)
}

func relationship(kind, id string) map[string]any {
	return map[string]any{"data": map[string]string{"type": kind, "id": id}}
}
