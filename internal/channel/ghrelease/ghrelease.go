// Package ghrelease publishes artifacts as GitHub release assets.
package ghrelease

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/credentials"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// Config locates the GitHub REST API and git remotes.
type Config struct {
	APIURL  string
	GitURL  string
	Timeout time.Duration
}

// Adapter implements the artifact-release channel.
type Adapter struct {
	cfg   Config
	creds credentials.Provider
	tags  TagLister
	api   *channel.Client
}

// New constructs the artifact-release adapter. A nil tags uses RemoteTags.
func New(cfg Config, creds credentials.Provider, tags TagLister) *Adapter {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	if cfg.GitURL == "" {
		cfg.GitURL = "https://github.com"
	}
	if tags == nil {
		tags = RemoteTags{}
	}
	api := channel.NewClient(cfg.APIURL, cfg.Timeout).WithHeader("X-GitHub-Api-Version", "2022-11-28")
	return &Adapter{cfg: cfg, creds: creds, tags: tags, api: api}
}

// Channel implements channel.Adapter.
func (a *Adapter) Channel() domain.Channel { return domain.ChannelArtifactRelease }

// Schema implements channel.Adapter.
func (a *Adapter) Schema() channel.Schema {
	return channel.Schema{
		Required: []string{"owner", "repo", "tagName"},
		Optional: []string{"name", "body", "targetCommitish", "draft", "prerelease"},
		Check: channel.Checks(
			channel.OneOf("draft", "true", "false"),
			channel.OneOf("prerelease", "true", "false"),
			func(params domain.Parameters) []channel.FieldError {
				if err := validTag(params["tagName"]); err != nil {
					return []channel.FieldError{{Field: "tagName", Message: "is not a valid git tag name"}}
				}
				return nil
			},
		),
	}
}

// Begin implements channel.Adapter.
func (a *Adapter) Begin(ctx context.Context, sess *channel.Session) (channel.Release, error) {
	raw, err := a.creds.Resolve(ctx, credentials.GitHubToken)
	if err != nil {
		return nil, channel.Authentication("github token: %v", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return nil, channel.Authentication("github token is empty")
	}
	params := sess.Params()
	repo := params.Get("owner") + "/" + params.Get("repo")
	api := a.api.WithBearer(token)

	var meta struct {
		FullName string `json:"full_name"`
	}
	if err := api.Do(ctx, channel.Request{URL: "/repos/" + repo}, &meta); err != nil {
		var status *channel.StatusError
		if errors.As(err, &status) && status.Status == http.StatusNotFound {
			return nil, channel.Rejected("repository %s not found or not visible to the token", repo)
		}
		return nil, channel.Transfer("read repository", err)
	}
	if err := sess.Progress(ctx, channel.ProgressAuthenticated, "authenticated with GitHub for "+repo); err != nil {
		return nil, err
	}
	return &release{
		api:    api,
		tags:   a.tags,
		remote: strings.TrimRight(a.cfg.GitURL, "/") + "/" + repo + ".git",
		token:  token,
		repo:   repo,
	}, nil
}

type release struct {
	api     *channel.Client
	tags    TagLister
	remote  string
	token   string
	repo    string
	id      int64
	htmlURL string
}

type ghRelease struct {
	ID        int64  `json:"id"`
	HTMLURL   string `json:"html_url"`
	UploadURL string `json:"upload_url"`
}

// Upload refuses existing tags, creates the release and attaches the artifact.
// A release created here is deleted again if Upload fails or is cancelled.
func (r *release) Upload(ctx context.Context, sess *channel.Session) (err error) {
	params := sess.Params()
	tag := params.Get("tagName")
	if err := r.ensureTagFree(ctx, sess, tag); err != nil {
		return err
	}

	body := map[string]any{
		"tag_name":   tag,
		"name":       params.Get("name"),
		"body":       params.Get("body"),
		"draft":      params.Bool("draft"),
		"prerelease": params.Bool("prerelease"),
	}
	if body["name"] == "" {
		body["name"] = tag
	}
	if target := params.Get("targetCommitish"); target != "" {
		body["target_commitish"] = target
	}
	var created ghRelease
	if err := r.api.Do(ctx, channel.Request{Method: http.MethodPost, URL: "/repos/" + r.repo + "/releases", Body: body}, &created); err != nil {
		return channel.Transfer("create release", err)
	}
	r.id, r.htmlURL = created.ID, created.HTMLURL
	defer func() {
		if err != nil {
			r.discard(sess)
		}
	}()
	if err := sess.Progress(ctx, 35, fmt.Sprintf("created release %d for %s", created.ID, tag)); err != nil {
		return err
	}
	if err := r.uploadAsset(ctx, sess, created.UploadURL); err != nil {
		return err
	}
	return sess.Progress(ctx, channel.ProgressUploaded, "attached "+sess.Artifact().Filename)
}

func (r *release) ensureTagFree(ctx context.Context, sess *channel.Session, tag string) error {
	exists, err := r.tags.TagExists(ctx, r.remote, r.token, tag)
	if err != nil {
		return channel.Transfer("list remote tags", err)
	}
	if !exists {
		err := r.api.Do(ctx, channel.Request{URL: "/repos/" + r.repo + "/releases/tags/" + url.PathEscape(tag)}, nil)
		var status *channel.StatusError
		switch {
		case err == nil:
			exists = true
		case errors.As(err, &status) && status.Status == http.StatusNotFound:
		default:
			return channel.Transfer("look up release by tag", err)
		}
	}
	if exists {
		if err := sess.Log(ctx, "tag conflict: "+tag+" already exists on "+r.repo); err != nil {
			return err
		}
		return channel.Rejected("tag %s already exists on %s", tag, r.repo)
	}
	return nil
}

func (r *release) uploadAsset(ctx context.Context, sess *channel.Session, uploadURL string) error {
	if i := strings.Index(uploadURL, "{"); i >= 0 {
		uploadURL = uploadURL[:i]
	}
	if uploadURL == "" {
		return channel.Rejected("release has no upload url")
	}
	artifact := sess.Artifact()
	contentType := "application/octet-stream"
	if detected, err := mimetype.DetectFile(artifact.Path); err == nil {
		contentType = detected.String()
	}
	file, err := os.Open(artifact.Path)
	if err != nil {
		return channel.Transfer("open artifact", err)
	}
	defer file.Close()
	return channel.Transfer("upload asset", r.api.Do(ctx, channel.Request{
		Method:        http.MethodPost,
		URL:           uploadURL,
		Query:         url.Values{"name": {artifact.Filename}},
		Body:          file,
		ContentType:   contentType,
		ContentLength: artifact.Size,
	}, nil))
}

// discard removes a release whose asset never arrived so a retry can reuse the tag.
func (r *release) discard(sess *channel.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := r.api.Do(ctx, channel.Request{Method: http.MethodDelete, URL: "/repos/" + r.repo + "/releases/" + strconv.FormatInt(r.id, 10)}, nil)
	if err != nil {
		sess.Logger().Warn("discard release failed", "job_id", sess.ID(), "release_id", r.id, "error", err)
		return
	}
	r.htmlURL = ""
}

// Process is a no-op: the release is live once the asset is attached.
func (r *release) Process(context.Context, *channel.Session) error { return nil }

// Locator returns the release page.
func (r *release) Locator() string { return r.htmlURL }
