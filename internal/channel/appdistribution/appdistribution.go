// Package appdistribution ships test builds through Firebase App Distribution.
package appdistribution

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/googleauth"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// TokenSource mints Google access tokens.
type TokenSource interface {
	Token(ctx context.Context, scope string) (string, error)
}

// Config locates the App Distribution API.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Adapter implements the file-distribution channel.
type Adapter struct {
	tokens TokenSource
	api    *channel.Client
}

// New constructs the file-distribution adapter.
func New(cfg Config, tokens TokenSource) *Adapter {
	return &Adapter{tokens: tokens, api: channel.NewClient(cfg.BaseURL, cfg.Timeout)}
}

// Channel implements channel.Adapter.
func (a *Adapter) Channel() domain.Channel { return domain.ChannelFileDistribution }

// Schema implements channel.Adapter.
func (a *Adapter) Schema() channel.Schema {
	return channel.Schema{
		Required:  []string{"appId"},
		Optional:  []string{"testers", "groups", "releaseNotes"},
		Platforms: []domain.Platform{domain.PlatformAndroid, domain.PlatformIOS},
		Check: func(params domain.Parameters) []channel.FieldError {
			if _, err := projectNumber(params["appId"]); err != nil {
				return []channel.FieldError{{Field: "appId", Message: err.Error()}}
			}
			return nil
		},
	}
}

// projectNumber extracts the project number from an app id such as 1:1234567890:android:0a1b2c.
func projectNumber(appID string) (string, error) {
	parts := strings.Split(appID, ":")
	if len(parts) != 4 || parts[1] == "" || (parts[2] != "android" && parts[2] != "ios") {
		return "", fmt.Errorf("must look like 1:<project number>:<android|ios>:<hash>")
	}
	return parts[1], nil
}

// Begin implements channel.Adapter.
func (a *Adapter) Begin(ctx context.Context, sess *channel.Session) (channel.Release, error) {
	token, err := a.tokens.Token(ctx, googleauth.ScopeCloudPlatform)
	if err != nil {
		return nil, err
	}
	appID := sess.Params().Get("appId")
	project, _ := projectNumber(appID)
	if err := sess.Progress(ctx, channel.ProgressAuthenticated, "authenticated with App Distribution for "+appID); err != nil {
		return nil, err
	}
	return &release{
		api: a.api.WithBearer(token),
		app: "projects/" + project + "/apps/" + appID,
	}, nil
}

type release struct {
	api       *channel.Client
	app       string
	operation string
	name      string
}

type operation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response struct {
		Result  string `json:"result"`
		Release struct {
			Name           string `json:"name"`
			DisplayVersion string `json:"displayVersion"`
			BuildVersion   string `json:"buildVersion"`
		} `json:"release"`
	} `json:"response"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Upload streams the binary to the upload endpoint, which answers with a long-running operation.
func (r *release) Upload(ctx context.Context, sess *channel.Session) error {
	artifact := sess.Artifact()
	file, err := os.Open(artifact.Path)
	if err != nil {
		return channel.Transfer("open artifact", err)
	}
	defer file.Close()

	header := http.Header{}
	header.Set("X-Goog-Upload-File-Name", artifact.Filename)
	header.Set("X-Goog-Upload-Protocol", "raw")
	var op operation
	if err := r.api.Do(ctx, channel.Request{
		Method:        http.MethodPost,
		URL:           "/upload/v1/" + r.app + "/releases:upload",
		Header:        header,
		Body:          file,
		ContentType:   "application/octet-stream",
		ContentLength: artifact.Size,
	}, &op); err != nil {
		return channel.Transfer("upload binary", err)
	}
	if op.Name == "" {
		return channel.Rejected("upload returned no operation")
	}
	r.operation = op.Name
	return sess.Progress(ctx, channel.ProgressUploaded, "uploaded "+artifact.Filename+", operation "+op.Name)
}

// Process waits for the release to be created, then attaches notes and testers.
func (r *release) Process(ctx context.Context, sess *channel.Session) error {
	var result operation
	err := channel.Poll(ctx, sess, sess.Policy(), "release processing", func(ctx context.Context, _ int) (bool, error) {
		var op operation
		if err := r.api.Do(ctx, channel.Request{URL: "/v1/" + r.operation}, &op); err != nil {
			return false, err
		}
		if !op.Done {
			return false, nil
		}
		if op.Error != nil {
			return false, channel.Rejected("release processing failed: %s (code %d)", op.Error.Message, op.Error.Code)
		}
		result = op
		return true, nil
	})
	if err != nil {
		return err
	}
	rel := result.Response.Release
	if rel.Name == "" {
		return channel.Rejected("release processing finished without a release")
	}
	r.name = rel.Name
	if err := sess.Progress(ctx, 75, fmt.Sprintf("release %s (%s) %s", rel.DisplayVersion, rel.BuildVersion, strings.ToLower(result.Response.Result))); err != nil {
		return err
	}

	params := sess.Params()
	if notes := params.Get("releaseNotes"); notes != "" {
		body := map[string]any{"name": r.name, "releaseNotes": map[string]string{"text": notes}}
		if err := r.api.Do(ctx, channel.Request{
			Method: http.MethodPatch,
			URL:    "/v1/" + r.name,
			Query:  url.Values{"updateMask": {"release_notes.text"}},
			Body:   body,
		}, nil); err != nil {
			return channel.Transfer("set release notes", err)
		}
	}

	testers, groups := params.List("testers"), params.List("groups")
	if len(testers) == 0 && len(groups) == 0 {
		return sess.Progress(ctx, channel.ProgressFinalizing, "release available, no testers notified")
	}
	if err := sess.Checkpoint(ctx); err != nil {
		return err
	}
	body := map[string]any{"testerEmails": testers, "groupAliases": groups}
	if err := r.api.Do(ctx, channel.Request{Method: http.MethodPost, URL: "/v1/" + r.name + ":distribute", Body: body}, nil); err != nil {
		return channel.Transfer("distribute release", err)
	}
	return sess.Progress(ctx, channel.ProgressFinalizing, fmt.Sprintf("distributed to %d tester(s) and %d group(s)", len(testers), len(groups)))
}

// Locator implements channel.Release.
func (r *release) Locator() string { return "" }
