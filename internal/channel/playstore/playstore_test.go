package playstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/channeltest"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

type staticToken struct {
	token string
	err   error
	calls int
}

func (s *staticToken) Token(context.Context, string) (string, error) {
	s.calls++
	return s.token, s.err
}

type fakePlay struct {
	mu        sync.Mutex
	calls     []string
	uploaded  []byte
	trackBody map[string]any
	commitErr int
}

func (f *fakePlay) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		assert.Equal(t, "Bearer play-token", r.Header.Get("Authorization"))
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		const app = "/androidpublisher/v3/applications/com.example.app"
		switch {
		case r.Method == http.MethodPost && r.URL.Path == app+"/edits":
			_, _ = w.Write([]byte(`{"id":"edit-7"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/upload"+app+"/edits/edit-7/bundles":
			assert.Equal(t, "media", r.URL.Query().Get("uploadType"))
			f.uploaded, _ = io.ReadAll(r.Body)
			_, _ = w.Write([]byte(`{"versionCode":42}`))
		case r.Method == http.MethodPut && r.URL.Path == app+"/edits/edit-7/tracks/beta":
			_ = json.NewDecoder(r.Body).Decode(&f.trackBody)
			_, _ = w.Write([]byte(`{}`))
		case r.Method == http.MethodPost && r.URL.Path == app+"/edits/edit-7:commit":
			if f.commitErr != 0 {
				w.WriteHeader(f.commitErr)
				_, _ = w.Write([]byte(`{"error":{"message":"APK specifies a version code that has already been used."}}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"edit-7"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newAdapter(srv *httptest.Server, tokens TokenSource) *Adapter {
	return New(Config{BaseURL: srv.URL, UploadURL: srv.URL + "/upload", Timeout: time.Second}, tokens)
}

func TestStoreReleasePublishesBundle(t *testing.T) {
	fake := &fakePlay{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()
	tokens := &staticToken{token: "play-token"}
	adapter := newAdapter(srv, tokens)

	h := channeltest.New(t, adapter, domain.Parameters{"packageName": "com.example.app", "track": "beta"}, "app-release.aab", []byte("bundle-bytes"), channel.Policy{MaxAttempts: 1})
	job, err := h.Run(context.Background(), adapter)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Empty(t, job.ResultLocator)
	assert.Equal(t, "bundle-bytes", string(fake.uploaded))
	assert.Equal(t, "beta", fake.trackBody["track"])
	releases := fake.trackBody["releases"].([]any)
	assert.Equal(t, "completed", releases[0].(map[string]any)["status"])
	assert.Equal(t, 1, tokens.calls)
	assert.Len(t, fake.calls, 4)
	assert.True(t, strings.HasSuffix(job.Logs[len(job.Logs)-2], "committed edit edit-7"))
}

func TestStoreReleaseCommitRejected(t *testing.T) {
	fake := &fakePlay{commitErr: http.StatusBadRequest}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()
	adapter := newAdapter(srv, &staticToken{token: "play-token"})

	h := channeltest.New(t, adapter, domain.Parameters{"packageName": "com.example.app", "track": "beta"}, "app-release.aab", []byte("bundle"), channel.Policy{MaxAttempts: 1})
	job, err := h.Run(context.Background(), adapter)
	require.ErrorIs(t, err, channel.ErrRemoteRejection)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.LastLog(), "[RemoteRejection]")
	assert.Contains(t, job.LastLog(), "version code that has already been used")
}

func TestStoreReleaseAuthenticationFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	adapter := newAdapter(srv, &staticToken{err: channel.Authentication("invalid_grant")})

	h := channeltest.New(t, adapter, domain.Parameters{"packageName": "com.example.app"}, "app.apk", []byte("apk"), channel.Policy{MaxAttempts: 1})
	job, err := h.Run(context.Background(), adapter)
	require.ErrorIs(t, err, channel.ErrAuthentication)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.LastLog(), "[AuthenticationError]")
}

func TestStoreReleaseSchema(t *testing.T) {
	schema := (&Adapter{}).Schema()
	_, err := schema.Validate(domain.ChannelStoreRelease, domain.PlatformAndroid, domain.Parameters{"track": "beta"})
	require.ErrorIs(t, err, channel.ErrValidation)
	assert.Contains(t, err.Error(), "packageName: required")

	_, err = schema.Validate(domain.ChannelStoreRelease, domain.PlatformAndroid, domain.Parameters{"packageName": "a.b", "userFraction": "0.1"})
	require.ErrorIs(t, err, channel.ErrValidation)

	params, err := schema.Validate(domain.ChannelStoreRelease, domain.PlatformAndroid, domain.Parameters{"packageName": "a.b", "userFraction": "0.1", "releaseStatus": "inProgress"})
	require.NoError(t, err)
	assert.Equal(t, "internal", params["track"])

	_, err = schema.Validate(domain.ChannelStoreRelease, domain.PlatformIOS, domain.Parameters{"packageName": "a.b"})
	require.ErrorIs(t, err, channel.ErrValidation)
}
