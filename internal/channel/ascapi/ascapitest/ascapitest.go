// Package ascapitest provides an in-process App Store Connect double.
package ascapitest

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/ascapi"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel/channeltest"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/credentials"
)

// Server fakes the App Store Connect endpoints used by the adapters.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	AppID        string
	BuildID      string
	BuildVersion string
	// States is returned one per build poll; the last value repeats.
	States []string
	Groups map[string]string
	// OnBuildPoll runs before the n-th (1-based) builds listing is answered.
	OnBuildPoll func(n int)
	Status      map[string]int
	calls       []string
	polls       int
}

// NewServer starts a fake that knows one app and one build.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		AppID:        "app-1",
		BuildID:      "build-1",
		BuildVersion: "1.0.7",
		States:       []string{ascapi.StateValid},
		Groups:       map[string]string{"Internal": "grp-internal", "QA": "grp-qa"},
		Status:       map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Calls returns "METHOD path" for every request seen.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Polls returns how many build listings were served.
func (s *Server) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	key := r.Method + " " + r.URL.Path
	s.calls = append(s.calls, key)
	status, forced := s.Status[key]
	s.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if forced {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"errors":[{"detail":"forced failure"}]}`))
		return
	}

	switch {
	case key == "GET /v1/apps":
		writeJSON(w, map[string]any{"data": []any{map[string]any{"type": "apps", "id": s.AppID}}})
	case key == "GET /v1/builds":
		s.mu.Lock()
		s.polls++
		n := s.polls
		hook := s.OnBuildPoll
		state := s.States[len(s.States)-1]
		if n <= len(s.States) {
			state = s.States[n-1]
		}
		s.mu.Unlock()
		if hook != nil {
			hook(n)
		}
		writeJSON(w, map[string]any{"data": []any{map[string]any{
			"type": "builds",
			"id":   s.BuildID,
			"attributes": map[string]any{
				"version":         s.BuildVersion,
				"processingState": state,
				"uploadedDate":    time.Now().UTC().Format(time.RFC3339),
			},
		}}})
	case key == "POST /v1/appStoreVersions":
		writeJSON(w, map[string]any{"data": map[string]any{"type": "appStoreVersions", "id": "ver-1"}})
	case key == "GET /v1/appStoreVersions/ver-1/appStoreVersionLocalizations":
		writeJSON(w, map[string]any{"data": []any{map[string]any{"type": "appStoreVersionLocalizations", "id": "loc-1"}}})
	case key == "GET /v1/betaGroups":
		var data []any
		for name, id := range s.Groups {
			data = append(data, map[string]any{"type": "betaGroups", "id": id, "attributes": map[string]string{"name": name}})
		}
		writeJSON(w, map[string]any{"data": data})
	case r.Method == http.MethodPost || r.Method == http.MethodPatch:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Uploader records ingestion calls.
type Uploader struct {
	mu    sync.Mutex
	Err   error
	Paths []string
}

// Upload implements ascapi.Uploader.
func (u *Uploader) Upload(_ context.Context, path string, _ ascapi.Key) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Paths = append(u.Paths, path)
	return u.Err
}

// Creds returns a credential provider holding a freshly generated API key.
func Creds(t *testing.T) credentials.Provider {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	stored, _ := json.Marshal(ascapi.Key{
		IssuerID:   "issuer-1",
		KeyID:      "KEY123",
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	})
	return channeltest.Creds{credentials.AppStoreConnectKey: stored}
}

// Connect wires a Connect against the fake.
func (s *Server) Connect(t *testing.T, uploader ascapi.Uploader) *ascapi.Connect {
	t.Helper()
	return ascapi.New(ascapi.Config{BaseURL: s.URL, Timeout: time.Second}, Creds(t), uploader)
}
