package googleauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/credentials"
)

type staticCreds map[string][]byte

func (s staticCreds) Resolve(_ context.Context, name string) ([]byte, error) {
	v, ok := s[name]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	return v, nil
}

func serviceAccountJSON(t *testing.T) []byte {
	return serviceAccountWithTokenURI(t, "")
}

func serviceAccountWithTokenURI(t *testing.T, tokenURI string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	data, err := json.Marshal(ServiceAccount{ClientEmail: "ci@example.iam.gserviceaccount.com", PrivateKey: string(pemKey), PrivateKeyID: "kid", TokenURI: tokenURI})
	require.NoError(t, err)
	return data
}

func TestTokenExchange(t *testing.T) {
	var exchanges int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))
		assert.Len(t, strings.Split(r.PostForm.Get("assertion"), "."), 3)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "ya29.token", "token_type": "Bearer", "expires_in": 3600})
	}))
	defer srv.Close()

	ts := NewTokenSource(staticCreds{credentials.GoogleServiceAccount: serviceAccountJSON(t)}, credentials.GoogleServiceAccount, srv.URL, time.Second)
	for i := 0; i < 2; i++ {
		token, err := ts.Token(context.Background(), ScopeAndroidPublisher)
		require.NoError(t, err)
		assert.Equal(t, "ya29.token", token)
	}
	assert.Equal(t, 2, exchanges, "tokens must not be cached between invocations")
}

func TestTokenFailuresAreAuthentication(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	_, err := NewTokenSource(staticCreds{}, credentials.GoogleServiceAccount, srv.URL, time.Second).Token(context.Background(), ScopeAndroidPublisher)
	assert.ErrorIs(t, err, channel.ErrAuthentication)

	_, err = NewTokenSource(staticCreds{credentials.GoogleServiceAccount: []byte("{}")}, credentials.GoogleServiceAccount, srv.URL, time.Second).Token(context.Background(), ScopeAndroidPublisher)
	assert.ErrorIs(t, err, channel.ErrAuthentication)

	_, err = NewTokenSource(staticCreds{credentials.GoogleServiceAccount: serviceAccountJSON(t)}, credentials.GoogleServiceAccount, srv.URL, time.Second).Token(context.Background(), ScopeAndroidPublisher)
	assert.ErrorIs(t, err, channel.ErrAuthentication)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestTokenUsesKeyTokenURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"from-key-uri","token_type":"Bearer"}`))
	}))
	defer srv.Close()

	creds := staticCreds{credentials.FirebaseServiceAccount: serviceAccountWithTokenURI(t, srv.URL)}
	token, err := NewTokenSource(creds, credentials.FirebaseServiceAccount, "", time.Second).Token(context.Background(), ScopeCloudPlatform)
	require.NoError(t, err)
	assert.Equal(t, "from-key-uri", token)
}

func TestTokenWithoutEndpointIsAuthentication(t *testing.T) {
	creds := staticCreds{credentials.GoogleServiceAccount: serviceAccountJSON(t)}
	_, err := NewTokenSource(creds, credentials.GoogleServiceAccount, "", time.Second).Token(context.Background(), ScopeAndroidPublisher)
	require.ErrorIs(t, err, channel.ErrAuthentication)
	assert.Equal(t, channel.KindAuthentication, channel.Kind(err))
}

func TestTokenEmptyAccessTokenIsAuthentication(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	creds := staticCreds{credentials.GoogleServiceAccount: serviceAccountJSON(t)}
	_, err := NewTokenSource(creds, credentials.GoogleServiceAccount, srv.URL, time.Second).Token(context.Background(), ScopeAndroidPublisher)
	require.ErrorIs(t, err, channel.ErrAuthentication)
}
