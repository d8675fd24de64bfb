// Package googleauth exchanges a Google service-account key for an OAuth access token.
package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/credentials"
)

// Scopes used by the Google-hosted channels.
const (
	ScopeAndroidPublisher = "https://www.googleapis.com/auth/androidpublisher"
	ScopeCloudPlatform    = "https://www.googleapis.com/auth/cloud-platform"
)

// ServiceAccount is the subset of a service-account key file that is needed here.
type ServiceAccount struct {
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// ParseServiceAccount decodes a key file.
func ParseServiceAccount(data []byte) (ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return ServiceAccount{}, fmt.Errorf("decode service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return ServiceAccount{}, fmt.Errorf("service account key is missing client_email or private_key")
	}
	return sa, nil
}

// TokenSource mints one access token per call. Tokens are never cached.
type TokenSource struct {
	creds    credentials.Provider
	name     string
	tokenURL string
	http     *http.Client
}

// NewTokenSource resolves the key named credName on every Token call.
// tokenURL overrides the key's token_uri when set.
func NewTokenSource(creds credentials.Provider, credName, tokenURL string, timeout time.Duration) *TokenSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TokenSource{
		creds:    creds,
		name:     credName,
		tokenURL: tokenURL,
		http:     &http.Client{Timeout: timeout},
	}
}

// Token resolves the key and runs the JWT bearer grant for scope.
// Every failure other than a cancelled ctx is an authentication error.
func (t *TokenSource) Token(ctx context.Context, scope string) (string, error) {
	raw, err := t.creds.Resolve(ctx, t.name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", channel.ErrAuthentication, err)
	}
	sa, err := ParseServiceAccount(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", channel.ErrAuthentication, err)
	}
	tokenURL := t.tokenURL
	if tokenURL == "" {
		tokenURL = sa.TokenURI
	}
	if tokenURL == "" {
		return "", channel.Authentication("no token endpoint configured for %s", sa.ClientEmail)
	}

	conf := &jwt.Config{
		Email:        sa.ClientEmail,
		PrivateKey:   []byte(sa.PrivateKey),
		PrivateKeyID: sa.PrivateKeyID,
		Scopes:       []string{scope},
		TokenURL:     tokenURL,
	}
	token, err := conf.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, t.http)).Token()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.Response != nil {
			return "", channel.Authentication("token exchange for %s: HTTP %d: %v", sa.ClientEmail, retrieve.Response.StatusCode, err)
		}
		return "", channel.Authentication("token exchange for %s: %v", sa.ClientEmail, err)
	}
	if token.AccessToken == "" {
		return "", channel.Authentication("token exchange for %s returned no access token", sa.ClientEmail)
	}
	return token.AccessToken, nil
}
