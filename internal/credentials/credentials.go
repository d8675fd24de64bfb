// Package credentials resolves vendor credentials by name. Adapters call
// Resolve at the start of every invocation; nothing is cached across jobs.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Credential names used by the channel adapters.
const (
	GoogleServiceAccount   = "google-service-account"
	FirebaseServiceAccount = "firebase-service-account"
	AppStoreConnectKey     = "app-store-connect"
	ObjectStorageKeys      = "object-storage"
	GitHubToken            = "github-token"
)

var (
	// ErrNotFound indicates the credential is not configured.
	ErrNotFound = errors.New("credential not found")
	// ErrAccessDenied indicates the backing store refused access.
	ErrAccessDenied = errors.New("credential access denied")
)

// Provider resolves a named credential to its raw bytes.
type Provider interface {
	Resolve(ctx context.Context, name string) ([]byte, error)
}

// EnvProvider reads CRED_<NAME> variables. A value of the form "file:<path>"
// is replaced by the contents of that file.
type EnvProvider struct {
	lookup   func(string) (string, bool)
	readFile func(string) ([]byte, error)
}

// NewEnvProvider returns a provider backed by the process environment.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv, readFile: os.ReadFile}
}

// EnvKey maps a credential name to its environment variable.
func EnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(key)
	return "CRED_" + key
}

// Resolve implements Provider.
func (p *EnvProvider) Resolve(_ context.Context, name string) ([]byte, error) {
	key := EnvKey(name)
	value, ok := p.lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%w: %s (set %s)", ErrNotFound, name, key)
	}
	if path, isFile := strings.CutPrefix(value, "file:"); isFile {
		data, err := p.readFile(strings.TrimSpace(path))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s file %s", ErrNotFound, name, path)
			}
			return nil, fmt.Errorf("read credential %s: %w", name, err)
		}
		return data, nil
	}
	return []byte(value), nil
}
