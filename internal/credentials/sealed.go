package credentials

import (
	"context"
	"fmt"

	"github.com/achintir-projects/android-ios-automation-sub001/pkg/crypto"
)

// UnsealingProvider decrypts values stored in sealed form ("enc:<base64>")
// by any underlying provider. Plain values pass through unchanged.
type UnsealingProvider struct {
	next Provider
	key  string
}

// Unsealing wraps next so sealed credentials are opened with key.
func Unsealing(next Provider, key string) *UnsealingProvider {
	return &UnsealingProvider{next: next, key: key}
}

// Resolve implements Provider.
func (p *UnsealingProvider) Resolve(ctx context.Context, name string) ([]byte, error) {
	value, err := p.next.Resolve(ctx, name)
	if err != nil || !crypto.IsSealed(value) {
		return value, err
	}
	plain, err := crypto.Unseal(p.key, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAccessDenied, name, err)
	}
	return plain, nil
}
