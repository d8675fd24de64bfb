// Package jwt signs and verifies the short-lived tokens vendor APIs accept.
package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// AppStoreAudience is the fixed audience of App Store Connect API tokens.
const AppStoreAudience = "appstoreconnect-v1"

// ErrInvalidKey is returned when a private key cannot be parsed.
var ErrInvalidKey = errors.New("invalid signing key")

// SignAppStoreToken issues an ES256 App Store Connect API token.
func SignAppStoreToken(issuerID, keyID string, pemKey []byte, now time.Time, ttl time.Duration) (string, error) {
	key, err := jwtlib.ParseECPrivateKeyFromPEM(pemKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	claims := jwtlib.RegisteredClaims{
		Issuer:    issuerID,
		Audience:  jwtlib.ClaimStrings{AppStoreAudience},
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodES256, claims)
	token.Header["kid"] = keyID
	return token.SignedString(key)
}

// Parse verifies token with key, accepting only the listed signing methods.
func Parse(token string, claims jwtlib.Claims, key any, methods ...string) error {
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(*jwtlib.Token) (interface{}, error) {
		return key, nil
	}, jwtlib.WithValidMethods(methods))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return jwtlib.ErrTokenInvalidClaims
	}
	return nil
}
