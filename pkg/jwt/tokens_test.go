package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestAppStoreTokenRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	token, err := SignAppStoreToken("issuer-uuid", "ABC123", pemKey, time.Now(), 20*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	var claims jwtlib.RegisteredClaims
	if err := Parse(token, &claims, &key.PublicKey, jwtlib.SigningMethodES256.Name); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Issuer != "issuer-uuid" || len(claims.Audience) != 1 || claims.Audience[0] != AppStoreAudience {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestInvalidKey(t *testing.T) {
	if _, err := SignAppStoreToken("i", "k", []byte("not a key"), time.Now(), time.Minute); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
