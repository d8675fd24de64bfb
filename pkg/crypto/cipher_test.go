package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestSealRoundTrip(t *testing.T) {
	sealed, err := SealString("s3cret", []byte(`{"client_email":"a@b"}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed, SealedPrefix) || !IsSealed([]byte(sealed+"\n")) {
		t.Fatalf("unexpected sealed form %q", sealed)
	}
	plain, err := Unseal("s3cret", []byte(sealed))
	if err != nil {
		t.Fatalf("unseal: %v", err)
	}
	if string(plain) != `{"client_email":"a@b"}` {
		t.Fatalf("unexpected plaintext %q", plain)
	}
	if _, err := Unseal("other", []byte(sealed)); err == nil {
		t.Fatal("wrong key must fail")
	}
}

func TestSealRequiresKey(t *testing.T) {
	if _, err := SealString(" ", []byte("x")); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
	if _, err := Decrypt("k", []byte("short")); err == nil {
		t.Fatal("expected truncated payload to fail")
	}
	if IsSealed([]byte("plain-token")) {
		t.Fatal("plain values are not sealed")
	}
}
