// Package crypto seals credential material at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// SealedPrefix marks a value produced by SealString.
const SealedPrefix = "enc:"

const keyInfo = "shipit credentials v1"

// ErrNoKey is returned when sealed material is found but no key was configured.
var ErrNoKey = errors.New("sealed value requires a credentials key")

// deriveKey stretches the configured secret into an AES-256 key.
func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(secret string) (cipher.AEAD, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoKey
	}
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext using AES-GCM. The nonce is prepended.
func Encrypt(secret string, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func Decrypt(secret string, payload []byte) ([]byte, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(payload) < nonceSize {
		return nil, io.ErrUnexpectedEOF
	}
	return gcm.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
}

// SealString renders plaintext as "enc:<base64>".
func SealString(secret string, plaintext []byte) (string, error) {
	payload, err := Encrypt(secret, plaintext)
	if err != nil {
		return "", err
	}
	return SealedPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(value)), SealedPrefix)
}

// Unseal reverses SealString.
func Unseal(secret string, value []byte) ([]byte, error) {
	encoded, ok := strings.CutPrefix(strings.TrimSpace(string(value)), SealedPrefix)
	if !ok {
		return nil, errors.New("value is not sealed")
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode sealed value: %w", err)
	}
	plain, err := Decrypt(secret, payload)
	if err != nil {
		return nil, fmt.Errorf("open sealed value: %w", err)
	}
	return plain, nil
}
