// Package crypt seals small JSON payloads (storage credentials, password
// recovery tokens) with AES-256-GCM under a single service key.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidCiphertext = errors.New("crypt: invalid ciphertext")

type Box struct {
	key [32]byte
}

// New derives the sealing key from the configured secret string.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, errors.New("crypt: secret is not configured")
	}
	return &Box{key: sha256.Sum256([]byte(secret))}, nil
}

// Seal encrypts v's JSON form and returns a URL-safe opaque string.
func (b *Box) Seal(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed string into v.
func (b *Box) Open(token string, v any) error {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrInvalidCiphertext
	}
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	if len(sealed) < gcm.NonceSize() {
		return ErrInvalidCiphertext
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrInvalidCiphertext
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("crypt: decode payload: %w", err)
	}
	return nil
}
