package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed encrypts every item with XChaCha20-Poly1305 before handing it to
// the inner vault. The item key is bound as additional data so blobs cannot
// be swapped between keys.
type Sealed struct {
	inner Vault
	key   []byte
}

func NewSealed(inner Vault, key []byte) (*Sealed, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault: sealing key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Sealed{inner: inner, key: append([]byte(nil), key...)}, nil
}

// ParseKey decodes a 32-byte key given as hex or standard base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	return nil, errors.New("vault: sealing key must be 32 bytes in hex or base64")
}

func (s *Sealed) Load(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.inner.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("vault: sealed item %s is truncated", key)
	}
	nonce, ct := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("vault: open sealed item %s: %w", key, err)
	}
	return plain, nil
}

func (s *Sealed) Save(ctx context.Context, key string, data []byte) error {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: nonce: %w", err)
	}
	return s.inner.Save(ctx, key, aead.Seal(nonce, nonce, data, []byte(key)))
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
