package credstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for deriving the sealing key. Each sealed value
// carries its own salt, so the key is derived per value.
const (
	argonTime    = 1
	argonMemory  = 32 * 1024
	argonThreads = 2
	saltSize     = 16

	sealedPrefix = "v1."
)

var errUnsealable = errors.New("sealed value cannot be opened")

// SealedStore encrypts both tokens before handing them to the inner store.
// Each value is XChaCha20-Poly1305 sealed with a key derived from the secret
// and bound to its key name, so the two tokens cannot be swapped.
type SealedStore struct {
	inner  Store
	secret []byte
}

// Sealed wraps inner so tokens are stored encrypted under secret.
func Sealed(inner Store, secret string) *SealedStore {
	return &SealedStore{inner: inner, secret: []byte(secret)}
}

// Save seals both tokens and saves them through the inner store.
func (s *SealedStore) Save(ctx context.Context, p Pair) error {
	access, err := s.seal(KeyAccess, p.Access)
	if err != nil {
		return err
	}
	refresh, err := s.seal(KeyRefresh, p.Refresh)
	if err != nil {
		return err
	}
	return s.inner.Save(ctx, Pair{Access: access, Refresh: refresh})
}

// Load opens both tokens. Values that fail to open read as absent.
func (s *SealedStore) Load(ctx context.Context) (Pair, error) {
	sealed, err := s.inner.Load(ctx)
	if err != nil {
		return Pair{}, err
	}
	access, err := s.open(KeyAccess, sealed.Access)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %s: %v", ErrNotFound, KeyAccess, err)
	}
	refresh, err := s.open(KeyRefresh, sealed.Refresh)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %s: %v", ErrNotFound, KeyRefresh, err)
	}
	return fromValues(access, refresh)
}

// Clear clears the inner store.
func (s *SealedStore) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}

func (s *SealedStore) deriveKey(salt []byte) []byte {
	return argon2.IDKey(s.secret, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

// seal returns "v1." + base64url(salt | nonce | ciphertext).
func (s *SealedStore) seal(name, plaintext string) (string, error) {
	buf := make([]byte, saltSize+chacha20poly1305.NonceSizeX, saltSize+chacha20poly1305.NonceSizeX+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	salt, nonce := buf[:saltSize], buf[saltSize:]

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	out := aead.Seal(buf, nonce, []byte(plaintext), []byte(name))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *SealedStore) open(name, value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return "", errUnsealable
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", errUnsealable
	}
	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := raw[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return "", errUnsealable
	}
	return string(plaintext), nil
}
