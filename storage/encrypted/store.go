// Package encrypted wraps any storage.Store with AES-256-GCM encryption of
// field values. Field names stay in the clear; values are encrypted before
// they reach the inner backend and decrypted on the way out.
package encrypted

import (
	"context"
	"fmt"

	"github.com/iudanet/apikit/internal/crypto"
	"github.com/iudanet/apikit/storage"
)

// Store encrypts values before delegating to an inner Store.
type Store struct {
	inner storage.Store
	key   []byte
}

// Compile-time check that Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// New wraps inner with encryption. key must be exactly 32 bytes, e.g. the
// output of DeriveKey.
func New(inner storage.Store, key []byte) (*Store, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner store is nil")
	}
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", crypto.KeySize, len(key))
	}

	stored := make([]byte, len(key))
	copy(stored, key)

	return &Store{inner: inner, key: stored}, nil
}

// DeriveKey генерирует ключ шифрования из passphrase и соли (Argon2id)
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	return crypto.DeriveKey(passphrase, salt)
}

// GenerateSalt генерирует криптографически случайную соль для DeriveKey
func GenerateSalt() ([]byte, error) {
	return crypto.GenerateSalt()
}

// Get reads and decrypts the field value, or returns (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, field string) ([]byte, error) {
	encrypted, err := s.inner.Get(ctx, field)
	if err != nil {
		return nil, err
	}
	if encrypted == nil {
		return nil, nil
	}

	plaintext, err := crypto.Decrypt(encrypted, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt field %q: %w", field, err)
	}

	return plaintext, nil
}

// Set encrypts the value and stores it under the field name.
func (s *Store) Set(ctx context.Context, field string, value []byte) error {
	if field == "" {
		return nil
	}

	encrypted, err := crypto.Encrypt(value, s.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt field %q: %w", field, err)
	}

	return s.inner.Set(ctx, field, encrypted)
}

// Delete removes the field from the inner store.
func (s *Store) Delete(ctx context.Context, field string) error {
	return s.inner.Delete(ctx, field)
}

// Close closes the inner store.
func (s *Store) Close() error {
	return s.inner.Close()
}
