// Package redisstore implements the storage.Store interface on top of Redis.
// Intended for server-side embeddings of the client where local files are not
// an option; every field is stored under keyPrefix + field name.
package redisstore

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/iudanet/apikit/internal/validation"
	"github.com/iudanet/apikit/storage"
)

// Store represents Redis storage implementation.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// Compile-time check that Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// New creates a Redis-backed store. The connection is verified with a ping.
// keyPrefix namespaces all fields, e.g. "apikit:session:".
func New(ctx context.Context, opts *redis.Options, keyPrefix string) (*Store, error) {
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Store{client: client, keyPrefix: keyPrefix}, nil
}

// NewWithClient wraps an existing Redis client. The caller keeps ownership of
// the client; Close becomes a no-op.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	return &Store{client: client, keyPrefix: keyPrefix}
}

// Close closes the owned Redis connection.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Get returns the stored value for the field, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, field string) ([]byte, error) {
	if field == "" {
		return nil, nil
	}
	if err := validation.ValidateField(field); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidField, err)
	}

	value, err := s.client.Get(ctx, s.keyPrefix+field).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field %q: %w", field, err)
	}

	return value, nil
}

// Set stores the value under the field name, without expiration.
func (s *Store) Set(ctx context.Context, field string, value []byte) error {
	if field == "" {
		return nil
	}
	if err := validation.ValidateField(field); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidField, err)
	}

	if err := s.client.Set(ctx, s.keyPrefix+field, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to save field %q: %w", field, err)
	}

	return nil
}

// Delete removes the field. Deleting an absent field is not an error.
func (s *Store) Delete(ctx context.Context, field string) error {
	if field == "" {
		return nil
	}
	if err := validation.ValidateField(field); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidField, err)
	}

	if err := s.client.Del(ctx, s.keyPrefix+field).Err(); err != nil {
		return fmt.Errorf("failed to delete field %q: %w", field, err)
	}

	return nil
}
