package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/iudanet/apikit/pubsub"
)

// KeyChange describes one observed mutation of a stored key.
type KeyChange struct {
	Value []byte
	Key   string
	// Deleted is true when the key was removed rather than updated
	Deleted bool
}

// KeyStore is a reactive mapping over a Store. Every write goes through an
// explicit diff against the currently persisted value; subscribers are
// notified only when the value actually changed, so writing the same bytes
// twice produces a single notification.
type KeyStore struct {
	store Store

	mu   sync.Mutex
	subs map[string]*pubsub.Registry[KeyChange]
}

// NewKeyStore wraps a Store with change detection and per-key subscriptions.
func NewKeyStore(store Store) *KeyStore {
	return &KeyStore{
		store: store,
		subs:  make(map[string]*pubsub.Registry[KeyChange]),
	}
}

// SetKey marshals value to JSON and persists it under key, write-through.
// A nil value deletes the key instead. Subscribers of the key are notified
// only when the stored bytes actually change.
func (ks *KeyStore) SetKey(ctx context.Context, key string, value any) error {
	if key == "" {
		return nil
	}

	if value == nil {
		return ks.DeleteKey(ctx, key)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %q: %w", key, err)
	}

	current, err := ks.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read current value for key %q: %w", key, err)
	}

	// Реальное сравнение старого и нового значения: без изменений - без уведомления
	if current != nil && bytes.Equal(current, data) {
		return nil
	}

	if err := ks.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to persist key %q: %w", key, err)
	}

	ks.registry(key).Publish(KeyChange{Key: key, Value: data})
	return nil
}

// GetKey reads the persisted value of key and unmarshals it into out.
// Returns (false, nil) when the key is absent.
func (ks *KeyStore) GetKey(ctx context.Context, key string, out any) (bool, error) {
	if key == "" {
		return false, nil
	}

	data, err := ks.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	if data == nil {
		return false, nil
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("failed to unmarshal key %q: %w", key, err)
		}
	}
	return true, nil
}

// GetKeyRaw reads the persisted raw bytes of key, or nil when absent.
func (ks *KeyStore) GetKeyRaw(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	return ks.store.Get(ctx, key)
}

// DeleteKey removes key from the backend. Subscribers are notified only if
// the key existed.
func (ks *KeyStore) DeleteKey(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	current, err := ks.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read current value for key %q: %w", key, err)
	}

	if err := ks.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}

	if current != nil {
		ks.registry(key).Publish(KeyChange{Key: key, Deleted: true})
	}
	return nil
}

// Subscribe registers fn for changes of one key. The returned unsubscribe
// function is idempotent.
func (ks *KeyStore) Subscribe(key string, fn func(KeyChange)) func() {
	return ks.registry(key).Subscribe(fn)
}

// Store returns the underlying persistence backend.
func (ks *KeyStore) Store() Store {
	return ks.store
}

func (ks *KeyStore) registry(key string) *pubsub.Registry[KeyChange] {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	reg, ok := ks.subs[key]
	if !ok {
		reg = pubsub.New[KeyChange]()
		ks.subs[key] = reg
	}
	return reg
}
