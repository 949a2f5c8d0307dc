// Package boltdb implements the storage.Store interface on top of a local
// BoltDB file. All fields live in one bucket keyed by field name.
package boltdb

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/apikit/internal/validation"
	"github.com/iudanet/apikit/storage"
)

// BoltDB bucket for client fields
var bucketFields = []byte("fields")

// Store represents BoltDB storage implementation for the client.
type Store struct {
	db *bbolt.DB
}

// Compile-time check that Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// New creates a new BoltDB store instance.
// dbPath is the path to the BoltDB database file.
func New(ctx context.Context, dbPath string) (*Store, error) {
	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	// Инициализируем bucket
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketFields); err != nil {
			return fmt.Errorf("failed to create fields bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the stored value for the field, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, field string) ([]byte, error) {
	if field == "" {
		return nil, nil
	}
	if err := validation.ValidateField(field); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidField, err)
	}

	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFields)
		if bucket == nil {
			return fmt.Errorf("fields bucket not found")
		}

		data := bucket.Get([]byte(field))
		if data == nil {
			return nil
		}

		// Копируем данные: bbolt гарантирует их валидность только внутри транзакции
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Set stores the value under the field name.
func (s *Store) Set(ctx context.Context, field string, value []byte) error {
	if field == "" {
		return nil
	}
	if err := validation.ValidateField(field); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidField, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFields)
		if bucket == nil {
			return fmt.Errorf("fields bucket not found")
		}

		if err := bucket.Put([]byte(field), value); err != nil {
			return fmt.Errorf("failed to save field %q: %w", field, err)
		}
		return nil
	})
}

// Delete removes the field. Deleting an absent field is not an error.
func (s *Store) Delete(ctx context.Context, field string) error {
	if field == "" {
		return nil
	}
	if err := validation.ValidateField(field); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidField, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFields)
		if bucket == nil {
			return fmt.Errorf("fields bucket not found")
		}

		if err := bucket.Delete([]byte(field)); err != nil {
			return fmt.Errorf("failed to delete field %q: %w", field, err)
		}
		return nil
	})
}
