// Package storage defines the persistence boundary of the client: a small
// field-oriented key/value store with pluggable backends (memory, BoltDB,
// SQLite, Redis, plus an encryption wrapper), and a reactive KeyStore layered
// on top of it that notifies subscribers only on real value changes.
package storage

import (
	"context"
	"errors"
)

//go:generate moq -out store_mock.go . Store

// Store defines interface for storing named fields on the client.
// An empty field name is a no-op for all operations: Get returns (nil, nil),
// Set and Delete return nil without touching the backend.
type Store interface {
	// Get returns the stored value for the field, or (nil, nil) if absent
	Get(ctx context.Context, field string) ([]byte, error)

	// Set stores the value under the field name, overwriting any previous value
	Set(ctx context.Context, field string, value []byte) error

	// Delete removes the field. Deleting an absent field is not an error
	Delete(ctx context.Context, field string) error

	// Close releases backend resources
	Close() error
}

// ErrInvalidField is returned when a non-empty field name fails validation.
var ErrInvalidField = errors.New("invalid field name")
