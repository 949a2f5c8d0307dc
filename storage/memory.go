package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/iudanet/apikit/internal/validation"
)

// Memory is an in-process Store implementation. Useful for tests and for
// embedding the client without durable persistence.
type Memory struct {
	mu     sync.RWMutex
	fields map[string][]byte
}

// Compile-time check that Memory implements Store
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		fields: make(map[string][]byte),
	}
}

// Get returns the stored value for the field, or (nil, nil) if absent.
func (m *Memory) Get(ctx context.Context, field string) ([]byte, error) {
	if field == "" {
		return nil, nil
	}
	if err := validation.ValidateField(field); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.fields[field]
	if !ok {
		return nil, nil
	}

	// Возвращаем копию, чтобы вызывающий не мог изменить хранимое значение
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores the value under the field name.
func (m *Memory) Set(ctx context.Context, field string, value []byte) error {
	if field == "" {
		return nil
	}
	if err := validation.ValidateField(field); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.fields[field] = stored
	m.mu.Unlock()

	return nil
}

// Delete removes the field.
func (m *Memory) Delete(ctx context.Context, field string) error {
	if field == "" {
		return nil
	}
	if err := validation.ValidateField(field); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	m.mu.Lock()
	delete(m.fields, field)
	m.mu.Unlock()

	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}
