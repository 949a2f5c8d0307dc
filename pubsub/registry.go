// Package pubsub implements a typed publish/subscribe registry used for all
// client notifications: state changes, token changes, storage keys, realtime
// events. Subscribers are tracked by opaque handle, so two subscriptions of
// the same callback never collide and unsubscribing one does not detach the
// other.
package pubsub

import (
	"sync"

	"github.com/google/uuid"
)

// Registry delivers published values to subscribers in subscription order.
// Dispatch is synchronous; callbacks run without the registry lock held, so
// a callback may subscribe or unsubscribe during delivery.
type Registry[T any] struct {
	mu       sync.Mutex
	handlers map[string]func(T)
	order    []string
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		handlers: make(map[string]func(T)),
	}
}

// Subscribe registers fn and returns an unsubscribe function. Calling the
// returned function more than once is a no-op after the first call.
func (r *Registry[T]) Subscribe(fn func(T)) func() {
	id := uuid.New().String()

	r.mu.Lock()
	r.handlers[id] = fn
	r.order = append(r.order, id)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.unsubscribe(id)
		})
	}
}

func (r *Registry[T]) unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, id)
	for i, handle := range r.order {
		if handle == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Publish delivers value to every current subscriber in subscription order.
func (r *Registry[T]) Publish(value T) {
	r.mu.Lock()
	fns := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		if fn, ok := r.handlers[id]; ok {
			fns = append(fns, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

// Len returns the number of active subscriptions.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}
