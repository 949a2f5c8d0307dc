// Package deferred provides a single-shot future with externally settable
// outcome. It is the coalescing primitive behind the client's token
// acquisition: the first caller creates one, every concurrent caller waits
// on the same instance, and all of them observe the same result.
package deferred

import (
	"context"
	"sync"
)

// Deferred is a single-shot future. The zero value is not usable, create
// instances with New. Settling an already settled Deferred is a programming
// error and panics.
type Deferred[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	value    T
	err      error
	resolved bool
	rejected bool
}

// New creates a pending Deferred.
func New[T any]() *Deferred[T] {
	return &Deferred[T]{
		done: make(chan struct{}),
	}
}

// Resolve settles the Deferred with a value. Panics if already settled.
func (d *Deferred[T]) Resolve(value T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.resolved {
		panic("deferred: resolve called on an already settled deferred")
	}

	d.value = value
	d.resolved = true
	close(d.done)
}

// Reject settles the Deferred with an error. Panics if already settled or
// if err is nil.
func (d *Deferred[T]) Reject(err error) {
	if err == nil {
		panic("deferred: reject called with nil error")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.resolved {
		panic("deferred: reject called on an already settled deferred")
	}

	d.err = err
	d.resolved = true
	d.rejected = true
	close(d.done)
}

// Result blocks until the Deferred settles and returns its outcome. Any
// number of callers may wait concurrently; all see the same value or error.
// Cancelling ctx abandons the wait only, the outcome itself is never
// cancelled.
func (d *Deferred[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// IsPending reports whether the Deferred has not settled yet.
func (d *Deferred[T]) IsPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.resolved
}

// IsFulfilled reports whether the Deferred settled with a value.
func (d *Deferred[T]) IsFulfilled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolved && !d.rejected
}

// IsRejected reports whether the Deferred settled with an error.
func (d *Deferred[T]) IsRejected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rejected
}

// IsResolved reports whether the Deferred has settled either way.
func (d *Deferred[T]) IsResolved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolved
}
