package docrepo

import "context"

// Result is the outcome of one repository operation. It settles exactly
// once, with either a value or an error.
type Result[T any] struct {
	done   chan struct{}
	value  T
	err    error
	queued bool
}

func newResult[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{})}
}

func (r *Result[T]) settle(value T, err error) {
	r.value = value
	r.err = err
	close(r.done)
}

// resolved returns a result that is already settled.
func resolved[T any](value T, err error, queued bool) *Result[T] {
	r := newResult[T]()
	r.queued = queued
	r.settle(value, err)
	return r
}

// async runs fn on its own goroutine and settles the result with its return.
func async[T any](fn func() (T, error)) *Result[T] {
	r := newResult[T]()
	go func() {
		r.settle(fn())
	}()
	return r
}

// Done is closed once the result has settled.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Await blocks until the result settles or ctx is done. When ctx ends
// first its error is returned; the database call itself keeps running.
func (r *Result[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	default:
	}

	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Queued reports whether the operation was only recorded in a transaction.
// A queued result is settled on return and says nothing about persistence.
func (r *Result[T]) Queued() bool {
	return r.queued
}
