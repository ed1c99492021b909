// Package invocation models units of work whose result may already be known.
//
// An Invocation is either Known, wrapping a fixed Result, or Deferred, wrapping a
// producer that computes the Result each time Run is called. Map and FlatMap build
// pipelines that stay Known for as long as every stage is Known, so a chain whose
// tail is cached collapses to its result without running any producer.
//
// Invocations are immutable. Running a Deferred node never turns it into a Known
// one, and concurrent Run calls on the same node are not serialized; use Shared
// when the wrapped work must execute at most once per key.
package invocation

import "errors"

var (
	// ErrNilFailure replaces the nil error of a Failure built without one.
	ErrNilFailure = errors.New("invocation: failure without an error")

	// ErrZeroInvocation is the failure returned by running the zero Invocation.
	ErrZeroInvocation = errors.New("invocation: zero Invocation has no result")
)

// Result is either a success value or a failure error.
type Result[T any] struct {
	value T
	err   error
}

// Success returns a successful Result holding v.
func Success[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Failure returns a failed Result. A nil err is replaced by ErrNilFailure so that a
// failure can never be mistaken for a success.
func Failure[T any](err error) Result[T] {
	if err == nil {
		err = ErrNilFailure
	}
	return Result[T]{err: err}
}

// Of builds a Result from a conventional (value, error) pair.
func Of[T any](v T, err error) Result[T] {
	if err != nil {
		return Failure[T](err)
	}
	return Success(v)
}

// Get returns the value and error.
func (r Result[T]) Get() (T, error) { return r.value, r.err }

// Err returns the failure error, or nil for a success.
func (r Result[T]) Err() error { return r.err }

// IsSuccess reports whether r holds a value.
func (r Result[T]) IsSuccess() bool { return r.err == nil }

// MapResult applies f to a successful value. Failures pass through and f is not called.
func MapResult[T, U any](r Result[T], f func(T) U) Result[U] {
	if r.err != nil {
		return Failure[U](r.err)
	}
	return Success(f(r.value))
}

// BindResult applies a fallible f to a successful value.
func BindResult[T, U any](r Result[T], f func(T) (U, error)) Result[U] {
	if r.err != nil {
		return Failure[U](r.err)
	}
	v, err := f(r.value)
	return Of(v, err)
}
