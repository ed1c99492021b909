package invocation

import (
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Invocation is a unit of work that yields a Result, possibly without doing any work.
//
// The zero Invocation is neither known nor runnable; Run reports ErrZeroInvocation.
type Invocation[T any] struct {
	known    bool
	result   Result[T]
	producer func() Result[T]
}

// Known returns an Invocation whose result is r. Peek and Run both return r and
// nothing is ever executed.
func Known[T any](r Result[T]) Invocation[T] {
	return Invocation[T]{known: true, result: r}
}

// Deferred returns an Invocation whose Run calls producer, once per call.
// It panics if producer is nil.
func Deferred[T any](producer func() Result[T]) Invocation[T] {
	if producer == nil {
		panic("invocation: Deferred with nil producer")
	}
	return Invocation[T]{producer: producer}
}

// FromFunc is Deferred over a conventional (value, error) function.
func FromFunc[T any](fn func() (T, error)) Invocation[T] {
	return Deferred(func() Result[T] {
		v, err := fn()
		return Of(v, err)
	})
}

// Peek returns the result if it is known without doing any work.
func (i Invocation[T]) Peek() (Result[T], bool) {
	if i.known {
		return i.result, true
	}
	return Result[T]{}, false
}

// IsKnown reports whether Peek would return a result.
func (i Invocation[T]) IsKnown() bool { return i.known }

// Run returns the result, computing it if it is not known.
//
// Run on a Deferred node calls its producer every time; callers must not run the
// same node twice if the underlying work is not repeatable.
func (i Invocation[T]) Run() Result[T] {
	switch {
	case i.known:
		return i.result
	case i.producer != nil:
		return i.producer()
	default:
		return Failure[T](ErrZeroInvocation)
	}
}

// Map transforms the value of inv with f.
//
// If inv is known the returned Invocation is known too and f has already been
// applied. Otherwise f is applied after each Run. f never sees a failure.
func Map[T, U any](inv Invocation[T], f func(T) U) Invocation[U] {
	if r, ok := inv.Peek(); ok {
		return Known(MapResult(r, f))
	}
	return Deferred(func() Result[U] {
		return MapResult(inv.Run(), f)
	})
}

// MapErr is Map for a transform that can fail.
func MapErr[T, U any](inv Invocation[T], f func(T) (U, error)) Invocation[U] {
	if r, ok := inv.Peek(); ok {
		return Known(BindResult(r, f))
	}
	return Deferred(func() Result[U] {
		return BindResult(inv.Run(), f)
	})
}

// FlatMap chains a dependent invocation onto the value of inv.
//
//   - inv known success: f is called now and its Invocation is returned as is, so
//     a known dependent makes the whole chain known and a deferred dependent runs
//     only the dependent stage.
//   - inv known failure: the failure is returned as known and f is never called.
//   - inv deferred: Run runs inv, then, on success, f and the dependent stage.
func FlatMap[T, U any](inv Invocation[T], f func(T) Invocation[U]) Invocation[U] {
	if r, ok := inv.Peek(); ok {
		v, err := r.Get()
		if err != nil {
			return Known(Failure[U](err))
		}
		return f(v)
	}
	return Deferred(func() Result[U] {
		v, err := inv.Run().Get()
		if err != nil {
			return Failure[U](err)
		}
		return f(v).Run()
	})
}

// Shared makes concurrent Runs of inv that use the same key share one execution.
//
// Runs that start while an execution for key is in flight wait for it and receive
// its result. Runs that start afterwards execute again; pair Shared with a cache
// check inside the producer for once-only semantics. Known invocations and a nil
// group are returned unchanged.
func Shared[T any](group *singleflight.Group, key string, inv Invocation[T]) Invocation[T] {
	if group == nil || inv.IsKnown() {
		return inv
	}
	return Deferred(func() Result[T] {
		v, _, _ := group.Do(key, func() (any, error) {
			return inv.Run(), nil
		})
		r, ok := v.(Result[T])
		if !ok {
			return Failure[T](fmt.Errorf("invocation: key %q is shared by invocations of different types", key))
		}
		return r
	})
}
