// Package fn carries the functional plumbing the ingestion pipeline is built
// from: an explicit Result value, composable traced stages, and bounded
// retry for flaky backends.
package fn

// Result holds either a value or an error. Pipeline stages return Results,
// so a failing stage short-circuits the rest of a batch without panics or
// in-band sentinel values.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err wraps a failure.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// IsOk reports whether the Result holds a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether the Result holds an error.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Unwrap returns the value and error in Go's usual pair form.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
