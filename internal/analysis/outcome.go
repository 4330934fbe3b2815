package analysis

// Outcome is a tagged result distinguishing "no signal" from "broken
// computation". Detectors return Empty when the input carries nothing to
// detect (missing columns, groups below minimum size); estimators return Err
// for genuine failures. Callers pattern-match instead of conflating nil
// slices with errors.
type Outcome[T any] struct {
	value T
	err   error
	empty bool
	ok    bool
}

// Ok wraps a successful value.
func Ok[T any](v T) Outcome[T] { return Outcome[T]{value: v, ok: true} }

// EmptyOutcome marks a degenerate input that produced no signal.
func EmptyOutcome[T any]() Outcome[T] { return Outcome[T]{empty: true} }

// ErrOutcome wraps a computation failure.
func ErrOutcome[T any](err error) Outcome[T] { return Outcome[T]{err: err} }

// IsOk reports whether a value is present.
func (o Outcome[T]) IsOk() bool { return o.ok }

// IsEmpty reports whether the input carried no signal.
func (o Outcome[T]) IsEmpty() bool { return o.empty }

// Value returns the wrapped value; the zero value unless IsOk.
func (o Outcome[T]) Value() T { return o.value }

// Err returns the wrapped error, if any.
func (o Outcome[T]) Err() error { return o.err }
