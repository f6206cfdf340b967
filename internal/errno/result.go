package errno

// Result is the tagged outcome of a syscall: a code and, on success, a value.
type Result[T any] struct {
	Code  Code
	Value T
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Code: SUCCESS, Value: v}
}

// Fail returns a result carrying only a code.
func Fail[T any](c Code) Result[T] {
	return Result[T]{Code: c}
}

// OK reports whether the result succeeded.
func (r Result[T]) OK() bool {
	return r.Code == SUCCESS
}

// Unwrap returns the value and a Go error built from the code.
func (r Result[T]) Unwrap(op, path string) (T, error) {
	return r.Value, r.Code.Err(op, path)
}

// Map converts a Result's value, keeping failures as they are.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if r.Code != SUCCESS {
		return Fail[U](r.Code)
	}
	return Ok(f(r.Value))
}
