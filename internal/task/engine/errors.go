package engine

import (
	"errors"
	"fmt"
)

var (
	ErrStopped  = errors.New("task engine stopped")
	ErrStopping = errors.New("task engine stopping")
	ErrNilRun   = errors.New("task Run is nil")
)

// PanicError is the run error of a task whose body panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// IsPanic reports whether err (or anything it wraps) is a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
