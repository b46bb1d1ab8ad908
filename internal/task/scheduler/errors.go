package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned synchronously for a nil task, a negative delay,
	// a non-positive period, an unknown time unit or an unparsable schedule.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRejectedExecution is returned once shutdown has begun.
	ErrRejectedExecution = errors.New("rejected execution: scheduler is shut down")

	// ErrCancelled is returned by Get on a cancelled future.
	ErrCancelled = errors.New("task cancelled")

	// ErrTimeout is returned by GetTimeout when the future did not finish in time.
	ErrTimeout = errors.New("timed out waiting for task")
)

// ExecutionError is stored on a future whose task body failed. For periodic
// entries it also means no further firings will happen.
type ExecutionError struct {
	TaskID uint64
	Name   string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s (#%d) failed: %v", e.Name, e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func invalidArg(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
