package scheduler

import (
	"context"
	"strings"
)

type taskKind uint8

const (
	kindNone taskKind = iota
	kindCallable
	kindRunnable
)

// Task is a unit of work: either a callable that produces a value or a runnable
// that only has side effects. Build one with Callable, CallableOf, Runnable or
// RunnableFunc; the zero Task is rejected at registration.
type Task struct {
	name     string
	kind     taskKind
	callable func(ctx context.Context) (any, error)
	runnable func(ctx context.Context) error
}

func Callable(fn func(ctx context.Context) (any, error)) Task {
	if fn == nil {
		return Task{}
	}
	return Task{kind: kindCallable, callable: fn}
}

// CallableOf adapts a typed callable. Use Await to get the typed value back.
func CallableOf[T any](fn func(ctx context.Context) (T, error)) Task {
	if fn == nil {
		return Task{}
	}
	return Task{kind: kindCallable, callable: func(ctx context.Context) (any, error) {
		return fn(ctx)
	}}
}

func Runnable(fn func(ctx context.Context) error) Task {
	if fn == nil {
		return Task{}
	}
	return Task{kind: kindRunnable, runnable: fn}
}

// RunnableFunc adapts a plain func that can neither fail nor observe cancellation.
func RunnableFunc(fn func()) Task {
	if fn == nil {
		return Task{}
	}
	return Task{kind: kindRunnable, runnable: func(context.Context) error {
		fn()
		return nil
	}}
}

// Named returns t with a name used in logs, events and run history.
func Named(name string, t Task) Task {
	t.name = strings.TrimSpace(name)
	return t
}

func (t Task) Name() string { return t.name }

func (t Task) IsCallable() bool { return t.kind == kindCallable }

func (t Task) valid() bool {
	switch t.kind {
	case kindCallable:
		return t.callable != nil
	case kindRunnable:
		return t.runnable != nil
	default:
		return false
	}
}

// normalize is called once at registration so each run is a single direct call.
func (t Task) normalize() func(ctx context.Context) (any, error) {
	if t.kind == kindCallable {
		return t.callable
	}
	run := t.runnable
	return func(ctx context.Context) (any, error) {
		return nil, run(ctx)
	}
}
