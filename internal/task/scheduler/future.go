package scheduler

import (
	"context"
	"fmt"
	"time"

	"pewsched/internal/eventbus"
	"pewsched/internal/task/unit"
)

type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool { return s >= StateCompleted }

// Future is the caller's handle on a registration. Only the scheduler moves it
// between states; callers read it or request cancellation.
//
// A periodic future never yields a value: Get blocks until the entry is
// cancelled (ErrCancelled) or suppressed by a failed run (*ExecutionError).
type Future struct {
	s    *Service
	e    *entry
	done chan struct{}

	// guarded by s.mu
	state     State
	value     any
	err       error
	cancelReq bool
	runs      uint64
	listeners []func(*Future)
}

func newFuture(s *Service, e *entry) *Future {
	return &Future{s: s, e: e, done: make(chan struct{})}
}

func (f *Future) ID() uint64   { return f.e.id }
func (f *Future) Name() string { return f.e.name }
func (f *Future) Kind() Kind   { return f.e.kind }

// Cancel requests cancellation and reports whether this call changed anything.
//
// A pending entry is cancelled at once and will never run. A running entry is
// cancelled once the current run ends, unless mayInterrupt is set and the
// scheduler was configured with InterruptOnCancel: then the run context is
// cancelled and the future becomes cancelled immediately.
// Cancelling a finished or already cancelled future returns false.
func (f *Future) Cancel(mayInterrupt bool) bool {
	s := f.s
	s.mu.Lock()
	var notes []notice
	switch f.state {
	case StatePending:
		if f.e.item.Queued() {
			s.q.Remove(f.e.item)
		}
		// A dispatched but unclaimed run is skipped by the worker.
		notes = append(notes, s.resolveLocked(f.e, StateCancelled, nil, ErrCancelled, eventbus.TaskCancelled, "cancel"))
	case StateRunning:
		if f.cancelReq {
			s.mu.Unlock()
			return false
		}
		f.cancelReq = true
		if mayInterrupt && s.cfg.InterruptOnCancel {
			if f.e.runCancel != nil {
				f.e.runCancel()
			}
			notes = append(notes, s.resolveLocked(f.e, StateCancelled, nil, ErrCancelled, eventbus.TaskCancelled, "interrupt"))
		}
	default:
		s.mu.Unlock()
		return false
	}
	s.checkTerminatedLocked()
	s.mu.Unlock()

	s.signal()
	if len(notes) == 0 {
		s.log.Debug("cancel deferred until run ends", logFields(f.e)...)
	}
	s.flush(notes)
	return true
}

// IsCancelled reports whether cancellation was accepted, including a deferred
// cancellation of a run still in progress.
func (f *Future) IsCancelled() bool {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.state == StateCancelled || f.cancelReq
}

// IsDone reports whether the future reached a terminal state.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future) State() State {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.state
}

// Runs is the number of runs that finished so far.
func (f *Future) Runs() uint64 {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.runs
}

// Delay is the time left until the next firing; zero when the entry is due,
// running or finished.
func (f *Future) Delay() time.Duration {
	s := f.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.state != StatePending || !f.e.item.Queued() {
		return 0
	}
	return max(time.Duration(f.e.item.Due-s.now()), 0)
}

// DelayIn is Delay expressed in u, truncated.
func (f *Future) DelayIn(u unit.TimeUnit) int64 {
	return u.Convert(int64(f.Delay()), unit.Nanoseconds)
}

// Done is closed when the future reaches a terminal state.
func (f *Future) Done() <-chan struct{} { return f.done }

// Get waits for the future to finish. It returns the callable's value (nil for
// runnables), ErrCancelled, an *ExecutionError, or ctx.Err().
func (f *Future) Get(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.finished() {
		return f.result()
	}
	select {
	case <-f.done:
	case <-ctx.Done():
		// Both may be ready; a finished future always wins.
		if !f.finished() {
			return nil, ctx.Err()
		}
	}
	return f.result()
}

// GetTimeout is Get bounded by timeout expressed in u. It returns ErrTimeout
// when the future is still unfinished after that long.
func (f *Future) GetTimeout(timeout int64, u unit.TimeUnit) (any, error) {
	if !u.Valid() {
		return nil, invalidArg("unknown time unit %d", int(u))
	}
	if f.finished() {
		return f.result()
	}
	t := time.NewTimer(u.ToDuration(max(timeout, 0)))
	defer t.Stop()
	select {
	case <-f.done:
	case <-t.C:
		if !f.finished() {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, f.e.name, u.ToDuration(timeout))
		}
	}
	return f.result()
}

func (f *Future) finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future) result() (any, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.value, f.err
}

// OnComplete registers fn to be called once the future is terminal. If it
// already is, fn runs immediately on the calling goroutine. Listeners never
// run under the scheduler lock.
func (f *Future) OnComplete(fn func(*Future)) {
	if fn == nil {
		return
	}
	f.s.mu.Lock()
	if f.state.Terminal() {
		f.s.mu.Unlock()
		fn(f)
		return
	}
	f.listeners = append(f.listeners, fn)
	f.s.mu.Unlock()
}

// Await is a typed Get for futures built from CallableOf.
func Await[T any](ctx context.Context, f *Future) (T, error) {
	var zero T
	v, err := f.Get(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("task %s returned %T, want %T", f.e.name, v, zero)
	}
	return out, nil
}

// finishLocked moves f to a terminal state and returns the listeners to fire
// once the lock is released. Call with s.mu held.
func (f *Future) finishLocked(st State, v any, err error) []func(*Future) {
	if f.state.Terminal() {
		return nil
	}
	f.state = st
	f.value = v
	f.err = err
	close(f.done)
	delete(f.s.entries, f.e.id)
	fire := f.listeners
	f.listeners = nil
	return fire
}

func runListeners(f *Future, fns []func(*Future)) {
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.s.log.Error("future listener panicked", logFields(f.e)...)
				}
			}()
			fn(f)
		}()
	}
}
