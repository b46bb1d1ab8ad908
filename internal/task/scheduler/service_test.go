package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pewsched/internal/eventbus"
	"pewsched/internal/task/engine"
	"pewsched/internal/task/unit"
	logx "pewsched/pkg/logx"
)

func newService(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, _ = s.Shutdown(ctx, ShutdownImmediate)
	})
	return s
}

func startService(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := newService(t, cfg, bus)
	require.NoError(t, s.Start(context.Background()))
	return s
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOneShotDelayZeroCompletesWithValue(t *testing.T) {
	s := startService(t, Config{}, nil)

	f, err := s.Schedule(CallableOf(func(context.Context) (int, error) { return 42, nil }), 0, unit.Seconds)
	require.NoError(t, err)

	v, err := Await[int](waitCtx(t), f)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, f.IsDone())
	assert.False(t, f.IsCancelled())
	assert.Equal(t, StateCompleted, f.State())
	assert.Equal(t, uint64(1), f.Runs())
}

func TestRunnableYieldsNil(t *testing.T) {
	s := startService(t, Config{}, nil)

	var ran atomic.Bool
	f, err := s.Schedule(RunnableFunc(func() { ran.Store(true) }), 1, unit.Milliseconds)
	require.NoError(t, err)

	v, err := f.Get(waitCtx(t))
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.True(t, ran.Load())
}

func TestOneShotNeverFiresEarly(t *testing.T) {
	s := startService(t, Config{Workers: 4}, nil)

	const delay = 40 * time.Millisecond
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		registered := time.Now()
		_, err := s.Schedule(RunnableFunc(func() {
			defer wg.Done()
			assert.GreaterOrEqual(t, time.Since(registered), delay)
		}), 40, unit.Milliseconds)
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestFixedRateFourRunsInThreeAndAHalfPeriods(t *testing.T) {
	s := startService(t, Config{}, nil)

	var runs atomic.Int32
	f, err := s.ScheduleAtFixedRate(RunnableFunc(func() { runs.Add(1) }), 100, 0, unit.Milliseconds)
	require.NoError(t, err)

	time.Sleep(350 * time.Millisecond)
	assert.Equal(t, int32(4), runs.Load())
	assert.True(t, f.Cancel(false))
}

func TestFixedRateCadenceIgnoresRunDuration(t *testing.T) {
	s := startService(t, Config{}, nil)

	const period = 60 * time.Millisecond
	var mu sync.Mutex
	var starts []time.Time
	done := make(chan struct{})
	f, err := s.ScheduleAtFixedRate(Runnable(func(context.Context) error {
		mu.Lock()
		starts = append(starts, time.Now())
		n := len(starts)
		mu.Unlock()
		if n == 4 {
			close(done)
		}
		time.Sleep(25 * time.Millisecond)
		return nil
	}), 60, 0, unit.Milliseconds)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fixed-rate task did not run 4 times")
	}
	f.Cancel(false)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < 4; i++ {
		off := starts[i].Sub(starts[0])
		want := time.Duration(i) * period
		assert.InDelta(t, float64(want), float64(off), float64(20*time.Millisecond), "run %d at %s", i, off)
	}
}

func TestFixedRateNeverOverlaps(t *testing.T) {
	s := startService(t, Config{Workers: 4}, nil)

	var cur, peak, runs atomic.Int32
	f, err := s.ScheduleAtFixedRate(Runnable(func(context.Context) error {
		n := cur.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		runs.Add(1)
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return nil
	}), 5, 0, unit.Milliseconds)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	f.Cancel(false)
	assert.Equal(t, int32(1), peak.Load())
	assert.GreaterOrEqual(t, runs.Load(), int32(4))
}

func TestFixedDelaySpacingAfterCompletion(t *testing.T) {
	s := startService(t, Config{}, nil)

	var mu sync.Mutex
	var starts, ends []time.Time
	done := make(chan struct{})
	f, err := s.ScheduleWithFixedDelay(Runnable(func(context.Context) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(40 * time.Millisecond)
		mu.Lock()
		ends = append(ends, time.Now())
		n := len(ends)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	}), 30, 0, unit.Milliseconds)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fixed-delay task did not run 3 times")
	}
	f.Cancel(false)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < 3; i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(ends[i-1]), 30*time.Millisecond)
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 70*time.Millisecond)
	}
}

func TestCancelPendingPreventsRun(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.SubscribePrefix(eventbus.TaskCancelled, 4)
	defer unsub()
	s := startService(t, Config{}, bus)

	var ran atomic.Bool
	f, err := s.Schedule(RunnableFunc(func() { ran.Store(true) }), 50, unit.Milliseconds)
	require.NoError(t, err)
	assert.Greater(t, f.Delay(), time.Duration(0))

	assert.True(t, f.Cancel(false))
	assert.True(t, f.IsCancelled())
	assert.True(t, f.IsDone())
	assert.False(t, f.Cancel(true), "second cancel is a no-op")

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran.Load())

	_, err = f.Get(waitCtx(t))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, time.Duration(0), f.Delay())

	ev := <-events
	assert.Equal(t, f.ID(), ev.Data.(EntryEvent).ID)
}

func TestCancelCompletedReturnsFalse(t *testing.T) {
	s := startService(t, Config{}, nil)

	f, err := s.Schedule(RunnableFunc(func() {}), 0, unit.Milliseconds)
	require.NoError(t, err)
	_, err = f.Get(waitCtx(t))
	require.NoError(t, err)
	assert.False(t, f.Cancel(true))
	assert.False(t, f.IsCancelled())
}

func TestFailureSuppressesPeriodicEntry(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.SubscribePrefix(eventbus.TaskSuppressed, 4)
	defer unsub()
	s := startService(t, Config{}, bus)

	boom := errors.New("boom")
	var runs atomic.Int32
	f, err := s.ScheduleAtFixedRate(Named("flaky", Runnable(func(context.Context) error {
		runs.Add(1)
		return boom
	})), 10, 0, unit.Milliseconds)
	require.NoError(t, err)

	_, err = f.Get(waitCtx(t))
	var xerr *ExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "flaky", xerr.Name)
	assert.Equal(t, f.ID(), xerr.TaskID)
	assert.Equal(t, StateFailed, f.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "a failed run must stop all later firings")

	ev := <-events
	assert.Equal(t, "flaky", ev.Data.(EntryEvent).Name)
}

func TestPanicBecomesExecutionError(t *testing.T) {
	s := startService(t, Config{}, nil)

	f, err := s.Schedule(RunnableFunc(func() { panic("kaboom") }), 0, unit.Milliseconds)
	require.NoError(t, err)

	_, err = f.Get(waitCtx(t))
	var xerr *ExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.True(t, engine.IsPanic(err))
}

func TestInvalidArguments(t *testing.T) {
	s := newService(t, Config{}, nil)
	ok := RunnableFunc(func() {})

	tests := []struct {
		name string
		call func() (*Future, error)
	}{
		{"negative delay", func() (*Future, error) { return s.Schedule(ok, -1, unit.Seconds) }},
		{"nil task", func() (*Future, error) { return s.Schedule(Task{}, 0, unit.Seconds) }},
		{"nil func", func() (*Future, error) { return s.Schedule(Runnable(nil), 0, unit.Seconds) }},
		{"bad unit", func() (*Future, error) { return s.Schedule(ok, 1, unit.TimeUnit(99)) }},
		{"zero rate", func() (*Future, error) { return s.ScheduleAtFixedRate(ok, 0, 0, unit.Seconds) }},
		{"negative rate delay", func() (*Future, error) { return s.ScheduleAtFixedRate(ok, 1, -1, unit.Seconds) }},
		{"zero spacing", func() (*Future, error) { return s.ScheduleWithFixedDelay(ok, 0, 0, unit.Seconds) }},
		{"negative spacing", func() (*Future, error) { return s.ScheduleWithFixedDelay(ok, -3, 0, unit.Seconds) }},
		{"bad cron", func() (*Future, error) { return s.ScheduleCron(ok, "x", "not a cron") }},
		{"bad spec", func() (*Future, error) { return s.ScheduleSpec(ok, "x", "soon") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.call()
			assert.Nil(t, f)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
	assert.Empty(t, s.Snapshot().Entries, "rejected registrations must not leave entries")
}

func TestRejectedAfterShutdown(t *testing.T) {
	s := startService(t, Config{}, nil)

	_, err := s.Shutdown(waitCtx(t), ShutdownGraceful)
	require.NoError(t, err)
	assert.True(t, s.IsShutdown())
	assert.True(t, s.IsTerminated())

	ok := RunnableFunc(func() {})
	_, err = s.Schedule(ok, 0, unit.Seconds)
	assert.ErrorIs(t, err, ErrRejectedExecution)
	_, err = s.ScheduleAtFixedRate(ok, 1, 0, unit.Seconds)
	assert.ErrorIs(t, err, ErrRejectedExecution)
	_, err = s.ScheduleWithFixedDelay(ok, 1, 0, unit.Seconds)
	assert.ErrorIs(t, err, ErrRejectedExecution)
	assert.ErrorIs(t, s.Start(context.Background()), ErrRejectedExecution)
}

func TestEqualDueRunsInRegistrationOrder(t *testing.T) {
	s := newService(t, Config{Workers: 1}, nil)

	var mu sync.Mutex
	var order []int
	futures := make([]*Future, 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		f, err := s.Schedule(RunnableFunc(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}), 0, unit.Milliseconds)
		require.NoError(t, err)
		futures = append(futures, f)
	}
	require.NoError(t, s.Start(context.Background()))
	for _, f := range futures {
		_, err := f.Get(waitCtx(t))
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestShutdownImmediateReturnsDiscarded(t *testing.T) {
	s := startService(t, Config{Workers: 1}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	blocker, err := s.Schedule(CallableOf(func(context.Context) (string, error) {
		close(started)
		<-release
		return "done", nil
	}), 0, unit.Milliseconds)
	require.NoError(t, err)
	<-started

	var ran atomic.Int32
	noop := RunnableFunc(func() { ran.Add(1) })
	for i := 0; i < 2; i++ {
		_, err := s.Schedule(noop, 0, unit.Milliseconds)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return s.Snapshot().Engine.QueueLen == 2 }, time.Second, 5*time.Millisecond)
	_, err = s.Schedule(noop, 1, unit.Hours)
	require.NoError(t, err)
	periodic, err := s.ScheduleAtFixedRate(noop, 1, 1, unit.Hours)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	discarded, err := s.Shutdown(waitCtx(t), ShutdownImmediate)
	require.NoError(t, err)

	require.Len(t, discarded, 4)
	for _, f := range discarded {
		assert.Equal(t, StateCancelled, f.State())
	}
	assert.Contains(t, discarded, periodic)
	assert.Equal(t, int32(0), ran.Load())

	v, err := blocker.Get(waitCtx(t))
	require.NoError(t, err, "in-flight runs finish")
	assert.Equal(t, "done", v)
	assert.True(t, s.IsTerminated())
}

func TestShutdownGracefulRunsPendingOneShots(t *testing.T) {
	s := startService(t, Config{}, nil)

	var oneShot atomic.Bool
	f, err := s.Schedule(RunnableFunc(func() { oneShot.Store(true) }), 40, unit.Milliseconds)
	require.NoError(t, err)
	periodic, err := s.ScheduleAtFixedRate(RunnableFunc(func() {}), 1, 1, unit.Hours)
	require.NoError(t, err)

	discarded, err := s.Shutdown(waitCtx(t), ShutdownGraceful)
	require.NoError(t, err)
	assert.Empty(t, discarded)

	assert.True(t, oneShot.Load())
	assert.Equal(t, StateCompleted, f.State())
	assert.Equal(t, StateCancelled, periodic.State())
	assert.True(t, s.IsTerminated())
	require.NoError(t, s.AwaitTermination(waitCtx(t)))
}

func TestShutdownGracefulStopsRunningPeriodicAfterRun(t *testing.T) {
	s := startService(t, Config{}, nil)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var runs atomic.Int32
	f, err := s.ScheduleWithFixedDelay(Runnable(func(context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}), 1, 0, unit.Milliseconds)
	require.NoError(t, err)
	<-started

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()
	_, err = s.Shutdown(waitCtx(t), ShutdownGraceful)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, f.State())
	assert.Equal(t, int32(1), runs.Load())
}

func TestShutdownImmediateEscalatesGraceful(t *testing.T) {
	s := startService(t, Config{}, nil)

	late, err := s.Schedule(RunnableFunc(func() {}), 1, unit.Hours)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	discarded, err := s.Shutdown(ctx, ShutdownGraceful)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, discarded)
	assert.Equal(t, StatePending, late.State())
	assert.False(t, s.IsTerminated())

	discarded, err = s.Shutdown(waitCtx(t), ShutdownImmediate)
	require.NoError(t, err)
	assert.Equal(t, []*Future{late}, discarded)
	assert.True(t, late.IsCancelled())
	assert.True(t, s.IsTerminated())

	// Further calls are no-ops.
	discarded, err = s.Shutdown(waitCtx(t), ShutdownImmediate)
	require.NoError(t, err)
	assert.Empty(t, discarded)
}

func TestShutdownBeforeStartCancelsEverything(t *testing.T) {
	s := newService(t, Config{}, nil)
	f, err := s.Schedule(RunnableFunc(func() {}), 10, unit.Milliseconds)
	require.NoError(t, err)

	discarded, err := s.Shutdown(waitCtx(t), ShutdownGraceful)
	require.NoError(t, err)
	assert.Equal(t, []*Future{f}, discarded)
	assert.True(t, s.IsTerminated())
}

func TestCancelRunningIsDeferred(t *testing.T) {
	s := startService(t, Config{InterruptOnCancel: false}, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	f, err := s.Schedule(Callable(func(ctx context.Context) (any, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			sawCancel.Store(true)
		}
		return "value", nil
	}), 0, unit.Milliseconds)
	require.NoError(t, err)
	<-started

	assert.True(t, f.Cancel(true))
	assert.True(t, f.IsCancelled())
	assert.False(t, f.IsDone())
	assert.Equal(t, StateRunning, f.State())
	assert.False(t, f.Cancel(true))

	close(release)
	_, err = f.Get(waitCtx(t))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, f.State())
	assert.False(t, sawCancel.Load())
}

func TestCancelRunningInterrupts(t *testing.T) {
	s := startService(t, Config{InterruptOnCancel: true}, nil)

	started := make(chan struct{})
	interrupted := make(chan struct{})
	f, err := s.Schedule(Runnable(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(interrupted)
		return ctx.Err()
	}), 0, unit.Milliseconds)
	require.NoError(t, err)
	<-started

	assert.True(t, f.Cancel(true))
	assert.True(t, f.IsDone())
	assert.Equal(t, StateCancelled, f.State())

	select {
	case <-interrupted:
	case <-time.After(time.Second):
		t.Fatal("run context was not cancelled")
	}
	_, err = f.Get(waitCtx(t))
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestCancelWithoutInterruptFlagDoesNotInterrupt(t *testing.T) {
	s := startService(t, Config{InterruptOnCancel: true}, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	f, err := s.Schedule(Runnable(func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}), 0, unit.Milliseconds)
	require.NoError(t, err)
	<-started

	assert.True(t, f.Cancel(false))
	assert.Equal(t, StateRunning, f.State())
	close(release)
	_, err = f.Get(waitCtx(t))
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestPeriodicGetBlocksUntilCancelled(t *testing.T) {
	s := startService(t, Config{}, nil)

	f, err := s.ScheduleAtFixedRate(RunnableFunc(func() {}), 10, 0, unit.Milliseconds)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, f.Runs(), uint64(2))

	_, err = f.GetTimeout(10, unit.Milliseconds)
	assert.ErrorIs(t, err, ErrTimeout)

	f.Cancel(false)
	v, err := f.Get(waitCtx(t))
	assert.Nil(t, v)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestGetOnCompletedFutureIgnoresExpiredWait(t *testing.T) {
	s := startService(t, Config{}, nil)

	f, err := s.Schedule(CallableOf(func(context.Context) (string, error) { return "done", nil }), 0, unit.Milliseconds)
	require.NoError(t, err)
	_, err = f.Get(waitCtx(t))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 200; i++ {
		v, err := f.GetTimeout(0, unit.Seconds)
		require.NoError(t, err)
		require.Equal(t, "done", v)

		v, err = f.Get(cancelled)
		require.NoError(t, err)
		require.Equal(t, "done", v)
	}
}

func TestGetTimeoutReturnsValue(t *testing.T) {
	s := startService(t, Config{}, nil)

	f, err := s.Schedule(CallableOf(func(context.Context) (int, error) { return 7, nil }), 10, unit.Milliseconds)
	require.NoError(t, err)

	v, err := f.GetTimeout(3, unit.Seconds)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestStartFailureLeavesSchedulerUnstarted(t *testing.T) {
	s := newService(t, Config{Workers: 1}, nil)

	// Put the engine into a stop that cannot finish yet.
	require.NoError(t, s.eng.Start(context.Background()))
	release := make(chan struct{})
	require.NoError(t, s.eng.Enqueue(engine.Task{
		Name: "blocker",
		Run: func(context.Context) error {
			<-release
			return nil
		},
	}))
	require.Eventually(t, func() bool { return s.eng.Snapshot().InFlight == 1 }, time.Second, 5*time.Millisecond)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = s.eng.Stop(context.Background())
	}()
	require.Eventually(t, func() bool { return s.eng.Snapshot().Stopping }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, s.Start(context.Background()), engine.ErrStopping)
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	assert.False(t, started)

	close(release)
	<-stopped

	f, err := s.Schedule(RunnableFunc(func() {}), 1, unit.Hours)
	require.NoError(t, err)
	discarded, err := s.Shutdown(waitCtx(t), ShutdownGraceful)
	require.NoError(t, err)
	assert.Equal(t, []*Future{f}, discarded)
	assert.True(t, s.IsTerminated())
}

func TestOnCompleteFiresOnce(t *testing.T) {
	s := startService(t, Config{}, nil)

	release := make(chan struct{})
	f, err := s.Schedule(Runnable(func(context.Context) error {
		<-release
		return nil
	}), 0, unit.Milliseconds)
	require.NoError(t, err)

	var calls atomic.Int32
	fired := make(chan State, 2)
	f.OnComplete(func(f *Future) {
		calls.Add(1)
		fired <- f.State()
	})
	close(release)
	assert.Equal(t, StateCompleted, <-fired)

	// Registered after completion: runs at once.
	f.OnComplete(func(*Future) { calls.Add(1) })
	assert.Equal(t, int32(2), calls.Load())
}

func TestScheduleCronFires(t *testing.T) {
	s := startService(t, Config{}, nil)

	fired := make(chan struct{}, 4)
	f, err := s.ScheduleCron(RunnableFunc(func() { fired <- struct{}{} }), "every-second", "* * * * * *")
	require.NoError(t, err)
	assert.Equal(t, KindCron, f.Kind())
	assert.Equal(t, "every-second", f.Name())
	assert.LessOrEqual(t, f.Delay(), time.Second)

	select {
	case <-fired:
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("cron entry did not fire")
	}
	assert.True(t, f.Cancel(false))
}

func TestScheduleSpecInterval(t *testing.T) {
	s := startService(t, Config{}, nil)

	f, err := s.ScheduleSpec(RunnableFunc(func() {}), "tick", "every:200ms")
	require.NoError(t, err)
	assert.Equal(t, KindFixedRate, f.Kind())
	// First firing is one interval plus a startup spread below one interval.
	d := f.Delay()
	assert.Greater(t, d, 150*time.Millisecond)
	assert.LessOrEqual(t, d, 400*time.Millisecond)

	c, err := s.ScheduleSpec(RunnableFunc(func() {}), "nightly", "daily:03:15")
	require.NoError(t, err)
	assert.Equal(t, KindCron, c.Kind())
	snap := s.Snapshot()
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "15 3 * * *", snap.Entries[1].Spec)
}

func TestSnapshotAndEvents(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.SubscribePrefix(eventbus.TaskScheduled, 4)
	defer unsub()
	s := newService(t, Config{Workers: 3}, bus)

	f, err := s.Schedule(Named("report", RunnableFunc(func() {})), 1, unit.Hours)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.DelayIn(unit.Days))
	assert.InDelta(t, 60, f.DelayIn(unit.Minutes), 1)

	ev := <-events
	assert.Equal(t, "report", ev.Data.(EntryEvent).Name)
	assert.Equal(t, "one-shot", ev.Data.(EntryEvent).Kind)

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Pending)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "pending", snap.Entries[0].State)
	assert.False(t, snap.Entries[0].Next.IsZero())
	assert.Equal(t, 3, snap.Engine.Workers)
}

func TestDefaultNames(t *testing.T) {
	s := newService(t, Config{}, nil)
	f, err := s.Schedule(RunnableFunc(func() {}), 1, unit.Hours)
	require.NoError(t, err)
	assert.Equal(t, "task-1", f.Name())
}

func TestParseShutdownMode(t *testing.T) {
	m, err := ParseShutdownMode("Immediate")
	require.NoError(t, err)
	assert.Equal(t, ShutdownImmediate, m)
	m, err = ParseShutdownMode("")
	require.NoError(t, err)
	assert.Equal(t, ShutdownGraceful, m)
	_, err = ParseShutdownMode("later")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
