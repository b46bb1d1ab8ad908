package engine

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
	logx "pewsched/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestEnqueueBeforeStart(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, s.Enqueue(Task{Name: "x"}), ErrNilRun)
}

func TestFIFOWithSingleWorker(t *testing.T) {
	s := startEngine(t, Config{Workers: 1}, nil)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, s.Enqueue(Task{
			Name: "seq",
			Run: func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			},
			Done: func(Result) { wg.Done() },
		}))
	}
	wg.Wait()

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

func TestWorkersRunInParallel(t *testing.T) {
	s := startEngine(t, Config{Workers: 3}, nil)

	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		require.NoError(t, s.Enqueue(Task{
			Name: "par",
			Run: func(context.Context) error {
				n := cur.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				cur.Add(-1)
				return nil
			},
			Done: func(Result) { wg.Done() },
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(3), peak.Load())
}

func TestPanicBecomesRunError(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.SubscribePrefix("task.", 8)
	defer unsub()
	s := startEngine(t, Config{Workers: 1}, bus)

	done := make(chan Result, 1)
	require.NoError(t, s.Enqueue(Task{
		Name: "bad",
		Run:  func(context.Context) error { panic("kaboom") },
		Done: func(r Result) { done <- r },
	}))

	r := <-done
	require.Error(t, r.Err)
	assert.True(t, IsPanic(r.Err))
	assert.NotEmpty(t, r.RunID)

	// The worker survives and keeps executing.
	ok := make(chan Result, 1)
	require.NoError(t, s.Enqueue(Task{Name: "good", Run: func(context.Context) error { return nil }, Done: func(r Result) { ok <- r }}))
	assert.NoError(t, (<-ok).Err)

	assert.Equal(t, eventbus.TaskStarted, (<-events).Type)
	failed := <-events
	assert.Equal(t, eventbus.TaskFailed, failed.Type)
	assert.Equal(t, "bad", failed.Data.(TaskEvent).Name)

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Executed)
	assert.Equal(t, uint64(1), snap.Failed)
	require.Len(t, snap.History, 2)
	assert.Equal(t, "panic: kaboom", snap.History[0].Error)
}

func TestStopDrainsQueue(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop(), nil)
	require.NoError(t, s.Start(context.Background()))

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Enqueue(Task{Name: "d", Run: func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
			return nil
		}}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int32(5), ran.Load())
	assert.ErrorIs(t, s.Enqueue(Task{Name: "late", Run: func(context.Context) error { return nil }}), ErrStopped)
}

func TestDiscardReturnsQueued(t *testing.T) {
	s := startEngine(t, Config{Workers: 1}, nil)

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "blocker", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started

	for _, n := range []string{"a", "b"} {
		require.NoError(t, s.Enqueue(Task{Name: n, Run: func(context.Context) error { return errors.New("should not run") }}))
	}
	got := s.Discard()
	close(block)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, uint64(2), s.Snapshot().Dropped)
}

func TestClaimRejectedSkipsRun(t *testing.T) {
	s := startEngine(t, Config{Workers: 1}, nil)

	dropped := make(chan struct{})
	var ran atomic.Bool
	require.NoError(t, s.Enqueue(Task{
		Name:    "skip",
		Claim:   func() bool { return false },
		Run:     func(context.Context) error { ran.Store(true); return nil },
		Done:    func(Result) { ran.Store(true) },
		Dropped: func() { close(dropped) },
	}))

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("Dropped was not called for a rejected claim")
	}
	assert.False(t, ran.Load())
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Skipped)
	assert.Equal(t, uint64(0), snap.Executed)
}
