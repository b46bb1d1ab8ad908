package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pewsched/internal/eventbus"
	rtsup "pewsched/internal/runtime/supervisor"
	logx "pewsched/pkg/logx"
)

// Service is a fixed-size worker pool with an unbounded FIFO queue.
//
// Enqueue never blocks: callers on latency-sensitive paths (the scheduler's timing
// loop) hand work over and return immediately.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	pending []queuedTask
	wake    chan struct{}

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	running  bool
	stopping bool

	inFlight atomic.Int32
	executed atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
	skipped  atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem

	idSeq atomic.Uint64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg.withDefaults(),
		log:  log,
		bus:  bus,
		wake: make(chan struct{}, 1),
	}
}

// Start launches the workers. It is idempotent while running.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		stopping := s.stopping
		s.mu.Unlock()
		if stopping {
			return ErrStopping
		}
		return nil
	}
	cfg := s.cfg
	s.stopCh = make(chan struct{})
	s.running = true
	s.stopping = false
	stopCh := s.stopCh
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		// Task panics are recovered in execOne; a restart only happens if the loop itself breaks.
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers))
	return nil
}

// Stop stops accepting tasks, lets workers drain the queue and waits for them.
// If ctx ends first, workers are canceled and queued tasks are dropped.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	sup := s.sup
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	s.mu.Unlock()

	err := sup.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}
	for _, t := range s.Discard() {
		if t.Dropped != nil {
			t.Dropped()
		}
	}

	s.mu.Lock()
	s.running = false
	s.stopping = false
	s.sup = nil
	s.mu.Unlock()
	s.log.Info("task engine stopped")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Enqueue appends t to the FIFO queue without blocking.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return ErrNilRun
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		t.Name = "task"
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = s.newTaskID(now)
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.stopping {
		s.mu.Unlock()
		return ErrStopping
	}
	s.pending = append(s.pending, queuedTask{task: t, enqueuedAt: now})
	s.mu.Unlock()

	s.signal()
	return nil
}

// Discard removes every queued task that has not started yet and returns them in
// queue order. Dropped callbacks are not invoked; the caller decides.
func (s *Service) Discard() []Task {
	s.mu.Lock()
	q := s.pending
	s.pending = nil
	s.mu.Unlock()

	out := make([]Task, 0, len(q))
	for _, qt := range q {
		out = append(out, qt.task)
	}
	s.dropped.Add(uint64(len(out)))
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	ql := len(s.pending)
	running := s.running
	stopping := s.stopping
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Running:  running,
		Stopping: stopping,
		Workers:  cfg.Workers,
		QueueLen: ql,
		InFlight: int(s.inFlight.Load()),
		Executed: s.executed.Load(),
		Failed:   s.failed.Load(),
		Dropped:  s.dropped.Load(),
		Skipped:  s.skipped.Load(),
		History:  h,
	}
}

// next pops the queue head. It re-posts the wake token when more work remains so
// that other idle workers pick it up.
func (s *Service) next() (queuedTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return queuedTask{}, false
	}
	qt := s.pending[0]
	s.pending[0] = queuedTask{}
	s.pending = s.pending[1:]
	if len(s.pending) > 0 {
		s.signal()
	}
	return qt, true
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) newTaskID(now time.Time) string {
	seq := s.idSeq.Add(1)
	return fmt.Sprintf("tsk-%x-%x", now.UnixNano(), seq)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}
