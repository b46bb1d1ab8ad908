package scheduler

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"pewsched/internal/eventbus"
	rtsup "pewsched/internal/runtime/supervisor"
	"pewsched/internal/task/engine"
	"pewsched/internal/task/queue"
	logx "pewsched/pkg/logx"
)

// idleWait is how long the timing loop sleeps with an empty heap. Any insert
// wakes it earlier.
const idleWait = time.Hour

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	loc    *time.Location
	parser cron.Parser

	eng *engine.Service
	sup *rtsup.Supervisor

	// Due times are nanoseconds on the monotonic clock since epoch.
	epoch  time.Time
	q      *queue.Queue[*entry]
	wake   chan struct{}
	nextID uint64

	entries  map[uint64]*entry // non-terminal entries
	queued   map[string]*entry // handed to the engine, not claimed by a worker yet
	inflight int               // handed to the engine, not completed or dropped yet

	started    bool
	shutdown   bool
	immediate  bool // pending entries were discarded
	terminated bool
	termCh     chan struct{}
	stoppedCh  chan struct{}

	warnMu sync.Mutex
	warn   map[string]*rate.Limiter
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		loc:       loadLocation(cfg.Timezone, log),
		parser:    cronParser,
		eng:       engine.New(engine.Config{Workers: cfg.Workers, HistorySize: cfg.HistorySize}, log, bus),
		epoch:     time.Now(),
		q:         queue.New[*entry](),
		wake:      make(chan struct{}, 1),
		entries:   map[uint64]*entry{},
		queued:    map[string]*entry{},
		termCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		warn:      map[string]*rate.Limiter{},
	}
}

// Start launches the engine workers and the timing loop. Entries registered
// before Start fire once it runs. Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrRejectedExecution
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	pending := s.q.Len()
	s.mu.Unlock()

	if err := s.eng.Start(ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.sup = nil
		s.mu.Unlock()
		sup.Cancel()
		return err
	}
	sup.GoRestart("timing", s.loop, rtsup.WithPublishFirstError(true))
	s.log.Info("scheduler started",
		logx.Int("workers", s.eng.Snapshot().Workers),
		logx.Int("pending", pending),
		logx.String("tz", s.loc.String()),
		logx.Bool("interrupt_on_cancel", s.cfg.InterruptOnCancel),
	)
	return nil
}

// loop is the timing goroutine. It moves due entries to the engine and never
// runs task bodies itself.
func (s *Service) loop(ctx context.Context) error {
	timer := time.NewTimer(idleWait)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if s.terminated {
			s.mu.Unlock()
			return nil
		}
		var notes []notice
		for _, it := range s.q.PopReady(s.now()) {
			if n, ok := s.dispatchLocked(it.Value); ok {
				notes = append(notes, n)
			}
		}
		wait := idleWait
		if top, ok := s.q.Peek(); ok {
			wait = max(time.Duration(top.Due-s.now()), 0)
		}
		s.checkTerminatedLocked()
		s.mu.Unlock()
		s.flush(notes)

		if wait == 0 {
			continue
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// dispatchLocked hands e to the engine. On failure the entry is cancelled and
// a notice is returned. Call with s.mu held.
func (s *Service) dispatchLocked(e *entry) (notice, bool) {
	s.inflight++
	s.queued[e.key] = e
	err := s.eng.Enqueue(engine.Task{
		ID:      e.key,
		Name:    e.name,
		Claim:   func() bool { return s.claim(e) },
		Run:     func(ctx context.Context) error { return s.run(ctx, e) },
		Done:    func(r engine.Result) { s.complete(e, r) },
		Dropped: func() { s.drop(e) },
	})
	if err == nil {
		return notice{}, false
	}
	s.inflight--
	delete(s.queued, e.key)
	s.reportDispatchError(e, err)
	return s.resolveLocked(e, StateCancelled, nil, ErrCancelled, eventbus.TaskDiscarded, "dispatch failed"), true
}

// claim moves a dispatched entry to running. A false return makes the worker
// skip it (the entry was cancelled while it waited for a slot).
func (s *Service) claim(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queued, e.key)
	if e.fut.state != StatePending {
		return false
	}
	e.fut.state = StateRunning
	return true
}

func (s *Service) run(ctx context.Context, e *entry) error {
	s.mu.Lock()
	if e.fut.state != StateRunning {
		// Interrupted between claim and run.
		s.mu.Unlock()
		return ErrCancelled
	}
	rctx, cancel := context.WithCancel(ctx)
	e.runCancel = cancel
	fn := e.fn
	s.mu.Unlock()
	defer cancel()

	v, err := fn(rctx)

	s.mu.Lock()
	e.lastValue = v
	s.mu.Unlock()
	return err
}

// complete is the engine's Done hook: it resolves the future or re-arms a
// periodic entry.
func (s *Service) complete(e *entry, r engine.Result) {
	s.mu.Lock()
	s.inflight--
	f := e.fut
	f.runs++
	e.runCancel = nil
	v := e.lastValue
	e.lastValue = nil

	var notes []notice
	rearmed := false
	switch {
	case f.state == StateCancelled:
		// Interrupted; already resolved by Cancel.
	case f.cancelReq:
		notes = append(notes, s.resolveLocked(e, StateCancelled, nil, ErrCancelled, eventbus.TaskCancelled, "cancel"))
	case r.Err != nil:
		xerr := &ExecutionError{TaskID: e.id, Name: e.name, Err: r.Err}
		if e.kind.Periodic() {
			notes = append(notes, s.resolveLocked(e, StateFailed, nil, xerr, eventbus.TaskSuppressed, "failed"))
		} else {
			notes = append(notes, s.resolveLocked(e, StateFailed, nil, xerr, "", ""))
		}
		s.reportFailure(e, r.Err)
	case !e.kind.Periodic():
		notes = append(notes, s.resolveLocked(e, StateCompleted, v, nil, "", ""))
	case s.shutdown:
		notes = append(notes, s.resolveLocked(e, StateCancelled, nil, ErrCancelled, eventbus.TaskCancelled, "shutdown"))
	default:
		next, ok := s.nextDueLocked(e)
		if !ok {
			notes = append(notes, s.resolveLocked(e, StateCompleted, nil, nil, "", "schedule exhausted"))
			break
		}
		f.state = StatePending
		e.item.Due = next
		s.q.Push(e.item)
		rearmed = true
	}
	s.checkTerminatedLocked()
	s.mu.Unlock()

	if rearmed {
		s.signal()
	}
	s.flush(notes)
}

// drop is the engine's Dropped hook: the entry never ran.
func (s *Service) drop(e *entry) {
	s.mu.Lock()
	s.inflight--
	delete(s.queued, e.key)
	var notes []notice
	if e.fut.state == StatePending {
		notes = append(notes, s.resolveLocked(e, StateCancelled, nil, ErrCancelled, eventbus.TaskDiscarded, "dropped"))
	}
	s.checkTerminatedLocked()
	s.mu.Unlock()
	s.flush(notes)
}

func (s *Service) nextDueLocked(e *entry) (int64, bool) {
	switch e.kind {
	case KindFixedRate:
		// Anchored on the first due time: a slow run makes the next firing due
		// at once, later ones catch up on the original grid.
		return addSat(e.first, mulSat(int64(e.fut.runs), e.period)), true
	case KindFixedDelay:
		return addSat(s.now(), e.period), true
	case KindCron:
		return s.cronDueLocked(e.cron)
	default:
		return 0, false
	}
}

func (s *Service) cronDueLocked(sched cron.Schedule) (int64, bool) {
	wall := time.Now().In(s.loc)
	next := sched.Next(wall)
	if next.IsZero() {
		return 0, false
	}
	return addSat(s.now(), int64(max(next.Sub(wall), 0))), true
}

// Shutdown stops accepting registrations and waits until the scheduler
// terminates or ctx ends. In ShutdownImmediate mode the futures of the
// discarded entries are returned, already cancelled.
//
// Do not call Shutdown with an unbounded ctx from inside a task body: the
// calling run counts as in flight and termination would wait for it.
func (s *Service) Shutdown(ctx context.Context, mode ShutdownMode) ([]*Future, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	var (
		notes     []notice
		discarded []*Future
	)
	first := !s.shutdown
	s.shutdown = true
	escalate := false
	switch {
	case first && (mode == ShutdownImmediate || !s.started):
		// Nothing could ever fire pending entries of a scheduler that never started.
		s.immediate = true
		notes, discarded = s.discardAllLocked()
	case first:
		notes = s.drainPeriodicLocked()
	case mode == ShutdownImmediate && !s.immediate:
		// A graceful shutdown that takes too long can be turned into an immediate one.
		s.immediate = true
		escalate = true
		notes, discarded = s.discardAllLocked()
	}
	if first {
		for _, e := range s.entries {
			if e.kind.Periodic() && e.fut.state == StateRunning {
				e.fut.cancelReq = true
			}
		}
	}
	s.checkTerminatedLocked()
	pending := s.q.Len()
	inflight := s.inflight
	s.mu.Unlock()

	s.signal()
	s.flush(notes)
	if first || escalate {
		s.log.Info("scheduler shutdown requested",
			logx.String("mode", mode.String()),
			logx.Int("discarded", len(discarded)),
			logx.Int("pending", pending),
			logx.Int("in_flight", inflight),
		)
	}
	return discarded, s.AwaitTermination(ctx)
}

// discardAllLocked cancels every entry waiting in the heap or in the engine
// queue and returns their futures, engine-queued ones first.
func (s *Service) discardAllLocked() ([]notice, []*Future) {
	var (
		notes     []notice
		discarded []*Future
	)
	for _, t := range s.eng.Discard() {
		e := s.queued[t.ID]
		if e == nil {
			continue
		}
		delete(s.queued, t.ID)
		s.inflight--
		if e.fut.state == StatePending {
			notes = append(notes, s.resolveLocked(e, StateCancelled, nil, ErrCancelled, eventbus.TaskDiscarded, "shutdown"))
			discarded = append(discarded, e.fut)
		}
	}
	for _, it := range s.q.Drain() {
		e := it.Value
		notes = append(notes, s.resolveLocked(e, StateCancelled, nil, ErrCancelled, eventbus.TaskDiscarded, "shutdown"))
		discarded = append(discarded, e.fut)
	}
	return notes, discarded
}

// drainPeriodicLocked cancels pending periodic entries and keeps one-shots
// in the heap so they still fire.
func (s *Service) drainPeriodicLocked() []notice {
	var (
		notes []notice
		keep  []*queue.Item[*entry]
	)
	for _, it := range s.q.Drain() {
		if it.Value.kind.Periodic() {
			notes = append(notes, s.resolveLocked(it.Value, StateCancelled, nil, ErrCancelled, eventbus.TaskCancelled, "shutdown"))
			continue
		}
		keep = append(keep, it)
	}
	// Drain order is (due, seq), so re-pushing keeps the relative order.
	for _, it := range keep {
		s.q.Push(it)
	}
	for _, e := range s.queued {
		if e.kind.Periodic() && e.fut.state == StatePending {
			notes = append(notes, s.resolveLocked(e, StateCancelled, nil, ErrCancelled, eventbus.TaskCancelled, "shutdown"))
		}
	}
	return notes
}

// AwaitTermination blocks until shutdown completed and every worker exited.
func (s *Service) AwaitTermination(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Service) IsTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// checkTerminatedLocked flips to terminated once shutdown began and nothing is
// pending or in flight. Call with s.mu held.
func (s *Service) checkTerminatedLocked() {
	if !s.shutdown || s.terminated || s.q.Len() > 0 || s.inflight > 0 {
		return
	}
	s.terminated = true
	close(s.termCh)
	s.signal()
	go s.teardown()
}

func (s *Service) teardown() {
	start := time.Now()
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	if err := s.eng.Stop(context.Background()); err != nil {
		s.log.Warn("engine stop failed", logx.Err(err))
	}
	if sup != nil {
		if err := sup.Stop(context.Background()); err != nil {
			s.log.Warn("timing loop stopped with error", logx.Err(err))
		}
	}
	s.log.Info("scheduler terminated", logx.Duration("took", time.Since(start)))
	close(s.stoppedCh)
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) now() int64 { return int64(time.Since(s.epoch)) }

func (s *Service) wallTime(due int64) time.Time { return s.epoch.Add(time.Duration(due)) }

// notice carries the side effects of a state change out of the lock.
type notice struct {
	f     *Future
	fire  []func(*Future)
	topic string
	ev    EntryEvent
}

// resolveLocked finishes e's future. Call with s.mu held.
func (s *Service) resolveLocked(e *entry, st State, v any, err error, topic, reason string) notice {
	fire := e.fut.finishLocked(st, v, err)
	return notice{f: e.fut, fire: fire, topic: topic, ev: s.entryEventLocked(e, reason)}
}

func (s *Service) entryEventLocked(e *entry, reason string) EntryEvent {
	ev := EntryEvent{ID: e.id, Name: e.name, Kind: e.kind.String(), Runs: e.fut.runs, Reason: reason}
	if e.item.Queued() {
		ev.Next = s.wallTime(e.item.Due)
	}
	return ev
}

func (s *Service) flush(notes []notice) {
	for _, n := range notes {
		if n.topic != "" {
			s.publish(n.topic, n.ev)
		}
		if n.ev.Reason != "" {
			s.log.Debug("task resolved", logx.String("task", n.ev.Name), logx.Uint64("id", n.ev.ID), logx.String("state", n.f.State().String()), logx.String("reason", n.ev.Reason))
		}
		runListeners(n.f, n.fire)
	}
}

func (s *Service) publish(topic string, ev EntryEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: ev})
}

func logFields(e *entry) []logx.Field {
	return []logx.Field{logx.String("task", e.name), logx.Uint64("id", e.id), logx.String("kind", e.kind.String())}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func mulSat(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}
