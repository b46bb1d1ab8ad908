package storage

import (
	"context"
	"time"

	"pewsched/internal/eventbus"
	"pewsched/internal/task/engine"
	logx "pewsched/pkg/logx"
)

const (
	recorderBuffer = 256
	pruneEvery     = time.Hour
	writeTimeout   = 2 * time.Second
)

// Recorder persists finished runs published on the event bus.
type Recorder struct {
	store     Store
	log       logx.Logger
	retention time.Duration

	events <-chan eventbus.Event
	unsub  func()
}

// NewRecorder subscribes to run events right away so nothing published after
// it returns is missed; call Run to start writing.
func NewRecorder(st Store, bus eventbus.Bus, retention time.Duration, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsub := bus.SubscribePrefix("task.", recorderBuffer)
	return &Recorder{store: st, log: log, retention: retention, events: ch, unsub: unsub}
}

// Run writes records until ctx ends. It returns nil on a clean stop.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsub()

	var tick <-chan time.Time
	if r.retention > 0 {
		t := time.NewTicker(pruneEvery)
		defer t.Stop()
		tick = t.C
		r.prune(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case <-tick:
			r.prune(ctx)
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

// drain flushes events already buffered when shutdown begins.
func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.handle(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev eventbus.Event) {
	rec, ok := RecordFromEvent(ev)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := r.store.AppendRun(wctx, rec); err != nil {
		r.log.Warn("run history write failed", logx.String("task", rec.Name), logx.Err(err))
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.store.Prune(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.log.Warn("run history prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		r.log.Info("run history pruned", logx.Int("removed", n), logx.Duration("retention", r.retention))
	}
}

// RecordFromEvent converts a finished or failed run event into a record.
func RecordFromEvent(ev eventbus.Event) (RunRecord, bool) {
	if ev.Type != eventbus.TaskFinished && ev.Type != eventbus.TaskFailed {
		return RunRecord{}, false
	}
	te, ok := ev.Data.(engine.TaskEvent)
	if !ok {
		return RunRecord{}, false
	}
	return RunRecord{
		RunID:      te.RunID,
		TaskID:     te.ID,
		Name:       te.Name,
		Started:    te.Started,
		QueueDelay: te.QueueDelay,
		Duration:   te.Duration,
		OK:         ev.Type == eventbus.TaskFinished,
		Error:      te.Error,
	}, true
}
