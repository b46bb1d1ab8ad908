package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"pewsched/internal/eventbus"
	"pewsched/internal/task/queue"
	"pewsched/internal/task/unit"
	logx "pewsched/pkg/logx"
)

// Schedule registers a one-shot run of t after delay (in u). The future's value
// is the callable's return value, nil for runnables.
func (s *Service) Schedule(t Task, delay int64, u unit.TimeUnit) (*Future, error) {
	if err := checkTask(t, u); err != nil {
		return nil, err
	}
	if delay < 0 {
		return nil, invalidArg("negative delay %d %s", delay, u)
	}
	return s.register(t, registration{kind: KindOneShot, delay: u.ToNanos(delay)})
}

// ScheduleAtFixedRate fires t at delay, delay+every, delay+2*every, ... (in u)
// regardless of how long each run takes. Runs of one entry never overlap: an
// overrun makes the next firing due at once.
func (s *Service) ScheduleAtFixedRate(t Task, every, delay int64, u unit.TimeUnit) (*Future, error) {
	if err := checkTask(t, u); err != nil {
		return nil, err
	}
	if every <= 0 {
		return nil, invalidArg("period must be > 0, got %d %s", every, u)
	}
	if delay < 0 {
		return nil, invalidArg("negative delay %d %s", delay, u)
	}
	return s.register(t, registration{kind: KindFixedRate, delay: u.ToNanos(delay), period: u.ToNanos(every)})
}

// ScheduleWithFixedDelay fires t first after delay, then spacedDelay (in u)
// after each run completes.
func (s *Service) ScheduleWithFixedDelay(t Task, spacedDelay, delay int64, u unit.TimeUnit) (*Future, error) {
	if err := checkTask(t, u); err != nil {
		return nil, err
	}
	if spacedDelay <= 0 {
		return nil, invalidArg("spaced delay must be > 0, got %d %s", spacedDelay, u)
	}
	if delay < 0 {
		return nil, invalidArg("negative delay %d %s", delay, u)
	}
	return s.register(t, registration{kind: KindFixedDelay, delay: u.ToNanos(delay), period: u.ToNanos(spacedDelay)})
}

func checkTask(t Task, u unit.TimeUnit) error {
	if !t.valid() {
		return invalidArg("nil task")
	}
	if !u.Valid() {
		return invalidArg("unknown time unit %d", int(u))
	}
	return nil
}

type registration struct {
	kind   Kind
	delay  int64 // ns
	period int64 // ns
	cron   cron.Schedule
	spec   string
}

func (s *Service) register(t Task, reg registration) (*Future, error) {
	if !t.valid() {
		return nil, invalidArg("nil task")
	}
	fn := t.normalize()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil, ErrRejectedExecution
	}
	due := addSat(s.now(), reg.delay)
	if reg.kind == KindCron {
		d, ok := s.cronDueLocked(reg.cron)
		if !ok {
			s.mu.Unlock()
			return nil, invalidArg("cron %q never fires", reg.spec)
		}
		due = d
	}
	s.nextID++
	id := s.nextID
	name := t.name
	if name == "" {
		name = fmt.Sprintf("task-%d", id)
	}
	e := &entry{
		id:     id,
		key:    fmt.Sprintf("sch-%d", id),
		name:   name,
		kind:   reg.kind,
		fn:     fn,
		period: reg.period,
		first:  due,
		spec:   reg.spec,
		cron:   reg.cron,
	}
	e.item = queue.NewItem(due, e)
	e.fut = newFuture(s, e)
	s.entries[id] = e
	s.q.Push(e.item)
	ev := s.entryEventLocked(e, "")
	s.mu.Unlock()

	s.signal()
	s.publish(eventbus.TaskScheduled, ev)
	if s.log.Enabled(logx.LevelDebug) {
		args := append(logFields(e), logx.Time("next", ev.Next))
		if reg.period > 0 {
			args = append(args, logx.Duration("period", time.Duration(reg.period)))
		}
		if reg.spec != "" {
			args = append(args, logx.String("spec", reg.spec))
		}
		s.log.Debug("task scheduled", args...)
	}
	return e.fut, nil
}
