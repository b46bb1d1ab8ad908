// Package jobs registers configured jobs with the scheduler and keeps them in
// sync with config reloads. Jobs are tracked by name: a changed job is
// cancelled and registered again, an unchanged one keeps its schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pewsched/internal/config"
	"pewsched/internal/task/scheduler"
	"pewsched/internal/task/unit"
	logx "pewsched/pkg/logx"
)

// Scheduler is the registration surface of scheduler.Service.
type Scheduler interface {
	Schedule(t scheduler.Task, delay int64, u unit.TimeUnit) (*scheduler.Future, error)
	ScheduleAtFixedRate(t scheduler.Task, every, delay int64, u unit.TimeUnit) (*scheduler.Future, error)
	ScheduleWithFixedDelay(t scheduler.Task, spacedDelay, delay int64, u unit.TimeUnit) (*scheduler.Future, error)
	ScheduleSpec(t scheduler.Task, name, schedule string) (*scheduler.Future, error)
}

type job struct {
	cfg config.JobConfig
	fut *scheduler.Future // nil while disabled
}

// Manager owns the futures of configured jobs.
type Manager struct {
	sched Scheduler
	units ServiceController
	log   logx.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// New returns a manager; units may be nil when the systemd action is not
// available.
func New(s Scheduler, units ServiceController, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{sched: s, units: units, log: log.With(logx.String("comp", "jobs")), jobs: map[string]*job{}}
}

// Apply reconciles registered jobs with cfgs. Errors of individual jobs are
// joined; the other jobs are still applied.
func (m *Manager) Apply(cfgs []config.JobConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := make([]config.JobConfig, 0, len(m.jobs))
	for _, j := range m.jobs {
		prev = append(prev, j.cfg)
	}
	diff := config.DiffJobs(prev, cfgs)

	for _, name := range append(diff.Removed, diff.Changed...) {
		m.cancelLocked(name)
	}

	byName := make(map[string]config.JobConfig, len(cfgs))
	for _, c := range cfgs {
		byName[strings.TrimSpace(c.Name)] = c
	}
	var errs []error
	for _, name := range append(diff.Added, diff.Changed...) {
		if err := m.addLocked(byName[name]); err != nil {
			errs = append(errs, err)
		}
	}
	if !diff.Empty() {
		m.log.Info("jobs applied",
			logx.Int("added", len(diff.Added)),
			logx.Int("removed", len(diff.Removed)),
			logx.Int("changed", len(diff.Changed)),
			logx.Int("active", m.activeLocked()),
		)
	}
	return errors.Join(errs...)
}

func (m *Manager) addLocked(c config.JobConfig) error {
	name := strings.TrimSpace(c.Name)
	j := &job{cfg: c}
	m.jobs[name] = j
	if !c.IsEnabled() {
		m.log.Debug("job disabled", logx.String("job", name))
		return nil
	}
	f, err := m.register(c)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	j.fut = f
	f.OnComplete(func(f *scheduler.Future) {
		if _, err := f.Get(context.Background()); err != nil && !errors.Is(err, scheduler.ErrCancelled) {
			m.log.Warn("job stopped", logx.String("job", f.Name()), logx.Err(err))
		}
	})
	m.log.Debug("job registered", logx.String("job", name), logx.String("kind", f.Kind().String()))
	return nil
}

func (m *Manager) cancelLocked(name string) {
	j, ok := m.jobs[name]
	if !ok {
		return
	}
	delete(m.jobs, name)
	if j.fut != nil {
		j.fut.Cancel(false)
	}
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, j := range m.jobs {
		if j.fut != nil && !j.fut.IsDone() {
			n++
		}
	}
	return n
}

func (m *Manager) register(c config.JobConfig) (*scheduler.Future, error) {
	tm, err := parseTiming(c)
	if err != nil {
		return nil, err
	}
	t, err := m.buildTask(c)
	if err != nil {
		return nil, err
	}
	switch tm.kind {
	case kindSpec:
		return m.sched.ScheduleSpec(t, c.Name, tm.schedule)
	case kindOnce:
		return m.sched.Schedule(t, tm.delay, tm.unit)
	case kindRate:
		return m.sched.ScheduleAtFixedRate(t, tm.every, tm.delay, tm.unit)
	default:
		return m.sched.ScheduleWithFixedDelay(t, tm.every, tm.delay, tm.unit)
	}
}

// Future returns the live future of a job, if any.
func (m *Manager) Future(name string) (*scheduler.Future, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok || j.fut == nil {
		return nil, false
	}
	return j.fut, true
}

// Names lists configured job names, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CancelAll cancels every job and forgets them.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.jobs {
		m.cancelLocked(name)
	}
}

// Validate checks timing and action of every enabled job without
// registering anything. It is used to reject a reload before it is applied.
func Validate(cfgs []config.JobConfig) error {
	probe := &Manager{log: logx.Nop()}
	var errs []error
	for _, c := range cfgs {
		if !c.IsEnabled() {
			continue
		}
		name := strings.TrimSpace(c.Name)
		tm, err := parseTiming(c)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", name, err))
			continue
		}
		if tm.kind == kindSpec {
			if err := scheduler.ValidateSchedule(tm.schedule); err != nil {
				errs = append(errs, fmt.Errorf("job %s: %w", name, err))
			}
		}
		if _, err := probe.buildTask(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type timingKind uint8

const (
	kindSpec timingKind = iota
	kindOnce
	kindRate
	kindDelay
)

type timing struct {
	kind     timingKind
	schedule string
	delay    int64
	every    int64
	unit     unit.TimeUnit
}

// parseTiming reads either the schedule string or kind+delay+every+unit.
// Without a kind, every > 0 means fixed-rate and otherwise one-shot.
func parseTiming(c config.JobConfig) (timing, error) {
	if s := strings.TrimSpace(c.Schedule); s != "" {
		if strings.TrimSpace(c.Kind) != "" {
			return timing{}, errors.New("schedule and kind are mutually exclusive")
		}
		return timing{kind: kindSpec, schedule: s}, nil
	}

	tm := timing{delay: c.Delay, every: c.Every, unit: unit.Seconds}
	if strings.TrimSpace(c.Unit) != "" {
		u, err := unit.Parse(c.Unit)
		if err != nil {
			return timing{}, err
		}
		tm.unit = u
	}
	if tm.delay < 0 {
		return timing{}, fmt.Errorf("negative delay %d", tm.delay)
	}

	switch strings.ToLower(strings.TrimSpace(c.Kind)) {
	case "":
		if tm.every > 0 {
			tm.kind = kindRate
		} else {
			tm.kind = kindOnce
		}
	case "once", "one-shot", "oneshot":
		tm.kind = kindOnce
	case "fixed-rate", "rate":
		tm.kind = kindRate
	case "fixed-delay", "delay":
		tm.kind = kindDelay
	default:
		return timing{}, fmt.Errorf("unknown kind %q", c.Kind)
	}
	if tm.kind == kindOnce && tm.every > 0 {
		return timing{}, fmt.Errorf("kind %s does not take every", c.Kind)
	}
	if (tm.kind == kindRate || tm.kind == kindDelay) && tm.every <= 0 {
		return timing{}, fmt.Errorf("%s needs every > 0", c.Kind)
	}
	return tm, nil
}
