package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "pewsched/pkg/logx"
)

// cronParser accepts 5 or 6 fields (leading seconds optional) and descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether schedule would be accepted by ScheduleSpec.
func ValidateSchedule(schedule string) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if ps.Kind == SpecCron {
		if _, err := cronParser.Parse(ps.Cron); err != nil {
			return invalidArg("cron %q: %v", ps.Cron, err)
		}
	}
	return nil
}

// ScheduleCron registers t as a periodic entry on a cron expression (5 or 6
// fields, descriptors like "@hourly" or "@every 55m"), evaluated in the
// configured timezone. The next firing is the first match after the previous
// run ended, so runs never overlap.
func (s *Service) ScheduleCron(t Task, name, expr string) (*Future, error) {
	if !t.valid() {
		return nil, invalidArg("nil task")
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, invalidArg("cron expression required")
	}
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return nil, invalidArg("cron %q: %v", expr, err)
	}
	if strings.TrimSpace(name) != "" {
		t = Named(name, t)
	}
	f, err := s.register(t, registration{kind: KindCron, cron: sched, spec: expr})
	if err != nil {
		return nil, err
	}
	if next := s.previewNextRuns(sched, 4); next != "" {
		s.log.Debug("cron registered", logx.String("task", f.Name()), logx.String("spec", expr), logx.String("next", next))
	}
	return f, nil
}

// ScheduleSpec parses schedule (see ParseSchedule) and registers t either as a
// cron entry or as a fixed-rate entry. Interval entries get a random startup
// spread so that many of them registered together do not fire in lockstep.
func (s *Service) ScheduleSpec(t Task, name, schedule string) (*Future, error) {
	if !t.valid() {
		return nil, invalidArg("nil task")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	switch ps.Kind {
	case SpecCron:
		return s.ScheduleCron(t, name, ps.Cron)
	case SpecInterval:
		if strings.TrimSpace(name) != "" {
			t = Named(name, t)
		}
		jitter := startupSpread(ps.Every, t.name)
		return s.register(t, registration{
			kind:   KindFixedRate,
			delay:  int64(ps.Every + jitter),
			period: int64(ps.Every),
			spec:   strings.TrimSpace(schedule),
		})
	default:
		return nil, invalidArg("unsupported schedule kind")
	}
}

// previewNextRuns returns a short, human-friendly list of upcoming run times.
func (s *Service) previewNextRuns(sched cron.Schedule, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	t := time.Now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
