package jobs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"pewsched/internal/config"
	"pewsched/internal/task/scheduler"
	logx "pewsched/pkg/logx"
	"pewsched/pkg/systemdmanager"
)

const (
	defaultTimeout = 30 * time.Second
	// outputTail caps how much exec output is kept in the run value and errors.
	outputTail = 4 << 10
)

// ServiceController is the part of systemdmanager.ServiceManager the systemd
// action needs.
type ServiceController interface {
	Do(ctx context.Context, op systemdmanager.Op, service string) error
}

type actionFunc func(ctx context.Context) (any, error)

// buildTask turns a job into a scheduler task named after the job. The run
// context carries the job timeout.
func (m *Manager) buildTask(j config.JobConfig) (scheduler.Task, error) {
	name := strings.TrimSpace(j.Name)
	timeout := config.DurationOr(j.Timeout, defaultTimeout)

	var act actionFunc
	switch strings.ToLower(strings.TrimSpace(j.Action)) {
	case "", "log":
		act = m.logAction(name, j.Message)
	case "exec":
		if strings.TrimSpace(j.Command) == "" {
			return scheduler.Task{}, fmt.Errorf("job %s: exec action needs a command", name)
		}
		act = execAction(name, j)
	case "systemd":
		op, err := systemdmanager.ParseOp(j.Op)
		if err != nil {
			return scheduler.Task{}, fmt.Errorf("job %s: %w", name, err)
		}
		if strings.TrimSpace(j.Service) == "" {
			return scheduler.Task{}, fmt.Errorf("job %s: systemd action needs a service", name)
		}
		act = m.systemdAction(op, j.Service)
	default:
		return scheduler.Task{}, fmt.Errorf("job %s: unknown action %q", name, j.Action)
	}

	log := m.log.With(logx.String("job", name))
	keepGoing := j.ContinueOnError
	run := func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		v, err := act(ctx)
		if err != nil && keepGoing {
			log.Warn("job run failed; keeping schedule", logx.Err(err))
			return v, nil
		}
		return v, err
	}
	return scheduler.Named(name, scheduler.Callable(run)), nil
}

func (m *Manager) logAction(name, msg string) actionFunc {
	if strings.TrimSpace(msg) == "" {
		msg = "job fired"
	}
	log := m.log.With(logx.String("job", name))
	return func(context.Context) (any, error) {
		log.Info(msg)
		return msg, nil
	}
}

// execAction runs the command directly (no shell). The value of a run is the
// tail of its combined output.
func execAction(name string, j config.JobConfig) actionFunc {
	args := append([]string(nil), j.Args...)
	return func(ctx context.Context) (any, error) {
		cmd := exec.CommandContext(ctx, j.Command, args...)
		cmd.Dir = j.Dir
		cmd.Env = append(os.Environ(), "PEWSCHED_JOB="+name)
		// Don't hang on grandchildren holding the output pipe after a kill.
		cmd.WaitDelay = time.Second
		out, err := cmd.CombinedOutput()
		tail := tailString(out, outputTail)
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			if tail != "" {
				return tail, fmt.Errorf("exec %s: %w: %s", j.Command, err, tail)
			}
			return nil, fmt.Errorf("exec %s: %w", j.Command, err)
		}
		return tail, nil
	}
}

func (m *Manager) systemdAction(op systemdmanager.Op, service string) actionFunc {
	return func(ctx context.Context) (any, error) {
		if m.units == nil {
			return nil, systemdmanager.ErrUnsupported
		}
		if err := m.units.Do(ctx, op, service); err != nil {
			return nil, err
		}
		return string(op) + " " + systemdmanager.UnitName(service), nil
	}
}

// tailString keeps at most the last n bytes of b, cut on a rune boundary.
func tailString(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return "..." + s[i:]
}
