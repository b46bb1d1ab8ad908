package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	logx "pewsched/pkg/logx"
)

// Validate checks the parts of the config that don't need the scheduler:
// durations, enum-like strings and job name uniqueness. Schedules are checked
// by the jobs package.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Logging.Journal.RatePerSec < 0 {
		add(errors.New("logging.journal.rate_per_sec: must be >= 0"))
	}
	if c.Scheduler.Workers < 0 {
		add(errors.New("scheduler.workers: must be >= 0"))
	}
	if c.Scheduler.HistorySize < 0 {
		add(errors.New("scheduler.history_size: must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Scheduler.ShutdownMode)) {
	case "", "graceful", "drain", "immediate", "now":
	default:
		add(fmt.Errorf("scheduler.shutdown_mode: unknown mode %q", c.Scheduler.ShutdownMode))
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	_, err := ParseDurationField("scheduler.shutdown_timeout", c.Scheduler.ShutdownTimeout)
	add(err)
	_, err = ParseDurationField("scheduler.failure_warn_every", c.Scheduler.FailureWarnEvery)
	add(err)

	if st := c.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(errors.New("storage.path: required for driver " + st.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
		_, err = ParseDurationField("storage.retention", st.Retention)
		add(err)
	}

	_, err = ParseDurationField("metrics.read_timeout", c.Metrics.ReadTimeout)
	add(err)
	_, err = ParseDurationField("metrics.write_timeout", c.Metrics.WriteTimeout)
	add(err)

	seen := make(map[string]struct{}, len(c.Jobs))
	for i, j := range c.Jobs {
		name := strings.TrimSpace(j.Name)
		path := fmt.Sprintf("jobs[%d]", i)
		if name == "" {
			add(errors.New(path + ".name: required"))
			continue
		}
		path = "jobs." + name
		if _, dup := seen[name]; dup {
			add(errors.New(path + ": duplicate job name"))
		}
		seen[name] = struct{}{}
		_, err = ParseDurationField(path+".timeout", j.Timeout)
		add(err)
		switch strings.ToLower(strings.TrimSpace(j.Action)) {
		case "", "log":
		case "exec":
			if strings.TrimSpace(j.Command) == "" {
				add(errors.New(path + ".command: required for exec action"))
			}
		case "systemd":
			if strings.TrimSpace(j.Service) == "" {
				add(errors.New(path + ".service: required for systemd action"))
			}
			switch strings.ToLower(strings.TrimSpace(j.Op)) {
			case "", "start", "stop", "restart":
			default:
				add(fmt.Errorf("%s.op: unknown op %q", path, j.Op))
			}
		default:
			add(fmt.Errorf("%s.action: unknown action %q", path, j.Action))
		}
	}
	return errors.Join(errs...)
}

// LogConfig maps the logging section onto logx.
func (c *Config) LogConfig() logx.Config {
	if c == nil {
		return logx.Config{Level: "info", Console: true}
	}
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Journal: logx.JournalConfig{
			Enabled:    c.Logging.Journal.Enabled,
			MinLevel:   c.Logging.Journal.MinLevel,
			RatePerSec: c.Logging.Journal.RatePerSec,
		},
	}
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
