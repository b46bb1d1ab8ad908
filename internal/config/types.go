package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the timing core and the worker engine it owns.
	Scheduler SchedulerConfig `json:"scheduler"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Metrics MetricsConfig  `json:"metrics,omitempty"`

	// Jobs are (re)registered by name on every reload.
	Jobs []JobConfig `json:"jobs"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Journal LoggingJournal `json:"journal,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingJournal forwards warnings and errors to journald when running
// under systemd.
type LoggingJournal struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`    // default warn
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default 20
}

// SchedulerConfig controls the scheduler service.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - history_size: 200
//   - timezone: Local
//   - shutdown_mode: "graceful"
//   - shutdown_timeout: "30s"
//   - failure_warn_every: "5s"
type SchedulerConfig struct {
	Workers     int `json:"workers,omitempty"`
	HistorySize int `json:"history_size,omitempty"`

	// InterruptOnCancel lets Cancel(true) cancel a running task's context.
	InterruptOnCancel bool `json:"interrupt_on_cancel,omitempty"`

	Timezone string `json:"timezone,omitempty"`

	ShutdownMode     string `json:"shutdown_mode,omitempty"`
	ShutdownTimeout  string `json:"shutdown_timeout,omitempty"`
	FailureWarnEvery string `json:"failure_warn_every,omitempty"`
}

// StorageConfig controls run history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./state/schedd.db", "retention": "168h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retention   string `json:"retention,omitempty"`    // "0s" keeps everything
}

// MetricsConfig controls the Prometheus HTTP endpoint.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// JobConfig describes one scheduled job.
//
// Timing is given either as a schedule string ("every:5m", "cron:0 3 * * *",
// "daily:03:15", ...) or as kind + delay + every + unit:
//
//	{ "name": "tick", "kind": "fixed-rate", "every": 10, "delay": 0, "unit": "s" }
//
// Kinds: "once", "fixed-rate", "fixed-delay".
type JobConfig struct {
	Name     string `json:"name"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`

	Kind  string `json:"kind,omitempty"`
	Delay int64  `json:"delay,omitempty"`
	Every int64  `json:"every,omitempty"`
	Unit  string `json:"unit,omitempty"` // default "s"

	// Action is "log" (default), "exec" or "systemd".
	Action  string   `json:"action,omitempty"`
	Message string   `json:"message,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Timeout string   `json:"timeout,omitempty"` // default 30s

	// ContinueOnError keeps a periodic job scheduled after a failed run.
	// By default the first failure stops it.
	ContinueOnError bool `json:"continue_on_error,omitempty"`

	// Service and Op drive the systemd action: op is start|stop|restart
	// (default restart) on <service>.service.
	Service string `json:"service,omitempty"`
	Op      string `json:"op,omitempty"`
}

// IsEnabled treats an omitted "enabled" as true.
func (j JobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }

// UnmarshalJSON disallows unknown fields so typos in a job ("evry") are
// caught on reload instead of silently producing a different schedule.
func (j *JobConfig) UnmarshalJSON(b []byte) error {
	type plain JobConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t plain
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*j = JobConfig(t)
	return nil
}
