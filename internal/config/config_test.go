package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}, "journal": {"enabled": true, "min_level": "error"}},
  "scheduler": {"workers": 4, "timezone": "UTC", "shutdown_mode": "immediate", "shutdown_timeout": "10s"},
  "storage": {"driver": "sqlite", "path": "./state/schedd.db", "retention": "168h"},
  "metrics": {"enabled": true, "addr": "127.0.0.1:9464"},
  "jobs": [
    {"name": "heartbeat", "schedule": "every:30s", "message": "alive"},
    {"name": "backup", "kind": "fixed-delay", "every": 5, "delay": 1, "unit": "m", "action": "exec", "command": "/usr/bin/true", "timeout": "1m"}
  ]
}`

const sampleYAML = `
logging:
  level: debug
  console: true
  journal:
    enabled: true
    min_level: error
scheduler:
  workers: 4
  timezone: UTC
  shutdown_mode: immediate
  shutdown_timeout: 10s
storage:
  driver: sqlite
  path: ./state/schedd.db
  retention: 168h
metrics:
  enabled: true
  addr: 127.0.0.1:9464
jobs:
  - name: heartbeat
    schedule: "every:30s"
    message: alive
  - name: backup
    kind: fixed-delay
    every: 5
    delay: 1
    unit: m
    action: exec
    command: /usr/bin/true
    timeout: 1m
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadJSONAndYAMLAgree(t *testing.T) {
	j, err := NewConfigManager(writeFile(t, "config.json", sampleJSON)).Load()
	require.NoError(t, err)
	y, err := NewConfigManager(writeFile(t, "config.yaml", sampleYAML)).Load()
	require.NoError(t, err)

	assert.Equal(t, j, y)
	assert.Equal(t, 4, y.Scheduler.Workers)
	require.Len(t, y.Jobs, 2)
	assert.Equal(t, "exec", y.Jobs[1].Action)
	assert.Equal(t, int64(5), y.Jobs[1].Every)
	assert.True(t, y.Jobs[0].IsEnabled())

	lc := y.LogConfig()
	assert.True(t, lc.Journal.Enabled)
	assert.Equal(t, "error", lc.Journal.MinLevel)
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"unknown top-level":  `{"jobz": []}`,
		"unknown job field":  `{"jobs": [{"name": "a", "evry": 3}]}`,
		"trailing data":      `{} {}`,
		"bad duration":       `{"scheduler": {"shutdown_timeout": "soon"}}`,
		"negative duration":  `{"storage": {"driver": "file", "path": "x", "retention": "-1h"}}`,
		"duplicate job":      `{"jobs": [{"name": "a"}, {"name": "a"}]}`,
		"missing job name":   `{"jobs": [{"schedule": "every:1s"}]}`,
		"exec without cmd":   `{"jobs": [{"name": "a", "action": "exec"}]}`,
		"unknown action":     `{"jobs": [{"name": "a", "action": "mail"}]}`,
		"systemd no service": `{"jobs": [{"name": "a", "action": "systemd"}]}`,
		"systemd bad op":     `{"jobs": [{"name": "a", "action": "systemd", "service": "nginx", "op": "reload"}]}`,
		"unknown driver":     `{"storage": {"driver": "redis"}}`,
		"missing path":       `{"storage": {"driver": "file"}}`,
		"bad mode":           `{"scheduler": {"shutdown_mode": "later"}}`,
		"bad timezone":       `{"scheduler": {"timezone": "Mars/Olympus"}}`,
		"bad journal rate":   `{"logging": {"journal": {"enabled": true, "rate_per_sec": -1}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode("config.json", []byte(body))
			assert.Error(t, err)
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	cfg, err := Decode("c.yml", []byte("# nothing yet\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Jobs)
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseDurationOrDefault("x", "0s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseDurationField("x", "-2s")
	assert.ErrorContains(t, err, "x: duration must be >= 0")

	assert.Equal(t, time.Second, DurationOr("nope", time.Second))
	assert.Equal(t, 3*time.Second, DurationOr("3s", time.Second))
}

func TestDiffJobs(t *testing.T) {
	oldJobs := []JobConfig{{Name: "a", Schedule: "every:1s"}, {Name: "b"}, {Name: "c"}}
	newJobs := []JobConfig{{Name: "a", Schedule: "every:2s"}, {Name: "c"}, {Name: "d"}}

	d := DiffJobs(oldJobs, newJobs)
	assert.Equal(t, []string{"d"}, d.Added)
	assert.Equal(t, []string{"b"}, d.Removed)
	assert.Equal(t, []string{"a"}, d.Changed)
	assert.True(t, DiffJobs(newJobs, newJobs).Empty())
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Metrics: MetricsConfig{Enabled: true, Token: "old"}}
	b := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Metrics: MetricsConfig{Enabled: true, Token: "new"},
		Jobs:    []JobConfig{{Name: "x"}},
	}
	changed, attrs, jobs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"jobs", "logging", "metrics"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"x"}, jobs.Added)

	changed, _, _ = SummarizeConfigChange(nil, nil)
	assert.Empty(t, changed)
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	p := writeFile(t, "config.json", `{"jobs": [{"name": "a", "schedule": "every:1s"}]}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ok, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(p, []byte(`{"jobs": [{"name": "a", "schedule": "every:2s"}]}`), 0o600))
	ok, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	got := <-ch
	assert.Equal(t, "every:2s", got.Jobs[0].Schedule)
	assert.Same(t, got, m.Get())
}

func TestReloadValidatorRejects(t *testing.T) {
	p := writeFile(t, "config.json", `{}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })

	require.NoError(t, os.WriteFile(p, []byte(`{"jobs": [{"name": "a"}]}`), 0o600))
	ok, err := m.Reload(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, m.Get().Jobs)
}

func TestWatchPicksUpWrites(t *testing.T) {
	p := writeFile(t, "config.yaml", "jobs: []\n")
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("jobs:\n  - name: late\n    schedule: every:1m\n"), 0o600))

	select {
	case cfg := <-ch:
		require.Len(t, cfg.Jobs, 1)
		assert.Equal(t, "late", cfg.Jobs[0].Name)
	case <-time.After(3 * time.Second):
		t.Fatal("no config published after write")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	m.Unsubscribe(nil)
}
