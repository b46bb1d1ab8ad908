package app

import (
	"strings"
	"time"

	"pewsched/internal/config"
	"pewsched/internal/storage"
	"pewsched/internal/task/scheduler"
	"pewsched/internal/telemetry"
	logx "pewsched/pkg/logx"
)

const defaultShutdownTimeout = 30 * time.Second

// Durations below were checked by config.Validate, so parse errors fall back
// to defaults instead of being reported twice.

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	sc := cfg.Scheduler
	return scheduler.Config{
		Workers:           sc.Workers,
		HistorySize:       sc.HistorySize,
		InterruptOnCancel: sc.InterruptOnCancel,
		Timezone:          strings.TrimSpace(sc.Timezone),
		FailureWarnEvery:  config.DurationOr(sc.FailureWarnEvery, 0),
	}
}

func mapShutdown(cfg *config.Config) (scheduler.ShutdownMode, time.Duration) {
	mode, err := scheduler.ParseShutdownMode(cfg.Scheduler.ShutdownMode)
	if err != nil {
		mode = scheduler.ShutdownGraceful
	}
	return mode, config.DurationOr(cfg.Scheduler.ShutdownTimeout, defaultShutdownTimeout)
}

// mapStorageConfig returns enabled=false when storage is omitted or "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: config.DurationOr(sc.BusyTimeout, time.Second),
		Retention:   config.DurationOr(sc.Retention, 0),
	}, true
}

func mapServerConfig(cfg *config.Config) telemetry.ServerConfig {
	mc := cfg.Metrics
	return telemetry.ServerConfig{
		Enabled:       mc.Enabled,
		Addr:          strings.TrimSpace(mc.Addr),
		Token:         strings.TrimSpace(mc.Token),
		AllowInsecure: mc.AllowInsecure,
		Pprof:         mc.Pprof,
		ReadTimeout:   config.DurationOr(mc.ReadTimeout, 0),
		WriteTimeout:  config.DurationOr(mc.WriteTimeout, 0),
	}
}

// OpenStore opens the configured run history store. It returns (nil, nil)
// when storage is disabled.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled := mapStorageConfig(cfg)
	if !enabled {
		return nil, nil
	}
	return storage.Open(sc, log)
}
