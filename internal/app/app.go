package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pewsched/internal/config"
	"pewsched/internal/eventbus"
	"pewsched/internal/jobs"
	"pewsched/internal/runtime/supervisor"
	"pewsched/internal/storage"
	"pewsched/internal/task/scheduler"
	"pewsched/internal/telemetry"
	logx "pewsched/pkg/logx"
	"pewsched/pkg/systemdmanager"
)

type App struct {
	cfgm *config.ConfigManager

	// sup runs config watch/reload and the watchdog; bg runs the event
	// consumers, which must outlive the scheduler drain on Stop.
	sup *supervisor.Supervisor
	bg  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	rec   *storage.Recorder

	sched   *scheduler.Service
	jobs    *jobs.Manager
	units   *systemdmanager.ServiceManager
	metrics *telemetry.Metrics
	http    *telemetry.Server

	notify func(state string)
}

// New loads the config and builds every component without starting any.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := jobs.Validate(cfg.Jobs); err != nil {
		return nil, fmt.Errorf("invalid jobs: %w", err)
	}

	logSvc, log := logx.NewService(cfg.LogConfig())
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := OpenStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	var rec *storage.Recorder
	if store != nil {
		sc, _ := mapStorageConfig(cfg)
		rec = storage.NewRecorder(store, bus, sc.Retention, log.With(logx.String("comp", "recorder")))
		log.Info("run history enabled", logx.String("driver", sc.Driver))
	}

	sched := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), bus)
	units := systemdmanager.New()

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		rec:    rec,
		sched:  sched,
		jobs:   jobs.New(sched, units, log),
		units:  units,
		notify: sdNotifier(log.With(logx.String("comp", "systemd"))),
	}
	a.metrics = telemetry.NewMetrics(a.stats, bus)
	a.http = telemetry.NewServer(mapServerConfig(cfg), a.metrics, a.health, log.With(logx.String("comp", "metrics")))
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Jobs() *jobs.Manager           { return a.jobs }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) stats() telemetry.Stats {
	snap := a.sched.Snapshot()
	return telemetry.Stats{
		Pending:  snap.Pending,
		InFlight: snap.InFlight,
		QueueLen: snap.Engine.QueueLen,
		Workers:  snap.Engine.Workers,
	}
}

func (a *App) health() error {
	switch {
	case a.sched.IsTerminated():
		return errors.New("scheduler terminated")
	case a.sched.IsShutdown():
		return errors.New("scheduler shutting down")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	// The scheduler and the event consumers only stop through Stop, so a
	// signal that cancels ctx still lets the graceful drain happen.
	runCtx := context.WithoutCancel(ctx)
	a.bg = supervisor.New(runCtx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return jobs.Validate(cfg.Jobs)
	})

	if a.rec != nil {
		a.bg.Go("storage.recorder", a.rec.Run)
	}
	events, unsub := a.bus.Subscribe(256)
	a.bg.Go("metrics.consume", func(c context.Context) error {
		defer unsub()
		return a.metrics.Consume(c, events)
	})

	if err := a.sched.Start(runCtx); err != nil {
		return err
	}
	if err := a.jobs.Apply(a.cfgm.Get().Jobs); err != nil {
		// One bad job must not keep the others from running.
		a.log.Warn("some jobs were not registered", logx.Err(err))
	}

	if err := a.http.Start(); err != nil {
		a.log.Warn("metrics server not started", logx.Err(err))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", a.watchdog)

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("jobs", len(a.jobs.Names())))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.notify(daemon.SdNotifyReloading)
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
			a.notify(daemon.SdNotifyReady)
		}
	}
}

// applyConfig applies the hot-reloadable sections: logging, metrics and jobs.
// Scheduler and storage settings need a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, jobDiff := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(newCfg.LogConfig())
		case "metrics":
			if err := a.http.Reconfigure(ctx, mapServerConfig(newCfg)); err != nil {
				a.log.Warn("metrics reconfigure failed", logx.Err(err))
			}
		case "jobs":
			a.log.Debug("job changes",
				logx.Any("added", jobDiff.Added),
				logx.Any("removed", jobDiff.Removed),
				logx.Any("changed", jobDiff.Changed),
			)
			if err := a.jobs.Apply(newCfg.Jobs); err != nil {
				a.log.Warn("some jobs were not registered", logx.Err(err))
			}
		case "scheduler", "storage":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	a.log.Info("config reloaded", fields...)
}

// Stop shuts the scheduler down with the configured mode and timeout, then
// stops the consumers, the metrics server and storage, in that order.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	// First, cancel the app run context so config loops stop applying changes.
	a.sup.Cancel()

	mode, timeout := mapShutdown(a.cfgm.Get())
	schedErr := a.step(ctx, "scheduler", timeout, func(c context.Context) error {
		discarded, err := a.sched.Shutdown(c, mode)
		if len(discarded) > 0 {
			a.log.Info("pending entries discarded", logx.Int("count", len(discarded)), logx.String("mode", mode.String()))
		}
		return err
	})
	if schedErr != nil {
		// Give up waiting for the drain: drop whatever is still pending.
		escCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		rest, _ := a.sched.Shutdown(escCtx, scheduler.ShutdownImmediate)
		cancel()
		if len(rest) > 0 {
			a.log.Warn("entries discarded after shutdown timeout", logx.Int("count", len(rest)))
		}
	}
	a.step(ctx, "consumers", 2*time.Second, func(c context.Context) error {
		a.bg.Cancel()
		return a.bg.Wait(c)
	})
	a.step(ctx, "metrics", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "systemd", time.Second, func(context.Context) error { return a.units.Close() })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	// Finally, wait for supervised goroutines (config watch/reload, watchdog).
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return schedErr
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended. It returns
// the step's error, or the context error when the bound was hit.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it doesn't, log when it eventually returns.
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
		return stepCtx.Err()
	}
}
