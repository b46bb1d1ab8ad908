package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pewsched/internal/eventbus"
	"pewsched/internal/task/engine"
	"pewsched/internal/task/scheduler"
)

const namespace = "pewsched"

// Stats is a point-in-time view sampled on every scrape.
type Stats struct {
	Pending  int
	InFlight int
	QueueLen int
	Workers  int
}

// Metrics holds the collectors for one registry. Tests use their own registry;
// the daemon uses a fresh one with the Go and process collectors added.
type Metrics struct {
	Registry *prometheus.Registry

	Scheduled   *prometheus.CounterVec
	Resolved    *prometheus.CounterVec
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	QueueDelay  prometheus.Histogram
}

// NewMetrics registers every collector on a new registry. stats and bus may be nil.
func NewMetrics(stats func() Stats, bus eventbus.Bus) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		Registry: reg,

		Scheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "scheduled_total",
			Help:      "Entries registered, labelled by kind.",
		}, []string{"kind"}),

		Resolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "resolved_total",
			Help:      "Entries ended without completing, labelled by outcome (cancelled, suppressed, discarded).",
		}, []string{"outcome"}),

		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Task runs finished, labelled by task name and status.",
		}, []string{"task", "status"}),

		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Task body execution time in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"task"}),

		QueueDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "queue_delay_seconds",
			Help:      "Time between a run becoming due and a worker starting it.",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	if stats != nil {
		gauge := func(name, help string, pick func(Stats) int) {
			f.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "scheduler", Name: name, Help: help},
				func() float64 { return float64(pick(stats())) })
		}
		gauge("pending_entries", "Entries waiting in the timer heap.", func(s Stats) int { return s.Pending })
		gauge("inflight_entries", "Entries handed to the engine and not finished.", func(s Stats) int { return s.InFlight })
		gauge("engine_queue_length", "Runs waiting for a free worker.", func(s Stats) int { return s.QueueLen })
		gauge("workers", "Configured worker goroutines.", func(s Stats) int { return s.Workers })
	}
	if bus != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber was full.",
		}, func() float64 { return float64(eventbus.Dropped(bus)) })
	}
	return m
}

// Observe updates counters from one bus event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TaskScheduled:
		if d, ok := ev.Data.(scheduler.EntryEvent); ok {
			m.Scheduled.WithLabelValues(d.Kind).Inc()
		}
	case eventbus.TaskCancelled:
		m.Resolved.WithLabelValues("cancelled").Inc()
	case eventbus.TaskSuppressed:
		m.Resolved.WithLabelValues("suppressed").Inc()
	case eventbus.TaskDiscarded:
		m.Resolved.WithLabelValues("discarded").Inc()
	case eventbus.TaskFinished, eventbus.TaskFailed:
		d, ok := ev.Data.(engine.TaskEvent)
		if !ok {
			return
		}
		status := "ok"
		if ev.Type == eventbus.TaskFailed {
			status = "failed"
		}
		m.Runs.WithLabelValues(d.Name, status).Inc()
		m.RunDuration.WithLabelValues(d.Name).Observe(d.Duration.Seconds())
	case eventbus.TaskStarted:
		if d, ok := ev.Data.(engine.TaskEvent); ok {
			m.QueueDelay.Observe(d.QueueDelay.Seconds())
		}
	}
}

// Consume feeds events into m until ctx ends or the subscription closes.
func (m *Metrics) Consume(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}
