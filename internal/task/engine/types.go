package engine

import (
	"context"
	"time"
)

// Config controls the worker pool.
//
// The scheduler owns timing; the engine only executes what it is handed.
type Config struct {
	// Workers is the number of execution slots (default 2).
	Workers int

	// HistorySize bounds the in-memory ring of finished runs (default 200).
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Task is a unit of work executed by the engine.
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error

	// Claim, if set, is called by the worker right before Run. Returning false
	// skips the task: Run and Done are not called, Dropped is.
	Claim func() bool

	// Done is called on the worker goroutine after Run returns.
	// Result.Err carries the run error, including recovered panics.
	Done func(r Result)

	// Dropped is called when the task is discarded before a worker picked it up.
	Dropped func()
}

// Result describes one finished run.
type Result struct {
	TaskID     string
	RunID      string
	Name       string
	Enqueued   time.Time
	Started    time.Time
	Finished   time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Err        error
}

type HistoryItem struct {
	ID         string
	RunID      string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool
	Stopping bool
	Workers  int
	QueueLen int
	InFlight int

	Executed uint64
	Failed   uint64
	Dropped  uint64
	Skipped  uint64

	History []HistoryItem
}
