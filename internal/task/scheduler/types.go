package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pewsched/internal/task/engine"
	"pewsched/internal/task/queue"
)

// Config controls the scheduler and the engine it owns.
type Config struct {
	// Workers and HistorySize are passed to the engine.
	Workers     int
	HistorySize int

	// InterruptOnCancel lets Cancel(true) cancel the context of a running task.
	// When false, cancelling a running task always waits for the run to end.
	InterruptOnCancel bool

	// Timezone is the IANA zone used for cron entries (default Local).
	Timezone string

	// FailureWarnEvery throttles failure warnings per entry name (default 5s).
	FailureWarnEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureWarnEvery <= 0 {
		c.FailureWarnEvery = 5 * time.Second
	}
	return c
}

// ShutdownMode selects what happens to pending entries on Shutdown.
type ShutdownMode int

const (
	// ShutdownGraceful keeps pending one-shot entries (they still fire on schedule),
	// cancels periodic entries and waits for everything to drain.
	ShutdownGraceful ShutdownMode = iota
	// ShutdownImmediate discards every pending entry and returns their futures.
	// Runs already in progress finish.
	ShutdownImmediate
)

func (m ShutdownMode) String() string {
	if m == ShutdownImmediate {
		return "immediate"
	}
	return "graceful"
}

// ParseShutdownMode accepts "graceful" (or "") and "immediate".
func ParseShutdownMode(s string) (ShutdownMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "graceful", "drain":
		return ShutdownGraceful, nil
	case "immediate", "now":
		return ShutdownImmediate, nil
	default:
		return ShutdownGraceful, invalidArg("unknown shutdown mode %q", s)
	}
}

// Kind is the timing policy of an entry.
type Kind int

const (
	KindOneShot Kind = iota
	KindFixedRate
	KindFixedDelay
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindOneShot:
		return "one-shot"
	case KindFixedRate:
		return "fixed-rate"
	case KindFixedDelay:
		return "fixed-delay"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

func (k Kind) Periodic() bool { return k != KindOneShot }

// entry is one registration. While pending it sits in the heap through item;
// while dispatched or running it is tracked by inflight. Never both.
type entry struct {
	id     uint64
	key    string
	name   string
	kind   Kind
	fn     func(ctx context.Context) (any, error)
	period int64 // ns, fixed-rate and fixed-delay
	first  int64 // initial due, anchor for fixed-rate
	spec   string
	cron   cron.Schedule

	item *queue.Item[*entry]
	fut  *Future

	// guarded by Service.mu
	runCancel context.CancelFunc
	lastValue any
}

type EntryInfo struct {
	ID    uint64
	Name  string
	Kind  string
	Spec  string
	State string
	Runs  uint64
	Next  time.Time
}

// EntryEvent is the payload of scheduler events on the bus.
type EntryEvent struct {
	ID     uint64    `json:"id"`
	Name   string    `json:"name"`
	Kind   string    `json:"kind"`
	Next   time.Time `json:"next,omitzero"`
	Runs   uint64    `json:"runs"`
	Reason string    `json:"reason,omitempty"`
}

type Snapshot struct {
	Shutdown   bool
	Terminated bool
	Timezone   string

	Pending  int
	InFlight int
	Entries  []EntryInfo

	Engine engine.Snapshot
}
