package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retention drops runs older than this on Prune; 0 keeps everything.
	Retention time.Duration
}

// RunRecord is one finished task run. Keep it compact and schema-stable.
type RunRecord struct {
	RunID      string        `json:"run_id"`
	TaskID     string        `json:"task_id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
}

// RunQuery filters ListRuns. Results are newest first.
type RunQuery struct {
	Name  string // exact task name; empty matches all
	Limit int    // <= 0 means 50
}

func (q RunQuery) limit() int {
	if q.Limit <= 0 {
		return 50
	}
	return q.Limit
}
