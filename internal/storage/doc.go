// Package storage persists the scheduler's run history.
//
// Two drivers are available:
//   - "file": append-only JSON Lines, compacted on prune
//   - "sqlite": a SQLite database (pure Go driver, no cgo)
//
// Only finished runs are stored; pending entries live in memory and are not
// restored after a restart.
package storage
