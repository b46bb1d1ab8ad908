// Package scheduler provides delayed and periodic task registration on top of
// the task engine.
//
// The scheduler owns timing only:
//   - registering one-shot, fixed-rate, fixed-delay and cron entries
//   - keeping pending entries in a timer heap ordered by due time
//   - handing due entries to the engine from a single timing goroutine
//   - resolving futures and re-arming periodic entries after each run
//
// Task bodies always run on engine workers, never on the timing goroutine.
package scheduler
