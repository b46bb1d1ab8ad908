// Package unit converts scheduling amounts between time granularities.
//
// Every amount is normalized to nanoseconds before it reaches the scheduler.
// Conversions saturate at math.MaxInt64 / math.MinInt64 instead of overflowing.
package unit

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// TimeUnit is a granularity for delays and periods.
type TimeUnit int

const (
	Nanoseconds TimeUnit = iota
	Microseconds
	Milliseconds
	Seconds
	Minutes
	Hours
	Days
)

// nanos per unit, indexed by TimeUnit.
var scale = [...]int64{
	Nanoseconds:  1,
	Microseconds: int64(time.Microsecond),
	Milliseconds: int64(time.Millisecond),
	Seconds:      int64(time.Second),
	Minutes:      int64(time.Minute),
	Hours:        int64(time.Hour),
	Days:         24 * int64(time.Hour),
}

var names = [...]string{
	Nanoseconds:  "nanoseconds",
	Microseconds: "microseconds",
	Milliseconds: "milliseconds",
	Seconds:      "seconds",
	Minutes:      "minutes",
	Hours:        "hours",
	Days:         "days",
}

// Valid reports whether u is one of the declared units.
func (u TimeUnit) Valid() bool { return u >= Nanoseconds && u <= Days }

func (u TimeUnit) String() string {
	if !u.Valid() {
		return fmt.Sprintf("TimeUnit(%d)", int(u))
	}
	return names[u]
}

// Duration returns the length of one u.
func (u TimeUnit) Duration() time.Duration {
	if !u.Valid() {
		return 0
	}
	return time.Duration(scale[u])
}

// ToNanos converts v units of u to nanoseconds.
func (u TimeUnit) ToNanos(v int64) int64 {
	if !u.Valid() {
		return 0
	}
	return mulSat(v, scale[u])
}

// ToDuration is ToNanos typed as time.Duration.
func (u TimeUnit) ToDuration(v int64) time.Duration { return time.Duration(u.ToNanos(v)) }

// Convert converts v expressed in from into u, truncating toward zero.
func (u TimeUnit) Convert(v int64, from TimeUnit) int64 {
	if !u.Valid() || !from.Valid() {
		return 0
	}
	if from == u {
		return v
	}
	if from > u {
		return mulSat(v, scale[from]/scale[u])
	}
	return v / (scale[u] / scale[from])
}

func mulSat(v, m int64) int64 {
	if v == 0 || m == 1 {
		return v
	}
	if v > 0 && v > math.MaxInt64/m {
		return math.MaxInt64
	}
	if v < 0 && v < math.MinInt64/m {
		return math.MinInt64
	}
	return v * m
}

// Parse accepts short ("ms", "s", "min") and long ("milliseconds", "second") unit names.
func Parse(s string) (TimeUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ns", "nanos", "nanosecond", "nanoseconds":
		return Nanoseconds, nil
	case "us", "µs", "micros", "microsecond", "microseconds":
		return Microseconds, nil
	case "ms", "millis", "millisecond", "milliseconds":
		return Milliseconds, nil
	case "s", "sec", "second", "seconds":
		return Seconds, nil
	case "m", "min", "minute", "minutes":
		return Minutes, nil
	case "h", "hour", "hours":
		return Hours, nil
	case "d", "day", "days":
		return Days, nil
	default:
		return 0, fmt.Errorf("unknown time unit %q", s)
	}
}
