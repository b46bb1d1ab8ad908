package unit

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToNanos(t *testing.T) {
	t.Parallel()
	tests := []struct {
		u    TimeUnit
		v    int64
		want int64
	}{
		{Nanoseconds, 7, 7},
		{Microseconds, 3, 3000},
		{Milliseconds, 2, int64(2 * time.Millisecond)},
		{Seconds, 1, int64(time.Second)},
		{Minutes, 2, int64(2 * time.Minute)},
		{Hours, 1, int64(time.Hour)},
		{Days, 1, int64(24 * time.Hour)},
		{Seconds, -1, -int64(time.Second)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.u.ToNanos(tt.v), "%d %s", tt.v, tt.u)
	}
}

func TestToNanosSaturates(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(math.MaxInt64), Days.ToNanos(math.MaxInt64/2))
	assert.Equal(t, int64(math.MinInt64), Days.ToNanos(math.MinInt64/2))
}

func TestConvert(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(60), Minutes.Convert(1, Hours))
	assert.Equal(t, int64(30), Minutes.Convert(30, Minutes))
	assert.Equal(t, int64(1), Seconds.Convert(1999, Milliseconds))
	assert.Equal(t, int64(86400000), Milliseconds.Convert(1, Days))
	assert.Equal(t, int64(0), Days.Convert(23, Hours))
}

func TestParse(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]TimeUnit{
		"ns":      Nanoseconds,
		"µs":      Microseconds,
		"MS":      Milliseconds,
		"seconds": Seconds,
		"min":     Minutes,
		"h":       Hours,
		" day ":   Days,
	} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Parse("fortnight")
	assert.Error(t, err)
}

func TestInvalidUnit(t *testing.T) {
	t.Parallel()
	u := TimeUnit(42)
	assert.False(t, u.Valid())
	assert.Equal(t, "TimeUnit(42)", u.String())
	assert.Zero(t, u.ToNanos(5))
}
