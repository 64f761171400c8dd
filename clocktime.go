package gst

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

// ClockTime is a time value in nanoseconds. ClockTimeNone marks an unset value.
type ClockTime uint64

// ClockTimeDiff is a signed difference between two ClockTimes.
type ClockTimeDiff int64

const (
	ClockTimeNone ClockTime = ^ClockTime(0)

	Nanosecond  ClockTime = 1
	Microsecond           = 1000 * Nanosecond
	Millisecond           = 1000 * Microsecond
	Second                = 1000 * Millisecond
)

// ClockTimeFromDuration converts a non-negative duration.
func ClockTimeFromDuration(d time.Duration) ClockTime {
	if d < 0 {
		return 0
	}
	return ClockTime(d)
}

// IsValid reports whether t is set.
func (t ClockTime) IsValid() bool { return t != ClockTimeNone }

// Duration converts a valid ClockTime to a time.Duration.
func (t ClockTime) Duration() time.Duration {
	if !t.IsValid() {
		return 0
	}
	return time.Duration(t)
}

// Seconds returns the whole seconds of t.
func (t ClockTime) Seconds() uint64 { return uint64(t / Second) }

// Add adds two ClockTimes, propagating None.
func (t ClockTime) Add(o ClockTime) ClockTime {
	if !t.IsValid() || !o.IsValid() {
		return ClockTimeNone
	}
	return t + o
}

// Diff returns o - t.
func (t ClockTime) Diff(o ClockTime) ClockTimeDiff {
	return ClockTimeDiff(o) - ClockTimeDiff(t)
}

func (t ClockTime) String() string {
	if !t.IsValid() {
		return "99:99:99.999999999"
	}
	u := uint64(t)
	return fmt.Sprintf("%d:%02d:%02d.%09d", u/(3600*uint64(Second)),
		(u/(60*uint64(Second)))%60, (u/uint64(Second))%60, u%uint64(Second))
}

// Uint64Scale returns val*num/denom rounded down without intermediate
// overflow. A zero denom or a result beyond 64 bits yields math.MaxUint64.
func Uint64Scale(val, num, denom uint64) uint64 {
	if denom == 0 {
		return math.MaxUint64
	}
	hi, lo := bits.Mul64(val, num)
	if hi >= denom {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, denom)
	return q
}

// Format identifies the unit of a value in segments, queries and seeks.
type Format int

const (
	FormatUndefined Format = iota
	FormatDefault
	FormatBytes
	FormatTime
	FormatBuffers
	FormatPercent
)

// PercentMax is the FormatPercent value meaning 100%.
const PercentMax = 1000000

func (f Format) String() string {
	switch f {
	case FormatUndefined:
		return "undefined"
	case FormatDefault:
		return "default"
	case FormatBytes:
		return "bytes"
	case FormatTime:
		return "time"
	case FormatBuffers:
		return "buffers"
	case FormatPercent:
		return "percent"
	default:
		return "unknown"
	}
}

// FormattedValue couples a value with its Format. Value -1 means "none".
type FormattedValue struct {
	Format Format
	Value  int64
}

// TimeValue wraps a ClockTime as a FormattedValue.
func TimeValue(t ClockTime) FormattedValue {
	if !t.IsValid() {
		return FormattedValue{Format: FormatTime, Value: -1}
	}
	return FormattedValue{Format: FormatTime, Value: int64(t)}
}

// ClockTime returns the value as ClockTime when the format is FormatTime.
func (v FormattedValue) ClockTime() (ClockTime, bool) {
	if v.Format != FormatTime {
		return ClockTimeNone, false
	}
	if v.Value < 0 {
		return ClockTimeNone, true
	}
	return ClockTime(v.Value), true
}
