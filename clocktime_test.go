package gst

import (
	"math"
	"math/big"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockTimeBasics(t *testing.T) {
	assert.Equal(t, "0:00:01.500000000", (1500 * Millisecond).String())
	assert.Equal(t, "99:99:99.999999999", ClockTimeNone.String())
	assert.Equal(t, 2*Second, ClockTimeFromDuration(2*time.Second))
	assert.Equal(t, 3*time.Second, (3 * Second).Duration())
	assert.Equal(t, ClockTimeNone, Second.Add(ClockTimeNone))
	assert.Equal(t, ClockTimeDiff(Second), Second.Diff(2*Second))
	assert.Equal(t, ClockTimeDiff(-int64(Second)), (2 * Second).Diff(Second))
}

func TestUint64ScaleProperties(t *testing.T) {
	assert.Equal(t, uint64(math.MaxUint64), Uint64Scale(1, 1, 0))
	assert.Equal(t, uint64(math.MaxUint64), Uint64Scale(math.MaxUint64, 2, 1))
	assert.Equal(t, uint64(1001), Uint64Scale(30000, 1001, 30000))

	r := rand.New(rand.NewPCG(7, 11))
	for range 2000 {
		val, num, denom := r.Uint64(), r.Uint64N(1<<40)+1, r.Uint64N(1<<40)+1

		assert.Equal(t, val, Uint64Scale(val, denom, denom))

		want := new(big.Int).Mul(new(big.Int).SetUint64(val), new(big.Int).SetUint64(num))
		want.Quo(want, new(big.Int).SetUint64(denom))
		got := Uint64Scale(val, num, denom)
		if want.IsUint64() {
			require.Equal(t, want.Uint64(), got, "%d*%d/%d", val, num, denom)
		} else {
			require.Equal(t, uint64(math.MaxUint64), got, "%d*%d/%d overflows", val, num, denom)
		}
	}
}

func TestSegmentRunningTimeProperties(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	for range 1000 {
		start := r.Uint64N(100 * sec)
		stop := start + r.Uint64N(100*sec) + 1
		s := timeSegment(start, stop, r.Uint64N(10*sec))
		if r.IntN(2) == 0 {
			s.Rate = -1
		}
		pos := start + r.Uint64N(stop-start+1)

		rt, ok := s.ToRunningTime(FormatTime, pos)
		require.True(t, ok)
		assert.GreaterOrEqual(t, rt, s.Base)
		back, ok := s.PositionFromRunningTime(FormatTime, rt)
		require.True(t, ok)
		require.Equal(t, pos, back, "rate %v segment %s", s.Rate, s)

		// running time moves with playback direction
		if pos < stop {
			next, ok := s.ToRunningTime(FormatTime, pos+1)
			require.True(t, ok)
			if s.Rate > 0 {
				assert.Greater(t, next, rt)
			} else {
				assert.Less(t, next, rt)
			}
		}
	}
}
