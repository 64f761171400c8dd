package gst

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock only moves when told to.
type manualClock struct{ now atomic.Uint64 }

func (m *manualClock) InternalTime(*Clock) ClockTime { return ClockTime(m.now.Load()) }
func (m *manualClock) Resolution(*Clock) ClockTime   { return Millisecond }

func (m *manualClock) advance(d ClockTime) { m.now.Add(uint64(d)) }

func TestClockCalibration(t *testing.T) {
	mc := &manualClock{}
	c := NewClock("manual", mc)
	mc.advance(10 * Second)
	assert.Equal(t, 10*Second, c.Time())

	c.SetCalibration(10*Second, 100*Second, 2, 1)
	mc.advance(Second)
	assert.Equal(t, 102*Second, c.Time())
	assert.Equal(t, 11*Second, c.UnadjustUnlocked(102*Second))

	// time never goes backwards, even after a recalibration
	c.SetCalibration(0, 0, 1, 1)
	assert.Equal(t, 102*Second, c.Time())

	assert.Equal(t, Millisecond, c.Resolution())
	assert.Equal(t, Millisecond, c.SetResolution(Microsecond), "resolution is fixed without a hook")
}

func TestClockSingleShot(t *testing.T) {
	c := SystemClock()

	id := c.NewSingleShotID(c.Time() + 5*Millisecond)
	ret, jitter := id.Wait()
	assert.Equal(t, ClockOK, ret)
	assert.GreaterOrEqual(t, jitter, ClockTimeDiff(0))

	late := c.NewSingleShotID(c.Time())
	ret, jitter = late.Wait()
	assert.Equal(t, ClockEarly, ret)
	assert.GreaterOrEqual(t, jitter, ClockTimeDiff(0))

	ret, _ = c.NewSingleShotID(ClockTimeNone).Wait()
	assert.Equal(t, ClockBadtime, ret)
}

func TestClockJitterIsPositiveWhenLate(t *testing.T) {
	mc := &manualClock{}
	mc.advance(5 * Second)
	c := NewClock("late", mc)

	ret, jitter := c.NewSingleShotID(4 * Second).Wait()
	assert.Equal(t, ClockEarly, ret)
	assert.Equal(t, ClockTimeDiff(Second), jitter)
}

// wakeClock leaves async waits pending until WakeID is called.
type wakeClock struct{ manualClock }

func (*wakeClock) WaitAsync(*Clock, *ClockID) ClockReturn { return ClockOK }

func TestClockWakeID(t *testing.T) {
	impl := &wakeClock{}
	impl.now.Store(uint64(1000 * Second))
	c := NewClock("wake", impl)
	id := c.NewSingleShotID(c.Time() + 10*Millisecond)

	var calls atomic.Int32
	fired := make(chan ClockTime, 2)
	require.Equal(t, ClockOK, id.WaitAsync(func(_ *Clock, at ClockTime, _ *ClockID) bool {
		calls.Add(1)
		fired <- at
		return true
	}))
	assert.Equal(t, ClockBusy, id.Status())

	go c.WakeID(id)
	assert.Equal(t, 1000*Second+10*Millisecond, <-fired)
	assert.Equal(t, ClockOK, id.Status())

	c.WakeID(id)
	assert.Equal(t, int32(1), calls.Load(), "a second wake does nothing")
}

func TestClockUnschedule(t *testing.T) {
	c := SystemClock()
	id := c.NewSingleShotID(c.Time() + 3600*Second)
	done := make(chan ClockReturn)
	go func() {
		ret, _ := id.Wait()
		done <- ret
	}()
	require.Eventually(t, func() bool { return id.Status() == ClockBusy }, time.Second, time.Millisecond)
	id.Unschedule()
	assert.Equal(t, ClockUnscheduled, <-done)
	<-id.Unscheduled()

	// unscheduled ids stay unscheduled
	id.Unschedule()
	ret, _ := id.Wait()
	assert.Equal(t, ClockUnscheduled, ret)
	assert.Equal(t, ClockUnscheduled, id.WaitAsync(nil))
}

func TestClockPeriodicAsync(t *testing.T) {
	c := SystemClock()
	start := c.Time() + Millisecond
	id := c.NewPeriodicID(start, 2*Millisecond)
	assert.Equal(t, 2*Millisecond, id.Interval())

	var fired atomic.Int32
	var last atomic.Uint64
	require.Equal(t, ClockOK, id.WaitAsync(func(_ *Clock, at ClockTime, _ *ClockID) bool {
		fired.Add(1)
		last.Store(uint64(at))
		return true
	}))
	require.Eventually(t, func() bool { return fired.Load() >= 3 }, 5*time.Second, time.Millisecond)
	id.Unschedule()
	assert.GreaterOrEqual(t, ClockTime(last.Load()), start+4*Millisecond)

	n := fired.Load()
	time.Sleep(10 * time.Millisecond)
	assert.LessOrEqual(t, fired.Load(), n+1, "callbacks stop once unscheduled")
}

func TestClockWaitForSync(t *testing.T) {
	c := NewClock("needs-sync", &manualClock{})
	c.SetSynced(false)
	assert.False(t, c.WaitForSync(Millisecond))

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.SetSynced(true)
	}()
	assert.True(t, c.WaitForSync(5*Second))
	assert.True(t, c.IsSynced())
}
