package gst

import (
	"sync"
	"sync/atomic"
	"time"
)

// ClockImpl is implemented by custom clocks. Optional hooks are detected with
// ClockWaitImpl, ClockWaitAsyncImpl, ClockUnscheduleImpl and
// ClockChangeResolutionImpl; missing ones fall back to timer based waiting on the
// clock's own time.
type ClockImpl interface {
	InternalTime(c *Clock) ClockTime
	Resolution(c *Clock) ClockTime
}

type ClockWaitImpl interface {
	Wait(c *Clock, id *ClockID) (ClockReturn, ClockTimeDiff)
}

type ClockWaitAsyncImpl interface {
	WaitAsync(c *Clock, id *ClockID) ClockReturn
}

type ClockUnscheduleImpl interface {
	Unschedule(c *Clock, id *ClockID)
}

type ClockChangeResolutionImpl interface {
	ChangeResolution(c *Clock, old, req ClockTime) ClockTime
}

// ClockCallback runs when an async wait completes.
type ClockCallback func(c *Clock, t ClockTime, id *ClockID) bool

// Clock flags.
const (
	ClockFlagCanDoSingleSync    ObjectFlags = ObjectFlagLast << 0
	ClockFlagCanDoSingleAsync   ObjectFlags = ObjectFlagLast << 1
	ClockFlagCanDoPeriodicSync  ObjectFlags = ObjectFlagLast << 2
	ClockFlagCanDoPeriodicAsync ObjectFlags = ObjectFlagLast << 3
	ClockFlagCanSetResolution   ObjectFlags = ObjectFlagLast << 4
	ClockFlagCanSetMaster       ObjectFlags = ObjectFlagLast << 5
	ClockFlagNeedsStartupSync   ObjectFlags = ObjectFlagLast << 6
)

// Clock is a monotonic time source producing ids to wait on.
type Clock struct {
	Object

	impl ClockImpl

	// calibration, protected by the object lock
	internal   ClockTime
	external   ClockTime
	rateNum    ClockTime
	rateDenom  ClockTime
	resolution ClockTime
	last       ClockTime

	synced     atomic.Bool
	syncedCond chan struct{}
}

// NewClock returns a clock backed by impl.
func NewClock(name string, impl ClockImpl) *Clock {
	c := &Clock{impl: impl, rateNum: 1, rateDenom: 1, syncedCond: make(chan struct{})}
	c.initObject(c, name, "clock", nil)
	c.SetObjectFlags(ClockFlagCanDoSingleSync | ClockFlagCanDoSingleAsync |
		ClockFlagCanDoPeriodicSync | ClockFlagCanDoPeriodicAsync)
	c.synced.Store(true)
	return c
}

// Impl returns the implementation.
func (c *Clock) Impl() ClockImpl { return c.impl }

// InternalTime returns the uncalibrated time of the implementation.
func (c *Clock) InternalTime() ClockTime { return c.impl.InternalTime(c) }

// Resolution returns the accuracy of the clock.
func (c *Clock) Resolution() ClockTime {
	c.mu.Lock()
	r := c.resolution
	c.mu.Unlock()
	if r != 0 {
		return r
	}
	return c.impl.Resolution(c)
}

// SetResolution asks the implementation for a new resolution and returns the
// previous one.
func (c *Clock) SetResolution(r ClockTime) ClockTime {
	old := c.Resolution()
	if impl, ok := c.impl.(ClockChangeResolutionImpl); ok {
		got := impl.ChangeResolution(c, old, r)
		c.mu.Lock()
		c.resolution = got
		c.mu.Unlock()
	}
	return old
}

// SetCalibration sets the mapping from internal to external time.
func (c *Clock) SetCalibration(internal, external, rateNum, rateDenom ClockTime) {
	if rateDenom == 0 {
		rateDenom = 1
	}
	c.mu.Lock()
	c.internal, c.external, c.rateNum, c.rateDenom = internal, external, rateNum, rateDenom
	c.mu.Unlock()
}

// Calibration returns the mapping from internal to external time.
func (c *Clock) Calibration() (internal, external, rateNum, rateDenom ClockTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal, c.external, c.rateNum, c.rateDenom
}

func (c *Clock) adjustLocked(internal ClockTime) ClockTime {
	var ret ClockTime
	if internal >= c.internal {
		ret = ClockTime(Uint64Scale(uint64(internal-c.internal), uint64(c.rateNum), uint64(c.rateDenom))) + c.external
	} else {
		d := ClockTime(Uint64Scale(uint64(c.internal-internal), uint64(c.rateNum), uint64(c.rateDenom)))
		if d < c.external {
			ret = c.external - d
		}
	}
	if ret < c.last {
		ret = c.last
	}
	c.last = ret
	return ret
}

// AdjustUnlocked converts an internal time to clock time.
func (c *Clock) AdjustUnlocked(internal ClockTime) ClockTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adjustLocked(internal)
}

// UnadjustUnlocked converts a clock time to internal time.
func (c *Clock) UnadjustUnlocked(external ClockTime) ClockTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rateNum == 0 {
		return c.internal
	}
	if external >= c.external {
		return ClockTime(Uint64Scale(uint64(external-c.external), uint64(c.rateDenom), uint64(c.rateNum))) + c.internal
	}
	d := ClockTime(Uint64Scale(uint64(c.external-external), uint64(c.rateDenom), uint64(c.rateNum)))
	if d > c.internal {
		return 0
	}
	return c.internal - d
}

// Time returns the current calibrated time. It never goes backwards.
func (c *Clock) Time() ClockTime {
	internal := c.InternalTime()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adjustLocked(internal)
}

// IsSynced reports whether a clock needing startup sync has synced.
func (c *Clock) IsSynced() bool { return c.synced.Load() }

// SetSynced marks the clock synced or not and wakes WaitForSync.
func (c *Clock) SetSynced(synced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.synced.Swap(synced) != synced && synced {
		close(c.syncedCond)
		c.syncedCond = make(chan struct{})
	}
}

// WaitForSync waits up to timeout for the clock to be synced.
func (c *Clock) WaitForSync(timeout ClockTime) bool {
	c.mu.Lock()
	ch := c.syncedCond
	c.mu.Unlock()
	if c.synced.Load() {
		return true
	}
	var deadline <-chan time.Time
	if timeout != ClockTimeNone {
		t := time.NewTimer(timeout.Duration())
		defer t.Stop()
		deadline = t.C
	}
	select {
	case <-ch:
		return c.synced.Load()
	case <-deadline:
		return c.synced.Load()
	}
}

// NewSingleShotID returns an id firing once at t.
func (c *Clock) NewSingleShotID(t ClockTime) *ClockID {
	return newClockID(c, t, ClockTimeNone)
}

// NewPeriodicID returns an id firing at start and then every interval.
func (c *Clock) NewPeriodicID(start, interval ClockTime) *ClockID {
	return newClockID(c, start, interval)
}

// WakeID completes an async wait on id. Implementations call it from any goroutine
// when the deadline of an id passed; the callback runs at most once per deadline.
func (c *Clock) WakeID(id *ClockID) {
	if !id.status.CompareAndSwap(int32(ClockBusy), int32(ClockOK)) {
		return
	}
	id.mu.Lock()
	t, cb := id.time, id.callback
	id.mu.Unlock()
	if cb != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					catClock.Error(c, "panic in clock callback: %v", r)
				}
			}()
			cb(c, t, id)
		}()
	}
	if id.interval != ClockTimeNone {
		id.mu.Lock()
		id.time += id.interval
		id.mu.Unlock()
		id.status.CompareAndSwap(int32(ClockOK), int32(ClockBusy))
	}
}

// ClockID is a pending wait on a clock.
type ClockID struct {
	clock    *Clock
	interval ClockTime

	mu       sync.Mutex
	time     ClockTime
	callback ClockCallback
	unsched  chan struct{}

	status atomic.Int32
	// Data is free for use by clock implementations.
	Data any
}

func newClockID(c *Clock, t, interval ClockTime) *ClockID {
	id := &ClockID{clock: c, time: t, interval: interval, unsched: make(chan struct{})}
	id.status.Store(int32(ClockOK))
	return id
}

// Clock returns the clock the id belongs to.
func (id *ClockID) Clock() *Clock { return id.clock }

// Time returns the next deadline.
func (id *ClockID) Time() ClockTime {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.time
}

// Interval returns the period, ClockTimeNone for single-shot ids.
func (id *ClockID) Interval() ClockTime { return id.interval }

// Status returns the last result of the id.
func (id *ClockID) Status() ClockReturn { return ClockReturn(id.status.Load()) }

// Unscheduled returns a channel closed once the id is unscheduled.
func (id *ClockID) Unscheduled() <-chan struct{} { return id.unsched }

// Wait blocks until the deadline or until unscheduled. The jitter is the clock time
// at return minus the deadline.
func (id *ClockID) Wait() (ClockReturn, ClockTimeDiff) {
	if id.Status() == ClockUnscheduled {
		return ClockUnscheduled, 0
	}
	t := id.Time()
	if !t.IsValid() {
		return ClockBadtime, 0
	}
	c := id.clock
	var (
		ret    ClockReturn
		jitter ClockTimeDiff
	)
	id.status.Store(int32(ClockBusy))
	if impl, ok := c.impl.(ClockWaitImpl); ok {
		ret, jitter = impl.Wait(c, id)
	} else {
		ret, jitter = c.defaultWait(id)
	}
	if id.Status() == ClockUnscheduled {
		ret = ClockUnscheduled
	} else {
		id.status.Store(int32(ret))
	}
	if id.interval != ClockTimeNone && ret != ClockUnscheduled {
		id.mu.Lock()
		id.time += id.interval
		id.mu.Unlock()
	}
	return ret, jitter
}

// DefaultWait is the timer based wait used when the implementation has none.
func (c *Clock) DefaultWait(id *ClockID) (ClockReturn, ClockTimeDiff) { return c.defaultWait(id) }

func (c *Clock) defaultWait(id *ClockID) (ClockReturn, ClockTimeDiff) {
	target := id.Time()
	now := c.Time()
	if target <= now {
		return ClockEarly, target.Diff(now)
	}
	timer := time.NewTimer(c.realDuration(target - now))
	defer timer.Stop()
	for {
		select {
		case <-id.unsched:
			return ClockUnscheduled, target.Diff(c.Time())
		case <-timer.C:
			now = c.Time()
			if now >= target {
				return ClockOK, target.Diff(now)
			}
			// calibrated clocks may run slower than wall time
			timer.Reset(c.realDuration(target - now))
		}
	}
}

// realDuration converts clock time to wall time using the calibration rate.
func (c *Clock) realDuration(d ClockTime) time.Duration {
	c.mu.Lock()
	num, denom := c.rateNum, c.rateDenom
	c.mu.Unlock()
	if num == 0 {
		return time.Duration(d)
	}
	return time.Duration(Uint64Scale(uint64(d), uint64(denom), uint64(num)))
}

// WaitAsync registers fn to run at the deadline on another goroutine.
func (id *ClockID) WaitAsync(fn ClockCallback) ClockReturn {
	if id.Status() == ClockUnscheduled {
		return ClockUnscheduled
	}
	if !id.Time().IsValid() {
		return ClockBadtime
	}
	id.mu.Lock()
	id.callback = fn
	id.mu.Unlock()
	id.status.Store(int32(ClockBusy))
	c := id.clock
	if impl, ok := c.impl.(ClockWaitAsyncImpl); ok {
		return impl.WaitAsync(c, id)
	}
	return c.defaultWaitAsync(id)
}

// DefaultWaitAsync is the timer based async wait used when the implementation has none.
func (c *Clock) DefaultWaitAsync(id *ClockID) ClockReturn { return c.defaultWaitAsync(id) }

func (c *Clock) defaultWaitAsync(id *ClockID) ClockReturn {
	go func() {
		for {
			ret, _ := c.defaultWait(id)
			if ret == ClockUnscheduled || id.Status() == ClockUnscheduled {
				return
			}
			c.WakeID(id)
			if id.interval == ClockTimeNone {
				return
			}
		}
	}()
	return ClockOK
}

// Unschedule cancels a pending wait. Blocked Wait calls return ClockUnscheduled.
func (id *ClockID) Unschedule() {
	id.mu.Lock()
	prev := ClockReturn(id.status.Swap(int32(ClockUnscheduled)))
	if prev != ClockUnscheduled {
		close(id.unsched)
	}
	id.mu.Unlock()
	if prev == ClockUnscheduled {
		return
	}
	if impl, ok := id.clock.impl.(ClockUnscheduleImpl); ok {
		impl.Unschedule(id.clock, id)
	}
}

// systemClockImpl reads the monotonic clock of the process.
type systemClockImpl struct {
	epoch time.Time
}

func (s *systemClockImpl) InternalTime(*Clock) ClockTime {
	return ClockTime(time.Since(s.epoch))
}

func (s *systemClockImpl) Resolution(*Clock) ClockTime { return 1 }

var (
	systemClockOnce sync.Once
	systemClock     *Clock
)

// SystemClock returns the shared monotonic clock.
func SystemClock() *Clock {
	systemClockOnce.Do(func() {
		systemClock = NewClock("GstSystemClock", &systemClockImpl{epoch: time.Now()})
	})
	return systemClock
}
