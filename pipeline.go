package gst

// Pipeline is a top-level bin. It owns the bus the application listens on,
// selects the clock when going to PLAYING and distributes base and start times.
type Pipeline struct {
	Bin

	// protected by the object lock
	fixedClock   *Clock
	delay        ClockTime
	latency      ClockTime
	autoFlushBus bool
}

var pipelineVTable elementVTable

func init() {
	pipelineVTable = binVTable
	pipelineVTable.changeState = func(e *Element, t StateChange) StateChangeReturn {
		return e.self.(interface{ AsPipeline() *Pipeline }).AsPipeline().changeStateDefault(t)
	}
	pipelineVTable.provideClock = func(e *Element) *Clock {
		return e.self.(interface{ AsPipeline() *Pipeline }).AsPipeline().provideClockDefault()
	}
}

// NewPipeline returns an empty pipeline with its own bus.
func NewPipeline(name string) *Pipeline { return NewPipelineWithImpl(name, nil) }

// NewPipelineWithImpl returns an empty pipeline driven by impl.
func NewPipelineWithImpl(name string, impl ElementImpl) *Pipeline {
	return newPipeline(&ElementClass{Kind: ElementKindPipeline}, name, impl, nil)
}

func newPipeline(class *ElementClass, name string, impl ElementImpl, f *ElementFactory) *Pipeline {
	p := &Pipeline{autoFlushBus: true, latency: ClockTimeNone}
	p.factory = f
	p.initBin(p, class, name, impl, &pipelineVTable)
	p.bus = NewBus()
	p.construct()
	return p
}

// AsPipeline returns p.
func (p *Pipeline) AsPipeline() *Pipeline { return p }

// AsPipeline returns the pipeline behind v.
func AsPipeline(v any) (*Pipeline, bool) {
	h, ok := v.(interface{ AsPipeline() *Pipeline })
	if !ok || h == nil {
		return nil, false
	}
	return h.AsPipeline(), true
}

// UseClock forces the pipeline to use c, or to pick none when c is nil.
// AutoClock undoes it.
func (p *Pipeline) UseClock(c *Clock) {
	p.mu.Lock()
	p.fixedClock = c
	p.mu.Unlock()
	p.SetObjectFlags(PipelineFlagFixedClock)
}

// AutoClock lets the pipeline select its clock again.
func (p *Pipeline) AutoClock() {
	p.mu.Lock()
	p.fixedClock = nil
	p.mu.Unlock()
	p.UnsetObjectFlags(PipelineFlagFixedClock)
}

// PipelineFlagFixedClock is set while a clock was forced with UseClock.
const PipelineFlagFixedClock ObjectFlags = BinFlagLast << 0

// PipelineClock returns the clock the pipeline would use now.
func (p *Pipeline) PipelineClock() *Clock { return p.ProvideClock() }

// SetDelay sets the extra time added to the base time, giving elements time to
// reach PLAYING before the first buffer must be rendered.
func (p *Pipeline) SetDelay(d ClockTime) {
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
}

// Delay returns the configured delay.
func (p *Pipeline) Delay() ClockTime {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

// SetLatency fixes the latency configured on the sinks. ClockTimeNone lets the
// pipeline query it.
func (p *Pipeline) SetLatency(l ClockTime) {
	p.mu.Lock()
	p.latency = l
	p.mu.Unlock()
}

// Latency returns the fixed latency, ClockTimeNone when queried.
func (p *Pipeline) Latency() ClockTime {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latency
}

// SetAutoFlushBus controls whether the bus is flushed when going to NULL.
func (p *Pipeline) SetAutoFlushBus(on bool) {
	p.mu.Lock()
	p.autoFlushBus = on
	p.mu.Unlock()
}

// AutoFlushBus reports whether the bus is flushed when going to NULL.
func (p *Pipeline) AutoFlushBus() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoFlushBus
}

func (p *Pipeline) provideClockDefault() *Clock {
	p.mu.Lock()
	fixed := p.HasObjectFlags(PipelineFlagFixedClock)
	c := p.fixedClock
	p.mu.Unlock()
	if fixed {
		return c
	}
	if c := p.Bin.provideClockDefault(); c != nil {
		return c
	}
	return SystemClock()
}

func (p *Pipeline) changeStateDefault(t StateChange) StateChangeReturn {
	switch t {
	case StateChangeNullToReady:
		if p.AutoFlushBus() {
			p.Bus().SetFlushing(false)
		}
	case StateChangeReadyToPaused:
		p.mu.Lock()
		if p.startTime != ClockTimeNone {
			p.startTime = 0
		}
		p.mu.Unlock()
	case StateChangePausedToPlaying:
		if !p.selectClock() {
			return StateChangeFailure
		}
	case StateChangePlayingToPaused:
		p.mu.Lock()
		track := p.startTime != ClockTimeNone
		p.mu.Unlock()
		if track {
			if rt := p.CurrentRunningTime(); rt.IsValid() {
				p.SetStartTime(rt)
				catElement.Debug(p, "start time %s", rt)
			}
		}
	}

	ret := p.Bin.changeStateDefault(t)

	switch t {
	case StateChangePausedToPlaying:
		if ret != StateChangeFailure {
			p.distributeLatency()
		}
	case StateChangeReadyToNull:
		if p.AutoFlushBus() {
			p.Bus().SetFlushing(true)
		}
		p.mu.Lock()
		p.clock = nil
		p.mu.Unlock()
	}
	return ret
}

// selectClock picks the clock, distributes it and computes the base time.
func (p *Pipeline) selectClock() bool {
	clock := p.ProvideClock()
	old := p.Clock()
	if clock != old {
		if !p.SetClock(clock) {
			catElement.Warning(p, "a child refused clock %v", clock)
			return false
		}
		if clock != nil {
			p.PostMessage(NewNewClockMessage(p, clock))
		}
	}
	p.mu.Lock()
	start, delay := p.startTime, p.delay
	p.mu.Unlock()
	if start == ClockTimeNone || clock == nil {
		return true
	}
	now := clock.Time()
	base := now + delay
	if base > start {
		base -= start
	} else {
		base = 0
	}
	p.SetBaseTime(base)
	catElement.Debug(p, "clock %v, base time %s", clock, base)
	return true
}

func (p *Pipeline) distributeLatency() {
	l := p.Latency()
	if l.IsValid() {
		p.SendEvent(NewLatencyEvent(l))
		return
	}
	p.RecalculateLatency()
}
