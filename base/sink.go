package base

import (
	"fmt"
	"math"
	"sync"

	"github.com/thesyncim/gst"
)

var catSink = gst.NewDebugCategory("basesink", "base sink class")

// Capabilities a Sink implementation may provide.
type (
	SinkStartImpl interface {
		Start(s *Sink) error
	}
	SinkStopImpl interface {
		Stop(s *Sink) error
	}
	// RenderImpl consumes a buffer once it is due. The buffer is borrowed.
	RenderImpl interface {
		Render(s *Sink, buf *gst.Buffer) gst.FlowReturn
	}
	// PrerollImpl sees the first buffer after a state change to PAUSED or a
	// flush. The buffer is borrowed.
	PrerollImpl interface {
		Preroll(s *Sink, buf *gst.Buffer) gst.FlowReturn
	}
	SinkCapsImpl interface {
		Caps(s *Sink, filter *gst.Caps) *gst.Caps
	}
	SinkSetCapsImpl interface {
		SetCaps(s *Sink, caps *gst.Caps) error
	}
	SinkEventImpl interface {
		Event(s *Sink, ev *gst.Event) bool
	}
	SinkQueryImpl interface {
		Query(s *Sink, q *gst.QueryMut) bool
	}
	ProposeAllocationImpl interface {
		ProposeAllocation(s *Sink, q *gst.QueryMut) bool
	}
	SinkUnlockImpl interface {
		Unlock(s *Sink)
		UnlockStop(s *Sink)
	}
	// TimesImpl returns the running interval of buf used for synchronisation.
	TimesImpl interface {
		Times(s *Sink, buf *gst.Buffer) (start, end gst.ClockTime)
	}
)

// SinkProperties returns the properties every Sink based element has.
func SinkProperties() []*gst.ParamSpec {
	return []*gst.ParamSpec{
		gst.NewParamBool("sync", "Sync", "Sync on the clock", true, gst.ParamReadWrite),
		gst.NewParamBool("async", "Async", "Go asynchronously to PAUSED", true, gst.ParamReadWrite),
		gst.NewParamInt64("max-lateness", "Max Lateness",
			"Maximum number of nanoseconds that a buffer can be late before it is dropped (-1 unlimited)",
			-1, math.MaxInt64, -1, gst.ParamReadWrite),
		gst.NewParamInt64("ts-offset", "TS Offset", "Timestamp offset in nanoseconds",
			math.MinInt64, math.MaxInt64, 0, gst.ParamReadWrite),
		gst.NewParamBool("qos", "Qos", "Generate Quality-of-Service events upstream", false, gst.ParamReadWrite),
		gst.NewParamBool("enable-last-sample", "Enable Last Buffer", "Enable the last-sample property",
			true, gst.ParamReadWrite),
	}
}

// NewSinkClass returns an element class with an always "sink" pad template of
// caps and the Sink properties followed by props.
func NewSinkClass(typeName string, md gst.ElementMetadata, caps *gst.Caps, props ...*gst.ParamSpec) *gst.ElementClass {
	return &gst.ElementClass{
		TypeName:     typeName,
		Metadata:     md,
		PadTemplates: []*gst.PadTemplate{gst.MustPadTemplate("sink", gst.PadDirectionSink, gst.PadAlways, caps)},
		Properties:   append(SinkProperties(), props...),
		Flags:        gst.ElementFlagSink,
	}
}

type sinkSettings struct {
	sync        bool
	async       bool
	maxLateness int64
	tsOffset    int64
	qos         bool
	lastSample  bool
}

// Sink is the base of elements consuming data from a single "sink" pad. It
// prerolls in PAUSED and renders buffers against the pipeline clock in PLAYING.
type Sink struct {
	elem    *gst.Element
	sinkpad *gst.Pad
	impl    any

	mu          sync.Mutex
	cond        *sync.Cond
	flushing    bool
	playing     bool
	needPreroll bool
	eos         bool
	eosPosted   bool
	segment     gst.Segment
	caps        *gst.Caps
	clockID     *gst.ClockID
	lastSample  *gst.Sample
	position    gst.ClockTime
	rendered    uint64
	dropped     uint64
}

// Constructed creates the sink pad. Implementations overriding it must call it
// first.
func (s *Sink) Constructed(e *gst.Element) {
	s.elem = e
	s.impl = e.Impl()
	s.cond = sync.NewCond(&s.mu)
	s.segment.Init(gst.FormatTime)
	s.position = gst.ClockTimeNone

	tmpl := e.PadTemplate("sink")
	if tmpl == nil {
		panic(fmt.Sprintf("base: %s has no sink pad template", e.Name()))
	}
	p := gst.NewPadFromTemplate(tmpl, "sink")
	p.SetActivateModeFunction(s.activateMode)
	p.SetChainFunction(func(_ *gst.Pad, _ *gst.Element, buf *gst.Buffer) gst.FlowReturn { return s.chain(buf) })
	p.SetChainListFunction(func(_ *gst.Pad, _ *gst.Element, list *gst.BufferList) gst.FlowReturn {
		return s.chainList(list)
	})
	p.SetEventFunction(func(_ *gst.Pad, _ *gst.Element, ev *gst.Event) bool { return s.event(ev) })
	p.SetQueryFunction(func(_ *gst.Pad, _ *gst.Element, q *gst.QueryMut) bool { return s.query(q) })
	s.sinkpad = p
	if err := e.AddPad(p); err != nil {
		panic(err)
	}
}

func (s *Sink) Element() *gst.Element { return s.elem }
func (s *Sink) SinkPad() *gst.Pad     { return s.sinkpad }

// Segment returns a copy of the current segment.
func (s *Sink) Segment() gst.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segment
}

// CurrentCaps returns the negotiated caps without a reference, or nil.
func (s *Sink) CurrentCaps() *gst.Caps {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// LastSample returns the last prerolled or rendered buffer with its caps and
// segment, nil when disabled or before the first buffer.
func (s *Sink) LastSample() *gst.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSample == nil {
		return nil
	}
	return s.lastSample.Ref()
}

// Stats returns the number of rendered and dropped buffers.
func (s *Sink) Stats() (rendered, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered, s.dropped
}

// IsEOS reports whether the sink received EOS.
func (s *Sink) IsEOS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eos
}

func (s *Sink) settings() sinkSettings {
	st := sinkSettings{sync: true, async: true, maxLateness: -1, lastSample: true}
	if v, err := gst.PropertyAs[bool](s.elem, "sync"); err == nil {
		st.sync = v
	}
	if v, err := gst.PropertyAs[bool](s.elem, "async"); err == nil {
		st.async = v
	}
	if v, err := gst.PropertyAs[int64](s.elem, "max-lateness"); err == nil {
		st.maxLateness = v
	}
	if v, err := gst.PropertyAs[int64](s.elem, "ts-offset"); err == nil {
		st.tsOffset = v
	}
	if v, err := gst.PropertyAs[bool](s.elem, "qos"); err == nil {
		st.qos = v
	}
	if v, err := gst.PropertyAs[bool](s.elem, "enable-last-sample"); err == nil {
		st.lastSample = v
	}
	return st
}

// ChangeState implements prerolling. Implementations overriding it must chain
// up.
func (s *Sink) ChangeState(e *gst.Element, t gst.StateChange) gst.StateChangeReturn {
	async := s.settings().async
	reprerolls := false
	switch t {
	case gst.StateChangeReadyToPaused:
		s.mu.Lock()
		s.needPreroll = true
		s.playing = false
		s.eos, s.eosPosted = false, false
		s.segment.Init(gst.FormatTime)
		s.position = gst.ClockTimeNone
		s.mu.Unlock()
	case gst.StateChangePausedToPlaying:
		s.mu.Lock()
		s.playing = true
		s.cond.Broadcast()
		s.mu.Unlock()
	case gst.StateChangePlayingToPaused:
		s.mu.Lock()
		s.playing = false
		// a buffer waiting on the clock prerolls again unless the stream ended
		reprerolls = !s.eos && async
		if reprerolls {
			s.needPreroll = true
		}
		if s.clockID != nil {
			s.clockID.Unschedule()
		}
		s.mu.Unlock()
	}

	ret := e.ParentChangeState(t)
	if ret == gst.StateChangeFailure {
		return ret
	}

	switch t {
	case gst.StateChangeReadyToPaused:
		if async {
			catSink.Debug(e, "waiting for preroll")
			ret = gst.StateChangeAsync
		} else {
			s.mu.Lock()
			s.needPreroll = false
			s.mu.Unlock()
		}
	case gst.StateChangePlayingToPaused:
		if reprerolls {
			ret = gst.StateChangeAsync
		}
	case gst.StateChangePausedToReady:
		s.mu.Lock()
		s.needPreroll = false
		if s.lastSample != nil {
			s.lastSample.Unref()
			s.lastSample = nil
		}
		if s.caps != nil {
			s.caps.Unref()
			s.caps = nil
		}
		s.mu.Unlock()
	}
	return ret
}

func (s *Sink) setFlushing(flushing bool) {
	s.mu.Lock()
	s.flushing = flushing
	if flushing && s.clockID != nil {
		s.clockID.Unschedule()
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	if u, ok := s.impl.(SinkUnlockImpl); ok {
		if flushing {
			u.Unlock(s)
		} else {
			u.UnlockStop(s)
		}
	}
}

func (s *Sink) activateMode(pad *gst.Pad, _ *gst.Element, mode gst.PadMode, active bool) error {
	if mode != gst.PadModePush {
		return fmt.Errorf("base: %s only operates in push mode", s.elem.Name())
	}
	if active {
		if st, ok := s.impl.(SinkStartImpl); ok {
			if err := st.Start(s); err != nil {
				s.elem.PostError(gst.NewError(gst.ResourceErrorOpenWrite, "could not start: %v", err), "")
				return err
			}
		}
		s.setFlushing(false)
		return nil
	}
	s.setFlushing(true)
	// wait for the streaming thread to leave
	pad.StreamLock().Lock()
	pad.StreamLock().Unlock()
	if st, ok := s.impl.(SinkStopImpl); ok {
		return st.Stop(s)
	}
	return nil
}

// --- streaming

func (s *Sink) times(buf *gst.Buffer) (start, end gst.ClockTime) {
	if t, ok := s.impl.(TimesImpl); ok {
		return t.Times(s, buf)
	}
	start = buf.PTS()
	if !start.IsValid() {
		start = buf.DTS()
	}
	end = gst.ClockTimeNone
	if start.IsValid() && buf.Duration().IsValid() {
		end = start + buf.Duration()
	}
	return start, end
}

func (s *Sink) chainList(list *gst.BufferList) gst.FlowReturn {
	defer list.Unref()
	for i := 0; i < list.Len(); i++ {
		if ret := s.chain(list.Get(i).Ref()); ret != gst.FlowOK {
			return ret
		}
	}
	return gst.FlowOK
}

func (s *Sink) chain(buf *gst.Buffer) gst.FlowReturn {
	defer buf.Unref()

	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return gst.FlowFlushing
	}
	if s.eos {
		s.mu.Unlock()
		return gst.FlowEOS
	}
	seg := s.segment
	s.mu.Unlock()

	start, end := s.times(buf)
	if start.IsValid() && seg.Format == gst.FormatTime {
		stop := uint64(gst.ClockTimeNone)
		if end.IsValid() {
			stop = uint64(end)
		}
		if _, _, ok := seg.Clip(gst.FormatTime, uint64(start), stop); !ok {
			catSink.Debug(s.elem, "buffer %s out of segment, dropping", start)
			return gst.FlowOK
		}
	}

	st := s.settings()
	for {
		if ret := s.prerollWait(buf, st); ret != gst.FlowOK {
			return ret
		}
		if !st.sync {
			break
		}
		ret, late := s.syncOn(start, end, seg, st)
		if ret == gst.ClockUnscheduled {
			s.mu.Lock()
			flushing, playing := s.flushing, s.playing
			s.mu.Unlock()
			if flushing {
				return gst.FlowFlushing
			}
			if !playing {
				// back in PAUSED, this buffer becomes the new preroll
				continue
			}
		}
		if late {
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			catSink.Debug(s.elem, "buffer %s too late, dropping", start)
			return gst.FlowOK
		}
		break
	}

	var ret gst.FlowReturn
	if r, ok := s.impl.(RenderImpl); ok {
		ret = r.Render(s, buf)
	}
	s.mu.Lock()
	if ret == gst.FlowOK {
		s.rendered++
		if end.IsValid() {
			s.position = end
		} else if start.IsValid() {
			s.position = start
		}
	}
	s.mu.Unlock()
	if st.lastSample {
		s.setLastSample(buf, seg)
	}
	return ret
}

// prerollWait commits the async state change on the first buffer and blocks
// while the element is PAUSED.
func (s *Sink) prerollWait(buf *gst.Buffer, st sinkSettings) gst.FlowReturn {
	s.mu.Lock()
	need := s.needPreroll
	s.needPreroll = false
	s.mu.Unlock()

	if need {
		if buf != nil {
			if p, ok := s.impl.(PrerollImpl); ok {
				if ret := p.Preroll(s, buf); ret != gst.FlowOK {
					return ret
				}
			}
			if st.lastSample {
				s.setLastSample(buf, s.Segment())
			}
		}
		s.commitState()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.playing && !s.flushing {
		catSink.Log(s.elem, "waiting in PAUSED")
		s.cond.Wait()
	}
	if s.flushing {
		return gst.FlowFlushing
	}
	return gst.FlowOK
}

// commitState completes the pending async state change.
func (s *Sink) commitState() {
	catSink.Debug(s.elem, "prerolled, committing state")
	s.elem.ContinueState(gst.StateChangeSuccess)
	s.elem.PostMessage(gst.NewAsyncDoneMessage(s.elem, gst.ClockTimeNone))
}

// syncOn waits until start is due on the pipeline clock. late reports that the
// buffer missed its deadline by more than max-lateness.
func (s *Sink) syncOn(start, end gst.ClockTime, seg gst.Segment, st sinkSettings) (ret gst.ClockReturn, late bool) {
	clock := s.elem.Clock()
	if clock == nil || !start.IsValid() || seg.Format != gst.FormatTime {
		return gst.ClockOK, false
	}
	rt, ok := seg.ToRunningTime(gst.FormatTime, uint64(start))
	if !ok {
		return gst.ClockOK, false
	}
	target := int64(rt) + st.tsOffset
	if target < 0 {
		return gst.ClockOK, false
	}
	due := s.elem.BaseTime() + gst.ClockTime(target)

	id := clock.NewSingleShotID(due)
	s.mu.Lock()
	if s.flushing || !s.playing {
		s.mu.Unlock()
		return gst.ClockUnscheduled, false
	}
	s.clockID = id
	s.mu.Unlock()

	ret, jitter := id.Wait()

	s.mu.Lock()
	s.clockID = nil
	s.mu.Unlock()
	catSink.Log(s.elem, "waited for %s: %s, jitter %d", due, ret, jitter)

	if ret == gst.ClockEarly && st.maxLateness >= 0 && int64(jitter) > st.maxLateness {
		late = true
		if st.qos {
			dur := gst.ClockTimeNone
			if end.IsValid() {
				dur = end - start
			}
			stream, _ := seg.ToStreamTime(gst.FormatTime, uint64(start))
			s.elem.PostMessage(gst.NewQOSMessage(s.elem, false, gst.ClockTime(rt), gst.ClockTime(stream), start, dur))
		}
	}
	return ret, late
}

func (s *Sink) setLastSample(buf *gst.Buffer, seg gst.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample := gst.NewSample(buf, s.caps, &seg, nil)
	if s.lastSample != nil {
		s.lastSample.Unref()
	}
	s.lastSample = sample
}

// --- events and queries

func (s *Sink) event(ev *gst.Event) bool {
	if impl, ok := s.impl.(SinkEventImpl); ok {
		return impl.Event(s, ev)
	}
	return s.ParentEvent(ev)
}

// ParentEvent handles caps, segments, flushing and EOS.
func (s *Sink) ParentEvent(ev *gst.Event) bool {
	defer ev.Unref()
	switch ev.EventType() {
	case gst.EventCaps:
		caps := ev.ParseCaps()
		if sc, ok := s.impl.(SinkSetCapsImpl); ok {
			if err := sc.SetCaps(s, caps); err != nil {
				catSink.Warning(s.elem, "caps %s refused: %v", caps, err)
				return false
			}
		}
		s.mu.Lock()
		if s.caps != nil {
			s.caps.Unref()
		}
		s.caps = caps.Ref()
		s.mu.Unlock()
		return true
	case gst.EventSegment:
		seg := ev.ParseSegment()
		s.mu.Lock()
		s.segment = *seg
		s.mu.Unlock()
		return true
	case gst.EventFlushStart:
		s.flushStart()
		return true
	case gst.EventFlushStop:
		s.flushStop(ev.ParseFlushStop())
		return true
	case gst.EventEOS:
		return s.handleEOS(ev.Seqnum())
	case gst.EventGap:
		ts, dur := ev.ParseGap()
		st := s.settings()
		if ret := s.prerollWait(nil, st); ret != gst.FlowOK {
			return false
		}
		if st.sync {
			end := gst.ClockTimeNone
			if dur.IsValid() {
				end = ts + dur
			}
			s.syncOn(ts, end, s.Segment(), st)
		}
		return true
	}
	return true
}

func (s *Sink) flushStart() {
	s.setFlushing(true)
	// wait until the streaming thread left chain
	s.sinkpad.StreamLock().Lock()
	s.sinkpad.StreamLock().Unlock()

	async := s.settings().async
	state := s.elem.CurrentState()
	s.mu.Lock()
	lose := async && state >= gst.StatePaused
	if lose {
		s.needPreroll = true
		s.playing = false
	}
	s.mu.Unlock()
	if lose {
		s.elem.LostState()
	}
}

func (s *Sink) flushStop(resetTime bool) {
	s.mu.Lock()
	s.eos, s.eosPosted = false, false
	if resetTime {
		s.segment.Init(gst.FormatTime)
		s.position = gst.ClockTimeNone
	}
	if s.lastSample != nil {
		s.lastSample.Unref()
		s.lastSample = nil
	}
	s.mu.Unlock()
	s.setFlushing(false)
	if resetTime {
		s.elem.SetStartTime(0)
	}
}

func (s *Sink) handleEOS(seqnum uint32) bool {
	st := s.settings()
	if ret := s.prerollWait(nil, st); ret != gst.FlowOK {
		return false
	}
	s.mu.Lock()
	s.eos = true
	post := !s.eosPosted
	s.eosPosted = true
	s.mu.Unlock()
	if post {
		catSink.Info(s.elem, "posting EOS")
		msg := gst.NewEOSMessage(s.elem).MakeWritable()
		msg.SetSeqnum(seqnum)
		s.elem.PostMessage(msg.Message)
	}
	return true
}

func (s *Sink) query(q *gst.QueryMut) bool {
	if impl, ok := s.impl.(SinkQueryImpl); ok {
		return impl.Query(s, q)
	}
	return s.ParentQuery(q)
}

// ParentQuery answers caps, allocation, position, latency and segment queries.
func (s *Sink) ParentQuery(q *gst.QueryMut) bool {
	switch q.QueryType() {
	case gst.QueryCaps:
		if c, ok := s.impl.(SinkCapsImpl); ok {
			caps := c.Caps(s, q.ParseCaps())
			if caps == nil {
				return false
			}
			q.SetCapsResult(caps)
			caps.Unref()
			return true
		}
	case gst.QueryAllocation:
		if p, ok := s.impl.(ProposeAllocationImpl); ok {
			return p.ProposeAllocation(s, q)
		}
		return false
	case gst.QueryPosition:
		format, _ := q.ParsePosition()
		if format != gst.FormatTime {
			break
		}
		s.mu.Lock()
		seg, pos := s.segment, s.position
		s.mu.Unlock()
		if !pos.IsValid() {
			return false
		}
		stream, ok := seg.ToStreamTime(gst.FormatTime, uint64(pos))
		if !ok {
			return false
		}
		q.SetPosition(gst.FormatTime, int64(stream))
		return true
	case gst.QueryLatency:
		live, min, max := false, gst.ClockTime(0), gst.ClockTimeNone
		up := gst.NewLatencyQuery()
		if s.sinkpad.PeerQuery(up) {
			live, min, max = up.ParseLatency()
		}
		up.Unref()
		q.SetLatency(live && s.settings().sync, min, max)
		return true
	case gst.QuerySegment:
		s.mu.Lock()
		seg := s.segment
		s.mu.Unlock()
		start, _ := seg.ToStreamTime(seg.Format, seg.Start)
		stop := int64(-1)
		if seg.Stop != gst.SegmentNone {
			if v, ok := seg.ToStreamTime(seg.Format, seg.Stop); ok {
				stop = int64(v)
			}
		}
		q.SetSegment(seg.Rate, seg.Format, int64(start), stop)
		return true
	}
	return s.sinkpad.QueryDefault(s.elem, q)
}
