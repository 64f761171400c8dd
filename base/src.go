// Package base holds the source and sink element bases most elements are
// written on. An implementation embeds Src or Sink and adds the capability
// methods it supports; the base runs the streaming task, negotiation, the
// state machine and synchronisation against the pipeline clock.
package base

import (
	"fmt"
	"math"
	"sync"

	"github.com/thesyncim/gst"
)

var catSrc = gst.NewDebugCategory("basesrc", "base source class")

// Capabilities a Src implementation may provide.
type (
	SrcStartImpl interface {
		Start(s *Src) error
	}
	SrcStopImpl interface {
		Stop(s *Src) error
	}
	// CreateImpl produces the next buffer. Implementations that only fill
	// preallocated memory implement FillImpl instead.
	CreateImpl interface {
		Create(s *Src, offset uint64, size uint) (*gst.Buffer, gst.FlowReturn)
	}
	FillImpl interface {
		Fill(s *Src, offset uint64, size uint, buf *gst.BufferMut) gst.FlowReturn
	}
	SrcCapsImpl interface {
		Caps(s *Src, filter *gst.Caps) *gst.Caps
	}
	SrcFixateImpl interface {
		Fixate(s *Src, caps *gst.Caps) *gst.Caps
	}
	SrcSetCapsImpl interface {
		SetCaps(s *Src, caps *gst.Caps) error
	}
	// UnlockImpl interrupts a blocking Create when the element flushes or
	// stops. UnlockStop runs once the streaming task was stopped.
	UnlockImpl interface {
		Unlock(s *Src)
		UnlockStop(s *Src)
	}
	SrcEventImpl interface {
		Event(s *Src, ev *gst.Event) bool
	}
	SrcQueryImpl interface {
		Query(s *Src, q *gst.QueryMut) bool
	}
	SeekImpl interface {
		IsSeekable(s *Src) bool
		DoSeek(s *Src, seg *gst.Segment) bool
	}
	SizeImpl interface {
		Size(s *Src) (uint64, bool)
	}
)

// SrcProperties returns the properties every Src based element has.
func SrcProperties() []*gst.ParamSpec {
	return []*gst.ParamSpec{
		gst.NewParamUint("blocksize", "Block size", "Size in bytes to read per buffer (-1 = default)",
			0, math.MaxUint32, 4096, gst.ParamReadWrite),
		gst.NewParamInt("num-buffers", "num-buffers", "Number of buffers to output before sending EOS (-1 = unlimited)",
			-1, math.MaxInt32, -1, gst.ParamReadWrite),
		gst.NewParamBool("do-timestamp", "Do timestamp", "Apply current stream time to buffers",
			false, gst.ParamReadWrite),
	}
}

// NewSrcClass returns an element class with an always "src" pad template of
// caps and the Src properties followed by props.
func NewSrcClass(typeName string, md gst.ElementMetadata, caps *gst.Caps, props ...*gst.ParamSpec) *gst.ElementClass {
	return &gst.ElementClass{
		TypeName:     typeName,
		Metadata:     md,
		PadTemplates: []*gst.PadTemplate{gst.MustPadTemplate("src", gst.PadDirectionSrc, gst.PadAlways, caps)},
		Properties:   append(SrcProperties(), props...),
		Flags:        gst.ElementFlagSource,
	}
}

// Src is the base of elements producing data on a single "src" pad.
type Src struct {
	elem   *gst.Element
	srcpad *gst.Pad
	impl   any

	mu          sync.Mutex
	cond        *sync.Cond
	liveLock    sync.Mutex // held around Create and Fill
	live        bool
	liveRunning bool
	flushing    bool
	started     bool
	format      gst.Format
	segment     gst.Segment
	needStart   bool
	needSegment bool
	pendingSeek *gst.Event
	blocksize   uint
	numBuffers  int
	doTimestamp bool
	produced    int
	offset      uint64
	pool        *gst.BufferPool
	latencyMin  gst.ClockTime
	latencyMax  gst.ClockTime
}

// Constructed creates the source pad. Implementations overriding it must call
// it first.
func (s *Src) Constructed(e *gst.Element) {
	s.elem = e
	s.impl = e.Impl()
	s.cond = sync.NewCond(&s.mu)
	if s.format == gst.FormatUndefined {
		s.format = gst.FormatBytes
	}
	s.segment.Init(s.format)
	s.latencyMax = gst.ClockTimeNone

	tmpl := e.PadTemplate("src")
	if tmpl == nil {
		panic(fmt.Sprintf("base: %s has no src pad template", e.Name()))
	}
	p := gst.NewPadFromTemplate(tmpl, "src")
	p.SetActivateModeFunction(s.activateMode)
	p.SetEventFunction(func(_ *gst.Pad, _ *gst.Element, ev *gst.Event) bool { return s.event(ev) })
	p.SetQueryFunction(func(_ *gst.Pad, _ *gst.Element, q *gst.QueryMut) bool { return s.query(q) })
	p.SetGetRangeFunction(func(_ *gst.Pad, _ *gst.Element, offset uint64, length uint) (*gst.Buffer, gst.FlowReturn) {
		return s.getRange(offset, length)
	})
	s.srcpad = p
	if err := e.AddPad(p); err != nil {
		panic(err)
	}
}

func (s *Src) Element() *gst.Element { return s.elem }
func (s *Src) SrcPad() *gst.Pad      { return s.srcpad }

// SetLive marks the source live: it produces only in PLAYING and returns
// StateChangeNoPreroll when going to PAUSED.
func (s *Src) SetLive(live bool) {
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
}

func (s *Src) IsLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// SetFormat sets the format of the segment pushed downstream. It is applied
// when the source starts.
func (s *Src) SetFormat(f gst.Format) {
	s.mu.Lock()
	s.format = f
	s.mu.Unlock()
}

func (s *Src) Format() gst.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Segment returns a copy of the current segment.
func (s *Src) Segment() gst.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segment
}

// SetBlocksize overrides the "blocksize" property for the running stream, for
// sources whose buffer size follows from the negotiated caps.
func (s *Src) SetBlocksize(size uint) {
	s.mu.Lock()
	s.blocksize = size
	s.mu.Unlock()
}

// SetLatency sets the latency reported by live sources.
func (s *Src) SetLatency(min, max gst.ClockTime) {
	s.mu.Lock()
	s.latencyMin, s.latencyMax = min, max
	s.mu.Unlock()
}

// IsFlushing reports whether the source is flushing or stopped.
func (s *Src) IsFlushing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushing
}

// WaitPlaying blocks a live source until it is PLAYING. It returns FlowFlushing
// when the source flushes meanwhile.
func (s *Src) WaitPlaying() gst.FlowReturn {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.live && !s.liveRunning && !s.flushing {
		catSrc.Debug(s.elem, "live source waiting for PLAYING")
		s.cond.Wait()
	}
	if s.flushing {
		return gst.FlowFlushing
	}
	return gst.FlowOK
}

// BufferPool returns the pool buffers for Fill are allocated from, or nil
// before negotiation.
func (s *Src) BufferPool() *gst.BufferPool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// ChangeState drives liveness. Implementations overriding it must chain up.
func (s *Src) ChangeState(e *gst.Element, t gst.StateChange) gst.StateChangeReturn {
	if t == gst.StateChangePausedToPlaying {
		s.setPlaying(true)
	}
	if t == gst.StateChangePlayingToPaused {
		s.setPlaying(false)
	}
	ret := e.ParentChangeState(t)
	if ret == gst.StateChangeFailure {
		return ret
	}
	switch t {
	case gst.StateChangeReadyToPaused, gst.StateChangePlayingToPaused:
		if s.IsLive() {
			ret = gst.StateChangeNoPreroll
		}
	}
	return ret
}

func (s *Src) setPlaying(playing bool) {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return
	}
	s.liveRunning = playing
	s.cond.Broadcast()
	s.mu.Unlock()
	if playing {
		return
	}
	// interrupt create and wait for the streaming thread to notice
	if u, ok := s.impl.(UnlockImpl); ok {
		u.Unlock(s)
		s.liveLock.Lock()
		u.UnlockStop(s)
		s.liveLock.Unlock()
	}
}

func (s *Src) start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	blocksize, _ := gst.PropertyAs[uint32](s.elem, "blocksize")
	numBuffers, err := gst.PropertyAs[int32](s.elem, "num-buffers")
	if err != nil {
		numBuffers = -1
	}
	doTimestamp, _ := gst.PropertyAs[bool](s.elem, "do-timestamp")

	if st, ok := s.impl.(SrcStartImpl); ok {
		if err := st.Start(s); err != nil {
			s.elem.PostError(gst.NewError(gst.ResourceErrorOpenRead, "could not start: %v", err), "")
			return err
		}
	}

	s.mu.Lock()
	s.started = true
	s.blocksize = uint(blocksize)
	s.numBuffers = int(numBuffers)
	s.doTimestamp = doTimestamp
	s.produced = 0
	s.offset = 0
	s.segment.Init(s.format)
	s.needStart = true
	s.needSegment = true
	s.mu.Unlock()

	if sz, ok := s.impl.(SizeImpl); ok && s.Format() == gst.FormatBytes {
		if size, ok := sz.Size(s); ok {
			s.mu.Lock()
			s.segment.Duration = size
			s.mu.Unlock()
		}
	}
	catSrc.Debug(s.elem, "started")
	return nil
}

func (s *Src) stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	pool := s.pool
	s.pool = nil
	seek := s.pendingSeek
	s.pendingSeek = nil
	s.mu.Unlock()
	if pool != nil {
		pool.SetActive(false)
		pool.Unref()
	}
	if seek != nil {
		seek.Unref()
	}
	if st, ok := s.impl.(SrcStopImpl); ok {
		return st.Stop(s)
	}
	return nil
}

func (s *Src) setFlushing(flushing bool) {
	s.mu.Lock()
	s.flushing = flushing
	s.cond.Broadcast()
	pool := s.pool
	s.mu.Unlock()
	if pool != nil {
		pool.SetFlushing(flushing)
	}
	u, ok := s.impl.(UnlockImpl)
	if !ok {
		return
	}
	if flushing {
		u.Unlock(s)
	} else {
		u.UnlockStop(s)
	}
}

func (s *Src) activateMode(pad *gst.Pad, _ *gst.Element, mode gst.PadMode, active bool) error {
	if active {
		if err := s.start(); err != nil {
			return err
		}
		s.setFlushing(false)
		if mode == gst.PadModePush {
			return pad.StartTask(s.loop)
		}
		return nil
	}
	s.setFlushing(true)
	if mode == gst.PadModePush {
		if err := pad.StopTask(); err != nil {
			return err
		}
	}
	return s.stop()
}

// --- streaming

func (s *Src) loop() {
	if ret := s.prepare(); ret != gst.FlowOK {
		s.pauseTask(ret)
		return
	}
	if ret := s.WaitPlaying(); ret != gst.FlowOK {
		s.pauseTask(ret)
		return
	}

	s.mu.Lock()
	if s.numBuffers >= 0 && s.produced >= s.numBuffers {
		s.mu.Unlock()
		catSrc.Debug(s.elem, "reached num-buffers %d", s.numBuffers)
		s.pauseTask(gst.FlowEOS)
		return
	}
	offset, size := s.offset, s.blocksize
	s.mu.Unlock()

	s.liveLock.Lock()
	buf, ret := s.produce(offset, size)
	s.liveLock.Unlock()
	if ret != gst.FlowOK {
		s.mu.Lock()
		interrupted := s.live && !s.liveRunning && !s.flushing
		s.mu.Unlock()
		if interrupted && ret == gst.FlowFlushing {
			return
		}
		s.pauseTask(ret)
		return
	}

	s.mu.Lock()
	if s.live && !s.liveRunning && !s.flushing {
		// went back to PAUSED while creating
		s.mu.Unlock()
		buf.Unref()
		return
	}
	if s.produced == 0 || s.doTimestamp {
		mut := buf.MakeWritable()
		if s.produced == 0 {
			mut.SetBufferFlags(gst.BufferFlagDiscont)
		}
		if s.doTimestamp && !mut.PTS().IsValid() {
			mut.SetPTS(s.elem.CurrentRunningTime())
		}
		buf = mut.Buffer
	}
	s.produced++
	if s.format == gst.FormatBytes {
		s.offset += uint64(buf.Size())
		s.segment.Position = s.offset
	} else if pts := buf.PTS(); pts.IsValid() && s.format == gst.FormatTime {
		s.segment.Position = uint64(pts)
	}
	s.mu.Unlock()

	if ret := s.srcpad.Push(buf); ret != gst.FlowOK {
		s.pauseTask(ret)
	}
}

// prepare pushes the events that must precede the first buffer: stream-start,
// caps and the segment.
func (s *Src) prepare() gst.FlowReturn {
	s.mu.Lock()
	needStart, needSegment := s.needStart, s.needSegment
	s.needStart = false
	s.mu.Unlock()

	if needStart {
		id := s.srcpad.CreateStreamID(s.elem, "")
		ev := gst.NewStreamStartEvent(id).MakeWritable()
		ev.SetGroupID(gst.NextGroupID())
		s.srcpad.PushEvent(ev.Event)
		if !s.negotiate() {
			s.elem.PostError(gst.NewError(gst.CoreErrorNegotiation, "failed to negotiate caps"), "")
			return gst.FlowNotNegotiated
		}
	} else if s.srcpad.CheckReconfigure() && !s.negotiate() {
		return gst.FlowNotNegotiated
	}

	if needSegment {
		s.mu.Lock()
		seg := s.segment
		s.needSegment = false
		s.mu.Unlock()
		s.srcpad.PushEvent(gst.NewSegmentEvent(&seg))
	}
	return gst.FlowOK
}

func (s *Src) produce(offset uint64, size uint) (*gst.Buffer, gst.FlowReturn) {
	if c, ok := s.impl.(CreateImpl); ok {
		buf, ret := c.Create(s, offset, size)
		if ret == gst.FlowOK && buf == nil {
			return nil, gst.FlowError
		}
		return buf, ret
	}
	f, ok := s.impl.(FillImpl)
	if !ok {
		catSrc.Error(s.elem, "implementation has neither Create nor Fill")
		return nil, gst.FlowNotSupported
	}
	buf, ret := s.alloc(size)
	if ret != gst.FlowOK {
		return nil, ret
	}
	mut, ok := buf.GetMut()
	if !ok {
		mut = buf.MakeWritable()
	}
	if ret := f.Fill(s, offset, size, mut); ret != gst.FlowOK {
		mut.Unref()
		return nil, ret
	}
	return mut.Buffer, gst.FlowOK
}

func (s *Src) alloc(size uint) (*gst.Buffer, gst.FlowReturn) {
	if pool := s.BufferPool(); pool != nil {
		return pool.AcquireBuffer(nil)
	}
	return gst.NewBufferWithSize(int(size)).Buffer, gst.FlowOK
}

func (s *Src) pauseTask(ret gst.FlowReturn) {
	catSrc.Info(s.elem, "pausing task, reason %s", ret)
	_ = s.srcpad.PauseTask()
	switch {
	case ret == gst.FlowEOS:
		s.srcpad.PushEvent(gst.NewEOSEvent())
	case ret == gst.FlowFlushing:
	case ret == gst.FlowNotLinked || ret < gst.FlowEOS:
		s.elem.PostError(gst.NewError(gst.StreamErrorFailed, "internal data stream error"),
			fmt.Sprintf("streaming stopped, reason %s", ret))
		s.srcpad.PushEvent(gst.NewEOSEvent())
	}
}

// --- negotiation

func (s *Src) negotiate() bool {
	thiscaps := s.srcpad.QueryCaps(nil)
	defer thiscaps.Unref()
	if thiscaps.IsAny() {
		return true
	}
	peercaps := s.srcpad.PeerQueryCaps(thiscaps)
	defer peercaps.Unref()
	if peercaps.IsEmpty() {
		catSrc.Warning(s.elem, "no common caps with peer: %s", thiscaps)
		return false
	}
	var caps *gst.Caps
	if f, ok := s.impl.(SrcFixateImpl); ok {
		caps = f.Fixate(s, peercaps.Ref())
	} else {
		caps = peercaps.Fixated()
	}
	defer caps.Unref()
	if caps.IsAny() {
		return true
	}
	if !caps.IsFixed() {
		catSrc.Warning(s.elem, "caps %s are not fixed", caps)
		return false
	}
	return s.PushCaps(caps)
}

// PushCaps configures the implementation and downstream with caps and sets up
// the buffer pool used for Fill.
func (s *Src) PushCaps(caps *gst.Caps) bool {
	if sc, ok := s.impl.(SrcSetCapsImpl); ok {
		if err := sc.SetCaps(s, caps); err != nil {
			catSrc.Warning(s.elem, "caps %s refused: %v", caps, err)
			return false
		}
	}
	if !s.srcpad.PushEvent(gst.NewCapsEvent(caps)) {
		return false
	}
	if _, ok := s.impl.(FillImpl); ok {
		s.decideAllocation(caps)
	}
	return true
}

// decideAllocation takes the pool proposed downstream or creates one sized to
// the block size.
func (s *Src) decideAllocation(caps *gst.Caps) {
	s.mu.Lock()
	size := s.blocksize
	s.mu.Unlock()

	q := gst.NewAllocationQuery(caps, true)
	defer q.Unref()
	var (
		pool             *gst.BufferPool
		minBufs, maxBufs uint
	)
	if s.srcpad.PeerQuery(q) {
		if pools := q.AllocationPools(); len(pools) > 0 {
			if pools[0].Size > 0 {
				size = pools[0].Size
			}
			minBufs, maxBufs = pools[0].MinBufs, pools[0].MaxBufs
			if pools[0].Pool != nil {
				pool = pools[0].Pool.Ref()
			}
		}
	}
	if pool == nil {
		pool = gst.NewBufferPool()
	}
	cfg := pool.Config().SetParams(caps, size, minBufs, maxBufs)
	if err := pool.SetConfig(cfg); err != nil {
		catSrc.Warning(s.elem, "pool config refused: %v", err)
		pool.Unref()
		return
	}
	pool.SetActive(true)

	s.mu.Lock()
	old := s.pool
	s.pool = pool
	s.mu.Unlock()
	if old != nil {
		old.SetActive(false)
		old.Unref()
	}
}

// --- pull mode

func (s *Src) getRange(offset uint64, length uint) (*gst.Buffer, gst.FlowReturn) {
	if s.IsFlushing() {
		return nil, gst.FlowFlushing
	}
	if length == 0 {
		s.mu.Lock()
		length = s.blocksize
		s.mu.Unlock()
	}
	return s.produce(offset, length)
}

// --- events and queries

func (s *Src) event(ev *gst.Event) bool {
	if impl, ok := s.impl.(SrcEventImpl); ok {
		return impl.Event(s, ev)
	}
	return s.ParentEvent(ev)
}

// ParentEvent handles seeks, flushing and reconfiguration.
func (s *Src) ParentEvent(ev *gst.Event) bool {
	switch ev.EventType() {
	case gst.EventSeek:
		return s.performSeek(ev)
	case gst.EventFlushStart:
		ev.Unref()
		s.setFlushing(true)
		return true
	case gst.EventFlushStop:
		ev.Unref()
		s.setFlushing(false)
		return true
	case gst.EventReconfigure:
		ev.Unref()
		return true
	case gst.EventLatency, gst.EventQOS, gst.EventNavigation:
		ev.Unref()
		return true
	}
	ev.Unref()
	return false
}

func (s *Src) performSeek(ev *gst.Event) bool {
	defer ev.Unref()
	sk, ok := s.impl.(SeekImpl)
	if !ok || !sk.IsSeekable(s) {
		catSrc.Debug(s.elem, "not seekable")
		return false
	}
	params := ev.ParseSeek()
	flush := params.Flags&gst.SeekFlagFlush != 0

	if flush {
		s.srcpad.PushEvent(gst.NewFlushStartEvent())
		s.setFlushing(true)
	} else {
		_ = s.srcpad.PauseTask()
	}
	lock := s.srcpad.StreamLock()
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	seg := s.segment
	s.mu.Unlock()
	if ok, err := seg.DoSeek(params.Rate, params.Format, params.Flags, params.StartType, params.Start, params.StopType, params.Stop); !ok || err != nil {
		catSrc.Warning(s.elem, "invalid seek: %v", err)
		s.resume(flush)
		return false
	}
	if !sk.DoSeek(s, &seg) {
		s.resume(flush)
		return false
	}
	if flush {
		fs := gst.NewFlushStopEvent(true).MakeWritable()
		fs.SetSeqnum(ev.Seqnum())
		s.srcpad.PushEvent(fs.Event)
	}
	s.mu.Lock()
	s.segment = seg
	s.offset = seg.Position
	s.needSegment = true
	s.mu.Unlock()
	s.resume(flush)
	return true
}

func (s *Src) resume(flushed bool) {
	if flushed {
		s.setFlushing(false)
	}
	if s.srcpad.Mode() == gst.PadModePush {
		_ = s.srcpad.StartTask(s.loop)
	}
}

func (s *Src) query(q *gst.QueryMut) bool {
	if impl, ok := s.impl.(SrcQueryImpl); ok {
		return impl.Query(s, q)
	}
	return s.ParentQuery(q)
}

// ParentQuery answers caps, position, duration, latency, scheduling and seeking
// queries.
func (s *Src) ParentQuery(q *gst.QueryMut) bool {
	switch q.QueryType() {
	case gst.QueryCaps:
		if c, ok := s.impl.(SrcCapsImpl); ok {
			caps := c.Caps(s, q.ParseCaps())
			if caps == nil {
				return false
			}
			q.SetCapsResult(caps)
			caps.Unref()
			return true
		}
	case gst.QueryPosition:
		format, _ := q.ParsePosition()
		s.mu.Lock()
		seg := s.segment
		s.mu.Unlock()
		if format != seg.Format {
			return false
		}
		pos, ok := seg.ToStreamTime(format, seg.Position)
		if !ok {
			return false
		}
		q.SetPosition(format, int64(pos))
		return true
	case gst.QueryDuration:
		format, _ := q.ParseDuration()
		s.mu.Lock()
		seg := s.segment
		s.mu.Unlock()
		if format != seg.Format || seg.Duration == gst.SegmentNone {
			return false
		}
		q.SetDuration(format, int64(seg.Duration))
		return true
	case gst.QueryLatency:
		s.mu.Lock()
		live, min, max := s.live, s.latencyMin, s.latencyMax
		s.mu.Unlock()
		q.SetLatency(live, min, max)
		return true
	case gst.QueryScheduling:
		flags := gst.SchedulingFlags(0)
		if sk, ok := s.impl.(SeekImpl); ok && sk.IsSeekable(s) {
			flags |= gst.SchedulingFlagSeekable
		}
		q.SetScheduling(flags, 1, -1, 0)
		q.AddSchedulingMode(gst.PadModePush)
		if !s.IsLive() {
			q.AddSchedulingMode(gst.PadModePull)
		}
		return true
	case gst.QuerySeeking:
		format, _, _, _ := q.ParseSeeking()
		sk, ok := s.impl.(SeekImpl)
		seekable := ok && sk.IsSeekable(s) && format == s.Format()
		q.SetSeeking(format, seekable, 0, -1)
		return true
	case gst.QueryFormats:
		q.SetFormats(gst.FormatDefault, s.Format(), gst.FormatPercent)
		return true
	}
	return s.srcpad.QueryDefault(s.elem, q)
}
