package rtp

import (
	"math"
	"sync"

	"github.com/thesyncim/gst"
)

var catDepayload = gst.NewDebugCategory("rtpbasedepayload", "base class for RTP depayloaders")

// PacketLostEventName names the custom downstream event announcing lost
// packets, with "timestamp" and "duration" ClockTime fields.
const PacketLostEventName = "GstRTPPacketLost"

// Capabilities a depayloader may provide. ProcessRTPPacket and SetCaps are
// required.
type (
	// DepayloadImpl extracts the payload of one packet. rb is only valid for
	// the call. It returns a finished output buffer or nil; output can also be
	// pushed directly with Push.
	DepayloadImpl interface {
		ProcessRTPPacket(d *BaseDepayload, rb *Buffer) *gst.Buffer
	}
	// DepaySetCapsImpl reads the application/x-rtp input caps and sets the
	// output caps with SetSrcCaps.
	DepaySetCapsImpl interface {
		SetCaps(d *BaseDepayload, caps *gst.Caps) error
	}
	// DepayEventImpl handles sink events; call ParentHandleEvent for the
	// default handling.
	DepayEventImpl interface {
		HandleEvent(d *BaseDepayload, ev *gst.Event) bool
	}
	// PacketLostImpl reacts to a packet-lost event. The event is borrowed.
	PacketLostImpl interface {
		PacketLost(d *BaseDepayload, ev *gst.Event) bool
	}
	DepayResetImpl interface {
		Reset(d *BaseDepayload)
	}
)

// DepayloadProperties returns the properties every depayloader has.
func DepayloadProperties() []*gst.ParamSpec {
	return []*gst.ParamSpec{
		gst.NewParamInt("max-reorder", "Max Reorder",
			"Max seqnum reorder before assuming sender has restarted", 0, math.MaxInt32, 100, gst.ParamReadWrite),
	}
}

// NewDepayloadClass returns an element class with always "sink" and "src" pad
// templates and the depayloader properties followed by props.
func NewDepayloadClass(typeName string, md gst.ElementMetadata, sinkCaps, srcCaps *gst.Caps, props ...*gst.ParamSpec) *gst.ElementClass {
	return &gst.ElementClass{
		TypeName: typeName,
		Metadata: md,
		PadTemplates: []*gst.PadTemplate{
			gst.MustPadTemplate("sink", gst.PadDirectionSink, gst.PadAlways, sinkCaps),
			gst.MustPadTemplate("src", gst.PadDirectionSrc, gst.PadAlways, srcCaps),
		},
		Properties: append(DepayloadProperties(), props...),
	}
}

// BaseDepayload is embedded by depayloaders. It validates incoming packets,
// tracks sequence numbers and timestamps output buffers.
type BaseDepayload struct {
	elem    *gst.Element
	sinkpad *gst.Pad
	srcpad  *gst.Pad
	impl    any

	mu         sync.Mutex
	clockRate  uint32
	negotiated bool
	lastSeq    int
	lost       bool // before the packet being processed
	discont    bool // pending on the next output buffer
	pts        gst.ClockTime
	dropped    uint64
}

// Constructed creates the pads. Implementations overriding it must call it
// first.
func (d *BaseDepayload) Constructed(e *gst.Element) {
	d.elem = e
	d.impl = e.Impl()
	d.lastSeq = -1
	d.pts = gst.ClockTimeNone

	d.sinkpad = gst.NewPadFromTemplate(e.PadTemplate("sink"), "sink")
	d.sinkpad.SetChainFunction(d.chain)
	d.sinkpad.SetEventFunction(func(_ *gst.Pad, _ *gst.Element, ev *gst.Event) bool { return d.sinkEvent(ev) })

	d.srcpad = gst.NewPadFromTemplate(e.PadTemplate("src"), "src")
	d.srcpad.UseFixedCaps()

	for _, pad := range []*gst.Pad{d.sinkpad, d.srcpad} {
		if err := e.AddPad(pad); err != nil {
			panic(err)
		}
	}
}

func (d *BaseDepayload) Element() *gst.Element { return d.elem }
func (d *BaseDepayload) SinkPad() *gst.Pad     { return d.sinkpad }
func (d *BaseDepayload) SrcPad() *gst.Pad      { return d.srcpad }

// ClockRate returns the clock-rate of the input caps.
func (d *BaseDepayload) ClockRate() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clockRate
}

// IsDiscont reports whether packets were lost right before the packet being
// processed. The first packet of a stream counts as discont.
func (d *BaseDepayload) IsDiscont() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// Dropped returns the number of packets dropped as late or duplicate.
func (d *BaseDepayload) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// SetSrcCaps pushes caps on the source pad.
func (d *BaseDepayload) SetSrcCaps(caps *gst.Caps) bool {
	return d.srcpad.PushEvent(gst.NewCapsEvent(caps))
}

// Push sends out downstream. Buffers without PTS get the PTS of the packet
// being processed; the first buffer after a loss is marked discont.
func (d *BaseDepayload) Push(out *gst.Buffer) gst.FlowReturn {
	mut := out.MakeWritable()
	d.mu.Lock()
	if !mut.PTS().IsValid() {
		mut.SetPTS(d.pts)
	}
	if d.discont {
		mut.SetBufferFlags(gst.BufferFlagDiscont)
		d.discont = false
	}
	d.mu.Unlock()
	return d.srcpad.Push(mut.Buffer)
}

func (d *BaseDepayload) chain(_ *gst.Pad, _ *gst.Element, buf *gst.Buffer) gst.FlowReturn {
	impl, ok := d.impl.(DepayloadImpl)
	if !ok {
		buf.Unref()
		d.elem.PostError(gst.NewError(gst.CoreErrorFailed, "depayloader without ProcessRTPPacket"), "")
		return gst.FlowError
	}

	d.mu.Lock()
	negotiated := d.negotiated
	d.mu.Unlock()
	if !negotiated {
		buf.Unref()
		d.elem.PostError(gst.NewError(gst.CoreErrorNegotiation, "No RTP format was negotiated."),
			"input buffers need to have RTP caps set on them")
		return gst.FlowNotNegotiated
	}

	rb, err := MapReadable(buf)
	if err != nil {
		catDepayload.Warning(d.elem, "dropping invalid RTP packet: %v", err)
		buf.Unref()
		return gst.FlowOK
	}

	seq := rb.Seq()
	maxReorder, _ := gst.PropertyAs[int32](d.elem, "max-reorder")
	d.mu.Lock()
	lost := buf.HasBufferFlags(gst.BufferFlagDiscont) || d.lastSeq < 0
	if d.lastSeq >= 0 {
		gap := CompareSeqnum(uint16(d.lastSeq), seq)
		switch {
		case gap <= 0 && -gap <= int(maxReorder):
			d.dropped++
			d.mu.Unlock()
			catDepayload.Log(d.elem, "dropping late packet %d, last %d", seq, d.lastSeq)
			rb.Unmap()
			buf.Unref()
			return gst.FlowOK
		case gap <= 0:
			catDepayload.Debug(d.elem, "seqnum jumped back from %d to %d, sender restarted", d.lastSeq, seq)
			lost = true
		case gap > 1:
			catDepayload.Debug(d.elem, "lost %d packets before %d", gap-1, seq)
			lost = true
		}
	}
	d.lost = lost
	if lost {
		d.discont = true
	}
	d.lastSeq = int(seq)
	d.pts = buf.PTS()
	d.mu.Unlock()

	out := impl.ProcessRTPPacket(d, rb)
	rb.Unmap()
	buf.Unref()
	if out == nil {
		return gst.FlowOK
	}
	return d.Push(out)
}

func (d *BaseDepayload) sinkEvent(ev *gst.Event) bool {
	if impl, ok := d.impl.(DepayEventImpl); ok {
		return impl.HandleEvent(d, ev)
	}
	return d.ParentHandleEvent(ev)
}

// ParentHandleEvent runs the default sink event handling and consumes ev.
func (d *BaseDepayload) ParentHandleEvent(ev *gst.Event) bool {
	switch ev.EventType() {
	case gst.EventCaps:
		caps := ev.ParseCaps().Ref()
		ev.Unref()
		defer caps.Unref()
		return d.setCaps(caps)
	case gst.EventFlushStop:
		d.mu.Lock()
		d.lastSeq = -1
		d.discont = true
		d.mu.Unlock()
		d.reset()
	case gst.EventCustomDownstream:
		if ev.HasName(PacketLostEventName) {
			defer ev.Unref()
			if impl, ok := d.impl.(PacketLostImpl); ok {
				return impl.PacketLost(d, ev)
			}
			return d.ParentPacketLost(ev)
		}
	}
	return d.sinkpad.EventDefault(d.elem, ev)
}

// ParentPacketLost marks the next buffer discont and turns the lost range into
// a gap event. ev is borrowed.
func (d *BaseDepayload) ParentPacketLost(ev *gst.Event) bool {
	d.mu.Lock()
	d.discont = true
	d.lost = true
	d.mu.Unlock()
	s := ev.Structure()
	ts, err := s.GetClockTime("timestamp")
	if err != nil {
		catDepayload.Warning(d.elem, "packet-lost event without timestamp")
		return false
	}
	dur, err := s.GetClockTime("duration")
	if err != nil {
		dur = gst.ClockTimeNone
	}
	return d.srcpad.PushEvent(gst.NewGapEvent(ts, dur))
}

func (d *BaseDepayload) setCaps(caps *gst.Caps) bool {
	s := caps.Structure(0)
	rate, err := s.GetInt("clock-rate")
	if err != nil || rate <= 0 {
		catDepayload.Debug(d.elem, "no clock-rate in %s, assuming 90000", caps)
		rate = 90000
	}
	d.mu.Lock()
	d.clockRate = uint32(rate)
	d.mu.Unlock()

	impl, ok := d.impl.(DepaySetCapsImpl)
	if !ok {
		catDepayload.Warning(d.elem, "depayloader without SetCaps")
		return false
	}
	if err := impl.SetCaps(d, caps); err != nil {
		catDepayload.Warning(d.elem, "caps %s refused: %v", caps, err)
		return false
	}
	d.mu.Lock()
	d.negotiated = true
	d.mu.Unlock()
	return true
}

func (d *BaseDepayload) reset() {
	if impl, ok := d.impl.(DepayResetImpl); ok {
		impl.Reset(d)
	}
}

// ChangeState resets packet tracking going to PAUSED. Implementations
// overriding it must chain up.
func (d *BaseDepayload) ChangeState(e *gst.Element, t gst.StateChange) gst.StateChangeReturn {
	if t == gst.StateChangeReadyToPaused {
		d.mu.Lock()
		d.lastSeq = -1
		d.discont = true
		d.negotiated = false
		d.pts = gst.ClockTimeNone
		d.dropped = 0
		d.mu.Unlock()
		d.reset()
	}
	return e.ParentChangeState(t)
}
