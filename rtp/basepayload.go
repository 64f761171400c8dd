package rtp

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/pion/rtp"

	"github.com/thesyncim/gst"
)

var catPayload = gst.NewDebugCategory("rtpbasepayload", "base class for RTP payloaders")

// Capabilities a payloader may provide. HandleBuffer is required.
type (
	// PayloadImpl turns one input buffer into RTP packets pushed with Push or
	// PushList. It owns buf.
	PayloadImpl interface {
		HandleBuffer(p *BasePayload, buf *gst.Buffer) gst.FlowReturn
	}
	// PayloadSetCapsImpl configures the payloader from the input caps and
	// usually calls SetOutCaps.
	PayloadSetCapsImpl interface {
		SetCaps(p *BasePayload, caps *gst.Caps) error
	}
	PayloadCapsImpl interface {
		Caps(p *BasePayload, pad *gst.Pad, filter *gst.Caps) *gst.Caps
	}
	// PayloadSinkEventImpl handles sink pad events; call ParentSinkEvent for
	// the default handling.
	PayloadSinkEventImpl interface {
		SinkEvent(p *BasePayload, ev *gst.Event) bool
	}
	PayloadSrcEventImpl interface {
		SrcEvent(p *BasePayload, ev *gst.Event) bool
	}
	PayloadQueryImpl interface {
		Query(p *BasePayload, pad *gst.Pad, q *gst.QueryMut) bool
	}
	// PayloadResetImpl drops partial state when the stream restarts or flushes.
	PayloadResetImpl interface {
		Reset(p *BasePayload)
	}
)

// PayloadProperties returns the properties every payloader has.
func PayloadProperties() []*gst.ParamSpec {
	return []*gst.ParamSpec{
		gst.NewParamUint("mtu", "MTU", "Maximum size of one packet", 28, math.MaxUint32, DefaultMTU, gst.ParamReadWrite),
		gst.NewParamUint("pt", "payload type", "The payload type of the packets", 0, 0x7f, 96, gst.ParamReadWrite),
		gst.NewParamInt64("ssrc", "SSRC", "The SSRC of the packets (-1 == random)",
			-1, math.MaxUint32, -1, gst.ParamReadWrite),
		gst.NewParamInt64("timestamp-offset", "Timestamp Offset",
			"Offset to add to all outgoing timestamps (-1 = random)", -1, math.MaxUint32, -1, gst.ParamReadWrite),
		gst.NewParamInt("seqnum-offset", "Sequence number Offset",
			"Offset to add to all outgoing seqnum (-1 = random)", -1, math.MaxUint16, -1, gst.ParamReadWrite),
		gst.NewParamUint("timestamp", "Timestamp", "The RTP timestamp of the last processed packet",
			0, math.MaxUint32, 0, gst.ParamReadable),
		gst.NewParamUint("seqnum", "Sequence number", "The RTP sequence number of the last processed packet",
			0, math.MaxUint16, 0, gst.ParamReadable),
	}
}

// NewPayloadClass returns an element class with always "sink" and "src" pad
// templates, the src one application/x-rtp, and the payloader properties
// followed by props.
func NewPayloadClass(typeName string, md gst.ElementMetadata, sinkCaps, srcCaps *gst.Caps, props ...*gst.ParamSpec) *gst.ElementClass {
	return &gst.ElementClass{
		TypeName: typeName,
		Metadata: md,
		PadTemplates: []*gst.PadTemplate{
			gst.MustPadTemplate("sink", gst.PadDirectionSink, gst.PadAlways, sinkCaps),
			gst.MustPadTemplate("src", gst.PadDirectionSrc, gst.PadAlways, srcCaps),
		},
		Properties: append(PayloadProperties(), props...),
	}
}

// BasePayload is embedded by payloaders. It owns the pads, stamps the RTP
// header of outgoing packets and negotiates the application/x-rtp caps.
type BasePayload struct {
	elem    *gst.Element
	sinkpad *gst.Pad
	srcpad  *gst.Pad
	impl    any

	mu           sync.Mutex
	media        string
	dynamic      bool
	encodingName string
	clockRate    uint32
	segment      gst.Segment
	sequencer    rtp.Sequencer
	ssrc         uint32
	pt           uint8
	tsBase       uint32
	seqBase      uint16
	lastRTPTime  uint32
	lastSeq      uint16
	negotiated   bool
}

// Constructed creates the pads. Implementations overriding it must call it
// first.
func (p *BasePayload) Constructed(e *gst.Element) {
	p.elem = e
	p.impl = e.Impl()
	p.segment.Init(gst.FormatTime)
	p.media, p.clockRate = "video", 90000

	p.sinkpad = gst.NewPadFromTemplate(e.PadTemplate("sink"), "sink")
	p.sinkpad.SetChainFunction(p.chain)
	p.sinkpad.SetEventFunction(func(_ *gst.Pad, _ *gst.Element, ev *gst.Event) bool { return p.sinkEvent(ev) })
	p.sinkpad.SetQueryFunction(p.query)

	p.srcpad = gst.NewPadFromTemplate(e.PadTemplate("src"), "src")
	p.srcpad.SetEventFunction(func(_ *gst.Pad, _ *gst.Element, ev *gst.Event) bool { return p.srcEvent(ev) })
	p.srcpad.SetQueryFunction(p.query)

	for _, pad := range []*gst.Pad{p.sinkpad, p.srcpad} {
		if err := e.AddPad(pad); err != nil {
			panic(err)
		}
	}
}

func (p *BasePayload) Element() *gst.Element { return p.elem }
func (p *BasePayload) SinkPad() *gst.Pad     { return p.sinkpad }
func (p *BasePayload) SrcPad() *gst.Pad      { return p.srcpad }

// SetOptions sets the media type, encoding name and clock rate announced in
// the output caps. dynamic marks a dynamic payload type.
func (p *BasePayload) SetOptions(media string, dynamic bool, encodingName string, clockRate uint32) {
	p.mu.Lock()
	p.media, p.dynamic, p.encodingName, p.clockRate = media, dynamic, encodingName, clockRate
	p.mu.Unlock()
}

// MTU returns the "mtu" property.
func (p *BasePayload) MTU() int {
	mtu, _ := gst.PropertyAs[uint32](p.elem, "mtu")
	return int(mtu)
}

// MaxPayload returns the largest payload fitting the MTU with a plain header.
func (p *BasePayload) MaxPayload() int {
	return p.MTU() - HeaderLen(0)
}

// Segment returns a copy of the input segment.
func (p *BasePayload) Segment() gst.Segment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.segment
}

// IsNegotiated reports whether output caps were set.
func (p *BasePayload) IsNegotiated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.negotiated
}

// SetOutCaps negotiates application/x-rtp caps with downstream and pushes them.
// kv are extra alternating field/value pairs such as "packetization-mode", "1".
// A payload type or SSRC forced by downstream replaces the configured one.
func (p *BasePayload) SetOutCaps(kv ...any) error {
	p.mu.Lock()
	s := gst.NewStructureFromFields("application/x-rtp",
		"media", p.media,
		"clock-rate", int32(p.clockRate),
		"encoding-name", p.encodingName,
		"payload", int32(p.pt),
		"ssrc", p.ssrc,
		"timestamp-offset", p.tsBase,
		"seqnum-offset", uint32(p.seqBase),
	)
	p.mu.Unlock()
	s.SetValues(kv...)
	ours := gst.NewCaps(s)
	defer ours.Unref()

	peer := p.srcpad.PeerQueryCaps(nil)
	caps := peer.IntersectWithMode(ours, gst.CapsIntersectFirst)
	peer.Unref()
	if caps.IsEmpty() {
		caps.Unref()
		return fmt.Errorf("rtp: downstream refused %s", ours)
	}
	fixed := caps.Fixated()
	caps.Unref()
	caps = fixed

	st := caps.Structure(0)
	p.mu.Lock()
	if pt, err := st.GetInt("payload"); err == nil && uint8(pt) != p.pt {
		catPayload.Debug(p.elem, "downstream forced payload type %d", pt)
		p.pt = uint8(pt)
	}
	if ssrc, err := st.GetUint("ssrc"); err == nil && uint32(ssrc) != p.ssrc {
		catPayload.Debug(p.elem, "downstream forced ssrc %08x", ssrc)
		p.ssrc = uint32(ssrc)
	}
	p.mu.Unlock()

	ok := p.srcpad.PushEvent(gst.NewCapsEvent(caps))
	caps.Unref()
	if !ok {
		return fmt.Errorf("rtp: caps not accepted downstream")
	}
	p.mu.Lock()
	p.negotiated = true
	p.mu.Unlock()
	return nil
}

// Push stamps buf and pushes it. buf must hold an RTP packet; its PTS selects
// the RTP timestamp.
func (p *BasePayload) Push(buf *gst.Buffer) gst.FlowReturn {
	if !p.IsNegotiated() {
		buf.Unref()
		return gst.FlowNotNegotiated
	}
	out, ret := p.stamp(buf)
	if ret != gst.FlowOK {
		return ret
	}
	return p.srcpad.Push(out)
}

// PushList stamps every packet of list and pushes it in one go.
func (p *BasePayload) PushList(list *gst.BufferList) gst.FlowReturn {
	if !p.IsNegotiated() {
		list.Unref()
		return gst.FlowNotNegotiated
	}
	out := gst.NewBufferList(list.Len())
	for _, b := range list.All() {
		stamped, ret := p.stamp(b.Ref())
		if ret != gst.FlowOK {
			list.Unref()
			out.Unref()
			return ret
		}
		out.Add(stamped)
	}
	list.Unref()
	return p.srcpad.PushList(out.BufferList)
}

func (p *BasePayload) stamp(buf *gst.Buffer) (*gst.Buffer, gst.FlowReturn) {
	mut := buf.MakeWritable()
	rb, err := MapWritable(mut)
	if err != nil {
		mut.Unref()
		p.elem.PostError(gst.NewError(gst.StreamErrorFailed, "invalid RTP packet"), err.Error())
		return nil, gst.FlowError
	}

	p.mu.Lock()
	rtptime := p.lastRTPTime
	if pts := mut.PTS(); pts.IsValid() {
		if rt, ok := p.segment.ToRunningTime(gst.FormatTime, uint64(pts)); ok {
			rtptime = p.tsBase + uint32(gst.Uint64Scale(rt, uint64(p.clockRate), uint64(gst.Second)))
		}
	}
	seq := p.sequencer.NextSequenceNumber()
	ssrc, pt := p.ssrc, p.pt
	p.lastRTPTime, p.lastSeq = rtptime, seq
	p.mu.Unlock()

	rb.SetSSRC(ssrc)
	rb.SetPayloadType(pt)
	rb.SetSeq(seq)
	rb.SetTimestamp(rtptime)
	rb.Unmap()

	catPayload.Log(p.elem, "seq %d rtptime %d pts %s", seq, rtptime, mut.PTS())
	p.elem.StoreProperty("seqnum", uint32(seq))
	p.elem.StoreProperty("timestamp", rtptime)
	return mut.Buffer, gst.FlowOK
}

// OutputBuffer returns an RTP packet carrying payload with the timestamps of
// src and the marker bit set as given. The header is filled in by Push.
func (p *BasePayload) OutputBuffer(payload []byte, src *gst.Buffer, marker bool) (*gst.Buffer, error) {
	b, err := FromPacket(&rtp.Packet{
		Header:  rtp.Header{Version: Version, Marker: marker},
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}
	if src != nil {
		b.SetPTS(src.PTS())
		b.SetDTS(src.DTS())
		b.SetDuration(src.Duration())
		if src.HasBufferFlags(gst.BufferFlagDiscont) {
			b.SetBufferFlags(gst.BufferFlagDiscont)
		}
	}
	if marker {
		b.SetBufferFlags(gst.BufferFlagMarker)
	}
	return b.Buffer, nil
}

func (p *BasePayload) chain(_ *gst.Pad, _ *gst.Element, buf *gst.Buffer) gst.FlowReturn {
	impl, ok := p.impl.(PayloadImpl)
	if !ok {
		buf.Unref()
		p.elem.PostError(gst.NewError(gst.CoreErrorFailed, "payloader without HandleBuffer"), "")
		return gst.FlowError
	}
	if !p.IsNegotiated() {
		buf.Unref()
		p.elem.PostError(gst.NewError(gst.CoreErrorNegotiation, "No input format was negotiated"),
			"the payloader did not set output caps")
		return gst.FlowNotNegotiated
	}
	return impl.HandleBuffer(p, buf)
}

func (p *BasePayload) sinkEvent(ev *gst.Event) bool {
	if impl, ok := p.impl.(PayloadSinkEventImpl); ok {
		return impl.SinkEvent(p, ev)
	}
	return p.ParentSinkEvent(ev)
}

// ParentSinkEvent runs the default sink event handling and consumes ev.
func (p *BasePayload) ParentSinkEvent(ev *gst.Event) bool {
	switch ev.EventType() {
	case gst.EventCaps:
		caps := ev.ParseCaps().Ref()
		ev.Unref()
		defer caps.Unref()
		catPayload.Debug(p.elem, "input caps %s", caps)
		if impl, ok := p.impl.(PayloadSetCapsImpl); ok {
			if err := impl.SetCaps(p, caps); err != nil {
				catPayload.Warning(p.elem, "caps %s refused: %v", caps, err)
				return false
			}
			return true
		}
		return p.SetOutCaps() == nil
	case gst.EventSegment:
		seg := ev.ParseSegment()
		if seg.Format != gst.FormatTime {
			catPayload.Warning(p.elem, "segment in %s format", seg.Format)
		}
		p.mu.Lock()
		p.segment = *seg
		p.mu.Unlock()
	case gst.EventFlushStop:
		p.mu.Lock()
		p.segment.Init(gst.FormatTime)
		p.mu.Unlock()
		p.reset()
	}
	return p.sinkpad.EventDefault(p.elem, ev)
}

func (p *BasePayload) srcEvent(ev *gst.Event) bool {
	if impl, ok := p.impl.(PayloadSrcEventImpl); ok {
		return impl.SrcEvent(p, ev)
	}
	return p.ParentSrcEvent(ev)
}

// ParentSrcEvent forwards ev upstream.
func (p *BasePayload) ParentSrcEvent(ev *gst.Event) bool {
	return p.srcpad.EventDefault(p.elem, ev)
}

func (p *BasePayload) query(pad *gst.Pad, parent *gst.Element, q *gst.QueryMut) bool {
	if impl, ok := p.impl.(PayloadQueryImpl); ok {
		return impl.Query(p, pad, q)
	}
	return p.ParentQuery(pad, q)
}

// ParentQuery answers caps queries on the sink pad through the Caps
// capability and defers everything else to the pad default.
func (p *BasePayload) ParentQuery(pad *gst.Pad, q *gst.QueryMut) bool {
	if pad == p.sinkpad && q.QueryType() == gst.QueryCaps {
		caps := p.ParentCaps(pad, q.ParseCaps())
		if impl, ok := p.impl.(PayloadCapsImpl); ok {
			caps.Unref()
			caps = impl.Caps(p, pad, q.ParseCaps())
		}
		q.SetCapsResult(caps)
		caps.Unref()
		return true
	}
	return pad.QueryDefault(p.elem, q)
}

// ParentCaps returns the pad template caps filtered by filter.
func (p *BasePayload) ParentCaps(pad *gst.Pad, filter *gst.Caps) *gst.Caps {
	caps := pad.PadTemplateCaps()
	if filter != nil {
		inter := filter.IntersectWithMode(caps, gst.CapsIntersectFirst)
		caps.Unref()
		caps = inter
	}
	return caps
}

func (p *BasePayload) reset() {
	if impl, ok := p.impl.(PayloadResetImpl); ok {
		impl.Reset(p)
	}
}

// ChangeState picks the SSRC, timestamp and sequence number bases going to
// PAUSED. Implementations overriding it must chain up.
func (p *BasePayload) ChangeState(e *gst.Element, t gst.StateChange) gst.StateChangeReturn {
	if t == gst.StateChangeReadyToPaused {
		pt, _ := gst.PropertyAs[uint32](e, "pt")
		ssrc, _ := gst.PropertyAs[int64](e, "ssrc")
		tsOffset, _ := gst.PropertyAs[int64](e, "timestamp-offset")
		seqOffset, _ := gst.PropertyAs[int32](e, "seqnum-offset")

		p.mu.Lock()
		p.pt = uint8(pt)
		if ssrc < 0 {
			p.ssrc = rand.Uint32()
		} else {
			p.ssrc = uint32(ssrc)
		}
		if tsOffset < 0 {
			p.tsBase = rand.Uint32()
		} else {
			p.tsBase = uint32(tsOffset)
		}
		if seqOffset < 0 {
			p.seqBase = uint16(rand.Uint32())
		} else {
			p.seqBase = uint16(seqOffset)
		}
		p.sequencer = rtp.NewFixedSequencer(p.seqBase)
		p.lastRTPTime = p.tsBase
		p.segment.Init(gst.FormatTime)
		p.negotiated = false
		p.mu.Unlock()
		p.reset()
		catPayload.Debug(e, "ssrc %08x timestamp-offset %d seqnum-offset %d", p.ssrc, p.tsBase, p.seqBase)
	}
	return e.ParentChangeState(t)
}
