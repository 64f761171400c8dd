package gst

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Pad flags, stored in the object flags.
const (
	PadFlagBlocked ObjectFlags = ObjectFlagLast << iota
	PadFlagFlushing
	PadFlagEOS
	PadFlagBlocking
	PadFlagNeedParent
	PadFlagNeedReconfigure
	PadFlagPendingEvents
	PadFlagFixedCaps
	PadFlagProxyCaps
	PadFlagProxyAllocation
	PadFlagProxyScheduling
	PadFlagAcceptIntersect
	PadFlagAcceptTemplate
	PadFlagLast = ObjectFlagLast << 16
)

// PadLinkCheck selects the checks done when linking.
type PadLinkCheck uint32

const (
	PadLinkCheckNothing       PadLinkCheck = 0
	PadLinkCheckHierarchy     PadLinkCheck = 1 << 0
	PadLinkCheckTemplateCaps  PadLinkCheck = 1 << 1
	PadLinkCheckCaps          PadLinkCheck = 1 << 2
	PadLinkCheckNoReconfigure PadLinkCheck = 1 << 3
	PadLinkCheckDefault                    = PadLinkCheckHierarchy | PadLinkCheckCaps
)

// Pad function slots. parent is the element owning the pad, or nil.
type (
	PadChainFunc        func(pad *Pad, parent *Element, buf *Buffer) FlowReturn
	PadChainListFunc    func(pad *Pad, parent *Element, list *BufferList) FlowReturn
	PadEventFunc        func(pad *Pad, parent *Element, ev *Event) bool
	PadQueryFunc        func(pad *Pad, parent *Element, q *QueryMut) bool
	PadGetRangeFunc     func(pad *Pad, parent *Element, offset uint64, length uint) (*Buffer, FlowReturn)
	PadActivateFunc     func(pad *Pad, parent *Element) error
	PadActivateModeFunc func(pad *Pad, parent *Element, mode PadMode, active bool) error
	PadLinkFunc         func(pad *Pad, parent *Element, peer *Pad) PadLinkReturn
	PadUnlinkFunc       func(pad *Pad, parent *Element)
	PadIterIntLinkFunc  func(pad *Pad, parent *Element) []*Pad
)

type stickyEvent struct {
	ev       *Event
	received bool
}

// Pad is a directional endpoint of an element carrying buffers, events and queries.
//
// Functions that take a *Buffer, *BufferList or *Event take ownership of it.
type Pad struct {
	Object

	direction  PadDirection
	template   *PadTemplate
	streamLock RecMutex
	blockCond  *sync.Cond

	// protected by the object lock
	peer        *Pad
	mode        PadMode
	sticky      []stickyEvent
	probes      []*padProbe
	numBlocking int
	streaming   int
	offset      int64
	lastFlow    FlowReturn
	task        *Task

	chainFn        PadChainFunc
	chainListFn    PadChainListFunc
	eventFn        PadEventFunc
	queryFn        PadQueryFunc
	getRangeFn     PadGetRangeFunc
	activateFn     PadActivateFunc
	activateModeFn PadActivateModeFunc
	linkFn         PadLinkFunc
	unlinkFn       PadUnlinkFunc
	iterIntLinkFn  PadIterIntLinkFunc

	elementPrivate any
}

func (p *Pad) initPad(self any, name string, dir PadDirection, tmpl *PadTemplate) {
	p.initObject(self, name, "pad", nil)
	p.direction = dir
	p.template = tmpl
	p.blockCond = sync.NewCond(&p.mu)
	p.SetObjectFlags(PadFlagFlushing)
}

// NewPad returns an inactive pad. An empty name picks a unique one.
func NewPad(name string, dir PadDirection) *Pad {
	p := &Pad{}
	p.initPad(p, name, dir, nil)
	return p
}

// NewPadFromTemplate returns a pad with the direction of tmpl. An empty name uses the
// template name when it has no conversion specifier.
func NewPadFromTemplate(tmpl *PadTemplate, name string) *Pad {
	if name == "" && tmpl.Presence() == PadAlways {
		name = tmpl.NameTemplate()
	}
	p := &Pad{}
	p.initPad(p, name, tmpl.Direction(), tmpl)
	return p
}

func (p *Pad) Direction() PadDirection { return p.direction }
func (p *Pad) Template() *PadTemplate  { return p.template }
func (p *Pad) StreamLock() *RecMutex   { return &p.streamLock }
func (p *Pad) IsSrc() bool             { return p.direction == PadDirectionSrc }
func (p *Pad) IsSink() bool            { return p.direction == PadDirectionSink }
func (p *Pad) IsFlushing() bool        { return p.HasObjectFlags(PadFlagFlushing) }
func (p *Pad) IsEOS() bool             { return p.HasObjectFlags(PadFlagEOS) }
func (p *Pad) NeedsReconfigure() bool  { return p.HasObjectFlags(PadFlagNeedReconfigure) }
func (p *Pad) MarkReconfigure()        { p.SetObjectFlags(PadFlagNeedReconfigure) }
func (p *Pad) SetElementPrivate(v any) { p.mu.Lock(); p.elementPrivate = v; p.mu.Unlock() }
func (p *Pad) ElementPrivate() (v any) { p.mu.Lock(); v = p.elementPrivate; p.mu.Unlock(); return }

// CheckReconfigure reports and clears the need-reconfigure flag.
func (p *Pad) CheckReconfigure() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	need := p.HasObjectFlags(PadFlagNeedReconfigure)
	p.UnsetObjectFlags(PadFlagNeedReconfigure)
	return need
}

// ParentElement returns the element owning p, or nil.
func (p *Pad) ParentElement() *Element {
	par := p.Parent()
	if par == nil {
		return nil
	}
	e, _ := AsElement(par.Self())
	return e
}

// Peer returns the linked pad, or nil.
func (p *Pad) Peer() *Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

// IsLinked reports whether p has a peer.
func (p *Pad) IsLinked() bool { return p.Peer() != nil }

// Mode returns the scheduling mode, PadModeNone when inactive.
func (p *Pad) Mode() PadMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// IsActive reports whether p is activated in some mode.
func (p *Pad) IsActive() bool { return p.Mode() != PadModeNone }

// LastFlowReturn returns the result of the last push or chain.
func (p *Pad) LastFlowReturn() FlowReturn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFlow
}

// Offset returns the running time offset applied to outgoing segments.
func (p *Pad) Offset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

// SetOffset sets the running time offset and resends the segment.
func (p *Pad) SetOffset(offset int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offset == offset {
		return
	}
	p.offset = offset
	for i := range p.sticky {
		if p.sticky[i].ev.EventType() == EventSegment {
			p.sticky[i].received = false
			p.SetObjectFlags(PadFlagPendingEvents)
		}
	}
}

func (p *Pad) SetChainFunction(f PadChainFunc)               { p.chainFn = f }
func (p *Pad) SetChainListFunction(f PadChainListFunc)       { p.chainListFn = f }
func (p *Pad) SetEventFunction(f PadEventFunc)               { p.eventFn = f }
func (p *Pad) SetQueryFunction(f PadQueryFunc)               { p.queryFn = f }
func (p *Pad) SetGetRangeFunction(f PadGetRangeFunc)         { p.getRangeFn = f }
func (p *Pad) SetActivateFunction(f PadActivateFunc)         { p.activateFn = f }
func (p *Pad) SetActivateModeFunction(f PadActivateModeFunc) { p.activateModeFn = f }
func (p *Pad) SetLinkFunction(f PadLinkFunc)                 { p.linkFn = f }
func (p *Pad) SetUnlinkFunction(f PadUnlinkFunc)             { p.unlinkFn = f }
func (p *Pad) SetIterateInternalLinksFunction(f PadIterIntLinkFunc) {
	p.iterIntLinkFn = f
}

// UseFixedCaps makes caps queries answer with the negotiated caps once set.
func (p *Pad) UseFixedCaps() { p.SetObjectFlags(PadFlagFixedCaps) }

// --- linking

func checkHierarchy(src, sink *Pad) bool {
	ps, pk := src.Parent(), sink.Parent()
	if ps == nil || pk == nil {
		return true
	}
	if _, ok := AsElement(ps.Self()); !ok {
		return true
	}
	if _, ok := AsElement(pk.Self()); !ok {
		return true
	}
	return ps.Parent() == pk.Parent()
}

// CanLink reports whether p and sink could be linked with the default checks.
func (p *Pad) CanLink(sink *Pad) bool {
	return p.checkLink(sink, PadLinkCheckDefault) == PadLinkOK
}

func (p *Pad) checkLink(sink *Pad, flags PadLinkCheck) PadLinkReturn {
	if p.direction != PadDirectionSrc || sink.direction != PadDirectionSink {
		return PadLinkWrongDirection
	}
	if p.Peer() != nil || sink.Peer() != nil {
		return PadLinkWasLinked
	}
	if flags&PadLinkCheckHierarchy != 0 && !checkHierarchy(p, sink) {
		return PadLinkWrongHierarchy
	}
	if flags&(PadLinkCheckTemplateCaps|PadLinkCheckCaps) != 0 {
		var srcCaps, sinkCaps *Caps
		if flags&PadLinkCheckCaps != 0 {
			srcCaps, sinkCaps = p.QueryCaps(nil), sink.QueryCaps(nil)
		} else {
			srcCaps, sinkCaps = p.PadTemplateCaps(), sink.PadTemplateCaps()
		}
		ok := srcCaps.CanIntersect(sinkCaps)
		srcCaps.Unref()
		sinkCaps.Unref()
		if !ok {
			return PadLinkNoFormat
		}
	}
	return PadLinkOK
}

// Link links the source pad p to sink with the default checks.
func (p *Pad) Link(sink *Pad) error { return p.LinkFull(sink, PadLinkCheckDefault) }

// LinkFull links p to sink. Sticky events of p are forwarded to the new peer.
func (p *Pad) LinkFull(sink *Pad, flags PadLinkCheck) error {
	tracersPadLinkPre(p, sink)
	ret := p.linkFull(sink, flags)
	tracersPadLinkPost(p, sink, ret)
	if ret != PadLinkOK {
		catPads.Info(p, "link to %s failed: %d", sink, ret)
		return ret.Err()
	}
	catPads.Debug(p, "linked to %s", sink)

	if flags&PadLinkCheckNoReconfigure == 0 {
		p.SendEvent(NewReconfigureEvent())
	}
	// forward sticky events now unless streaming holds the lock; they go out with
	// the next item otherwise
	if p.streamLock.TryLock() {
		p.mu.Lock()
		if p.mode == PadModePush && !p.HasObjectFlags(PadFlagFlushing) {
			p.pushStickyLocked(false)
		}
		p.mu.Unlock()
		p.streamLock.Unlock()
	}
	return nil
}

func (p *Pad) linkFull(sink *Pad, flags PadLinkCheck) PadLinkReturn {
	if ret := p.checkLink(sink, flags); ret != PadLinkOK {
		return ret
	}
	if p.linkFn != nil {
		if ret := p.linkFn(p, p.ParentElement(), sink); ret != PadLinkOK {
			return ret
		}
	}
	if sink.linkFn != nil {
		if ret := sink.linkFn(sink, sink.ParentElement(), p); ret != PadLinkOK {
			return ret
		}
	}

	p.mu.Lock()
	sink.mu.Lock()
	defer p.mu.Unlock()
	defer sink.mu.Unlock()
	if p.peer != nil || sink.peer != nil {
		return PadLinkWasLinked
	}
	p.peer = sink
	sink.peer = p
	for i := range p.sticky {
		p.sticky[i].received = false
	}
	if len(p.sticky) > 0 {
		p.SetObjectFlags(PadFlagPendingEvents)
	}
	return PadLinkOK
}

// Unlink breaks the link between the source pad p and sink.
func (p *Pad) Unlink(sink *Pad) error {
	p.mu.Lock()
	sink.mu.Lock()
	if p.peer != sink || sink.peer != p {
		sink.mu.Unlock()
		p.mu.Unlock()
		return fmt.Errorf("gst: %s is not linked to %s", p, sink)
	}
	p.peer = nil
	sink.peer = nil
	sink.mu.Unlock()
	p.mu.Unlock()

	if p.unlinkFn != nil {
		p.unlinkFn(p, p.ParentElement())
	}
	if sink.unlinkFn != nil {
		sink.unlinkFn(sink, sink.ParentElement())
	}
	catPads.Debug(p, "unlinked from %s", sink)
	return nil
}

// --- activation

// SetActive activates p in its default mode, or deactivates it.
func (p *Pad) SetActive(active bool) error {
	old := p.Mode()
	if active {
		if old != PadModeNone {
			return nil
		}
		if p.activateFn != nil {
			var err error
			func() {
				defer catchPanic(catPads, p, "activate", &err)
				err = p.activateFn(p, p.ParentElement())
			}()
			return err
		}
		return p.ActivateMode(PadModePush, true)
	}
	if old == PadModeNone {
		return nil
	}
	return p.ActivateMode(old, false)
}

// ActivateMode activates or deactivates p in mode. Activating a sink pad in pull
// mode also activates its peer.
func (p *Pad) ActivateMode(mode PadMode, active bool) error {
	old := p.Mode()
	newMode := PadModeNone
	if active {
		newMode = mode
	}
	if old == newMode {
		return nil
	}
	if active && old != PadModeNone {
		if err := p.ActivateMode(old, false); err != nil {
			return err
		}
	} else if !active && old != mode {
		return nil
	}

	if mode == PadModePull && p.direction == PadDirectionSink {
		peer := p.Peer()
		if active {
			if peer == nil {
				return fmt.Errorf("gst: %s: cannot activate in pull mode without peer", p)
			}
			if err := peer.ActivateMode(PadModePull, true); err != nil {
				return err
			}
		} else if peer != nil {
			_ = peer.ActivateMode(PadModePull, false)
		}
	}

	p.mu.Lock()
	if active {
		p.mode = newMode
		p.UnsetObjectFlags(PadFlagFlushing | PadFlagEOS)
	} else {
		p.SetObjectFlags(PadFlagFlushing)
		p.blockCond.Broadcast()
	}
	p.mu.Unlock()

	var err error
	if p.activateModeFn != nil {
		func() {
			defer catchPanic(catPads, p, "activate_mode", &err)
			err = p.activateModeFn(p, p.ParentElement(), mode, active)
		}()
	}
	if err != nil && active {
		p.mu.Lock()
		p.mode = PadModeNone
		p.SetObjectFlags(PadFlagFlushing)
		p.mu.Unlock()
		return fmt.Errorf("gst: %s: failed to activate in %s mode: %w", p, mode, err)
	}

	if !active {
		// wait for the streaming thread to leave, then drop the cached events
		p.streamLock.Lock()
		p.mu.Lock()
		p.mode = PadModeNone
		events := p.sticky
		p.sticky = nil
		p.UnsetObjectFlags(PadFlagPendingEvents | PadFlagEOS)
		p.mu.Unlock()
		p.streamLock.Unlock()
		for _, se := range events {
			se.ev.Unref()
		}
	}
	catPads.Debug(p, "%s in %s mode", map[bool]string{true: "activated", false: "deactivated"}[active], mode)
	return err
}

// --- sticky events

// stickyIndex returns the position of an event replacing ev, and whether one exists.
func (p *Pad) stickyIndexLocked(ev *Event) (int, bool) {
	key := ev.stickyKey()
	num := uint32(ev.EventType()) >> eventFlagBits
	for i, se := range p.sticky {
		if se.ev.stickyKey() == key {
			return i, true
		}
		if uint32(se.ev.EventType())>>eventFlagBits > num {
			return i, false
		}
	}
	return len(p.sticky), false
}

// storeStickyLocked caches ev, taking ownership.
func (p *Pad) storeStickyLocked(ev *Event) FlowReturn {
	t := ev.EventType()
	if p.mode == PadModeNone {
		ev.Unref()
		return FlowFlushing
	}
	if p.HasObjectFlags(PadFlagEOS) && t != EventStreamStart {
		ev.Unref()
		return FlowEOS
	}
	if t == EventStreamStart {
		p.UnsetObjectFlags(PadFlagEOS)
		p.sticky = slices.DeleteFunc(p.sticky, func(se stickyEvent) bool {
			if se.ev.EventType() == EventEOS || se.ev.EventType() == EventStreamGroupDone {
				se.ev.Unref()
				return true
			}
			return false
		})
	}
	i, replace := p.stickyIndexLocked(ev)
	if replace {
		if p.sticky[i].ev == ev {
			ev.Unref()
			return FlowOK
		}
		p.sticky[i].ev.Unref()
		p.sticky[i] = stickyEvent{ev: ev}
	} else {
		p.sticky = slices.Insert(p.sticky, i, stickyEvent{ev: ev})
	}
	if p.direction == PadDirectionSrc {
		p.SetObjectFlags(PadFlagPendingEvents)
	}
	if t == EventEOS {
		p.SetObjectFlags(PadFlagEOS)
	}
	return FlowOK
}

// flushStopLocked drops the segment and EOS state and schedules the rest for resend.
func (p *Pad) flushStopLocked() {
	p.UnsetObjectFlags(PadFlagFlushing | PadFlagEOS)
	p.sticky = slices.DeleteFunc(p.sticky, func(se stickyEvent) bool {
		switch se.ev.EventType() {
		case EventSegment, EventEOS, EventStreamGroupDone:
			se.ev.Unref()
			return true
		}
		return false
	})
	for i := range p.sticky {
		p.sticky[i].received = false
	}
	if len(p.sticky) > 0 && p.direction == PadDirectionSrc {
		p.SetObjectFlags(PadFlagPendingEvents)
	}
}

// StickyEvent returns a new reference to the cached event of type t, or nil.
func (p *Pad) StickyEvent(t EventType, idx int) *Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, se := range p.sticky {
		if se.ev.EventType() == t {
			if idx == 0 {
				return se.ev.Ref()
			}
			idx--
		}
	}
	return nil
}

// StickyEvents calls fn for each cached event in order until it returns false.
func (p *Pad) StickyEvents(fn func(ev *Event) bool) {
	p.mu.Lock()
	events := make([]*Event, len(p.sticky))
	for i, se := range p.sticky {
		events[i] = se.ev.Ref()
	}
	p.mu.Unlock()
	stop := false
	for _, ev := range events {
		if !stop && !fn(ev) {
			stop = true
		}
		ev.Unref()
	}
}

// CurrentCaps returns a new reference to the negotiated caps, or nil.
func (p *Pad) CurrentCaps() *Caps {
	ev := p.StickyEvent(EventCaps, 0)
	if ev == nil {
		return nil
	}
	defer ev.Unref()
	return ev.ParseCaps().Ref()
}

// HasCurrentCaps reports whether caps were negotiated.
func (p *Pad) HasCurrentCaps() bool {
	c := p.CurrentCaps()
	if c == nil {
		return false
	}
	c.Unref()
	return true
}

// StreamID returns the id of the current stream-start event.
func (p *Pad) StreamID() string {
	ev := p.StickyEvent(EventStreamStart, 0)
	if ev == nil {
		return ""
	}
	defer ev.Unref()
	return ev.ParseStreamStart()
}

// CreateStreamID returns a stream id for the source pad p of parent. Elements
// with an upstream stream reuse its id, URI handlers derive it from their URI and
// everything else gets a random one. A non-empty streamID is appended after a
// slash to tell the streams of one element apart.
func (p *Pad) CreateStreamID(parent *Element, streamID string) string {
	var upstream string
	if parent != nil {
		for _, sink := range parent.SinkPads() {
			if upstream = sink.StreamID(); upstream != "" {
				break
			}
		}
		if upstream == "" {
			if uri, ok := ElementURI(parent); ok && uri != "" {
				sum := sha256.Sum256([]byte(uri))
				upstream = hex.EncodeToString(sum[:])
			}
		}
	}
	if upstream == "" {
		upstream = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if streamID == "" {
		return upstream
	}
	return upstream + "/" + streamID
}

// pushStickyLocked sends cached events the peer has not seen. Failures of events
// other than caps do not stop dataflow. Called with p.mu held.
func (p *Pad) pushStickyLocked(beforeData bool) FlowReturn {
	for p.HasObjectFlags(PadFlagPendingEvents) {
		idx := slices.IndexFunc(p.sticky, func(se stickyEvent) bool { return !se.received })
		if idx < 0 {
			p.UnsetObjectFlags(PadFlagPendingEvents)
			return FlowOK
		}
		ev := p.sticky[idx].ev
		if ev.EventType() == EventEOS && beforeData {
			p.UnsetObjectFlags(PadFlagPendingEvents)
			return FlowEOS
		}
		ret := p.pushEventLocked(ev.Ref())
		markReceived := ret == FlowOK
		if ret == FlowError || ret == FlowNotSupported {
			if ev.EventType() == EventCaps {
				ret = FlowNotNegotiated
			} else {
				catPads.Debug(p, "sticky %s was not handled", ev.EventType())
				markReceived = true
				ret = FlowOK
			}
		}
		if markReceived {
			for i := range p.sticky {
				if p.sticky[i].ev == ev {
					p.sticky[i].received = true
				}
			}
		}
		if ret != FlowOK {
			return ret
		}
	}
	return FlowOK
}

// --- dataflow helpers

func (p *Pad) enterStreamingLocked() { p.streaming++ }

func (p *Pad) leaveStreamingLocked() {
	p.streaming--
	if p.streaming == 0 {
		p.runPendingIdleLocked()
	}
}

func eventProbeType(ev *Event, dir PadDirection) PadProbeType {
	t := ev.EventType()
	if t == EventFlushStart || t == EventFlushStop {
		return PadProbeTypeEventFlush
	}
	if dir == PadDirectionSrc {
		return PadProbeTypeEventDownstream
	}
	return PadProbeTypeEventUpstream
}

func releaseData(data any) {
	switch d := data.(type) {
	case *Buffer:
		d.Unref()
	case *BufferList:
		d.Unref()
	case *Event:
		d.Unref()
	}
}

// applyOffsetLocked returns ev with the pad offset added to segment events.
func (p *Pad) applyOffsetLocked(ev *Event) *Event {
	if p.offset == 0 || ev.EventType() != EventSegment {
		return ev
	}
	seg := ev.ParseSegment()
	if p.offset > 0 {
		seg.Base += uint64(p.offset)
	} else if uint64(-p.offset) <= seg.Base {
		seg.Base -= uint64(-p.offset)
	} else {
		seg.Base = 0
	}
	out := NewSegmentEvent(seg)
	out.MakeWritable().SetSeqnum(ev.Seqnum())
	ev.Unref()
	return out
}

// --- push mode

// Push sends buf to the peer's chain function.
func (p *Pad) Push(buf *Buffer) FlowReturn {
	tracersPadPushPre(p, buf)
	ret := p.pushData(PadProbeTypeBuffer|PadProbeTypePush, buf)
	tracersPadPushPost(p, ret)
	return ret
}

// PushList sends list to the peer's chain-list function.
func (p *Pad) PushList(list *BufferList) FlowReturn {
	tracersPadPushListPre(p, list)
	ret := p.pushData(PadProbeTypeBufferList|PadProbeTypePush, list)
	tracersPadPushListPost(p, ret)
	return ret
}

func (p *Pad) pushData(t PadProbeType, data any) FlowReturn {
	if p.direction != PadDirectionSrc {
		catPads.Warning(p, "pushing on a sink pad")
		releaseData(data)
		return FlowError
	}
	p.mu.Lock()
	if ret := p.checkFlowLocked(); ret != FlowOK {
		p.lastFlow = ret
		p.mu.Unlock()
		releaseData(data)
		return ret
	}
	if p.HasObjectFlags(PadFlagPendingEvents) {
		if ret := p.pushStickyLocked(true); ret != FlowOK {
			p.lastFlow = ret
			p.mu.Unlock()
			releaseData(data)
			return ret
		}
	}

	p.enterStreamingLocked()
	info := &PadProbeInfo{Type: t, Data: data, Offset: BufferOffsetNone}
	action, ret := p.runProbesLocked(info)
	data = info.Data
	switch action {
	case PadProbeDrop:
		releaseData(data)
		fallthrough
	case PadProbeHandled:
		p.leaveStreamingLocked()
		p.lastFlow = ret
		p.mu.Unlock()
		return ret
	}
	peer := p.peer
	if peer == nil {
		p.leaveStreamingLocked()
		p.lastFlow = FlowNotLinked
		p.mu.Unlock()
		releaseData(data)
		catPads.Log(p, "pushing on unlinked pad")
		return FlowNotLinked
	}
	p.mu.Unlock()

	ret = peer.chainData(t, data)

	p.mu.Lock()
	p.leaveStreamingLocked()
	p.lastFlow = ret
	p.mu.Unlock()
	if ret == FlowNotNegotiated {
		p.MarkReconfigure()
		catPads.Debug(p, "downstream not negotiated, marked for reconfigure")
	}
	return ret
}

func (p *Pad) checkFlowLocked() FlowReturn {
	switch {
	case p.HasObjectFlags(PadFlagFlushing):
		return FlowFlushing
	case p.HasObjectFlags(PadFlagEOS):
		return FlowEOS
	case p.mode == PadModePull:
		catPads.Error(p, "dataflow in pull mode pad")
		return FlowError
	}
	return FlowOK
}

// Chain delivers buf to the pad's own chain function as if pushed by the peer.
func (p *Pad) Chain(buf *Buffer) FlowReturn {
	return p.chainData(PadProbeTypeBuffer|PadProbeTypePush, buf)
}

// ChainList delivers list to the pad's own chain-list function.
func (p *Pad) ChainList(list *BufferList) FlowReturn {
	return p.chainData(PadProbeTypeBufferList|PadProbeTypePush, list)
}

func (p *Pad) chainData(t PadProbeType, data any) FlowReturn {
	p.streamLock.Lock()
	defer p.streamLock.Unlock()

	p.mu.Lock()
	if ret := p.checkFlowLocked(); ret != FlowOK {
		p.mu.Unlock()
		releaseData(data)
		return ret
	}
	p.enterStreamingLocked()
	info := &PadProbeInfo{Type: t, Data: data, Offset: BufferOffsetNone}
	action, ret := p.runProbesLocked(info)
	data = info.Data
	if action == PadProbeDrop || action == PadProbeHandled {
		if action == PadProbeDrop {
			releaseData(data)
		}
		p.leaveStreamingLocked()
		p.mu.Unlock()
		return ret
	}
	p.mu.Unlock()

	parent := p.ParentElement()
	switch d := data.(type) {
	case *Buffer:
		ret = p.callChain(parent, d)
	case *BufferList:
		if p.chainListFn != nil {
			ret = p.callChainList(parent, d)
		} else {
			ret = FlowOK
			for _, b := range d.All() {
				if ret = p.callChain(parent, b.Ref()); ret != FlowOK {
					break
				}
			}
			d.Unref()
		}
	}

	p.mu.Lock()
	p.leaveStreamingLocked()
	p.lastFlow = ret
	p.mu.Unlock()
	return ret
}

func (p *Pad) callChainList(parent *Element, list *BufferList) (ret FlowReturn) {
	defer func() {
		if r := recover(); r != nil {
			catPads.Error(p, "panic in chain list function: %v", r)
			ret = FlowError
		}
	}()
	return p.chainListFn(p, parent, list)
}

func (p *Pad) callChain(parent *Element, buf *Buffer) (ret FlowReturn) {
	if p.chainFn == nil {
		catPads.Warning(p, "no chain function")
		buf.Unref()
		return FlowNotSupported
	}
	defer func() {
		if r := recover(); r != nil {
			catPads.Error(p, "panic in chain function: %v", r)
			ret = FlowError
		}
	}()
	return p.chainFn(p, parent, buf)
}

// --- pull mode

// PullRange pulls a buffer from the peer of the sink pad p.
func (p *Pad) PullRange(offset uint64, size uint) (*Buffer, FlowReturn) {
	if p.direction != PadDirectionSink {
		return nil, FlowError
	}
	p.mu.Lock()
	if p.HasObjectFlags(PadFlagFlushing) {
		p.mu.Unlock()
		return nil, FlowFlushing
	}
	if p.mode != PadModePull {
		p.mu.Unlock()
		catPads.Error(p, "pulling on a pad not in pull mode")
		return nil, FlowError
	}
	p.enterStreamingLocked()
	info := &PadProbeInfo{Type: PadProbeTypeBlock | PadProbeTypePull, Offset: offset, Size: size}
	if action, ret := p.runProbesLocked(info); action == PadProbeDrop || action == PadProbeHandled {
		p.leaveStreamingLocked()
		p.mu.Unlock()
		if action == PadProbeHandled && info.Buffer() != nil {
			return info.Buffer(), FlowOK
		}
		return nil, ret
	}
	peer := p.peer
	p.mu.Unlock()

	var (
		buf *Buffer
		ret = FlowNotLinked
	)
	if peer != nil {
		buf, ret = peer.GetRange(offset, size)
	}

	p.mu.Lock()
	if ret == FlowOK {
		info = &PadProbeInfo{Type: PadProbeTypeBuffer | PadProbeTypePull, Data: buf, Offset: offset, Size: size}
		action, pret := p.runProbesLocked(info)
		buf = info.Buffer()
		if action == PadProbeDrop {
			if buf != nil {
				buf.Unref()
			}
			buf, ret = nil, pret
			if ret == FlowOK {
				ret = FlowCustomSuccess
			}
		}
	}
	p.leaveStreamingLocked()
	p.lastFlow = ret
	p.mu.Unlock()
	return buf, ret
}

// GetRange calls the getrange function of the source pad p.
func (p *Pad) GetRange(offset uint64, size uint) (buf *Buffer, ret FlowReturn) {
	p.streamLock.Lock()
	defer p.streamLock.Unlock()
	p.mu.Lock()
	if p.HasObjectFlags(PadFlagFlushing) {
		p.mu.Unlock()
		return nil, FlowFlushing
	}
	if p.mode != PadModePull {
		p.mu.Unlock()
		return nil, FlowError
	}
	p.mu.Unlock()
	if p.getRangeFn == nil {
		return nil, FlowNotSupported
	}
	defer func() {
		if r := recover(); r != nil {
			catPads.Error(p, "panic in getrange function: %v", r)
			buf, ret = nil, FlowError
		}
	}()
	return p.getRangeFn(p, p.ParentElement(), offset, size)
}

// --- events

// PushEvent sends ev to the peer. Sticky events are cached and succeed even when
// the pad is unlinked.
func (p *Pad) PushEvent(ev *Event) bool {
	tracersPadPushEventPre(p, ev)
	res := p.pushEvent(ev)
	tracersPadPushEventPost(p, res)
	return res
}

func (p *Pad) pushEvent(ev *Event) bool {
	t := ev.EventType()
	if p.direction == PadDirectionSrc && !t.IsDownstream() || p.direction == PadDirectionSink && !t.IsUpstream() {
		catPads.Warning(p, "event %s pushed in the wrong direction", t)
		ev.Unref()
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch t {
	case EventFlushStart:
		p.SetObjectFlags(PadFlagFlushing)
		p.blockCond.Broadcast()
	case EventFlushStop:
		if p.mode == PadModeNone {
			ev.Unref()
			return false
		}
		p.flushStopLocked()
	default:
		if p.HasObjectFlags(PadFlagFlushing) {
			ev.Unref()
			return false
		}
	}

	if p.direction == PadDirectionSrc && t.IsSticky() {
		if t == EventCaps && p.HasObjectFlags(PadFlagFixedCaps) {
			if cur := p.currentCapsLocked(); cur != nil && !cur.IsEqual(ev.ParseCaps()) {
				catPads.Warning(p, "refusing caps change on a fixed caps pad")
				ev.Unref()
				return false
			}
		}
		if ret := p.storeStickyLocked(ev); ret != FlowOK {
			return false
		}
		ret := p.pushStickyLocked(false)
		return ret == FlowOK || ret == FlowNotLinked || ret == FlowEOS && t == EventEOS
	}

	// flush-stop goes out first; the stickies follow with the next item
	if p.direction == PadDirectionSrc && t.IsSerialized() && t != EventFlushStop && p.HasObjectFlags(PadFlagPendingEvents) {
		if ret := p.pushStickyLocked(true); ret != FlowOK && ret != FlowNotLinked {
			ev.Unref()
			return false
		}
	}
	ret := p.pushEventLocked(ev)
	return ret == FlowOK
}

func (p *Pad) currentCapsLocked() *Caps {
	for _, se := range p.sticky {
		if se.ev.EventType() == EventCaps {
			return se.ev.ParseCaps()
		}
	}
	return nil
}

// pushEventLocked runs the probes and hands ev to the peer. Called with p.mu held.
func (p *Pad) pushEventLocked(ev *Event) FlowReturn {
	p.enterStreamingLocked()
	info := &PadProbeInfo{Type: eventProbeType(ev, p.direction) | PadProbeTypePush, Data: ev}
	action, ret := p.runProbesLocked(info)
	if e := info.Event(); e != nil {
		ev = e
	}
	switch action {
	case PadProbeDrop:
		ev.Unref()
		fallthrough
	case PadProbeHandled:
		p.leaveStreamingLocked()
		return ret
	}
	peer := p.peer
	if peer == nil {
		p.leaveStreamingLocked()
		ev.Unref()
		return FlowNotLinked
	}
	if p.direction == PadDirectionSrc {
		ev = p.applyOffsetLocked(ev)
	}
	p.mu.Unlock()
	ret = peer.sendEvent(ev)
	p.mu.Lock()
	p.leaveStreamingLocked()
	return ret
}

// SendEvent hands ev to the pad's own event function as if sent by the peer.
func (p *Pad) SendEvent(ev *Event) bool { return p.sendEvent(ev) == FlowOK }

func (p *Pad) sendEvent(ev *Event) FlowReturn {
	t := ev.EventType()
	if p.direction == PadDirectionSink && !t.IsDownstream() || p.direction == PadDirectionSrc && !t.IsUpstream() {
		catPads.Warning(p, "event %s received in the wrong direction", t)
		ev.Unref()
		return FlowError
	}
	serialized := p.direction == PadDirectionSink && t.IsSerialized()
	if serialized {
		p.streamLock.Lock()
		defer p.streamLock.Unlock()
	}

	p.mu.Lock()
	switch t {
	case EventFlushStart:
		p.SetObjectFlags(PadFlagFlushing)
		p.blockCond.Broadcast()
	case EventFlushStop:
		if p.mode == PadModeNone {
			p.mu.Unlock()
			ev.Unref()
			return FlowFlushing
		}
		p.flushStopLocked()
	case EventReconfigure:
		if p.direction == PadDirectionSrc {
			p.SetObjectFlags(PadFlagNeedReconfigure)
		}
		fallthrough
	default:
		if p.HasObjectFlags(PadFlagFlushing) {
			p.mu.Unlock()
			ev.Unref()
			return FlowFlushing
		}
		if serialized && p.HasObjectFlags(PadFlagEOS) && t != EventStreamStart {
			p.mu.Unlock()
			ev.Unref()
			return FlowEOS
		}
	}
	if t == EventStreamStart && p.direction == PadDirectionSink {
		p.UnsetObjectFlags(PadFlagEOS)
	}

	p.enterStreamingLocked()
	ptype := PadProbeTypeEventDownstream
	if p.direction == PadDirectionSrc {
		ptype = PadProbeTypeEventUpstream
	}
	if t == EventFlushStart || t == EventFlushStop {
		ptype = PadProbeTypeEventFlush
	}
	info := &PadProbeInfo{Type: ptype | PadProbeTypePush, Data: ev}
	action, ret := p.runProbesLocked(info)
	if e := info.Event(); e != nil {
		ev = e
	}
	if action == PadProbeDrop || action == PadProbeHandled {
		if action == PadProbeDrop {
			ev.Unref()
		}
		p.leaveStreamingLocked()
		p.mu.Unlock()
		return ret
	}
	p.mu.Unlock()

	sticky := p.direction == PadDirectionSink && t.IsSticky()
	var keep *Event
	if sticky {
		keep = ev.Ref()
	}
	ok := p.callEvent(ev)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.leaveStreamingLocked()
	if sticky {
		if ok {
			if r := p.storeStickyLocked(keep); r != FlowOK {
				return r
			}
		} else {
			keep.Unref()
		}
	}
	switch {
	case ok:
		return FlowOK
	case t == EventCaps:
		return FlowNotNegotiated
	case p.HasObjectFlags(PadFlagFlushing):
		return FlowFlushing
	}
	return FlowError
}

func (p *Pad) callEvent(ev *Event) (ok bool) {
	parent := p.ParentElement()
	defer func() {
		if r := recover(); r != nil {
			catPads.Error(p, "panic in event function: %v", r)
			ok = false
		}
	}()
	if p.eventFn != nil {
		return p.eventFn(p, parent, ev)
	}
	return p.EventDefault(parent, ev)
}

// IterateInternalLinks returns the pads data on p is forwarded to.
func (p *Pad) IterateInternalLinks() []*Pad {
	parent := p.ParentElement()
	if p.iterIntLinkFn != nil {
		return p.iterIntLinkFn(p, parent)
	}
	if parent == nil {
		return nil
	}
	if p.direction == PadDirectionSrc {
		return parent.SinkPads()
	}
	return parent.SrcPads()
}

// EventDefault forwards ev to the internally linked pads. Caps events are only
// forwarded on pads proxying caps.
func (p *Pad) EventDefault(parent *Element, ev *Event) bool {
	defer ev.Unref()
	if ev.EventType() == EventCaps && !p.HasObjectFlags(PadFlagProxyCaps) {
		return true
	}
	links := p.IterateInternalLinks()
	if len(links) == 0 {
		return true
	}
	res := false
	for _, l := range links {
		if l.PushEvent(ev.Ref()) {
			res = true
		}
	}
	return res
}

// --- queries

// Query runs q against the pad's own query function.
func (p *Pad) Query(q *QueryMut) bool {
	tracersPadQueryPre(p, q)
	res := p.query(q)
	tracersPadQueryPost(p, q, res)
	return res
}

func (p *Pad) queryProbeType() PadProbeType {
	if p.direction == PadDirectionSrc {
		return PadProbeTypeQueryUpstream
	}
	return PadProbeTypeQueryDownstream
}

func (p *Pad) query(q *QueryMut) bool {
	if p.direction == PadDirectionSink && q.IsSerialized() {
		p.streamLock.Lock()
		defer p.streamLock.Unlock()
		if p.IsFlushing() {
			return false
		}
	}
	p.mu.Lock()
	info := &PadProbeInfo{Type: p.queryProbeType() | PadProbeTypePush, Data: q}
	action, _ := p.runProbesLocked(info)
	p.mu.Unlock()
	switch action {
	case PadProbeHandled:
		return true
	case PadProbeDrop:
		return false
	}

	res := p.callQuery(q)

	p.mu.Lock()
	info = &PadProbeInfo{Type: p.queryProbeType() | PadProbeTypePull, Data: q}
	action, _ = p.runProbesLocked(info)
	p.mu.Unlock()
	if action == PadProbeDrop {
		return false
	}
	return res
}

func (p *Pad) callQuery(q *QueryMut) (res bool) {
	parent := p.ParentElement()
	defer func() {
		if r := recover(); r != nil {
			catPads.Error(p, "panic in query function: %v", r)
			res = false
		}
	}()
	if p.queryFn != nil {
		return p.queryFn(p, parent, q)
	}
	return p.QueryDefault(parent, q)
}

// PeerQuery runs q on the peer of p.
func (p *Pad) PeerQuery(q *QueryMut) bool {
	ptype := PadProbeTypeQueryDownstream
	if p.direction == PadDirectionSink {
		ptype = PadProbeTypeQueryUpstream
	}
	p.mu.Lock()
	info := &PadProbeInfo{Type: ptype | PadProbeTypePush, Data: q}
	action, _ := p.runProbesLocked(info)
	peer := p.peer
	p.mu.Unlock()
	switch action {
	case PadProbeHandled:
		return true
	case PadProbeDrop:
		return false
	}
	if peer == nil {
		return false
	}
	res := peer.Query(q)

	p.mu.Lock()
	info = &PadProbeInfo{Type: ptype | PadProbeTypePull, Data: q}
	action, _ = p.runProbesLocked(info)
	p.mu.Unlock()
	if action == PadProbeDrop {
		return false
	}
	return res
}

// QueryDefault answers caps and accept-caps queries from templates and forwards
// most others to the internally linked pads.
func (p *Pad) QueryDefault(parent *Element, q *QueryMut) bool {
	switch q.QueryType() {
	case QueryAcceptCaps:
		if p.HasObjectFlags(PadFlagProxyCaps) {
			return p.forwardQuery(q)
		}
		return p.acceptCapsDefault(q)
	case QueryCaps:
		if p.HasObjectFlags(PadFlagProxyCaps) && p.forwardQuery(q) {
			return true
		}
		return p.capsDefault(q)
	case QueryAllocation, QueryDrain:
		if p.HasObjectFlags(PadFlagProxyAllocation) {
			return p.forwardQuery(q)
		}
		return q.QueryType() == QueryDrain
	case QueryScheduling:
		if p.HasObjectFlags(PadFlagProxyScheduling) {
			return p.forwardQuery(q)
		}
		return false
	case QueryPosition, QueryDuration, QuerySeeking, QuerySegment, QueryLatency,
		QueryJitter, QueryRate, QueryConvert, QueryBuffering, QueryURI, QueryContext,
		QueryFormats, QueryBitrate, QuerySelectable, QueryCustom:
		return p.forwardQuery(q)
	}
	return false
}

func (p *Pad) forwardQuery(q *QueryMut) bool {
	for _, l := range p.IterateInternalLinks() {
		if l.PeerQuery(q) {
			return true
		}
	}
	return false
}

// PadTemplateCaps returns a new reference to the template caps, ANY without template.
func (p *Pad) PadTemplateCaps() *Caps {
	if p.template != nil {
		return p.template.Caps().Ref()
	}
	return NewCapsAny()
}

func (p *Pad) capsDefault(q *QueryMut) bool {
	var result *Caps
	if p.HasObjectFlags(PadFlagFixedCaps) {
		result = p.CurrentCaps()
	}
	if result == nil {
		result = p.PadTemplateCaps()
	}
	if filter := q.ParseCaps(); filter != nil {
		inter := filter.IntersectWithMode(result, CapsIntersectFirst)
		result.Unref()
		result = inter
	}
	q.SetCapsResult(result)
	result.Unref()
	return true
}

func (p *Pad) acceptCapsDefault(q *QueryMut) bool {
	caps := q.ParseAcceptCaps()
	var allowed *Caps
	if p.HasObjectFlags(PadFlagAcceptTemplate) {
		allowed = p.PadTemplateCaps()
	} else {
		allowed = p.QueryCaps(caps)
	}
	var ok bool
	if p.HasObjectFlags(PadFlagAcceptIntersect) {
		ok = caps.CanIntersect(allowed)
	} else {
		ok = caps.IsSubset(allowed)
	}
	allowed.Unref()
	q.SetAcceptCapsResult(ok)
	return true
}

// QueryCaps returns the caps p can handle, filtered by filter when non-nil.
func (p *Pad) QueryCaps(filter *Caps) *Caps {
	q := NewCapsQuery(filter)
	defer q.Unref()
	if p.Query(q) {
		if c := q.CapsResult(); c != nil {
			return c.Ref()
		}
	}
	if filter != nil {
		return filter.Ref()
	}
	return NewCapsAny()
}

// PeerQueryCaps returns the caps the peer can handle, ANY when unlinked.
func (p *Pad) PeerQueryCaps(filter *Caps) *Caps {
	peer := p.Peer()
	if peer == nil {
		if filter != nil {
			return filter.Ref()
		}
		return NewCapsAny()
	}
	return peer.QueryCaps(filter)
}

// QueryAcceptCaps reports whether p accepts caps.
func (p *Pad) QueryAcceptCaps(caps *Caps) bool {
	q := NewAcceptCapsQuery(caps)
	defer q.Unref()
	return p.Query(q) && q.AcceptCapsResult()
}

// PeerQueryAcceptCaps reports whether the peer accepts caps. Unlinked pads accept all.
func (p *Pad) PeerQueryAcceptCaps(caps *Caps) bool {
	peer := p.Peer()
	if peer == nil {
		return true
	}
	return peer.QueryAcceptCaps(caps)
}

// AllowedCaps returns the intersection of what p and its peer can do, nil when unlinked.
func (p *Pad) AllowedCaps() *Caps {
	if !p.IsLinked() {
		return nil
	}
	mine := p.QueryCaps(nil)
	defer mine.Unref()
	return p.PeerQueryCaps(mine)
}

// QueryPosition asks p for the current position in format.
func (p *Pad) QueryPosition(format Format) (int64, bool) {
	q := NewPositionQuery(format)
	defer q.Unref()
	if !p.Query(q) {
		return -1, false
	}
	_, cur := q.ParsePosition()
	return cur, true
}

// PeerQueryPosition asks the peer of p for the current position.
func (p *Pad) PeerQueryPosition(format Format) (int64, bool) {
	q := NewPositionQuery(format)
	defer q.Unref()
	if !p.PeerQuery(q) {
		return -1, false
	}
	_, cur := q.ParsePosition()
	return cur, true
}

// QueryDuration asks p for the stream duration in format.
func (p *Pad) QueryDuration(format Format) (int64, bool) {
	q := NewDurationQuery(format)
	defer q.Unref()
	if !p.Query(q) {
		return -1, false
	}
	_, dur := q.ParseDuration()
	return dur, true
}

// PeerQueryDuration asks the peer of p for the stream duration.
func (p *Pad) PeerQueryDuration(format Format) (int64, bool) {
	q := NewDurationQuery(format)
	defer q.Unref()
	if !p.PeerQuery(q) {
		return -1, false
	}
	_, dur := q.ParseDuration()
	return dur, true
}

// --- tasks

// StartTask starts a task running fn with the pad's stream lock held.
func (p *Pad) StartTask(fn func()) error {
	owner, name := p.ParentElement(), p.Name()
	p.mu.Lock()
	task := p.task
	if task == nil {
		task = NewTaskBuilder(fn).
			Lock(&p.streamLock).
			Name(name + ":task").
			EnterFunc(func(t *Task) { p.postStreamStatus(owner, StreamStatusEnter, t) }).
			LeaveFunc(func(t *Task) { p.postStreamStatus(owner, StreamStatusLeave, t) }).
			Build()
		p.task = task
		p.mu.Unlock()
		p.postStreamStatus(owner, StreamStatusCreate, task)
	} else {
		p.mu.Unlock()
	}
	return task.Start()
}

func (p *Pad) postStreamStatus(owner *Element, t StreamStatusType, task *Task) {
	if owner == nil {
		return
	}
	msg := NewStreamStatusMessage(p, t, owner)
	if m, ok := msg.GetMut(); ok {
		m.SetStreamStatusTask(task)
	}
	owner.PostMessage(msg)
}

// PauseTask pauses the pad task and waits for the current iteration.
func (p *Pad) PauseTask() error {
	p.mu.Lock()
	task := p.task
	p.mu.Unlock()
	if task == nil {
		return nil
	}
	if err := task.Pause(); err != nil {
		return err
	}
	if !p.streamLock.HeldByCurrent() {
		p.streamLock.Lock()
		p.streamLock.Unlock()
	}
	return nil
}

// StopTask stops the pad task and joins its goroutine.
func (p *Pad) StopTask() error {
	p.mu.Lock()
	task := p.task
	p.mu.Unlock()
	if task == nil {
		return nil
	}
	if err := task.Stop(); err != nil {
		return err
	}
	// wait for the iteration in progress
	if !p.streamLock.HeldByCurrent() {
		p.streamLock.Lock()
		p.streamLock.Unlock()
	}
	if err := task.Join(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.task == task {
		p.task = nil
	}
	p.mu.Unlock()
	p.postStreamStatus(p.ParentElement(), StreamStatusDestroy, task)
	return nil
}

// TaskState returns the state of the pad task, TaskStopped without one.
func (p *Pad) TaskState() TaskState {
	p.mu.Lock()
	task := p.task
	p.mu.Unlock()
	if task == nil {
		return TaskStopped
	}
	return task.State()
}
