package gst

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// EventTypeFlags describe how an event travels.
type EventTypeFlags uint32

const (
	EventTypeUpstream    EventTypeFlags = 1 << 0
	EventTypeDownstream  EventTypeFlags = 1 << 1
	EventTypeSerialized  EventTypeFlags = 1 << 2
	EventTypeSticky      EventTypeFlags = 1 << 3
	EventTypeStickyMulti EventTypeFlags = 1 << 4

	eventTypeBoth = EventTypeUpstream | EventTypeDownstream
	eventFlagBits = 8
)

// EventType identifies an event. The low bits carry EventTypeFlags; the ordering of
// the numeric values is the order sticky events are sent in.
type EventType uint32

func makeEventType(num uint32, flags EventTypeFlags) EventType {
	return EventType(num<<eventFlagBits | uint32(flags))
}

var (
	EventUnknown                = makeEventType(0, 0)
	EventFlushStart             = makeEventType(10, eventTypeBoth)
	EventFlushStop              = makeEventType(20, eventTypeBoth|EventTypeSerialized)
	EventStreamStart            = makeEventType(40, EventTypeDownstream|EventTypeSerialized|EventTypeSticky)
	EventCaps                   = makeEventType(50, EventTypeDownstream|EventTypeSerialized|EventTypeSticky)
	EventSegment                = makeEventType(70, EventTypeDownstream|EventTypeSerialized|EventTypeSticky)
	EventStreamCollection       = makeEventType(75, EventTypeDownstream|EventTypeSerialized|EventTypeSticky|EventTypeStickyMulti)
	EventTag                    = makeEventType(80, EventTypeDownstream|EventTypeSerialized|EventTypeSticky|EventTypeStickyMulti)
	EventBufferSize             = makeEventType(90, EventTypeDownstream|EventTypeSerialized|EventTypeSticky)
	EventSinkMessage            = makeEventType(100, EventTypeDownstream|EventTypeSerialized|EventTypeSticky|EventTypeStickyMulti)
	EventStreamGroupDone        = makeEventType(105, EventTypeDownstream|EventTypeSerialized|EventTypeSticky)
	EventEOS                    = makeEventType(110, EventTypeDownstream|EventTypeSerialized|EventTypeSticky)
	EventToc                    = makeEventType(120, EventTypeDownstream|EventTypeSerialized|EventTypeSticky|EventTypeStickyMulti)
	EventProtection             = makeEventType(130, EventTypeDownstream|EventTypeSerialized|EventTypeSticky|EventTypeStickyMulti)
	EventSegmentDone            = makeEventType(150, EventTypeDownstream|EventTypeSerialized)
	EventGap                    = makeEventType(160, EventTypeDownstream|EventTypeSerialized)
	EventInstantRateChange      = makeEventType(180, EventTypeDownstream|EventTypeSticky)
	EventQOS                    = makeEventType(190, EventTypeUpstream)
	EventSeek                   = makeEventType(200, EventTypeUpstream)
	EventNavigation             = makeEventType(210, EventTypeUpstream)
	EventLatency                = makeEventType(220, EventTypeUpstream)
	EventStep                   = makeEventType(230, EventTypeUpstream)
	EventReconfigure            = makeEventType(240, EventTypeUpstream)
	EventTocSelect              = makeEventType(250, EventTypeUpstream)
	EventSelectStreams          = makeEventType(260, EventTypeUpstream)
	EventInstantRateSyncTime    = makeEventType(261, EventTypeUpstream)
	EventCustomUpstream         = makeEventType(270, EventTypeUpstream)
	EventCustomDownstream       = makeEventType(280, EventTypeDownstream|EventTypeSerialized)
	EventCustomDownstreamOOB    = makeEventType(290, EventTypeDownstream)
	EventCustomDownstreamSticky = makeEventType(300, EventTypeDownstream|EventTypeSerialized|EventTypeSticky|EventTypeStickyMulti)
	EventCustomBoth             = makeEventType(310, eventTypeBoth|EventTypeSerialized)
	EventCustomBothOOB          = makeEventType(320, eventTypeBoth)
)

var eventTypeNames = map[EventType]string{
	EventUnknown:                "unknown",
	EventFlushStart:             "flush-start",
	EventFlushStop:              "flush-stop",
	EventStreamStart:            "stream-start",
	EventCaps:                   "caps",
	EventSegment:                "segment",
	EventStreamCollection:       "stream-collection",
	EventTag:                    "tag",
	EventBufferSize:             "buffersize",
	EventSinkMessage:            "sink-message",
	EventStreamGroupDone:        "stream-group-done",
	EventEOS:                    "eos",
	EventToc:                    "toc",
	EventProtection:             "protection",
	EventSegmentDone:            "segment-done",
	EventGap:                    "gap",
	EventInstantRateChange:      "instant-rate-change",
	EventQOS:                    "qos",
	EventSeek:                   "seek",
	EventNavigation:             "navigation",
	EventLatency:                "latency",
	EventStep:                   "step",
	EventReconfigure:            "reconfigure",
	EventTocSelect:              "toc-select",
	EventSelectStreams:          "select-streams",
	EventInstantRateSyncTime:    "instant-rate-sync-time",
	EventCustomUpstream:         "custom-upstream",
	EventCustomDownstream:       "custom-downstream",
	EventCustomDownstreamOOB:    "custom-downstream-oob",
	EventCustomDownstreamSticky: "custom-downstream-sticky",
	EventCustomBoth:             "custom-both",
	EventCustomBothOOB:          "custom-both-oob",
}

func (t EventType) String() string {
	if n, ok := eventTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("event-type(%d)", uint32(t))
}

// Flags returns the travel flags of t.
func (t EventType) Flags() EventTypeFlags { return EventTypeFlags(t) & (1<<eventFlagBits - 1) }

func (t EventType) IsUpstream() bool    { return t.Flags()&EventTypeUpstream != 0 }
func (t EventType) IsDownstream() bool  { return t.Flags()&EventTypeDownstream != 0 }
func (t EventType) IsSerialized() bool  { return t.Flags()&EventTypeSerialized != 0 }
func (t EventType) IsSticky() bool      { return t.Flags()&EventTypeSticky != 0 }
func (t EventType) IsStickyMulti() bool { return t.Flags()&EventTypeStickyMulti != 0 }

var seqnumCounter atomic.Uint32

// NextSeqnum returns a new, process-unique sequence number. It never returns 0.
func NextSeqnum() uint32 {
	for {
		if n := seqnumCounter.Add(1); n != 0 {
			return n
		}
	}
}

// StreamFlags describe a stream announced by stream-start.
type StreamFlags uint32

const (
	StreamFlagNone     StreamFlags = 0
	StreamFlagSparse   StreamFlags = 1 << 0
	StreamFlagSelect   StreamFlags = 1 << 1
	StreamFlagUnselect StreamFlags = 1 << 2
)

func (f StreamFlags) String() string {
	var parts []string
	if f&StreamFlagSparse != 0 {
		parts = append(parts, "sparse")
	}
	if f&StreamFlagSelect != 0 {
		parts = append(parts, "select")
	}
	if f&StreamFlagUnselect != 0 {
		parts = append(parts, "unselect")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// QOSType tells why a QOS event was sent.
type QOSType int

const (
	QOSTypeOverflow QOSType = iota
	QOSTypeUnderflow
	QOSTypeThrottle
)

// Event travels along pads, in band with the data for serialized events.
type Event struct {
	MiniObject

	typ               EventType
	timestamp         ClockTime
	seqnum            uint32
	runningTimeOffset int64
	structure         *Structure
}

// EventMut is a proven-writable view on an Event.
type EventMut struct {
	*Event
}

// NewEvent creates an event of type t carrying s, taking ownership of s. s may be nil.
func NewEvent(t EventType, s *Structure) *Event {
	e := &Event{typ: t, timestamp: ClockTimeNone, seqnum: NextSeqnum()}
	e.init(TypeEvent, 0, nil, e.freeEvent)
	if s != nil {
		s.setParent(&e.MiniObject)
		e.structure = s
	}
	return e
}

func (e *Event) freeEvent() {
	if e.structure != nil {
		e.structure.parent = nil
		e.structure.release()
		e.structure = nil
	}
}

// Ref takes another reference.
func (e *Event) Ref() *Event { e.ref(); return e }

// Copy returns an independent copy with the same seqnum.
func (e *Event) Copy() *EventMut {
	c := NewEvent(e.typ, e.structure.Copy())
	c.timestamp = e.timestamp
	c.seqnum = e.seqnum
	c.runningTimeOffset = e.runningTimeOffset
	return &EventMut{c}
}

// GetMut returns a mutable view if e is writable.
func (e *Event) GetMut() (*EventMut, bool) {
	if !e.IsWritable() {
		return nil, false
	}
	return &EventMut{e}, true
}

// MakeWritable consumes the handle and returns a writable event, copying when shared.
func (e *Event) MakeWritable() *EventMut {
	if m, ok := e.GetMut(); ok {
		return m
	}
	c := e.Copy()
	e.Unref()
	return c
}

func (e *Event) EventType() EventType        { return e.typ }
func (e *Event) Timestamp() ClockTime        { return e.timestamp }
func (e *Event) Seqnum() uint32              { return e.seqnum }
func (e *Event) RunningTimeOffset() int64    { return e.runningTimeOffset }
func (e *Event) IsUpstream() bool            { return e.typ.IsUpstream() }
func (e *Event) IsDownstream() bool          { return e.typ.IsDownstream() }
func (e *Event) IsSerialized() bool          { return e.typ.IsSerialized() }
func (e *Event) IsSticky() bool              { return e.typ.IsSticky() }
func (e *Event) HasName(name string) bool    { return e.structure != nil && e.structure.HasName(name) }
func (e *Event) Structure() *Structure       { return e.structure }
func (e *EventMut) SetSeqnum(n uint32)       { e.mustBeWritable(); e.seqnum = n }
func (e *EventMut) SetTimestamp(t ClockTime) { e.mustBeWritable(); e.timestamp = t }

// SetRunningTimeOffset sets the offset applied to the running time of the event.
func (e *EventMut) SetRunningTimeOffset(off int64) {
	e.mustBeWritable()
	e.runningTimeOffset = off
}

// WritableStructure returns the structure for mutation, creating it when missing.
func (e *EventMut) WritableStructure() *Structure {
	e.mustBeWritable()
	if e.structure == nil {
		e.structure = NewStructure(e.typ.String())
		e.structure.setParent(&e.MiniObject)
	}
	return e.structure
}

// stickyKey identifies the slot a sticky event occupies on a pad. Multi-sticky
// events are additionally keyed by structure name.
func (e *Event) stickyKey() string {
	if e.typ.IsStickyMulti() && e.structure != nil {
		return e.typ.String() + "/" + e.structure.Name()
	}
	return e.typ.String()
}

func (e *Event) String() string {
	s := "NULL"
	if e.structure != nil {
		s = e.structure.String()
	}
	return fmt.Sprintf("event %s, seqnum %d, %s", e.typ, e.seqnum, s)
}

func eventField[T any](e *Event, field string) T {
	var zero T
	if e.structure == nil {
		return zero
	}
	v, _ := Get[T](e.structure, field)
	return v
}

func (e *Event) mustBe(t EventType) {
	if e.typ != t {
		panic(fmt.Sprintf("gst: parsing %s event as %s", e.typ, t))
	}
}

// NewFlushStartEvent starts a flush: pads stop accepting data until flush-stop.
func NewFlushStartEvent() *Event { return NewEvent(EventFlushStart, nil) }

// NewFlushStopEvent ends a flush. resetTime resets the running time to 0.
func NewFlushStopEvent(resetTime bool) *Event {
	return NewEvent(EventFlushStop, NewStructureFromFields("GstEventFlushStop", "reset-time", resetTime))
}

// ParseFlushStop returns the reset-time flag.
func (e *Event) ParseFlushStop() bool {
	e.mustBe(EventFlushStop)
	return eventField[bool](e, "reset-time")
}

// NewStreamStartEvent announces a new stream with the given id.
func NewStreamStartEvent(streamID string) *Event {
	return NewEvent(EventStreamStart, NewStructureFromFields("GstEventStreamStart",
		"stream-id", streamID, "flags", uint32(StreamFlagNone)))
}

// ParseStreamStart returns the stream id.
func (e *Event) ParseStreamStart() string {
	e.mustBe(EventStreamStart)
	return eventField[string](e, "stream-id")
}

// StreamFlags returns the flags of a stream-start event.
func (e *Event) StreamFlags() StreamFlags {
	return StreamFlags(eventField[uint32](e, "flags"))
}

// GroupID returns the group id of a stream-start event.
func (e *Event) GroupID() (uint32, bool) {
	if e.structure == nil {
		return 0, false
	}
	v, err := Get[uint32](e.structure, "group-id")
	return v, err == nil
}

// SetStreamFlags sets the stream-start flags.
func (e *EventMut) SetStreamFlags(f StreamFlags) { e.WritableStructure().Set("flags", uint32(f)) }

// SetGroupID sets the stream-start group id.
func (e *EventMut) SetGroupID(id uint32) { e.WritableStructure().Set("group-id", id) }

var groupIDCounter atomic.Uint32

// NextGroupID returns a new group id for stream-start events.
func NextGroupID() uint32 {
	for {
		if n := groupIDCounter.Add(1); n != 0 {
			return n
		}
	}
}

// NewCapsEvent announces the format of the following data.
func NewCapsEvent(caps *Caps) *Event {
	if !caps.IsFixed() {
		catCaps.Warning(nil, "caps event with non-fixed caps %s", caps)
	}
	return NewEvent(EventCaps, NewStructureFromFields("GstEventCaps", "caps", caps))
}

// ParseCaps returns the caps without a new reference.
func (e *Event) ParseCaps() *Caps {
	e.mustBe(EventCaps)
	return eventField[*Caps](e, "caps")
}

// NewSegmentEvent announces the segment of the following data.
func NewSegmentEvent(seg *Segment) *Event {
	s := NewStructureFromFields("GstEventSegment",
		"flags", uint32(seg.Flags),
		"rate", seg.Rate,
		"applied-rate", seg.AppliedRate,
		"format", int32(seg.Format),
		"base", seg.Base,
		"offset", seg.Offset,
		"start", seg.Start,
		"stop", seg.Stop,
		"time", seg.Time,
		"position", seg.Position,
		"duration", seg.Duration,
	)
	return NewEvent(EventSegment, s)
}

// ParseSegment returns the segment.
func (e *Event) ParseSegment() *Segment {
	e.mustBe(EventSegment)
	return &Segment{
		Flags:       SegmentFlags(eventField[uint32](e, "flags")),
		Rate:        eventField[float64](e, "rate"),
		AppliedRate: eventField[float64](e, "applied-rate"),
		Format:      Format(eventField[int32](e, "format")),
		Base:        eventField[uint64](e, "base"),
		Offset:      eventField[uint64](e, "offset"),
		Start:       eventField[uint64](e, "start"),
		Stop:        eventField[uint64](e, "stop"),
		Time:        eventField[uint64](e, "time"),
		Position:    eventField[uint64](e, "position"),
		Duration:    eventField[uint64](e, "duration"),
	}
}

// NewTagEvent carries tags, taking a new reference on tags.
func NewTagEvent(tags *TagList) *Event {
	name := "GstTagList"
	if tags.Scope() == TagScopeGlobal {
		name = "GstTagList-global"
	}
	s := NewStructure(name)
	s.setField("taglist", tags.Ref())
	return NewEvent(EventTag, s)
}

// ParseTag returns the tag list without a new reference.
func (e *Event) ParseTag() *TagList {
	e.mustBe(EventTag)
	v, _ := e.structure.Value("taglist")
	t, _ := v.(*TagList)
	return t
}

// NewBufferSizeEvent tells downstream about preferred buffer sizes.
func NewBufferSizeEvent(format Format, minSize, maxSize int64, async bool) *Event {
	return NewEvent(EventBufferSize, NewStructureFromFields("GstEventBufferSize",
		"format", int32(format), "minsize", minSize, "maxsize", maxSize, "async", async))
}

// ParseBufferSize returns the buffer size request.
func (e *Event) ParseBufferSize() (Format, int64, int64, bool) {
	e.mustBe(EventBufferSize)
	return Format(eventField[int32](e, "format")), eventField[int64](e, "minsize"),
		eventField[int64](e, "maxsize"), eventField[bool](e, "async")
}

// NewSinkMessageEvent asks the sink to post msg when it reaches it.
func NewSinkMessageEvent(name string, msg *Message) *Event {
	s := NewStructure(name)
	s.setField("message", msg.Ref())
	return NewEvent(EventSinkMessage, s)
}

// ParseSinkMessage returns the message with a new reference.
func (e *Event) ParseSinkMessage() *Message {
	e.mustBe(EventSinkMessage)
	v, _ := e.structure.Value("message")
	m, _ := v.(*Message)
	if m == nil {
		return nil
	}
	return m.Ref()
}

// NewStreamGroupDoneEvent signals the end of a stream group.
func NewStreamGroupDoneEvent(groupID uint32) *Event {
	return NewEvent(EventStreamGroupDone, NewStructureFromFields("GstEventStreamGroupDone", "group-id", groupID))
}

// NewEOSEvent signals the end of the stream.
func NewEOSEvent() *Event { return NewEvent(EventEOS, nil) }

// NewTocEvent announces a table of contents, taking a new reference on toc.
func NewTocEvent(toc *Toc, updated bool) *Event {
	s := NewStructure("GstEventToc")
	s.setField("toc", toc.Ref())
	s.setField("updated", updated)
	return NewEvent(EventToc, s)
}

// ParseToc returns the toc without a new reference.
func (e *Event) ParseToc() (*Toc, bool) {
	e.mustBe(EventToc)
	v, _ := e.structure.Value("toc")
	t, _ := v.(*Toc)
	return t, eventField[bool](e, "updated")
}

// NewProtectionEvent carries DRM initialization data for systemID.
func NewProtectionEvent(systemID string, data *Buffer, origin string) *Event {
	s := NewStructure("GstEventProtection-" + systemID)
	s.setField("system_id", systemID)
	s.setField("data", data.Ref())
	s.setField("origin", origin)
	return NewEvent(EventProtection, s)
}

// ParseProtection returns system id, data and origin.
func (e *Event) ParseProtection() (string, *Buffer, string) {
	e.mustBe(EventProtection)
	return eventField[string](e, "system_id"), eventField[*Buffer](e, "data"), eventField[string](e, "origin")
}

// NewSegmentDoneEvent marks the end of a segment playback.
func NewSegmentDoneEvent(format Format, position int64) *Event {
	return NewEvent(EventSegmentDone, NewStructureFromFields("GstEventSegmentDone",
		"format", int32(format), "position", position))
}

// ParseSegmentDone returns format and position.
func (e *Event) ParseSegmentDone() (Format, int64) {
	e.mustBe(EventSegmentDone)
	return Format(eventField[int32](e, "format")), eventField[int64](e, "position")
}

// NewGapEvent announces that no data follows for the given period.
func NewGapEvent(ts, duration ClockTime) *Event {
	return NewEvent(EventGap, NewStructureFromFields("GstEventGap",
		"timestamp", uint64(ts), "duration", uint64(duration)))
}

// ParseGap returns timestamp and duration.
func (e *Event) ParseGap() (ClockTime, ClockTime) {
	e.mustBe(EventGap)
	return ClockTime(eventField[uint64](e, "timestamp")), ClockTime(eventField[uint64](e, "duration"))
}

// NewInstantRateChangeEvent changes the playback rate without flushing.
func NewInstantRateChangeEvent(rateMultiplier float64, flags SegmentFlags) *Event {
	return NewEvent(EventInstantRateChange, NewStructureFromFields("GstEventInstantRateChange",
		"rate", rateMultiplier, "flags", uint32(flags)))
}

// NewQOSEvent reports quality of service upstream.
func NewQOSEvent(t QOSType, proportion float64, diff ClockTimeDiff, ts ClockTime) *Event {
	return NewEvent(EventQOS, NewStructureFromFields("GstEventQOS",
		"type", int32(t), "proportion", proportion, "diff", int64(diff), "timestamp", uint64(ts)))
}

// ParseQOS returns the QOS values.
func (e *Event) ParseQOS() (QOSType, float64, ClockTimeDiff, ClockTime) {
	e.mustBe(EventQOS)
	return QOSType(eventField[int32](e, "type")), eventField[float64](e, "proportion"),
		ClockTimeDiff(eventField[int64](e, "diff")), ClockTime(eventField[uint64](e, "timestamp"))
}

// SeekParams are the values carried by a seek event.
type SeekParams struct {
	Rate      float64
	Format    Format
	Flags     SeekFlags
	StartType SeekType
	Start     int64
	StopType  SeekType
	Stop      int64
}

// NewSeekEvent requests a new playback position.
func NewSeekEvent(rate float64, format Format, flags SeekFlags, startType SeekType, start int64, stopType SeekType, stop int64) *Event {
	return NewEvent(EventSeek, NewStructureFromFields("GstEventSeek",
		"rate", rate, "format", int32(format), "flags", uint32(flags),
		"cur-type", int32(startType), "cur", start,
		"stop-type", int32(stopType), "stop", stop))
}

// ParseSeek returns the seek values.
func (e *Event) ParseSeek() SeekParams {
	e.mustBe(EventSeek)
	return SeekParams{
		Rate:      eventField[float64](e, "rate"),
		Format:    Format(eventField[int32](e, "format")),
		Flags:     SeekFlags(eventField[uint32](e, "flags")),
		StartType: SeekType(eventField[int32](e, "cur-type")),
		Start:     eventField[int64](e, "cur"),
		StopType:  SeekType(eventField[int32](e, "stop-type")),
		Stop:      eventField[int64](e, "stop"),
	}
}

// NewNavigationEvent carries a user input event upstream, taking ownership of s.
func NewNavigationEvent(s *Structure) *Event { return NewEvent(EventNavigation, s) }

// NewLatencyEvent configures the latency of sinks.
func NewLatencyEvent(latency ClockTime) *Event {
	return NewEvent(EventLatency, NewStructureFromFields("GstEventLatency", "latency", uint64(latency)))
}

// ParseLatency returns the latency.
func (e *Event) ParseLatency() ClockTime {
	e.mustBe(EventLatency)
	return ClockTime(eventField[uint64](e, "latency"))
}

// NewStepEvent requests a frame step.
func NewStepEvent(format Format, amount uint64, rate float64, flush, intermediate bool) *Event {
	return NewEvent(EventStep, NewStructureFromFields("GstEventStep",
		"format", int32(format), "amount", amount, "rate", rate, "flush", flush, "intermediate", intermediate))
}

// NewReconfigureEvent asks upstream to renegotiate.
func NewReconfigureEvent() *Event { return NewEvent(EventReconfigure, nil) }

// NewTocSelectEvent selects the toc entry uid.
func NewTocSelectEvent(uid string) *Event {
	return NewEvent(EventTocSelect, NewStructureFromFields("GstEventTocSelect", "uid", uid))
}

// ParseTocSelect returns the uid.
func (e *Event) ParseTocSelect() string {
	e.mustBe(EventTocSelect)
	return eventField[string](e, "uid")
}

// NewSelectStreamsEvent selects the streams with the given ids.
func NewSelectStreamsEvent(streams ...string) *Event {
	arr := make(ValueList, len(streams))
	for i, s := range streams {
		arr[i] = s
	}
	s := NewStructure("GstEventSelectStreams")
	s.setField("streams", arr)
	return NewEvent(EventSelectStreams, s)
}

// NewCustomEvent creates a custom event of type t, taking ownership of s.
func NewCustomEvent(t EventType, s *Structure) *Event {
	switch t {
	case EventCustomUpstream, EventCustomDownstream, EventCustomDownstreamOOB,
		EventCustomDownstreamSticky, EventCustomBoth, EventCustomBothOOB:
	default:
		panic(fmt.Sprintf("gst: %s is not a custom event type", t))
	}
	return NewEvent(t, s)
}
