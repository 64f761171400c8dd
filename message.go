package gst

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// MessageType is a bit in a message filter mask. Types above MessageExtended are
// not single bits and only match exactly or through MessageAny.
type MessageType uint32

const (
	MessageUnknown         MessageType = 0
	MessageEOS             MessageType = 1 << 0
	MessageError           MessageType = 1 << 1
	MessageWarning         MessageType = 1 << 2
	MessageInfo            MessageType = 1 << 3
	MessageTag             MessageType = 1 << 4
	MessageBuffering       MessageType = 1 << 5
	MessageStateChanged    MessageType = 1 << 6
	MessageStateDirty      MessageType = 1 << 7
	MessageStepDone        MessageType = 1 << 8
	MessageClockProvide    MessageType = 1 << 9
	MessageClockLost       MessageType = 1 << 10
	MessageNewClock        MessageType = 1 << 11
	MessageStructureChange MessageType = 1 << 12
	MessageStreamStatus    MessageType = 1 << 13
	MessageApplication     MessageType = 1 << 14
	MessageElement         MessageType = 1 << 15
	MessageSegmentStart    MessageType = 1 << 16
	MessageSegmentDone     MessageType = 1 << 17
	MessageDurationChanged MessageType = 1 << 18
	MessageLatency         MessageType = 1 << 19
	MessageAsyncStart      MessageType = 1 << 20
	MessageAsyncDone       MessageType = 1 << 21
	MessageRequestState    MessageType = 1 << 22
	MessageStepStart       MessageType = 1 << 23
	MessageQOS             MessageType = 1 << 24
	MessageProgress        MessageType = 1 << 25
	MessageToc             MessageType = 1 << 26
	MessageResetTime       MessageType = 1 << 27
	MessageStreamStart     MessageType = 1 << 28
	MessageNeedContext     MessageType = 1 << 29
	MessageHaveContext     MessageType = 1 << 30
	MessageExtended        MessageType = 1 << 31

	MessageDeviceAdded        = MessageExtended + 1
	MessageDeviceRemoved      = MessageExtended + 2
	MessagePropertyNotify     = MessageExtended + 3
	MessageStreamCollection   = MessageExtended + 4
	MessageStreamsSelected    = MessageExtended + 5
	MessageRedirect           = MessageExtended + 6
	MessageDeviceChanged      = MessageExtended + 7
	MessageInstantRateRequest = MessageExtended + 8

	MessageAny MessageType = 0xffffffff
)

var messageTypeNames = map[MessageType]string{
	MessageUnknown:            "unknown",
	MessageEOS:                "eos",
	MessageError:              "error",
	MessageWarning:            "warning",
	MessageInfo:               "info",
	MessageTag:                "tag",
	MessageBuffering:          "buffering",
	MessageStateChanged:       "state-changed",
	MessageStateDirty:         "state-dirty",
	MessageStepDone:           "step-done",
	MessageClockProvide:       "clock-provide",
	MessageClockLost:          "clock-lost",
	MessageNewClock:           "new-clock",
	MessageStructureChange:    "structure-change",
	MessageStreamStatus:       "stream-status",
	MessageApplication:        "application",
	MessageElement:            "element",
	MessageSegmentStart:       "segment-start",
	MessageSegmentDone:        "segment-done",
	MessageDurationChanged:    "duration-changed",
	MessageLatency:            "latency",
	MessageAsyncStart:         "async-start",
	MessageAsyncDone:          "async-done",
	MessageRequestState:       "request-state",
	MessageStepStart:          "step-start",
	MessageQOS:                "qos",
	MessageProgress:           "progress",
	MessageToc:                "toc",
	MessageResetTime:          "reset-time",
	MessageStreamStart:        "stream-start",
	MessageNeedContext:        "need-context",
	MessageHaveContext:        "have-context",
	MessageExtended:           "extended",
	MessageDeviceAdded:        "device-added",
	MessageDeviceRemoved:      "device-removed",
	MessagePropertyNotify:     "property-notify",
	MessageStreamCollection:   "stream-collection",
	MessageStreamsSelected:    "streams-selected",
	MessageRedirect:           "redirect",
	MessageDeviceChanged:      "device-changed",
	MessageInstantRateRequest: "instant-rate-request",
	MessageAny:                "any",
}

func (t MessageType) String() string {
	if n, ok := messageTypeNames[t]; ok {
		return n
	}
	if t&MessageExtended == 0 && bits.OnesCount32(uint32(t)) > 1 {
		var parts []string
		for i := 0; i < 31; i++ {
			if b := MessageType(1) << i; t&b != 0 {
				parts = append(parts, b.String())
			}
		}
		return strings.Join(parts, "+")
	}
	return fmt.Sprintf("message-type(%#x)", uint32(t))
}

// Matches reports whether a message of type t passes filter.
func (t MessageType) Matches(filter MessageType) bool {
	if filter == MessageAny {
		return true
	}
	if t&MessageExtended != 0 {
		return t == filter
	}
	return t&filter != 0
}

// StreamStatusType is the life-cycle stage reported by a stream-status message.
type StreamStatusType int

const (
	StreamStatusCreate  StreamStatusType = 0
	StreamStatusEnter   StreamStatusType = 1
	StreamStatusLeave   StreamStatusType = 2
	StreamStatusDestroy StreamStatusType = 3
	StreamStatusStart   StreamStatusType = 8
	StreamStatusPause   StreamStatusType = 9
	StreamStatusStop    StreamStatusType = 10
)

// StructureChangeType tells whether a pad is being linked or unlinked.
type StructureChangeType int

const (
	StructureChangeLink StructureChangeType = iota
	StructureChangeUnlink
)

// ProgressType is the stage of a progress message.
type ProgressType int

const (
	ProgressStart ProgressType = iota
	ProgressContinue
	ProgressComplete
	ProgressCanceled
	ProgressError
)

// Message is an out-of-band notification posted on a Bus.
type Message struct {
	MiniObject

	typ       MessageType
	src       *Object
	timestamp ClockTime
	seqnum    uint32
	structure *Structure

	// values without a structure representation
	err    error
	clock  *Clock
	device *Device
	owner  *Element
	pad    *Pad
	task   *Task
	value  any
}

// MessageMut is a proven-writable view on a Message.
type MessageMut struct {
	*Message
}

// NewMessage creates a message from src carrying s, taking ownership of s.
func NewMessage(t MessageType, src ObjectHandle, s *Structure) *Message {
	m := &Message{typ: t, timestamp: ClockTimeNone, seqnum: NextSeqnum()}
	if src != nil {
		m.src = src.AsObject()
	}
	m.init(TypeMessage, 0, nil, m.freeMessage)
	if s != nil {
		s.setParent(&m.MiniObject)
		m.structure = s
	}
	return m
}

func (m *Message) freeMessage() {
	if m.structure != nil {
		m.structure.parent = nil
		m.structure.release()
		m.structure = nil
	}
}

// Ref takes another reference.
func (m *Message) Ref() *Message { m.ref(); return m }

// Copy returns an independent copy with the same seqnum.
func (m *Message) Copy() *MessageMut {
	c := NewMessage(m.typ, nil, m.structure.Copy())
	c.src = m.src
	c.timestamp = m.timestamp
	c.seqnum = m.seqnum
	c.err, c.clock, c.device, c.owner, c.pad, c.task, c.value = m.err, m.clock, m.device, m.owner, m.pad, m.task, m.value
	return &MessageMut{c}
}

// GetMut returns a mutable view if m is writable.
func (m *Message) GetMut() (*MessageMut, bool) {
	if !m.IsWritable() {
		return nil, false
	}
	return &MessageMut{m}, true
}

// MakeWritable consumes the handle and returns a writable message, copying when shared.
func (m *Message) MakeWritable() *MessageMut {
	if w, ok := m.GetMut(); ok {
		return w
	}
	c := m.Copy()
	m.Unref()
	return c
}

func (m *Message) MessageType() MessageType { return m.typ }
func (m *Message) Src() *Object             { return m.src }
func (m *Message) Timestamp() ClockTime     { return m.timestamp }
func (m *Message) Seqnum() uint32           { return m.seqnum }
func (m *Message) Structure() *Structure    { return m.structure }
func (m *Message) HasName(name string) bool { return m.structure != nil && m.structure.HasName(name) }

// SrcElement returns the source when it is an element.
func (m *Message) SrcElement() (*Element, bool) {
	if m.src == nil {
		return nil, false
	}
	return AsElement(m.src.self)
}

// SrcName returns the name of the source, or "(NULL)".
func (m *Message) SrcName() string {
	if m.src == nil {
		return "(NULL)"
	}
	return m.src.Name()
}

func (m *MessageMut) SetSeqnum(n uint32)       { m.mustBeWritable(); m.seqnum = n }
func (m *MessageMut) SetTimestamp(t ClockTime) { m.mustBeWritable(); m.timestamp = t }

// SetSrc changes the source object; bins use it when forwarding.
func (m *MessageMut) SetSrc(src ObjectHandle) {
	m.mustBeWritable()
	m.src = nil
	if src != nil {
		m.src = src.AsObject()
	}
}

// WritableStructure returns the structure for mutation, creating it when missing.
func (m *MessageMut) WritableStructure() *Structure {
	m.mustBeWritable()
	if m.structure == nil {
		m.structure = NewStructure(m.typ.String())
		m.structure.setParent(&m.MiniObject)
	}
	return m.structure
}

func (m *Message) String() string {
	s := "NULL"
	if m.structure != nil {
		s = m.structure.String()
	}
	return fmt.Sprintf("message %s from %s, seqnum %d, %s", m.typ, m.SrcName(), m.seqnum, s)
}

func (m *Message) mustBe(t MessageType) {
	if m.typ != t {
		panic(fmt.Sprintf("gst: parsing %s message as %s", m.typ, t))
	}
}

func messageField[T any](m *Message, field string) T {
	var zero T
	if m.structure == nil {
		return zero
	}
	v, _ := Get[T](m.structure, field)
	return v
}

// NewEOSMessage reports that src finished playing.
func NewEOSMessage(src ObjectHandle) *Message { return NewMessage(MessageEOS, src, nil) }

func newErrorLike(t MessageType, name string, src ObjectHandle, err error, debug string, details *Structure) *Message {
	s := NewStructure(name)
	var ge *GError
	if errors.As(err, &ge) {
		s.Set("domain", ge.Domain.String())
		s.Set("code", int32(ge.Code))
	}
	if err != nil {
		s.Set("message", err.Error())
	}
	s.Set("debug", debug)
	if details != nil {
		s.setField("details", details)
	}
	msg := NewMessage(t, src, s)
	msg.err = err
	return msg
}

// NewErrorMessage reports a fatal error from src. details is optional and owned.
func NewErrorMessage(src ObjectHandle, err error, debug string, details *Structure) *Message {
	return newErrorLike(MessageError, "GstMessageError", src, err, debug, details)
}

// NewWarningMessage reports a recoverable problem.
func NewWarningMessage(src ObjectHandle, err error, debug string, details *Structure) *Message {
	return newErrorLike(MessageWarning, "GstMessageWarning", src, err, debug, details)
}

// NewInfoMessage reports something worth knowing.
func NewInfoMessage(src ObjectHandle, err error, debug string, details *Structure) *Message {
	return newErrorLike(MessageInfo, "GstMessageInfo", src, err, debug, details)
}

func (m *Message) parseErrorLike() (error, string) {
	return m.err, messageField[string](m, "debug")
}

// ParseError returns the error and debug string.
func (m *Message) ParseError() (error, string) {
	m.mustBe(MessageError)
	return m.parseErrorLike()
}

// ParseWarning returns the warning and debug string.
func (m *Message) ParseWarning() (error, string) {
	m.mustBe(MessageWarning)
	return m.parseErrorLike()
}

// ParseInfo returns the info and debug string.
func (m *Message) ParseInfo() (error, string) {
	m.mustBe(MessageInfo)
	return m.parseErrorLike()
}

// Details returns the details structure of an error, warning or info message.
func (m *Message) Details() *Structure { return messageField[*Structure](m, "details") }

// NewTagMessage carries tags found by src, taking a reference on tags.
func NewTagMessage(src ObjectHandle, tags *TagList) *Message {
	s := NewStructure("GstMessageTag")
	s.setField("taglist", tags.Ref())
	return NewMessage(MessageTag, src, s)
}

// ParseTag returns the tags without a new reference.
func (m *Message) ParseTag() *TagList {
	m.mustBe(MessageTag)
	return messageField[*TagList](m, "taglist")
}

// NewBufferingMessage reports the buffering level of src in percent.
func NewBufferingMessage(src ObjectHandle, percent int) *Message {
	return NewMessage(MessageBuffering, src, NewStructureFromFields("GstMessageBuffering",
		"buffer-percent", int32(percent), "buffering-mode", int32(BufferingStream),
		"avg-in-rate", int32(-1), "avg-out-rate", int32(-1), "buffering-left", int64(-1)))
}

// ParseBuffering returns the percentage.
func (m *Message) ParseBuffering() int {
	m.mustBe(MessageBuffering)
	return int(messageField[int32](m, "buffer-percent"))
}

// NewStateChangedMessage reports a state change of src.
func NewStateChangedMessage(src ObjectHandle, old, current, pending State) *Message {
	return NewMessage(MessageStateChanged, src, NewStructureFromFields("GstMessageStateChanged",
		"old-state", int32(old), "new-state", int32(current), "pending-state", int32(pending)))
}

// ParseStateChanged returns old, new and pending state.
func (m *Message) ParseStateChanged() (old, current, pending State) {
	m.mustBe(MessageStateChanged)
	return State(messageField[int32](m, "old-state")), State(messageField[int32](m, "new-state")),
		State(messageField[int32](m, "pending-state"))
}

// NewStateDirtyMessage asks the pipeline to recalculate its state.
func NewStateDirtyMessage(src ObjectHandle) *Message {
	return NewMessage(MessageStateDirty, src, nil)
}

// NewStepDoneMessage reports a finished step.
func NewStepDoneMessage(src ObjectHandle, format Format, amount uint64, rate float64, flush, intermediate bool, duration uint64, eos bool) *Message {
	return NewMessage(MessageStepDone, src, NewStructureFromFields("GstMessageStepDone",
		"format", int32(format), "amount", amount, "rate", rate, "flush", flush,
		"intermediate", intermediate, "duration", duration, "eos", eos))
}

// NewStepStartMessage reports a started step.
func NewStepStartMessage(src ObjectHandle, active bool, format Format, amount uint64, rate float64, flush, intermediate bool) *Message {
	return NewMessage(MessageStepStart, src, NewStructureFromFields("GstMessageStepStart",
		"active", active, "format", int32(format), "amount", amount, "rate", rate,
		"flush", flush, "intermediate", intermediate))
}

// NewClockProvideMessage announces that src can provide clock.
func NewClockProvideMessage(src ObjectHandle, clock *Clock, ready bool) *Message {
	m := NewMessage(MessageClockProvide, src, NewStructureFromFields("GstMessageClockProvide", "ready", ready))
	m.clock = clock
	return m
}

// ParseClockProvide returns the clock and whether it is usable.
func (m *Message) ParseClockProvide() (*Clock, bool) {
	m.mustBe(MessageClockProvide)
	return m.clock, messageField[bool](m, "ready")
}

// NewClockLostMessage reports that clock became unusable.
func NewClockLostMessage(src ObjectHandle, clock *Clock) *Message {
	m := NewMessage(MessageClockLost, src, NewStructure("GstMessageClockLost"))
	m.clock = clock
	return m
}

// ParseClockLost returns the lost clock.
func (m *Message) ParseClockLost() *Clock {
	m.mustBe(MessageClockLost)
	return m.clock
}

// NewNewClockMessage announces the clock a pipeline selected.
func NewNewClockMessage(src ObjectHandle, clock *Clock) *Message {
	m := NewMessage(MessageNewClock, src, NewStructure("GstMessageNewClock"))
	m.clock = clock
	return m
}

// ParseNewClock returns the new clock.
func (m *Message) ParseNewClock() *Clock {
	m.mustBe(MessageNewClock)
	return m.clock
}

// NewStructureChangeMessage reports pads being linked or unlinked.
func NewStructureChangeMessage(src ObjectHandle, t StructureChangeType, owner *Element, busy bool) *Message {
	m := NewMessage(MessageStructureChange, src, NewStructureFromFields("GstMessageStructureChange",
		"type", int32(t), "busy", busy))
	m.owner = owner
	return m
}

// ParseStructureChange returns type, owner and busy flag.
func (m *Message) ParseStructureChange() (StructureChangeType, *Element, bool) {
	m.mustBe(MessageStructureChange)
	return StructureChangeType(messageField[int32](m, "type")), m.owner, messageField[bool](m, "busy")
}

// NewStreamStatusMessage reports a streaming thread event.
func NewStreamStatusMessage(src ObjectHandle, t StreamStatusType, owner *Element) *Message {
	m := NewMessage(MessageStreamStatus, src, NewStructureFromFields("GstMessageStreamStatus", "type", int32(t)))
	m.owner = owner
	return m
}

// ParseStreamStatus returns type and owner.
func (m *Message) ParseStreamStatus() (StreamStatusType, *Element) {
	m.mustBe(MessageStreamStatus)
	return StreamStatusType(messageField[int32](m, "type")), m.owner
}

// StreamStatusTask returns the task attached to a stream-status message.
func (m *Message) StreamStatusTask() *Task { return m.task }

// SetStreamStatusTask attaches the task a stream-status message is about.
func (m *MessageMut) SetStreamStatusTask(t *Task) { m.mustBeWritable(); m.task = t }

// NewApplicationMessage carries application data, taking ownership of s.
func NewApplicationMessage(src ObjectHandle, s *Structure) *Message {
	return NewMessage(MessageApplication, src, s)
}

// NewElementMessage carries element specific data, taking ownership of s.
func NewElementMessage(src ObjectHandle, s *Structure) *Message {
	return NewMessage(MessageElement, src, s)
}

// NewNavigationMessage wraps a navigation event in an element message.
func NewNavigationMessage(src ObjectHandle, ev *Event) *Message {
	s := NewStructure("GstNavigationMessage")
	s.Set("type", "event")
	s.setField("event", ev.Ref())
	return NewMessage(MessageElement, src, s)
}

// ParseNavigationEvent returns the carried event with a new reference, independent of
// the message lifetime.
func (m *Message) ParseNavigationEvent() (*Event, bool) {
	if m.typ != MessageElement || !m.HasName("GstNavigationMessage") {
		return nil, false
	}
	ev := messageField[*Event](m, "event")
	if ev == nil {
		return nil, false
	}
	return ev.Ref(), true
}

// NewSegmentStartMessage reports the start of a segment.
func NewSegmentStartMessage(src ObjectHandle, format Format, position int64) *Message {
	return NewMessage(MessageSegmentStart, src, NewStructureFromFields("GstMessageSegmentStart",
		"format", int32(format), "position", position))
}

// ParseSegmentStart returns format and position.
func (m *Message) ParseSegmentStart() (Format, int64) {
	m.mustBe(MessageSegmentStart)
	return Format(messageField[int32](m, "format")), messageField[int64](m, "position")
}

// NewSegmentDoneMessage reports the end of a segment.
func NewSegmentDoneMessage(src ObjectHandle, format Format, position int64) *Message {
	return NewMessage(MessageSegmentDone, src, NewStructureFromFields("GstMessageSegmentDone",
		"format", int32(format), "position", position))
}

// ParseSegmentDone returns format and position.
func (m *Message) ParseSegmentDone() (Format, int64) {
	m.mustBe(MessageSegmentDone)
	return Format(messageField[int32](m, "format")), messageField[int64](m, "position")
}

// NewDurationChangedMessage tells the application to requery the duration.
func NewDurationChangedMessage(src ObjectHandle) *Message {
	return NewMessage(MessageDurationChanged, src, nil)
}

// NewLatencyMessage asks the pipeline to recalculate latency.
func NewLatencyMessage(src ObjectHandle) *Message { return NewMessage(MessageLatency, src, nil) }

// NewAsyncStartMessage reports that src started an async state change.
func NewAsyncStartMessage(src ObjectHandle) *Message {
	return NewMessage(MessageAsyncStart, src, nil)
}

// NewAsyncDoneMessage completes an async state change.
func NewAsyncDoneMessage(src ObjectHandle, runningTime ClockTime) *Message {
	return NewMessage(MessageAsyncDone, src, NewStructureFromFields("GstMessageAsyncDone",
		"running-time", uint64(runningTime)))
}

// ParseAsyncDone returns the running time to distribute, or ClockTimeNone.
func (m *Message) ParseAsyncDone() ClockTime {
	m.mustBe(MessageAsyncDone)
	return ClockTime(messageField[uint64](m, "running-time"))
}

// NewRequestStateMessage asks the application to set the pipeline to state.
func NewRequestStateMessage(src ObjectHandle, state State) *Message {
	return NewMessage(MessageRequestState, src, NewStructureFromFields("GstMessageRequestState",
		"new-state", int32(state)))
}

// ParseRequestState returns the requested state.
func (m *Message) ParseRequestState() State {
	m.mustBe(MessageRequestState)
	return State(messageField[int32](m, "new-state"))
}

// NewQOSMessage reports a dropped or late buffer.
func NewQOSMessage(src ObjectHandle, live bool, runningTime, streamTime, timestamp, duration ClockTime) *Message {
	return NewMessage(MessageQOS, src, NewStructureFromFields("GstMessageQOS",
		"live", live, "running-time", uint64(runningTime), "stream-time", uint64(streamTime),
		"timestamp", uint64(timestamp), "duration", uint64(duration),
		"jitter", int64(0), "proportion", 1.0, "quality", int32(1000000),
		"format", int32(FormatUndefined), "processed", uint64(0), "dropped", uint64(0)))
}

// SetQOSStats sets processed and dropped counts.
func (m *MessageMut) SetQOSStats(format Format, processed, dropped uint64) {
	m.mustBe(MessageQOS)
	m.WritableStructure().SetValues("format", int32(format), "processed", processed, "dropped", dropped)
}

// ParseQOSStats returns format, processed and dropped.
func (m *Message) ParseQOSStats() (Format, uint64, uint64) {
	m.mustBe(MessageQOS)
	return Format(messageField[int32](m, "format")), messageField[uint64](m, "processed"), messageField[uint64](m, "dropped")
}

// NewProgressMessage reports progress of an asynchronous operation.
func NewProgressMessage(src ObjectHandle, t ProgressType, code, text string) *Message {
	return NewMessage(MessageProgress, src, NewStructureFromFields("GstMessageProgress",
		"type", int32(t), "code", code, "text", text))
}

// ParseProgress returns type, code and text.
func (m *Message) ParseProgress() (ProgressType, string, string) {
	m.mustBe(MessageProgress)
	return ProgressType(messageField[int32](m, "type")), messageField[string](m, "code"), messageField[string](m, "text")
}

// NewTocMessage announces a toc found by src.
func NewTocMessage(src ObjectHandle, toc *Toc, updated bool) *Message {
	s := NewStructure("GstMessageToc")
	s.setField("toc", toc.Ref())
	s.setField("updated", updated)
	return NewMessage(MessageToc, src, s)
}

// ParseToc returns the toc without a new reference.
func (m *Message) ParseToc() (*Toc, bool) {
	m.mustBe(MessageToc)
	return messageField[*Toc](m, "toc"), messageField[bool](m, "updated")
}

// NewResetTimeMessage asks the pipeline to reset its running time.
func NewResetTimeMessage(src ObjectHandle, runningTime ClockTime) *Message {
	return NewMessage(MessageResetTime, src, NewStructureFromFields("GstMessageResetTime",
		"running-time", uint64(runningTime)))
}

// ParseResetTime returns the running time.
func (m *Message) ParseResetTime() ClockTime {
	m.mustBe(MessageResetTime)
	return ClockTime(messageField[uint64](m, "running-time"))
}

// NewStreamStartMessage reports the first buffer of a new stream at a sink.
func NewStreamStartMessage(src ObjectHandle) *Message {
	return NewMessage(MessageStreamStart, src, NewStructure("GstMessageStreamStart"))
}

// SetGroupID sets the group id of a stream-start message.
func (m *MessageMut) SetGroupID(id uint32) {
	m.mustBe(MessageStreamStart)
	m.WritableStructure().Set("group-id", id)
}

// GroupID returns the group id of a stream-start message.
func (m *Message) GroupID() (uint32, bool) {
	if m.structure == nil {
		return 0, false
	}
	v, err := Get[uint32](m.structure, "group-id")
	return v, err == nil
}

// NewNeedContextMessage asks for a context of contextType.
func NewNeedContextMessage(src ObjectHandle, contextType string) *Message {
	return NewMessage(MessageNeedContext, src, NewStructureFromFields("GstMessageNeedContext",
		"context-type", contextType))
}

// ParseContextType returns the requested context type.
func (m *Message) ParseContextType() string {
	m.mustBe(MessageNeedContext)
	return messageField[string](m, "context-type")
}

// NewHaveContextMessage announces a context, taking ownership of c.
func NewHaveContextMessage(src ObjectHandle, c *Context) *Message {
	s := NewStructure("GstMessageHaveContext")
	s.setField("context", c)
	return NewMessage(MessageHaveContext, src, s)
}

// ParseHaveContext returns the context with a new reference.
func (m *Message) ParseHaveContext() *Context {
	m.mustBe(MessageHaveContext)
	c := messageField[*Context](m, "context")
	if c == nil {
		return nil
	}
	return c.Ref()
}

// NewDeviceAddedMessage announces a new device.
func NewDeviceAddedMessage(src ObjectHandle, d *Device) *Message {
	m := NewMessage(MessageDeviceAdded, src, NewStructure("GstMessageDeviceAdded"))
	m.device = d
	return m
}

// NewDeviceRemovedMessage announces a removed device.
func NewDeviceRemovedMessage(src ObjectHandle, d *Device) *Message {
	m := NewMessage(MessageDeviceRemoved, src, NewStructure("GstMessageDeviceRemoved"))
	m.device = d
	return m
}

// NewDeviceChangedMessage announces that changed replaces d.
func NewDeviceChangedMessage(src ObjectHandle, d, changed *Device) *Message {
	m := NewMessage(MessageDeviceChanged, src, NewStructure("GstMessageDeviceChanged"))
	m.device = d
	m.value = changed
	return m
}

// ParseDevice returns the device of a device-added, device-removed or device-changed
// message. For device-changed the previous device is returned as second value.
func (m *Message) ParseDevice() (*Device, *Device) {
	switch m.typ {
	case MessageDeviceAdded, MessageDeviceRemoved:
		return m.device, nil
	case MessageDeviceChanged:
		old, _ := m.value.(*Device)
		return m.device, old
	}
	panic(fmt.Sprintf("gst: parsing %s message as device message", m.typ))
}

// NewPropertyNotifyMessage reports that property name of obj changed to value.
func NewPropertyNotifyMessage(src ObjectHandle, name string, value any) *Message {
	m := NewMessage(MessagePropertyNotify, src, NewStructureFromFields("GstMessagePropertyNotify",
		"property-name", name))
	m.value = value
	return m
}

// ParsePropertyNotify returns the property name and value.
func (m *Message) ParsePropertyNotify() (string, any) {
	m.mustBe(MessagePropertyNotify)
	return messageField[string](m, "property-name"), m.value
}

// NewRedirectMessage points the application at another location.
func NewRedirectMessage(src ObjectHandle, location string) *Message {
	return NewMessage(MessageRedirect, src, NewStructureFromFields("GstMessageRedirect",
		"locations", ValueList{location}))
}

// ParseRedirect returns every redirect location.
func (m *Message) ParseRedirect() []string {
	m.mustBe(MessageRedirect)
	var out []string
	for _, v := range messageField[ValueList](m, "locations") {
		out = append(out, v.(string))
	}
	return out
}

// NewInstantRateRequestMessage asks the pipeline for an instant rate change.
func NewInstantRateRequestMessage(src ObjectHandle, rateMultiplier float64) *Message {
	return NewMessage(MessageInstantRateRequest, src, NewStructureFromFields("GstMessageInstantRateRequest",
		"rate", rateMultiplier))
}
