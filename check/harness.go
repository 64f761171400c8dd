// Package check provides a harness for unit testing single elements.
//
// A Harness links a test source pad to the element's sink pad and a test sink
// pad to its source pad. Buffers and events pushed into the harness reach the
// element; whatever the element outputs is queued for the test to pull.
package check

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thesyncim/gst"
)

var catHarness = gst.NewDebugCategory("harness", "element test harness")

// DefaultTimeout bounds the blocking pulls.
const DefaultTimeout = 60 * time.Second

// ErrTimeout is returned by the blocking pulls when nothing arrived in time.
var ErrTimeout = errors.New("check: timed out waiting for data")

// Harness drives one element through test pads.
type Harness struct {
	element *gst.Element
	srcpad  *gst.Pad // feeds the element's sink pad
	sinkpad *gst.Pad // receives from the element's source pad

	mu       sync.Mutex
	changed  chan struct{}
	buffers  []*gst.Buffer
	events   []*gst.Event
	upstream []*gst.Event

	buffersReceived  int
	eventsReceived   int
	upstreamReceived int
	dropBuffers      bool

	srcCaps    *gst.Caps
	sinkCaps   *gst.Caps
	streamSent bool
	streamID   string
}

// New makes an element from factory and wraps it, linking the "sink" and
// "src" pads when the element has them.
func New(factory string) (*Harness, error) {
	e, err := gst.ElementFactoryMake(factory, "")
	if err != nil {
		return nil, err
	}
	return NewWithPadNames(e, "sink", "src")
}

// NewWithElement wraps e using its "sink" and "src" pads.
func NewWithElement(e *gst.Element) (*Harness, error) {
	return NewWithPadNames(e, "sink", "src")
}

// NewWithPadNames wraps e, linking to the named pads. An empty name, or a name
// the element has no static pad for, leaves that side unconnected.
func NewWithPadNames(e *gst.Element, sinkPadName, srcPadName string) (*Harness, error) {
	h := &Harness{
		element:  e,
		changed:  make(chan struct{}),
		streamID: fmt.Sprintf("harness/%s", e.Name()),
	}

	if pad := staticPad(e, sinkPadName); pad != nil {
		h.srcpad = gst.NewPad("harness-src", gst.PadDirectionSrc)
		h.srcpad.SetEventFunction(h.upstreamEvent)
		h.srcpad.SetQueryFunction(h.srcQuery)
		if err := h.srcpad.SetActive(true); err != nil {
			return nil, err
		}
		if err := h.srcpad.Link(pad); err != nil {
			return nil, fmt.Errorf("check: linking to %s:%s: %w", e.Name(), sinkPadName, err)
		}
	}
	if pad := staticPad(e, srcPadName); pad != nil {
		h.sinkpad = gst.NewPad("harness-sink", gst.PadDirectionSink)
		h.sinkpad.SetChainFunction(h.chain)
		h.sinkpad.SetEventFunction(h.downstreamEvent)
		h.sinkpad.SetQueryFunction(h.sinkQuery)
		if err := h.sinkpad.SetActive(true); err != nil {
			return nil, err
		}
		if err := pad.Link(h.sinkpad); err != nil {
			return nil, fmt.Errorf("check: linking from %s:%s: %w", e.Name(), srcPadName, err)
		}
	}
	if h.srcpad == nil && h.sinkpad == nil {
		return nil, fmt.Errorf("check: %s has neither %q nor %q", e.Name(), sinkPadName, srcPadName)
	}
	return h, nil
}

func staticPad(e *gst.Element, name string) *gst.Pad {
	if name == "" {
		return nil
	}
	return e.StaticPad(name)
}

// Element returns the wrapped element.
func (h *Harness) Element() *gst.Element { return h.element }

// SrcPad returns the test pad feeding the element.
func (h *Harness) SrcPad() *gst.Pad { return h.srcpad }

// SinkPad returns the test pad receiving the element's output.
func (h *Harness) SinkPad() *gst.Pad { return h.sinkpad }

// Play sets the element to PLAYING.
func (h *Harness) Play() error {
	if ret := h.element.SetState(gst.StatePlaying); ret == gst.StateChangeFailure {
		return fmt.Errorf("check: %s failed to go to PLAYING", h.element.Name())
	}
	return nil
}

// SetSrcCaps sends stream-start, caps and a TIME segment into the element.
func (h *Harness) SetSrcCaps(caps *gst.Caps) error {
	h.mu.Lock()
	if h.srcCaps != nil {
		h.srcCaps.Unref()
	}
	h.srcCaps = caps.Ref()
	h.mu.Unlock()

	if !h.startStream() {
		return errors.New("check: stream-start refused")
	}
	if !h.srcpad.PushEvent(gst.NewCapsEvent(caps)) {
		return fmt.Errorf("check: %s refused caps %s", h.element.Name(), caps)
	}
	if !h.srcpad.PushEvent(gst.NewSegmentEvent(gst.NewSegment(gst.FormatTime))) {
		return errors.New("check: segment refused")
	}
	return nil
}

// SetSrcCapsString parses caps from s and calls SetSrcCaps.
func (h *Harness) SetSrcCapsString(s string) error {
	caps, err := gst.CapsFromString(s)
	if err != nil {
		return err
	}
	defer caps.Unref()
	return h.SetSrcCaps(caps)
}

// SetSinkCaps makes the test sink pad answer caps queries with caps only.
func (h *Harness) SetSinkCaps(caps *gst.Caps) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sinkCaps != nil {
		h.sinkCaps.Unref()
	}
	h.sinkCaps = caps.Ref()
}

// SetSinkCapsString parses caps from s and calls SetSinkCaps.
func (h *Harness) SetSinkCapsString(s string) error {
	caps, err := gst.CapsFromString(s)
	if err != nil {
		return err
	}
	defer caps.Unref()
	h.SetSinkCaps(caps)
	return nil
}

// SetCapsString sets the sink caps first, so negotiation triggered by the
// source caps sees them.
func (h *Harness) SetCapsString(in, out string) error {
	if err := h.SetSinkCapsString(out); err != nil {
		return err
	}
	return h.SetSrcCapsString(in)
}

func (h *Harness) startStream() bool {
	h.mu.Lock()
	sent := h.streamSent
	h.streamSent = true
	h.mu.Unlock()
	if sent {
		return true
	}
	return h.srcpad.PushEvent(gst.NewStreamStartEvent(h.streamID))
}

// Push sends buf into the element, taking ownership of it.
func (h *Harness) Push(buf *gst.Buffer) gst.FlowReturn {
	if h.srcpad == nil {
		buf.Unref()
		return gst.FlowNotLinked
	}
	h.startStream()
	return h.srcpad.Push(buf)
}

// PushEvent sends ev downstream into the element.
func (h *Harness) PushEvent(ev *gst.Event) bool {
	if h.srcpad == nil {
		ev.Unref()
		return false
	}
	return h.srcpad.PushEvent(ev)
}

// PushUpstreamEvent sends ev upstream into the element's source pad.
func (h *Harness) PushUpstreamEvent(ev *gst.Event) bool {
	if h.sinkpad == nil {
		ev.Unref()
		return false
	}
	return h.sinkpad.PushEvent(ev)
}

// Pull waits up to DefaultTimeout for an output buffer.
func (h *Harness) Pull() (*gst.Buffer, error) {
	return pull(h, &h.buffers, DefaultTimeout)
}

// TryPull returns a queued buffer or nil without waiting.
func (h *Harness) TryPull() *gst.Buffer {
	buf, _ := pull(h, &h.buffers, 0)
	return buf
}

// PullTimeout waits up to timeout for an output buffer.
func (h *Harness) PullTimeout(timeout time.Duration) (*gst.Buffer, error) {
	return pull(h, &h.buffers, timeout)
}

// PullEvent waits up to DefaultTimeout for an event sent downstream by the
// element.
func (h *Harness) PullEvent() (*gst.Event, error) {
	return pull(h, &h.events, DefaultTimeout)
}

// TryPullEvent returns a queued downstream event or nil.
func (h *Harness) TryPullEvent() *gst.Event {
	ev, _ := pull(h, &h.events, 0)
	return ev
}

// PullUpstreamEvent waits up to DefaultTimeout for an event sent upstream by
// the element.
func (h *Harness) PullUpstreamEvent() (*gst.Event, error) {
	return pull(h, &h.upstream, DefaultTimeout)
}

// TryPullUpstreamEvent returns a queued upstream event or nil.
func (h *Harness) TryPullUpstreamEvent() *gst.Event {
	ev, _ := pull(h, &h.upstream, 0)
	return ev
}

func pull[T any](h *Harness, queue *[]T, timeout time.Duration) (T, error) {
	var zero T
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		h.mu.Lock()
		if len(*queue) > 0 {
			v := (*queue)[0]
			(*queue)[0] = zero
			*queue = (*queue)[1:]
			h.mu.Unlock()
			return v, nil
		}
		changed := h.changed
		h.mu.Unlock()
		if timeout <= 0 {
			return zero, ErrTimeout
		}
		select {
		case <-changed:
		case <-deadline:
			return zero, ErrTimeout
		}
	}
}

// PushAndPull pushes buf and waits for one output buffer.
func (h *Harness) PushAndPull(buf *gst.Buffer) (*gst.Buffer, error) {
	if ret := h.Push(buf); ret != gst.FlowOK {
		return nil, fmt.Errorf("check: push returned %s", ret)
	}
	return h.Pull()
}

// BuffersReceived counts all buffers the element output, pulled or not.
func (h *Harness) BuffersReceived() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buffersReceived
}

// BuffersInQueue counts buffers waiting to be pulled.
func (h *Harness) BuffersInQueue() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buffers)
}

// EventsReceived counts downstream events the element sent.
func (h *Harness) EventsReceived() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eventsReceived
}

// EventsInQueue counts downstream events waiting to be pulled.
func (h *Harness) EventsInQueue() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// UpstreamEventsReceived counts upstream events the element sent.
func (h *Harness) UpstreamEventsReceived() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.upstreamReceived
}

// SetDropBuffers makes the harness count output buffers without queueing them.
func (h *Harness) SetDropBuffers(drop bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropBuffers = drop
}

// TakeAllData pulls every queued buffer and concatenates their contents.
func (h *Harness) TakeAllData() []byte {
	var data []byte
	for buf := h.TryPull(); buf != nil; buf = h.TryPull() {
		if m, err := buf.MapReadable(); err == nil {
			data = append(data, m.Data...)
			m.Unmap()
		}
		buf.Unref()
	}
	return data
}

// Teardown shuts the element down and drops everything still queued.
func (h *Harness) Teardown() {
	h.element.SetState(gst.StateNull)
	if h.srcpad != nil {
		if peer := h.srcpad.Peer(); peer != nil {
			_ = h.srcpad.Unlink(peer)
		}
		_ = h.srcpad.SetActive(false)
	}
	if h.sinkpad != nil {
		if peer := h.sinkpad.Peer(); peer != nil {
			_ = peer.Unlink(h.sinkpad)
		}
		_ = h.sinkpad.SetActive(false)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, buf := range h.buffers {
		buf.Unref()
	}
	for _, ev := range h.events {
		ev.Unref()
	}
	for _, ev := range h.upstream {
		ev.Unref()
	}
	h.buffers, h.events, h.upstream = nil, nil, nil
	for _, caps := range []*gst.Caps{h.srcCaps, h.sinkCaps} {
		if caps != nil {
			caps.Unref()
		}
	}
	h.srcCaps, h.sinkCaps = nil, nil
}

// broadcastLocked wakes every waiting pull.
func (h *Harness) broadcastLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

func (h *Harness) chain(_ *gst.Pad, _ *gst.Element, buf *gst.Buffer) gst.FlowReturn {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buffersReceived++
	if h.dropBuffers {
		buf.Unref()
		return gst.FlowOK
	}
	h.buffers = append(h.buffers, buf)
	h.broadcastLocked()
	return gst.FlowOK
}

func (h *Harness) downstreamEvent(_ *gst.Pad, _ *gst.Element, ev *gst.Event) bool {
	catHarness.Log(h.element, "received %s", ev.EventType())
	h.mu.Lock()
	defer h.mu.Unlock()
	h.eventsReceived++
	h.events = append(h.events, ev)
	h.broadcastLocked()
	return true
}

func (h *Harness) upstreamEvent(_ *gst.Pad, _ *gst.Element, ev *gst.Event) bool {
	// linking and caps changes renegotiate on their own
	if ev.EventType() == gst.EventReconfigure {
		ev.Unref()
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.upstreamReceived++
	h.upstream = append(h.upstream, ev)
	h.broadcastLocked()
	return true
}

// capsAnswer returns caps, or ANY when unset, narrowed by the query filter.
func capsAnswer(caps *gst.Caps, q *gst.QueryMut) *gst.Caps {
	if caps == nil {
		caps = gst.NewCapsAny()
	} else {
		caps = caps.Ref()
	}
	if filter := q.ParseCaps(); filter != nil {
		narrowed := filter.IntersectWithMode(caps, gst.CapsIntersectFirst)
		caps.Unref()
		caps = narrowed
	}
	return caps
}

func (h *Harness) sinkQuery(pad *gst.Pad, parent *gst.Element, q *gst.QueryMut) bool {
	switch q.QueryType() {
	case gst.QueryCaps:
		h.mu.Lock()
		caps := capsAnswer(h.sinkCaps, q)
		h.mu.Unlock()
		q.SetCapsResult(caps)
		caps.Unref()
		return true
	case gst.QueryAcceptCaps:
		h.mu.Lock()
		ok := h.sinkCaps == nil || q.ParseAcceptCaps().CanIntersect(h.sinkCaps)
		h.mu.Unlock()
		q.SetAcceptCapsResult(ok)
		return true
	}
	return pad.QueryDefault(parent, q)
}

func (h *Harness) srcQuery(pad *gst.Pad, parent *gst.Element, q *gst.QueryMut) bool {
	if q.QueryType() == gst.QueryCaps {
		h.mu.Lock()
		caps := capsAnswer(h.srcCaps, q)
		h.mu.Unlock()
		q.SetCapsResult(caps)
		caps.Unref()
		return true
	}
	return pad.QueryDefault(parent, q)
}
