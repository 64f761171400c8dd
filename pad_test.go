package gst

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector is a sink pad recording what it receives.
type collector struct {
	*Pad

	mu      sync.Mutex
	buffers []*Buffer
	events  []EventType
}

func newCollector(t *testing.T, name string) *collector {
	t.Helper()
	c := &collector{Pad: NewPad(name, PadDirectionSink)}
	c.SetChainFunction(func(_ *Pad, _ *Element, buf *Buffer) FlowReturn {
		c.mu.Lock()
		c.buffers = append(c.buffers, buf)
		c.mu.Unlock()
		return FlowOK
	})
	c.SetEventFunction(func(_ *Pad, _ *Element, ev *Event) bool {
		c.mu.Lock()
		c.events = append(c.events, ev.EventType())
		c.mu.Unlock()
		ev.Unref()
		return true
	})
	require.NoError(t, c.SetActive(true))
	t.Cleanup(func() {
		for _, b := range c.received() {
			b.Unref()
		}
	})
	return c
}

func (c *collector) received() []*Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Buffer(nil), c.buffers...)
}

func (c *collector) eventTypes() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EventType(nil), c.events...)
}

func activeSrc(t *testing.T, name string) *Pad {
	t.Helper()
	p := NewPad(name, PadDirectionSrc)
	require.NoError(t, p.SetActive(true))
	return p
}

func startStream(t *testing.T, src *Pad) {
	t.Helper()
	require.True(t, src.PushEvent(NewStreamStartEvent("stream")))
	require.True(t, src.PushEvent(NewCapsEvent(MustCapsFromString("video/x-raw, width=(int)320"))))
	require.True(t, src.PushEvent(NewSegmentEvent(NewSegment(FormatTime))))
}

func TestPadLink(t *testing.T) {
	src := activeSrc(t, "src")
	sink := newCollector(t, "sink")

	assert.ErrorIs(t, sink.Link(src), ErrPadLinkWrongDirection)
	require.NoError(t, src.Link(sink.Pad))
	assert.Same(t, sink.Pad, src.Peer())
	assert.Same(t, src, sink.Peer())
	assert.ErrorIs(t, src.Link(newCollector(t, "other").Pad), ErrPadLinkAlreadyLinked)

	require.NoError(t, src.Unlink(sink.Pad))
	assert.False(t, src.IsLinked())
	assert.Error(t, src.Unlink(sink.Pad))
}

func TestPadLinkNoFormat(t *testing.T) {
	src := NewPadFromTemplate(MustPadTemplate("src", PadDirectionSrc, PadAlways, MustCapsFromString("audio/x-raw")), "")
	sink := NewPadFromTemplate(MustPadTemplate("sink", PadDirectionSink, PadAlways, MustCapsFromString("video/x-raw")), "")
	assert.Equal(t, "src", src.Name())
	assert.False(t, src.CanLink(sink))
	assert.ErrorIs(t, src.Link(sink), ErrPadLinkNoFormat)
	assert.NoError(t, src.LinkFull(sink, PadLinkCheckNothing))
}

func TestPadPushStates(t *testing.T) {
	inactive := NewPad("inactive", PadDirectionSrc)
	assert.Equal(t, FlowFlushing, inactive.Push(NewBuffer().Buffer))

	src := activeSrc(t, "src")
	assert.Equal(t, FlowNotLinked, src.Push(NewBuffer().Buffer))
	assert.Equal(t, FlowNotLinked, src.LastFlowReturn())

	sink := newCollector(t, "sink")
	require.NoError(t, src.Link(sink.Pad))
	startStream(t, src)
	assert.Equal(t, FlowOK, src.Push(NewBuffer().Buffer))
	assert.Len(t, sink.received(), 1)

	require.True(t, src.PushEvent(NewEOSEvent()))
	assert.Equal(t, FlowEOS, src.Push(NewBuffer().Buffer))
}

func TestStickyEventsFollowLink(t *testing.T) {
	src := activeSrc(t, "src")
	// sticky events succeed without a peer and are kept
	startStream(t, src)
	assert.NotNil(t, src.StickyEvent(EventCaps, 0))
	assert.Equal(t, "stream", src.StreamID())

	sink := newCollector(t, "sink")
	require.NoError(t, src.Link(sink.Pad))
	assert.Equal(t, FlowOK, src.Push(NewBuffer().Buffer))

	assert.Equal(t, []EventType{EventStreamStart, EventCaps, EventSegment}, sink.eventTypes())
	caps := sink.CurrentCaps()
	require.NotNil(t, caps)
	defer caps.Unref()
	w, err := caps.Structure(0).GetInt("width")
	require.NoError(t, err)
	assert.Equal(t, 320, w)
}

func TestPadDeactivateDropsSticky(t *testing.T) {
	src := activeSrc(t, "src")
	startStream(t, src)
	require.NoError(t, src.SetActive(false))
	assert.True(t, src.IsFlushing())
	assert.Nil(t, src.StickyEvent(EventCaps, 0))
}

func TestProbeDropAndRemove(t *testing.T) {
	src := activeSrc(t, "src")
	sink := newCollector(t, "sink")
	require.NoError(t, src.Link(sink.Pad))
	startStream(t, src)

	drop := src.AddProbe(PadProbeTypeBuffer, func(_ *Pad, info *PadProbeInfo) PadProbeReturn {
		if info.Buffer().HasBufferFlags(BufferFlagDroppable) {
			return PadProbeDrop
		}
		return PadProbeOK
	}, nil)
	require.NotZero(t, drop)

	calls := 0
	src.AddProbe(PadProbeTypeBuffer, func(*Pad, *PadProbeInfo) PadProbeReturn {
		calls++
		return PadProbeRemove
	}, nil)

	droppable := NewBuffer()
	droppable.SetBufferFlags(BufferFlagDroppable)
	assert.Equal(t, FlowOK, src.Push(droppable.Buffer))
	assert.Equal(t, FlowOK, src.Push(NewBuffer().Buffer))
	assert.Equal(t, FlowOK, src.Push(NewBuffer().Buffer))

	assert.Len(t, sink.received(), 2)
	assert.Equal(t, 1, calls)

	destroyed := false
	id := src.AddProbe(PadProbeTypeEventDownstream, func(*Pad, *PadProbeInfo) PadProbeReturn { return PadProbeOK }, func() { destroyed = true })
	src.RemoveProbe(id)
	assert.True(t, destroyed)
}

func TestProbeDropsEvenTimestamps(t *testing.T) {
	src := activeSrc(t, "src")
	sink := newCollector(t, "sink")
	require.NoError(t, src.Link(sink.Pad))
	startStream(t, src)

	src.AddProbe(PadProbeTypeBuffer, func(_ *Pad, info *PadProbeInfo) PadProbeReturn {
		if info.Buffer().PTS()%2 == 0 {
			return PadProbeDrop
		}
		return PadProbeOK
	}, nil)

	for pts := ClockTime(1); pts <= 5; pts++ {
		b := NewBuffer()
		b.SetPTS(pts)
		assert.Equal(t, FlowOK, src.Push(b.Buffer), "pts %d", pts)
	}

	var got []ClockTime
	for _, b := range sink.received() {
		got = append(got, b.PTS())
	}
	assert.Equal(t, []ClockTime{1, 3, 5}, got)
}

func TestProbeReplacesData(t *testing.T) {
	src := activeSrc(t, "src")
	sink := newCollector(t, "sink")
	require.NoError(t, src.Link(sink.Pad))
	startStream(t, src)

	src.AddProbe(PadProbeTypeBuffer, func(_ *Pad, info *PadProbeInfo) PadProbeReturn {
		w := info.Buffer().MakeWritable()
		w.SetPTS(5 * Second)
		info.Data = w.Buffer
		return PadProbeOK
	}, nil)
	assert.Equal(t, FlowOK, src.Push(NewBuffer().Buffer))
	require.Len(t, sink.received(), 1)
	assert.Equal(t, 5*Second, sink.received()[0].PTS())
}

func TestBlockingProbe(t *testing.T) {
	src := activeSrc(t, "src")
	sink := newCollector(t, "sink")
	require.NoError(t, src.Link(sink.Pad))
	startStream(t, src)

	blocked := make(chan struct{}, 1)
	id := src.AddProbe(PadProbeTypeBlockDownstream, func(_ *Pad, info *PadProbeInfo) PadProbeReturn {
		if info.Buffer() != nil {
			blocked <- struct{}{}
		}
		return PadProbeOK
	}, nil)
	assert.True(t, src.IsBlocking())

	done := make(chan FlowReturn)
	go func() { done <- src.Push(NewBuffer().Buffer) }()
	<-blocked
	require.Eventually(t, src.IsBlocked, time.Second, time.Millisecond)
	assert.Empty(t, sink.received())

	src.RemoveProbe(id)
	assert.Equal(t, FlowOK, <-done)
	assert.Len(t, sink.received(), 1)
	assert.False(t, src.IsBlocking())
}

func TestFlushReleasesBlockedPush(t *testing.T) {
	src := activeSrc(t, "src")
	sink := newCollector(t, "sink")
	require.NoError(t, src.Link(sink.Pad))
	startStream(t, src)

	src.AddProbe(PadProbeTypeBlock|PadProbeTypeBuffer, func(*Pad, *PadProbeInfo) PadProbeReturn { return PadProbeOK }, nil)
	done := make(chan FlowReturn)
	go func() { done <- src.Push(NewBuffer().Buffer) }()
	require.Eventually(t, src.IsBlocked, time.Second, time.Millisecond)

	require.True(t, src.PushEvent(NewFlushStartEvent()))
	assert.Equal(t, FlowFlushing, <-done)
	assert.Empty(t, sink.received())
}

func TestFlushCycleReachesPeer(t *testing.T) {
	src := activeSrc(t, "src")
	sink := newCollector(t, "sink")
	require.NoError(t, src.Link(sink.Pad))
	startStream(t, src)
	require.Equal(t, FlowOK, src.Push(NewBuffer().Buffer))

	require.True(t, src.PushEvent(NewFlushStartEvent()))
	assert.True(t, sink.IsFlushing())
	require.True(t, src.PushEvent(NewFlushStopEvent(true)))
	assert.False(t, sink.IsFlushing())

	// the kept sticky events go out ahead of the new segment
	require.True(t, src.PushEvent(NewSegmentEvent(NewSegment(FormatTime))))
	assert.Equal(t, FlowOK, src.Push(NewBuffer().Buffer))
	assert.Len(t, sink.received(), 2)
	assert.Equal(t, []EventType{
		EventStreamStart, EventCaps, EventSegment,
		EventFlushStart, EventFlushStop,
		EventStreamStart, EventCaps, EventSegment,
	}, sink.eventTypes())
}

func TestIdleProbe(t *testing.T) {
	src := activeSrc(t, "src")
	ran := false
	src.AddProbe(PadProbeTypeIdle, func(_ *Pad, info *PadProbeInfo) PadProbeReturn {
		ran = true
		assert.Nil(t, info.Data)
		return PadProbeRemove
	}, nil)
	assert.True(t, ran)
	assert.False(t, src.IsBlocking())
}

func TestGhostPad(t *testing.T) {
	target := newCollector(t, "sink")
	ghost, err := NewGhostPad("ghost", target.Pad)
	require.NoError(t, err)
	assert.Equal(t, PadDirectionSink, ghost.Direction())
	assert.Same(t, target.Pad, ghost.Target())
	require.NoError(t, ghost.SetActive(true))

	g, ok := AsGhostPad(&ghost.Pad)
	require.True(t, ok)
	assert.Same(t, ghost, g)

	src := activeSrc(t, "src")
	require.NoError(t, src.Link(&ghost.Pad))
	startStream(t, src)
	assert.Equal(t, FlowOK, src.Push(NewBuffer().Buffer))
	assert.Len(t, target.received(), 1)
	assert.Contains(t, target.eventTypes(), EventCaps)

	other := newCollector(t, "other")
	require.NoError(t, ghost.SetTarget(other.Pad))
	assert.False(t, target.IsLinked())
	assert.Equal(t, FlowOK, src.Push(NewBuffer().Buffer))
	assert.Len(t, other.received(), 1)

	require.NoError(t, ghost.SetTarget(nil))
	assert.Nil(t, ghost.Target())
	assert.Error(t, ghost.SetTarget(activeSrc(t, "wrong")))
}
