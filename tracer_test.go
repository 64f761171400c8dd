package gst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaksTracer(t *testing.T) {
	lt, err := NewLeaksTracer("filter=GstCaps")
	require.NoError(t, err)
	AddTracer(lt)
	defer RemoveTracer(lt)

	leaked := NewCapsAny()
	freed := NewCapsEmpty()
	freed.Unref()
	ignored := NewBuffer()
	ignored.Unref()
	expected := NewCapsAny()
	expected.SetMayBeLeaked()

	leaks := lt.Leaks()
	require.Len(t, leaks, 1)
	assert.Equal(t, TypeCaps, leaks[0].Type)
	assert.Equal(t, int32(1), leaks[0].Refcount)
	assert.Equal(t, 1, lt.LogLeaks())

	leaked.Unref()
	assert.Empty(t, lt.Leaks())
	expected.Unref()
}

func TestLeaksTracerParams(t *testing.T) {
	_, err := NewLeaksTracer("filter=NoSuchType")
	assert.Error(t, err)
	_, err = NewLeaksTracer("stack-traces")
	assert.Error(t, err)
}

type countingTracer struct {
	pushes      int
	transitions []StateChange
}

func (*countingTracer) TracerName() string { return "counting" }

func (c *countingTracer) PadPushPre(ClockTime, *Pad, *Buffer)     { c.pushes++ }
func (c *countingTracer) PadPushPost(ClockTime, *Pad, FlowReturn) {}

func (c *countingTracer) ElementChangeStatePre(_ ClockTime, _ *Element, tr StateChange) {
	c.transitions = append(c.transitions, tr)
}
func (c *countingTracer) ElementChangeStatePost(ClockTime, *Element, StateChange, StateChangeReturn) {}

func TestTracerHooks(t *testing.T) {
	ct := &countingTracer{}
	AddTracer(ct)
	defer RemoveTracer(ct)
	assert.Contains(t, ActiveTracers(), Tracer(ct))

	src, sink := NewPad("src", PadDirectionSrc), NewPad("sink", PadDirectionSink)
	sink.SetChainFunction(func(_ *Pad, _ *Element, buf *Buffer) FlowReturn {
		buf.Unref()
		return FlowOK
	})
	require.NoError(t, src.Link(sink))
	require.NoError(t, src.SetActive(true))
	require.NoError(t, sink.SetActive(true))
	require.True(t, src.PushEvent(NewStreamStartEvent("test")))
	require.True(t, src.PushEvent(NewSegmentEvent(NewSegment(FormatTime))))
	assert.Equal(t, FlowOK, src.Push(NewBuffer().Buffer))
	assert.Equal(t, 1, ct.pushes)

	e := NewElement("traced", nil)
	require.Equal(t, StateChangeSuccess, e.SetState(StateReady))
	require.Equal(t, StateChangeSuccess, e.SetState(StateNull))
	assert.Equal(t, []StateChange{StateChangeNullToReady, StateChangeReadyToNull}, ct.transitions)
}

func TestActivateTracers(t *testing.T) {
	require.NoError(t, ActivateTracers("leaks(filter=GstEvent)"))
	var lt *LeaksTracer
	for _, tr := range ActiveTracers() {
		if l, ok := tr.(*LeaksTracer); ok {
			lt = l
		}
	}
	require.NotNil(t, lt)
	RemoveTracer(lt)

	assert.Error(t, ActivateTracers("no-such-tracer"))
}
