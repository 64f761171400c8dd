package gst

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTypeMatching(t *testing.T) {
	assert.Equal(t, "state-changed", MessageStateChanged.String())
	assert.Equal(t, "eos+error", (MessageEOS | MessageError).String())
	assert.True(t, MessageError.Matches(MessageEOS|MessageError))
	assert.False(t, MessageWarning.Matches(MessageEOS|MessageError))
	assert.True(t, MessageDeviceAdded.Matches(MessageAny))
	assert.True(t, MessageDeviceAdded.Matches(MessageDeviceAdded))
	assert.False(t, MessageDeviceAdded.Matches(MessageDeviceRemoved))
}

func TestMessageRoundTrips(t *testing.T) {
	src := NewElement("src0", nil)

	m := NewStateChangedMessage(src, StateReady, StatePaused, StatePlaying)
	old, cur, pending := m.ParseStateChanged()
	assert.Equal(t, []State{StateReady, StatePaused, StatePlaying}, []State{old, cur, pending})
	el, ok := m.SrcElement()
	require.True(t, ok)
	assert.Same(t, src, el)
	assert.Equal(t, "src0", m.SrcName())
	assert.Panics(t, func() { m.ParseBuffering() })
	m.Unref()

	m = NewBufferingMessage(src, 42)
	assert.Equal(t, 42, m.ParseBuffering())
	m.Unref()

	m = NewProgressMessage(nil, ProgressComplete, "open", "opened file")
	typ, code, text := m.ParseProgress()
	assert.Equal(t, ProgressComplete, typ)
	assert.Equal(t, "open", code)
	assert.Equal(t, "opened file", text)
	assert.Equal(t, "(NULL)", m.SrcName())
	m.Unref()

	qos := NewQOSMessage(src, true, Second, Second, 2*Second, 20*Millisecond).MakeWritable()
	qos.SetQOSStats(FormatBuffers, 100, 3)
	f, processed, dropped := qos.ParseQOSStats()
	assert.Equal(t, FormatBuffers, f)
	assert.Equal(t, uint64(100), processed)
	assert.Equal(t, uint64(3), dropped)
	qos.Unref()

	ss := NewStreamStartMessage(src).MakeWritable()
	_, ok = ss.GroupID()
	assert.False(t, ok)
	ss.SetGroupID(9)
	gid, ok := ss.GroupID()
	require.True(t, ok)
	assert.Equal(t, uint32(9), gid)
	ss.Unref()

	m = NewNeedContextMessage(src, "gst.gl.GLDisplay")
	assert.Equal(t, "gst.gl.GLDisplay", m.ParseContextType())
	m.Unref()
}

func TestErrorMessage(t *testing.T) {
	src := NewElement("decoder", nil)
	cause := NewError(StreamErrorDecode, "corrupt frame")
	details := NewStructureFromFields("details", "frame", 12)

	m := NewErrorMessage(src, cause, "decoder.go:10", details)
	err, debug := m.ParseError()
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "decoder.go:10", debug)
	require.NotNil(t, m.Details())
	frame, gerr := Get[int32](m.Details(), "frame")
	require.NoError(t, gerr)
	assert.Equal(t, int32(12), frame)
	domain, gerr := Get[string](m.Structure(), "domain")
	require.NoError(t, gerr)
	assert.Equal(t, "gst-stream-error-quark", domain)
	assert.Panics(t, func() { m.ParseWarning() })

	c := m.Copy()
	assert.Equal(t, m.Seqnum(), c.Seqnum())
	cerr, _ := c.ParseError()
	assert.Same(t, cause, cerr)
	c.Unref()
	m.Unref()

	w := NewWarningMessage(nil, errors.New("late"), "", nil)
	err, _ = w.ParseWarning()
	assert.EqualError(t, err, "late")
	assert.Nil(t, w.Details())
	w.Unref()
}

func TestMessageWritability(t *testing.T) {
	m := NewEOSMessage(nil)
	assert.Nil(t, m.Structure())
	shared := m.Ref()
	_, ok := m.GetMut()
	assert.False(t, ok)

	w := shared.MakeWritable()
	assert.NotSame(t, m, w.Message)
	w.SetTimestamp(Second)
	w.SetSrc(NewElement("bin0", nil))
	s := w.WritableStructure()
	assert.Equal(t, "eos", s.Name())
	assert.Equal(t, ClockTimeNone, m.Timestamp())
	assert.Equal(t, "bin0", w.SrcName())
	w.Unref()
	m.Unref()
}
