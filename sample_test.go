package gst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleOwnership(t *testing.T) {
	buf := NewBufferFromSlice([]byte("abc"))
	caps := MustCapsFromString("text/x-raw, format=(string)utf8")
	s := NewSample(buf.Buffer, caps, nil, NewStructureFromFields("info", "n", 1))
	assert.Equal(t, int32(2), buf.RefCount(), "the sample holds its own reference")
	assert.Equal(t, int32(2), caps.RefCount())

	seg := s.Segment()
	assert.Equal(t, FormatTime, seg.Format, "missing segments read as time segments")
	seg.Start = 5
	assert.Zero(t, s.Segment().Start, "Segment returns a copy")

	shared := s.Ref()
	w := shared.MakeWritable()
	assert.NotSame(t, s, w.Sample)
	assert.Same(t, s.Buffer(), w.Buffer())
	assert.NotSame(t, s.Info(), w.Info())
	assert.True(t, s.Info().IsEqual(w.Info()))

	other := NewBufferFromSlice([]byte("xyz"))
	w.SetBuffer(other.Buffer)
	other.Unref()
	w.SetCaps(nil)
	assert.Equal(t, []byte("xyz"), w.Buffer().Bytes())
	assert.Nil(t, w.Caps())
	assert.Equal(t, []byte("abc"), s.Buffer().Bytes())
	w.Unref()

	s.Unref()
	assert.Equal(t, int32(1), buf.RefCount())
	assert.Equal(t, int32(1), caps.RefCount())
	buf.Unref()
	caps.Unref()
}
