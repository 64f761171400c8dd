package rtp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/rtp"
)

func TestBufferWriteHeader(t *testing.T) {
	mut, err := rtp.NewPacket([]byte{1, 2, 3}, 0, 2)
	require.NoError(t, err)
	defer mut.Unref()

	rb, err := rtp.MapWritable(mut)
	require.NoError(t, err)
	require.NoError(t, rb.SetSeq(4242))
	require.NoError(t, rb.SetPayloadType(111))
	require.NoError(t, rb.SetSSRC(0xdeadbeef))
	require.NoError(t, rb.SetTimestamp(90000))
	require.NoError(t, rb.SetMarker(true))
	rb.Unmap()

	rb, err = rtp.MapReadable(mut.Buffer)
	require.NoError(t, err)
	defer rb.Unmap()
	assert.Equal(t, uint16(4242), rb.Seq())
	assert.Equal(t, uint8(111), rb.PayloadType())
	assert.Equal(t, uint32(0xdeadbeef), rb.SSRC())
	assert.Equal(t, uint32(90000), rb.Timestamp())
	assert.True(t, rb.Marker())
	assert.Len(t, rb.CSRCs(), 2)
	assert.Equal(t, rtp.HeaderLen(2), rb.HeaderLen())
	assert.Equal(t, []byte{1, 2, 3}, rb.Payload())
}

func TestBufferReadableRejectsSetters(t *testing.T) {
	mut, err := rtp.NewPacket([]byte{1}, 0, 0)
	require.NoError(t, err)
	defer mut.Unref()

	rb, err := rtp.MapReadable(mut.Buffer)
	require.NoError(t, err)
	defer rb.Unmap()
	assert.Error(t, rb.SetSeq(1))
	assert.Error(t, rb.SetMarker(true))
}

func TestBufferPayloadTypeRange(t *testing.T) {
	mut, err := rtp.NewPacket(nil, 0, 0)
	require.NoError(t, err)
	defer mut.Unref()

	rb, err := rtp.MapWritable(mut)
	require.NoError(t, err)
	defer rb.Unmap()
	assert.NoError(t, rb.SetPayloadType(127))
	assert.Error(t, rb.SetPayloadType(128))
}

func TestBufferPadding(t *testing.T) {
	mut, err := rtp.NewPacket([]byte("payload"), 4, 0)
	require.NoError(t, err)
	defer mut.Unref()
	assert.Equal(t, rtp.HeaderLen(0)+len("payload")+4, mut.Size())

	rb, err := rtp.MapReadable(mut.Buffer)
	require.NoError(t, err)
	defer rb.Unmap()
	assert.True(t, rb.HasPadding())
	assert.Equal(t, []byte("payload"), rb.Payload())
}

func TestBufferInvalid(t *testing.T) {
	for name, data := range map[string][]byte{
		"short":            {0x80, 0x60, 0x00},
		"version 1":        {0x40, 0x60, 0, 1, 0, 0, 0, 0, 0, 0, 0, 1},
		"padding overruns": {0xa0, 0x60, 0, 1, 0, 0, 0, 0, 0, 0, 0, 1, 0xaa, 0x20},
	} {
		t.Run(name, func(t *testing.T) {
			buf := gst.NewBufferFromSlice(data)
			defer buf.Unref()
			_, err := rtp.MapReadable(buf.Buffer)
			assert.Error(t, err)
		})
	}
}

func TestCompareSeqnum(t *testing.T) {
	for _, tc := range []struct {
		seq1, seq2 uint16
		want       int
	}{
		{0, 1, 1},
		{1, 0, -1},
		{65535, 0, 1},
		{0, 65535, -1},
		{100, 100, 0},
		{0, 32767, 32767},
		{0, 32768, -32768},
	} {
		assert.Equal(t, tc.want, rtp.CompareSeqnum(tc.seq1, tc.seq2), "%d -> %d", tc.seq1, tc.seq2)
	}
}

func TestExtTimestamp(t *testing.T) {
	ext := ^uint64(0)
	assert.Equal(t, uint64(0xfffffff0), rtp.ExtTimestamp(&ext, 0xfffffff0))
	assert.Equal(t, uint64(1<<32|0x10), rtp.ExtTimestamp(&ext, 0x10), "forward wrap")
	assert.Equal(t, uint64(0xfffffff8), rtp.ExtTimestamp(&ext, 0xfffffff8), "reordered across the wrap")
	assert.Equal(t, uint64(1<<32|0x20), rtp.ExtTimestamp(&ext, 0x20))
}

func TestIsTimestampOlder(t *testing.T) {
	assert.True(t, rtp.IsTimestampOlder(1, 2))
	assert.True(t, rtp.IsTimestampOlder(2, 2))
	assert.False(t, rtp.IsTimestampOlder(2, 1))
	assert.True(t, rtp.IsTimestampOlder(0xffffff00, 0x10))
}
