package rtp_test

import (
	"bytes"
	"os"
	"testing"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/check"
	"github.com/thesyncim/gst/rtp"
)

func TestMain(m *testing.M) {
	if err := gst.InitWithConfig(gst.Config{}); err != nil {
		panic(err)
	}
	if err := rtp.Register(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

const (
	vp8RTPCaps  = "application/x-rtp, media=(string)video, clock-rate=(int)90000, encoding-name=(string)VP8, payload=(int)96"
	vp9RTPCaps  = "application/x-rtp, media=(string)video, clock-rate=(int)90000, encoding-name=(string)VP9, payload=(int)96"
	opusRTPCaps = "application/x-rtp, media=(string)audio, clock-rate=(int)48000, encoding-name=(string)OPUS, payload=(int)96"
	h264RTPCaps = "application/x-rtp, media=(string)video, clock-rate=(int)90000, encoding-name=(string)H264, payload=(int)96"
	opusCaps    = "audio/x-opus, channel-mapping-family=(int)0, channels=(int)2, rate=(int)48000"
	h264AUCaps  = "video/x-h264, stream-format=(string)byte-stream, alignment=(string)au"
)

func newHarness(t *testing.T, factory string, props map[string]any) *check.Harness {
	t.Helper()
	e, err := gst.ElementFactoryMake(factory, "")
	require.NoError(t, err)
	for k, v := range props {
		require.NoError(t, e.SetProperty(k, v), "%s.%s", factory, k)
	}
	h, err := check.NewWithElement(e)
	require.NoError(t, err)
	t.Cleanup(h.Teardown)
	require.NoError(t, h.Play())
	return h
}

func mediaBuffer(data []byte, pts gst.ClockTime) *gst.Buffer {
	buf := gst.NewBufferFromSlice(data)
	buf.SetPTS(pts)
	return buf.Buffer
}

func rtpBuffer(t *testing.T, seq uint16, ts uint32, marker bool, payload []byte) *gst.Buffer {
	t.Helper()
	buf, err := rtp.FromPacket(&pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           0xcafe,
			Marker:         marker,
		},
		Payload: payload,
	})
	require.NoError(t, err)
	buf.SetPTS(gst.ClockTime(ts) * gst.Second / 90000)
	return buf.Buffer
}

type packet struct {
	pionrtp.Packet
	buf *gst.Buffer
}

// pullPackets drains the harness and parses every buffer as RTP.
func pullPackets(t *testing.T, h *check.Harness) []packet {
	t.Helper()
	var out []packet
	for buf := h.TryPull(); buf != nil; buf = h.TryPull() {
		t.Cleanup(buf.Unref)
		m, err := buf.MapReadable()
		require.NoError(t, err)
		var p pionrtp.Packet
		require.NoError(t, p.Unmarshal(append([]byte(nil), m.Data...)))
		m.Unmap()
		out = append(out, packet{Packet: p, buf: buf})
	}
	return out
}

// lastCaps returns the newest caps event the element sent downstream.
func lastCaps(t *testing.T, h *check.Harness) *gst.Caps {
	t.Helper()
	var caps *gst.Caps
	for ev := h.TryPullEvent(); ev != nil; ev = h.TryPullEvent() {
		if ev.EventType() == gst.EventCaps {
			if caps != nil {
				caps.Unref()
			}
			caps = ev.ParseCaps().Ref()
		}
		ev.Unref()
	}
	require.NotNil(t, caps, "no caps event")
	t.Cleanup(caps.Unref)
	return caps
}

func bufferData(t *testing.T, buf *gst.Buffer) []byte {
	t.Helper()
	m, err := buf.MapReadable()
	require.NoError(t, err)
	defer m.Unmap()
	return append([]byte(nil), m.Data...)
}

func TestPluginFactories(t *testing.T) {
	for _, name := range []string{
		"rtpvp8pay", "rtpvp8depay", "rtpvp9pay", "rtpvp9depay", "rtpopuspay", "rtpopusdepay", "rtph264pay", "rtph264depay",
	} {
		f := gst.ElementFactoryFind(name)
		require.NotNil(t, f, name)
		assert.Contains(t, f.Klass(), "Network/RTP", name)
	}
	assert.NoError(t, rtp.Register(), "registering twice")
}

func TestPayloaderHeaderProperties(t *testing.T) {
	h := newHarness(t, "rtpvp8pay", map[string]any{
		"pt":               uint32(101),
		"ssrc":             int64(0x12345678),
		"timestamp-offset": int64(1000),
		"seqnum-offset":    int32(500),
	})
	require.NoError(t, h.SetSrcCapsString("video/x-vp8"))

	caps := lastCaps(t, h)
	s := caps.Structure(0)
	assert.Equal(t, "application/x-rtp", s.Name())
	name, _ := s.GetString("encoding-name")
	assert.Equal(t, "VP8", name)
	pt, _ := s.GetInt("payload")
	assert.EqualValues(t, 101, pt)
	ssrc, _ := s.GetUint("ssrc")
	assert.EqualValues(t, 0x12345678, ssrc)
	rate, _ := s.GetInt("clock-rate")
	assert.EqualValues(t, 90000, rate)

	for i := range 3 {
		require.Equal(t, gst.FlowOK, h.Push(mediaBuffer([]byte{0x00, byte(i)}, gst.ClockTime(i)*gst.Second)))
	}
	pkts := pullPackets(t, h)
	require.Len(t, pkts, 3)
	for i, p := range pkts {
		assert.Equal(t, uint8(101), p.PayloadType)
		assert.Equal(t, uint32(0x12345678), p.SSRC)
		assert.Equal(t, uint16(500+i), p.SequenceNumber)
		assert.Equal(t, uint32(1000+90000*i), p.Timestamp)
		assert.True(t, p.Marker)
	}

	seqnum, err := gst.PropertyAs[uint32](h.Element(), "seqnum")
	require.NoError(t, err)
	assert.EqualValues(t, 502, seqnum)
	ts, err := gst.PropertyAs[uint32](h.Element(), "timestamp")
	require.NoError(t, err)
	assert.EqualValues(t, 1000+2*90000, ts)
}

func TestPayloaderNotNegotiated(t *testing.T) {
	h := newHarness(t, "rtpvp8pay", nil)
	assert.Equal(t, gst.FlowNotNegotiated, h.Push(mediaBuffer([]byte{0}, 0)))
}

func TestVP8RoundTrip(t *testing.T) {
	pay := newHarness(t, "rtpvp8pay", map[string]any{"mtu": uint32(100), "seqnum-offset": int32(65534)})
	require.NoError(t, pay.SetSrcCapsString("video/x-vp8"))

	keyframe := bytes.Repeat([]byte{0xa5}, 250)
	keyframe[0] = 0x10 // bit 0 clear: keyframe
	require.Equal(t, gst.FlowOK, pay.Push(mediaBuffer(keyframe, gst.Second)))

	pkts := pullPackets(t, pay)
	require.GreaterOrEqual(t, len(pkts), 3, "250 bytes do not fit one 100 byte packet")
	for i, p := range pkts {
		assert.LessOrEqual(t, p.buf.Size(), 100)
		assert.Equal(t, i == len(pkts)-1, p.Marker, "marker on packet %d", i)
		assert.Equal(t, pkts[0].Timestamp, p.Timestamp)
		assert.Equal(t, uint16(65534+i), p.SequenceNumber, "wraps around")
		assert.Equal(t, gst.Second, p.buf.PTS())
	}

	depay := newHarness(t, "rtpvp8depay", nil)
	require.NoError(t, depay.SetSrcCapsString(vp8RTPCaps))
	for _, p := range pkts {
		require.Equal(t, gst.FlowOK, depay.Push(p.buf.Ref()))
	}
	require.Equal(t, 1, depay.BuffersInQueue())
	out := depay.TryPull()
	defer out.Unref()
	assert.Equal(t, keyframe, bufferData(t, out))
	assert.Equal(t, gst.Second, out.PTS())
	assert.False(t, out.HasBufferFlags(gst.BufferFlagDeltaUnit))

	caps := lastCaps(t, depay)
	assert.Equal(t, "video/x-vp8", caps.Structure(0).Name())
}

func TestVP8DepayDropsIncompleteFrame(t *testing.T) {
	h := newHarness(t, "rtpvp8depay", nil)
	require.NoError(t, h.SetSrcCapsString(vp8RTPCaps))

	// S=1 PID=0 without the marker, then a new frame at another timestamp
	require.Equal(t, gst.FlowOK, h.Push(rtpBuffer(t, 1, 3000, false, []byte{0x10, 0x00, 0xaa, 0xaa})))
	require.Equal(t, gst.FlowOK, h.Push(rtpBuffer(t, 2, 6000, true, []byte{0x10, 0x01, 0xbb, 0xbb})))

	require.Equal(t, 1, h.BuffersInQueue())
	out := h.TryPull()
	defer out.Unref()
	assert.Equal(t, []byte{0x01, 0xbb, 0xbb}, bufferData(t, out))
	assert.True(t, out.HasBufferFlags(gst.BufferFlagDeltaUnit))
}

func TestVP8DepayWaitForKeyframe(t *testing.T) {
	h := newHarness(t, "rtpvp8depay", map[string]any{"wait-for-keyframe": true})
	require.NoError(t, h.SetSrcCapsString(vp8RTPCaps))

	// the first packet is always discont, so delta frames wait
	h.Push(rtpBuffer(t, 10, 3000, true, []byte{0x10, 0x01, 0, 0}))
	assert.Zero(t, h.BuffersInQueue())

	h.Push(rtpBuffer(t, 11, 6000, true, []byte{0x10, 0x00, 0, 0}))
	h.Push(rtpBuffer(t, 12, 9000, true, []byte{0x10, 0x01, 0, 0}))
	assert.Equal(t, 2, h.BuffersInQueue())
}

func TestVP9RoundTrip(t *testing.T) {
	pay := newHarness(t, "rtpvp9pay", map[string]any{"mtu": uint32(80), "picture-id-offset": int32(7)})
	require.NoError(t, pay.SetSrcCapsString("video/x-vp9"))

	keyframe := bytes.Repeat([]byte{0x5a}, 150)
	keyframe[0] = 0x80 // profile 0, frame_type 0
	delta := []byte{0x84, 1, 2, 3}
	require.Equal(t, gst.FlowOK, pay.Push(mediaBuffer(keyframe, gst.Second)))
	require.Equal(t, gst.FlowOK, pay.Push(mediaBuffer(delta, 2*gst.Second)))

	pkts := pullPackets(t, pay)
	require.Greater(t, len(pkts), 3)
	last := pkts[len(pkts)-1]
	assert.True(t, last.Marker)
	assert.Equal(t, "VP9", lastCapsEncoding(t, pay))
	for _, p := range pkts {
		assert.LessOrEqual(t, p.buf.Size(), 80)
		// flexible mode with a 15-bit picture id
		assert.Equal(t, byte(0x90), p.Payload[0]&0x90)
	}
	assert.Equal(t, byte(7), pkts[0].Payload[2], "picture id starts at the offset")

	depay := newHarness(t, "rtpvp9depay", nil)
	require.NoError(t, depay.SetSrcCapsString(vp9RTPCaps))
	for _, p := range pkts {
		require.Equal(t, gst.FlowOK, depay.Push(p.buf.Ref()))
	}
	require.Equal(t, 2, depay.BuffersInQueue())
	key := depay.TryPull()
	defer key.Unref()
	assert.Equal(t, keyframe, bufferData(t, key))
	assert.False(t, key.HasBufferFlags(gst.BufferFlagDeltaUnit))
	d := depay.TryPull()
	defer d.Unref()
	assert.Equal(t, delta, bufferData(t, d))
	assert.True(t, d.HasBufferFlags(gst.BufferFlagDeltaUnit))
	assert.Equal(t, 2*gst.Second, d.PTS())
}

func TestVP9DepayNeedsFrameStart(t *testing.T) {
	h := newHarness(t, "rtpvp9depay", map[string]any{"wait-for-keyframe": true})
	require.NoError(t, h.SetSrcCapsString(vp9RTPCaps))

	// I=1 F=1 E=1 without B: the start was lost
	h.Push(rtpBuffer(t, 1, 3000, true, []byte{0x94, 0x80, 0x01, 0x80, 0, 0}))
	assert.Zero(t, h.BuffersInQueue())
	// B and E on a delta frame while waiting for a keyframe
	h.Push(rtpBuffer(t, 2, 6000, true, []byte{0x9c, 0x80, 0x02, 0x84, 0, 0}))
	assert.Zero(t, h.BuffersInQueue())
	h.Push(rtpBuffer(t, 3, 9000, true, []byte{0x9c, 0x80, 0x03, 0x80, 0, 0}))
	assert.Equal(t, 1, h.BuffersInQueue())
}

// lastCapsEncoding returns the encoding-name of the newest caps event.
func lastCapsEncoding(t *testing.T, h *check.Harness) string {
	t.Helper()
	name, _ := lastCaps(t, h).Structure(0).GetString("encoding-name")
	return name
}

func TestOpusPayload(t *testing.T) {
	h := newHarness(t, "rtpopuspay", map[string]any{"timestamp-offset": int64(0), "dtx": true})
	require.NoError(t, h.SetSrcCapsString(opusCaps))

	caps := lastCaps(t, h)
	s := caps.Structure(0)
	params, _ := s.GetString("encoding-params")
	assert.Equal(t, "2", params)
	stereo, _ := s.GetString("sprop-stereo")
	assert.Equal(t, "1", stereo)
	rate, _ := s.GetInt("clock-rate")
	assert.EqualValues(t, 48000, rate)

	frame := 20 * gst.Millisecond
	h.Push(mediaBuffer([]byte{0xfc, 1, 2, 3}, 0))
	h.Push(mediaBuffer([]byte{0xfc, 4, 5, 6}, frame))
	h.Push(mediaBuffer([]byte{0xf8}, 2*frame)) // DTX
	h.Push(mediaBuffer([]byte{0xfc, 7, 8, 9}, 3*frame))

	pkts := pullPackets(t, h)
	require.Len(t, pkts, 3)
	assert.Equal(t, []bool{true, false, true}, []bool{pkts[0].Marker, pkts[1].Marker, pkts[2].Marker})
	assert.Equal(t, []uint32{0, 960, 2880}, []uint32{pkts[0].Timestamp, pkts[1].Timestamp, pkts[2].Timestamp})
	assert.Equal(t, []byte{0xfc, 4, 5, 6}, pkts[1].Payload)
}

func TestOpusPayloadTooLarge(t *testing.T) {
	h := newHarness(t, "rtpopuspay", map[string]any{"mtu": uint32(28)})
	require.NoError(t, h.SetSrcCapsString(opusCaps))
	assert.Equal(t, gst.FlowError, h.Push(mediaBuffer(make([]byte, 32), 0)))
	assert.Zero(t, h.BuffersReceived())
}

func TestOpusDepayMono(t *testing.T) {
	h := newHarness(t, "rtpopusdepay", nil)
	require.NoError(t, h.SetSrcCapsString(opusRTPCaps+", sprop-stereo=(string)0"))

	caps := lastCaps(t, h)
	channels, _ := caps.Structure(0).GetInt("channels")
	assert.EqualValues(t, 1, channels)

	out, err := h.PushAndPull(rtpBuffer(t, 1, 0, true, []byte{0xfc, 1}))
	require.NoError(t, err)
	defer out.Unref()
	assert.Equal(t, []byte{0xfc, 1}, bufferData(t, out))
}

func TestDepayloadSequenceTracking(t *testing.T) {
	h := newHarness(t, "rtpopusdepay", map[string]any{"max-reorder": int32(5)})
	require.NoError(t, h.SetSrcCapsString(opusRTPCaps))

	for _, seq := range []uint16{10, 11, 13, 12, 13, 14, 2} {
		require.Equal(t, gst.FlowOK, h.Push(rtpBuffer(t, seq, uint32(seq)*960, false, []byte{byte(seq)})))
	}

	var got []byte
	var discont []bool
	for buf := h.TryPull(); buf != nil; buf = h.TryPull() {
		got = append(got, bufferData(t, buf)...)
		discont = append(discont, buf.HasBufferFlags(gst.BufferFlagDiscont))
		buf.Unref()
	}
	// 12 is late and the second 13 a duplicate; 2 is too far back to be late
	assert.Equal(t, []byte{10, 11, 13, 14, 2}, got)
	assert.Equal(t, []bool{true, false, true, false, true}, discont)

	depay, ok := h.Element().Impl().(*rtp.OpusDepay)
	require.True(t, ok)
	assert.EqualValues(t, 2, depay.Dropped())
}

func TestDepayloadDropsInvalidPackets(t *testing.T) {
	h := newHarness(t, "rtpopusdepay", nil)
	require.NoError(t, h.SetSrcCapsString(opusRTPCaps))
	assert.Equal(t, gst.FlowOK, h.Push(mediaBuffer([]byte{0x00, 0x01}, 0)))
	assert.Zero(t, h.BuffersReceived())
}

func TestDepayloadPacketLost(t *testing.T) {
	h := newHarness(t, "rtpopusdepay", nil)
	require.NoError(t, h.SetSrcCapsString(opusRTPCaps))
	for ev := h.TryPullEvent(); ev != nil; ev = h.TryPullEvent() {
		ev.Unref()
	}

	lost := gst.NewCustomEvent(gst.EventCustomDownstream, gst.NewStructureFromFields(rtp.PacketLostEventName,
		"timestamp", uint64(gst.Second),
		"duration", uint64(20*gst.Millisecond),
	))
	require.True(t, h.PushEvent(lost))

	ev, err := h.PullEvent()
	require.NoError(t, err)
	defer ev.Unref()
	require.Equal(t, gst.EventGap, ev.EventType())
}

var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1f, 0xe9, 0x02, 0xc1, 0x2c, 0x80}
	testPPS = []byte{0x68, 0xce, 0x06, 0xe2}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestH264RoundTrip(t *testing.T) {
	pay := newHarness(t, "rtph264pay", map[string]any{"mtu": uint32(100)})
	require.NoError(t, pay.SetSrcCapsString(h264AUCaps))

	idr := append([]byte{0x65}, bytes.Repeat([]byte{0x42}, 299)...)
	au := annexB(testSPS, testPPS, idr)
	require.Equal(t, gst.FlowOK, pay.Push(mediaBuffer(au, 0)))

	caps := lastCaps(t, pay)
	s := caps.Structure(0)
	profile, _ := s.GetString("profile-level-id")
	assert.Equal(t, "42001f", profile)
	sprop, _ := s.GetString("sprop-parameter-sets")
	assert.Equal(t, "Z0IAH+kCwSyA,aM4G4g==", sprop)
	mode, _ := s.GetString("packetization-mode")
	assert.Equal(t, "1", mode)

	pkts := pullPackets(t, pay)
	require.Greater(t, len(pkts), 3)
	assert.Equal(t, testSPS, pkts[0].Payload)
	assert.Equal(t, testPPS, pkts[1].Payload)
	fragments := pkts[2:]
	for i, p := range fragments {
		assert.LessOrEqual(t, p.buf.Size(), 100)
		require.GreaterOrEqual(t, len(p.Payload), 2)
		assert.EqualValues(t, 28, p.Payload[0]&0x1f, "FU-A indicator")
		assert.EqualValues(t, 5, p.Payload[1]&0x1f, "original NAL type")
		assert.Equal(t, i == 0, p.Payload[1]&0x80 != 0, "start bit")
		assert.Equal(t, i == len(fragments)-1, p.Payload[1]&0x40 != 0, "end bit")
		assert.Equal(t, i == len(fragments)-1, p.Marker)
	}

	depay := newHarness(t, "rtph264depay", nil)
	require.NoError(t, depay.SetSrcCapsString(h264RTPCaps))
	for _, p := range pkts {
		require.Equal(t, gst.FlowOK, depay.Push(p.buf.Ref()))
	}
	require.Equal(t, 1, depay.BuffersInQueue())
	out := depay.TryPull()
	defer out.Unref()
	assert.Equal(t, au, bufferData(t, out))
	assert.False(t, out.HasBufferFlags(gst.BufferFlagDeltaUnit))
}

func TestH264DepaySTAPA(t *testing.T) {
	h := newHarness(t, "rtph264depay", nil)
	require.NoError(t, h.SetSrcCapsString(h264RTPCaps))

	stap := []byte{0x18}
	for _, n := range [][]byte{testSPS, testPPS} {
		stap = append(stap, byte(len(n)>>8), byte(len(n)))
		stap = append(stap, n...)
	}
	slice := []byte{0x41, 0x9a, 0x00}
	h.Push(rtpBuffer(t, 1, 3000, false, stap))
	h.Push(rtpBuffer(t, 2, 3000, true, slice))

	require.Equal(t, 1, h.BuffersInQueue())
	out := h.TryPull()
	defer out.Unref()
	assert.Equal(t, annexB(testSPS, testPPS, slice), bufferData(t, out))
	assert.True(t, out.HasBufferFlags(gst.BufferFlagDeltaUnit), "no IDR")
}

func TestH264DepaySpropParameterSets(t *testing.T) {
	h := newHarness(t, "rtph264depay", nil)
	require.NoError(t, h.SetSrcCapsString(h264RTPCaps+`, sprop-parameter-sets=(string)"Z0IAH+kCwSyA,aM4G4g=="`))

	idr := []byte{0x65, 0x88, 0x80}
	out, err := h.PushAndPull(rtpBuffer(t, 1, 3000, true, idr))
	require.NoError(t, err)
	defer out.Unref()
	assert.Equal(t, annexB(testSPS, testPPS, idr), bufferData(t, out))

	// parameter sets only lead the first access unit
	out2, err := h.PushAndPull(rtpBuffer(t, 2, 6000, true, idr))
	require.NoError(t, err)
	defer out2.Unref()
	assert.Equal(t, annexB(idr), bufferData(t, out2))
}

func TestH264DepayLossInsideFragment(t *testing.T) {
	h := newHarness(t, "rtph264depay", nil)
	require.NoError(t, h.SetSrcCapsString(h264RTPCaps))

	h.Push(rtpBuffer(t, 1, 3000, false, []byte{0x7c, 0x85, 1, 2}))
	// seq 2 is lost
	h.Push(rtpBuffer(t, 3, 3000, true, []byte{0x7c, 0x45, 5, 6}))
	assert.Zero(t, h.BuffersReceived())

	slice := []byte{0x41, 0x9a}
	out, err := h.PushAndPull(rtpBuffer(t, 4, 6000, true, slice))
	require.NoError(t, err)
	defer out.Unref()
	assert.Equal(t, annexB(slice), bufferData(t, out))
	assert.True(t, out.HasBufferFlags(gst.BufferFlagDiscont))
}
