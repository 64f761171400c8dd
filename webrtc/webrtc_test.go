package webrtc_test

import (
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/app"
	"github.com/thesyncim/gst/check"
	"github.com/thesyncim/gst/rtp"
	gstwebrtc "github.com/thesyncim/gst/webrtc"
)

func TestMain(m *testing.M) {
	if err := gst.InitWithConfig(gst.Config{}); err != nil {
		panic(err)
	}
	for _, register := range []func() error{app.Register, rtp.Register} {
		if err := register(); err != nil {
			panic(err)
		}
	}
	os.Exit(m.Run())
}

func newPeerConnection(t *testing.T) *webrtc.PeerConnection {
	t.Helper()
	m := &webrtc.MediaEngine{}
	require.NoError(t, m.RegisterDefaultCodecs())
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func awaitApplied(t *testing.T, p *gst.Promise) {
	t.Helper()
	defer p.Unref()
	require.Equal(t, gst.PromiseReplied, p.Wait())
	s, err := p.Outcome()
	require.NoError(t, err)
	require.NoError(t, gstwebrtc.ReplyError(s))
}

func awaitDescription(t *testing.T, p *gst.Promise) webrtc.SessionDescription {
	t.Helper()
	defer p.Unref()
	desc, err := gstwebrtc.Await(p)
	require.NoError(t, err)
	return desc
}

func TestOfferAnswer(t *testing.T) {
	offerer := newPeerConnection(t)
	answerer := newPeerConnection(t)
	_, err := offerer.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)

	offer := awaitDescription(t, gstwebrtc.CreateOffer(offerer, nil))
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=video")
	awaitApplied(t, gstwebrtc.SetLocalDescription(offerer, offer))

	awaitApplied(t, gstwebrtc.SetRemoteDescription(answerer, offer))
	answer := awaitDescription(t, gstwebrtc.CreateAnswer(answerer, nil))
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	awaitApplied(t, gstwebrtc.SetLocalDescription(answerer, answer))
	awaitApplied(t, gstwebrtc.SetRemoteDescription(offerer, answer))

	assert.Equal(t, webrtc.SignalingStateStable, offerer.SignalingState())
}

func TestGatheringComplete(t *testing.T) {
	pc := newPeerConnection(t)
	_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)

	offer := awaitDescription(t, gstwebrtc.CreateOffer(pc, nil))
	awaitApplied(t, gstwebrtc.SetLocalDescription(pc, offer))

	desc := awaitDescription(t, gstwebrtc.GatheringComplete(pc))
	assert.Equal(t, webrtc.SDPTypeOffer, desc.Type)
	assert.Contains(t, desc.SDP, "m=audio")
}

func TestCreateOfferOnClosedConnection(t *testing.T) {
	pc := newPeerConnection(t)
	require.NoError(t, pc.Close())

	p := gstwebrtc.CreateOffer(pc, nil)
	defer p.Unref()
	_, err := gstwebrtc.Await(p)
	assert.Error(t, err)
	assert.Equal(t, gst.PromiseReplied, p.Result(), "errors are replied, not expired")
}

func TestInterruptedOffer(t *testing.T) {
	pc := newPeerConnection(t)
	p := gstwebrtc.CreateOffer(pc, nil)
	defer p.Unref()
	p.Interrupt()

	assert.Equal(t, gst.PromiseInterrupted, p.Wait())
	_, err := gstwebrtc.Await(p)
	assert.ErrorIs(t, err, gst.ErrPromiseInterrupted)
}

func TestSessionDescriptionFromReply(t *testing.T) {
	_, err := gstwebrtc.SessionDescriptionFromReply(nil)
	assert.ErrorIs(t, err, gstwebrtc.ErrNoReply)

	for name, s := range map[string]*gst.Structure{
		"error":        gst.NewStructureFromFields(gstwebrtc.ReplyName, "error", "boom"),
		"missing type": gst.NewStructureFromFields(gstwebrtc.ReplyName, "sdp", "v=0"),
		"unknown type": gst.NewStructureFromFields(gstwebrtc.ReplyName, "type", "bogus", "sdp", "v=0"),
		"invalid sdp":  gst.NewStructureFromFields(gstwebrtc.ReplyName, "type", "offer", "sdp", "garbage"),
	} {
		t.Run(name, func(t *testing.T) {
			defer s.Free()
			_, err := gstwebrtc.SessionDescriptionFromReply(s)
			assert.Error(t, err)
		})
	}
}

func TestCapsFromCodecH264(t *testing.T) {
	codec := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: []webrtc.RTCPFeedback{
				{Type: "goog-remb"}, {Type: "ccm", Parameter: "fir"}, {Type: "nack"}, {Type: "nack", Parameter: "pli"},
				{Type: "transport-cc"},
			},
		},
		PayloadType: 102,
	}
	caps, err := gstwebrtc.CapsFromCodec(codec)
	require.NoError(t, err)
	defer caps.Unref()

	s := caps.Structure(0)
	assert.Equal(t, "application/x-rtp", s.Name())
	media, _ := s.GetString("media")
	assert.Equal(t, "video", media)
	name, _ := s.GetString("encoding-name")
	assert.Equal(t, "H264", name)
	pt, _ := s.GetInt("payload")
	assert.EqualValues(t, 102, pt)
	mode, _ := s.GetString("packetization-mode")
	assert.Equal(t, "1", mode)
	pli, _ := gst.Get[bool](s, "rtcp-fb-nack-pli")
	assert.True(t, pli)

	back, err := gstwebrtc.CodecFromCaps(caps)
	require.NoError(t, err)
	assert.Equal(t, webrtc.MimeTypeH264, back.MimeType)
	assert.Equal(t, codec.ClockRate, back.ClockRate)
	assert.Equal(t, codec.PayloadType, back.PayloadType)
	assert.Equal(t, codec.SDPFmtpLine, back.SDPFmtpLine)
	assert.ElementsMatch(t, codec.RTCPFeedback, back.RTCPFeedback)
}

func TestCapsFromCodecOpus(t *testing.T) {
	caps, err := gstwebrtc.CapsFromCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	})
	require.NoError(t, err)
	defer caps.Unref()

	params, _ := caps.Structure(0).GetString("encoding-params")
	assert.Equal(t, "2", params)

	back, err := gstwebrtc.CodecFromCaps(caps)
	require.NoError(t, err)
	assert.Equal(t, webrtc.MimeTypeOpus, back.MimeType)
	assert.EqualValues(t, 2, back.Channels)
	assert.Equal(t, "minptime=10;useinbandfec=1", back.SDPFmtpLine)
}

func TestCapsFromCodecInvalid(t *testing.T) {
	_, err := gstwebrtc.CapsFromCodec(webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "VP8"}})
	assert.Error(t, err)
	_, err = gstwebrtc.CapsFromCodec(webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "text/plain"}})
	assert.Error(t, err)
}

func TestCodecFromCapsInvalid(t *testing.T) {
	for _, s := range []string{
		"video/x-raw",
		"application/x-rtp, media=(string)video, encoding-name=(string)VP8, payload=(int)96",
		"application/x-rtp, media=(string)video, clock-rate=(int)90000, encoding-name=(string)VP8, payload=(int)200",
	} {
		caps := gst.MustCapsFromString(s)
		_, err := gstwebrtc.CodecFromCaps(caps)
		assert.Error(t, err, s)
		caps.Unref()
	}
	_, err := gstwebrtc.CodecFromCaps(nil)
	assert.ErrorIs(t, err, gstwebrtc.ErrNotRTPCaps)
}

func TestCodecFromPayloaderCaps(t *testing.T) {
	e, err := gst.ElementFactoryMake("rtpvp8pay", "")
	require.NoError(t, err)
	require.NoError(t, e.SetProperty("pt", uint32(100)))
	h, err := check.NewWithElement(e)
	require.NoError(t, err)
	defer h.Teardown()
	require.NoError(t, h.Play())
	require.NoError(t, h.SetSrcCapsString("video/x-vp8"))

	caps := h.SinkPad().CurrentCaps()
	require.NotNil(t, caps)
	defer caps.Unref()

	codec, err := gstwebrtc.CodecFromCaps(caps)
	require.NoError(t, err)
	assert.Equal(t, webrtc.MimeTypeVP8, codec.MimeType)
	assert.EqualValues(t, 100, codec.PayloadType)
	assert.EqualValues(t, 90000, codec.ClockRate)
	assert.Empty(t, codec.SDPFmtpLine, "stream parameters are not fmtp")

	track, err := gstwebrtc.NewTrackFromCaps(caps, "video", "stream")
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, track.Kind())
}

// payloadPipeline returns appsrc ! rtpvp8pay ! appsink with the track attached
// to the appsink.
func payloadPipeline(t *testing.T, track *gstwebrtc.Track) (*gst.Pipeline, *app.AppSrc) {
	t.Helper()
	src, err := gst.ElementFactoryMake("appsrc", "")
	require.NoError(t, err)
	require.NoError(t, src.SetProperty("caps", gst.MustCapsFromString("video/x-vp8")))
	require.NoError(t, src.SetProperty("format", "time"))
	pay, err := gst.ElementFactoryMake("rtpvp8pay", "")
	require.NoError(t, err)
	sink, err := gst.ElementFactoryMake("appsink", "")
	require.NoError(t, err)
	require.NoError(t, sink.SetProperty("sync", false))

	p := gst.NewPipeline("")
	require.NoError(t, p.Add(src, pay, sink))
	require.NoError(t, gst.LinkMany(src, pay, sink))
	t.Cleanup(func() { p.SetState(gst.StateNull) })

	track.Attach(sink.Impl().(*app.AppSink))
	return p, src.Impl().(*app.AppSrc)
}

func vp8Frame(i int) *gst.Buffer {
	data := make([]byte, 64)
	data[0] = 0x10 // keyframe
	data[1] = byte(i)
	buf := gst.NewBufferFromSlice(data)
	buf.SetPTS(gst.ClockTime(i) * 33 * gst.Millisecond)
	return buf.Buffer
}

func TestTrackAttach(t *testing.T) {
	track := gstwebrtc.NewTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "stream")
	ended := make(chan struct{})
	track.OnEnded(func() { close(ended) })

	p, src := payloadPipeline(t, track)
	p.SetState(gst.StatePlaying)
	for i := range 5 {
		require.Equal(t, gst.FlowOK, src.PushBuffer(vp8Frame(i)))
	}
	require.Equal(t, gst.FlowOK, src.EndOfStream())

	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("track did not end on EOS")
	}
	assert.EqualValues(t, 5, track.PacketsWritten())
	assert.Zero(t, track.Bindings())
}

func TestTrackLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens UDP sockets")
	}
	track := gstwebrtc.NewTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "stream")
	sender := newPeerConnection(t)
	receiver := newPeerConnection(t)
	_, err := sender.AddTrack(track)
	require.NoError(t, err)

	received := make(chan *webrtc.TrackRemote, 1)
	receiver.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) { received <- remote })
	connected := make(chan struct{})
	var once atomic.Bool
	sender.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected && once.CompareAndSwap(false, true) {
			close(connected)
		}
	})

	offer := awaitDescription(t, gstwebrtc.CreateOffer(sender, nil))
	awaitApplied(t, gstwebrtc.SetLocalDescription(sender, offer))
	offer = awaitDescription(t, gstwebrtc.GatheringComplete(sender))
	awaitApplied(t, gstwebrtc.SetRemoteDescription(receiver, offer))
	answer := awaitDescription(t, gstwebrtc.CreateAnswer(receiver, nil))
	awaitApplied(t, gstwebrtc.SetLocalDescription(receiver, answer))
	answer = awaitDescription(t, gstwebrtc.GatheringComplete(receiver))
	awaitApplied(t, gstwebrtc.SetRemoteDescription(sender, answer))

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Skip("no ICE connectivity between local peers")
	}
	assert.Equal(t, 1, track.Bindings())

	p, src := payloadPipeline(t, track)
	p.SetState(gst.StatePlaying)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				if src.PushBuffer(vp8Frame(i)) != gst.FlowOK {
					return
				}
			}
		}
	}()

	var remote *webrtc.TrackRemote
	select {
	case remote = <-received:
	case <-time.After(10 * time.Second):
		t.Fatal("no remote track")
	}
	assert.True(t, strings.EqualFold(webrtc.MimeTypeVP8, remote.Codec().MimeType))
	require.NoError(t, remote.SetReadDeadline(time.Now().Add(5*time.Second)))
	pkt, _, err := remote.ReadRTP()
	require.NoError(t, err)
	assert.Equal(t, uint8(remote.PayloadType()), pkt.PayloadType)
	assert.NotEmpty(t, pkt.Payload)
}
