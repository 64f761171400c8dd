package webrtc

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/app"
	gstrtp "github.com/thesyncim/gst/rtp"
)

// Track is a webrtc.TrackLocal sending the RTP packets of a pipeline,
// typically the samples an appsink collects behind a payloader.
type Track struct {
	id       string
	streamID string
	rid      string
	kind     webrtc.RTPCodecType
	codec    webrtc.RTPCodecCapability

	mu       sync.RWMutex
	bindings []binding
	onEnded  func()

	ended   atomic.Bool
	packets atomic.Uint64
}

type binding struct {
	id          string
	ssrc        webrtc.SSRC
	payloadType webrtc.PayloadType
	writer      webrtc.TrackLocalWriter
}

// NewTrack returns a track for codec.
func NewTrack(codec webrtc.RTPCodecCapability, id, streamID string) *Track {
	kind := webrtc.RTPCodecTypeVideo
	if strings.HasPrefix(strings.ToLower(codec.MimeType), "audio/") {
		kind = webrtc.RTPCodecTypeAudio
	}
	return &Track{id: id, streamID: streamID, kind: kind, codec: codec}
}

// NewTrackFromCaps returns a track for the codec described by RTP caps.
func NewTrackFromCaps(caps *gst.Caps, id, streamID string) (*Track, error) {
	codec, err := CodecFromCaps(caps)
	if err != nil {
		return nil, err
	}
	return NewTrack(codec.RTPCodecCapability, id, streamID), nil
}

func (t *Track) ID() string                       { return t.id }
func (t *Track) StreamID() string                 { return t.streamID }
func (t *Track) RID() string                      { return t.rid }
func (t *Track) Kind() webrtc.RTPCodecType        { return t.kind }
func (t *Track) Codec() webrtc.RTPCodecCapability { return t.codec }

// Bind picks the negotiated codec matching the track's mime type.
func (t *Track) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	for _, p := range ctx.CodecParameters() {
		if !strings.EqualFold(p.MimeType, t.codec.MimeType) {
			continue
		}
		t.mu.Lock()
		t.bindings = append(t.bindings, binding{
			id:          ctx.ID(),
			ssrc:        ctx.SSRC(),
			payloadType: p.PayloadType,
			writer:      ctx.WriteStream(),
		})
		t.mu.Unlock()
		catWebRTC.Debug(nil, "track %s bound with payload type %d", t.id, p.PayloadType)
		return p, nil
	}
	return webrtc.RTPCodecParameters{}, webrtc.ErrUnsupportedCodec
}

func (t *Track) Unbind(ctx webrtc.TrackLocalContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, b := range t.bindings {
		if b.id == ctx.ID() {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			return nil
		}
	}
	return webrtc.ErrUnbindFailed
}

// Bindings returns the number of PeerConnections the track is bound to.
func (t *Track) Bindings() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bindings)
}

// PacketsWritten counts the packets handed to WriteRTP.
func (t *Track) PacketsWritten() uint64 { return t.packets.Load() }

// WriteRTP sends p to every binding, rewriting SSRC and payload type to the
// negotiated ones.
func (t *Track) WriteRTP(p *rtp.Packet) error {
	if t.ended.Load() {
		return io.ErrClosedPipe
	}
	t.packets.Add(1)

	t.mu.RLock()
	defer t.mu.RUnlock()
	var errs *multierror.Error
	for _, b := range t.bindings {
		header := p.Header
		header.SSRC = uint32(b.ssrc)
		header.PayloadType = uint8(b.payloadType)
		if _, err := b.writer.WriteRTP(&header, p.Payload); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// WriteBuffer sends the RTP packet held by buf, which stays owned by the
// caller.
func (t *Track) WriteBuffer(buf *gst.Buffer) error {
	rb, err := gstrtp.MapReadable(buf)
	if err != nil {
		return err
	}
	defer rb.Unmap()
	return t.WriteRTP(&rtp.Packet{Header: rb.Header(), Payload: rb.Payload()})
}

// Attach makes sink feed the track: every sample is written with WriteBuffer
// and EOS ends the track. It replaces the callbacks of sink.
func (t *Track) Attach(sink *app.AppSink) {
	sink.SetCallbacks(app.AppSinkCallbacks{
		NewSample: func(sink *app.AppSink) gst.FlowReturn {
			sample := sink.TryPullSample(0)
			if sample == nil {
				return gst.FlowOK
			}
			defer sample.Unref()
			if t.ended.Load() {
				return gst.FlowEOS
			}
			if buf := sample.Buffer(); buf != nil {
				if err := t.WriteBuffer(buf); err != nil {
					catWebRTC.Warning(sink.Element(), "track %s: %v", t.id, err)
				}
			}
			if list := sample.BufferList(); list != nil {
				for _, buf := range list.All() {
					if err := t.WriteBuffer(buf); err != nil {
						catWebRTC.Warning(sink.Element(), "track %s: %v", t.id, err)
					}
				}
			}
			return gst.FlowOK
		},
		EOS: func(*app.AppSink) { _ = t.Close() },
	})
}

// OnEnded sets a callback run once when the track ends.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

// Close ends the track. Later writes fail with io.ErrClosedPipe.
func (t *Track) Close() error {
	if t.ended.Swap(true) {
		return nil
	}
	t.mu.RLock()
	fn := t.onEnded
	t.mu.RUnlock()
	if fn != nil {
		go fn()
	}
	return nil
}

var _ webrtc.TrackLocal = (*Track)(nil)
