package rtp

import (
	"fmt"

	"github.com/pion/rtp/codecs"

	"github.com/thesyncim/gst"
)

var (
	opusCaps = gst.MustCapsFromString(
		"audio/x-opus, channel-mapping-family=(int)0, channels=(int)[ 1, 2 ], rate=(int)48000")
	opusRTPCaps = gst.MustCapsFromString(
		"application/x-rtp, media=(string)audio, clock-rate=(int)48000, encoding-name=(string){ OPUS, X-GST-OPUS-DRAFT-SPITTKA-00 }")
)

var opusPayClass = func() *gst.ElementClass {
	c := NewPayloadClass("GstRtpOPUSPay",
		gst.ElementMetadata{
			LongName:       "RTP Opus payloader",
			Classification: "Codec/Payloader/Network/RTP",
			Description:    "Puts Opus audio in RTP packets",
			Author:         "gst-go",
		},
		opusCaps, opusRTPCaps,
		gst.NewParamBool("dtx", "Discontinuous Transmission", "Do not send empty or comfort noise packets",
			false, gst.ParamReadWrite),
	)
	c.New = func() gst.ElementImpl { return &OpusPay{} }
	return c
}()

// OpusPay puts one Opus packet per RTP packet (RFC 7587).
type OpusPay struct {
	BasePayload

	payloader codecs.OpusPayloader
	marker    bool
}

func (o *OpusPay) SetCaps(p *BasePayload, caps *gst.Caps) error {
	channels, err := caps.Structure(0).GetInt("channels")
	if err != nil {
		channels = 2
	}
	stereo := "0"
	if channels == 2 {
		stereo = "1"
	}
	p.SetOptions("audio", true, "OPUS", 48000)
	return p.SetOutCaps("encoding-params", "2", "sprop-stereo", stereo)
}

func (o *OpusPay) Reset(*BasePayload) { o.marker = true }

func (o *OpusPay) HandleBuffer(p *BasePayload, buf *gst.Buffer) gst.FlowReturn {
	defer buf.Unref()
	m, err := buf.MapReadable()
	if err != nil {
		return gst.FlowError
	}
	defer m.Unmap()

	// a packet of one byte or less is DTX silence
	if len(m.Data) <= 1 {
		if dtx, _ := gst.PropertyAs[bool](p.Element(), "dtx"); dtx {
			o.marker = true
			return gst.FlowOK
		}
	}
	if len(m.Data) == 0 {
		return gst.FlowOK
	}

	payloads := o.payloader.Payload(uint16(p.MaxPayload()), m.Data)
	if len(payloads) != 1 || len(m.Data) > p.MaxPayload() {
		p.Element().PostError(gst.NewError(gst.StreamErrorEncode, "Opus packet does not fit the MTU"),
			fmt.Sprintf("%d bytes, mtu %d", len(m.Data), p.MTU()))
		return gst.FlowError
	}
	// the marker flags the first packet after silence
	out, err := p.OutputBuffer(payloads[0], buf, o.marker)
	if err != nil {
		return gst.FlowError
	}
	o.marker = false
	return p.Push(out)
}

var opusDepayClass = func() *gst.ElementClass {
	c := NewDepayloadClass("GstRTPOpusDepay",
		gst.ElementMetadata{
			LongName:       "RTP Opus packet depayloader",
			Classification: "Codec/Depayloader/Network/RTP",
			Description:    "Extracts Opus audio from RTP packets",
			Author:         "gst-go",
		},
		opusRTPCaps, opusCaps,
	)
	c.New = func() gst.ElementImpl { return &OpusDepay{} }
	return c
}()

// OpusDepay outputs the payload of every packet as one Opus packet.
type OpusDepay struct {
	BaseDepayload

	packet codecs.OpusPacket
}

func (o *OpusDepay) SetCaps(d *BaseDepayload, caps *gst.Caps) error {
	s := caps.Structure(0)
	channels := int32(2)
	if params, err := s.GetString("encoding-params"); err == nil && params == "1" {
		channels = 1
	}
	if stereo, err := s.GetString("sprop-stereo"); err == nil && stereo == "0" {
		channels = 1
	}
	out := gst.NewCapsSimple("audio/x-opus",
		"channel-mapping-family", int32(0),
		"channels", channels,
		"rate", int32(48000),
	)
	defer out.Unref()
	if !d.SetSrcCaps(out) {
		return fmt.Errorf("rtpopusdepay: downstream refused %s", out)
	}
	return nil
}

func (o *OpusDepay) ProcessRTPPacket(d *BaseDepayload, rb *Buffer) *gst.Buffer {
	payload, err := o.packet.Unmarshal(rb.Payload())
	if err != nil {
		catDepayload.Debug(d.Element(), "empty Opus payload")
		return nil
	}
	return gst.NewBufferFromSlice(append([]byte(nil), payload...)).Buffer
}
