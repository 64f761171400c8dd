package rtp

import (
	"fmt"

	"github.com/pion/rtp/codecs"

	"github.com/thesyncim/gst"
)

var (
	vp8Caps    = gst.MustCapsFromString("video/x-vp8")
	vp8RTPCaps = gst.MustCapsFromString(
		"application/x-rtp, media=(string)video, clock-rate=(int)90000, encoding-name=(string){ VP8, VP8-DRAFT-IETF-01 }")
)

var vp8PayClass = func() *gst.ElementClass {
	c := NewPayloadClass("GstRtpVP8Pay",
		gst.ElementMetadata{
			LongName:       "RTP VP8 payloader",
			Classification: "Codec/Payloader/Network/RTP",
			Description:    "Puts VP8 video in RTP packets",
			Author:         "gst-go",
		},
		vp8Caps, vp8RTPCaps,
		gst.NewParamBool("picture-id", "Picture ID", "Write a 15-bit picture ID in every packet", true, gst.ParamReadWrite),
	)
	c.New = func() gst.ElementImpl { return &VP8Pay{} }
	return c
}()

// VP8Pay payloads VP8 frames following RFC 7741.
type VP8Pay struct {
	BasePayload

	payloader *codecs.VP8Payloader
}

func (v *VP8Pay) SetCaps(p *BasePayload, _ *gst.Caps) error {
	pictureID, _ := gst.PropertyAs[bool](p.Element(), "picture-id")
	v.payloader = &codecs.VP8Payloader{EnablePictureID: pictureID}
	p.SetOptions("video", true, "VP8", 90000)
	return p.SetOutCaps()
}

func (v *VP8Pay) HandleBuffer(p *BasePayload, buf *gst.Buffer) gst.FlowReturn {
	defer buf.Unref()
	m, err := buf.MapReadable()
	if err != nil {
		return gst.FlowError
	}
	defer m.Unmap()
	if len(m.Data) == 0 {
		return gst.FlowOK
	}

	payloads := v.payloader.Payload(uint16(p.MaxPayload()), m.Data)
	list := gst.NewBufferList(len(payloads))
	for i, payload := range payloads {
		out, err := p.OutputBuffer(payload, buf, i == len(payloads)-1)
		if err != nil {
			list.Unref()
			p.Element().PostError(gst.NewError(gst.StreamErrorEncode, "packetizing VP8"), err.Error())
			return gst.FlowError
		}
		list.Add(out)
	}
	return p.PushList(list.BufferList)
}

var vp8DepayClass = func() *gst.ElementClass {
	c := NewDepayloadClass("GstRtpVP8Depay",
		gst.ElementMetadata{
			LongName:       "RTP VP8 depayloader",
			Classification: "Codec/Depayloader/Network/RTP",
			Description:    "Extracts VP8 video from RTP packets",
			Author:         "gst-go",
		},
		vp8RTPCaps, vp8Caps,
		gst.NewParamBool("wait-for-keyframe", "Wait for Keyframe",
			"Wait for the next keyframe after packet loss", false, gst.ParamReadWrite),
	)
	c.New = func() gst.ElementImpl { return &VP8Depay{} }
	return c
}()

// VP8Depay reassembles VP8 frames from RTP packets. A frame is complete on the
// packet with the marker bit; a timestamp change drops the partial frame.
type VP8Depay struct {
	BaseDepayload

	packet       codecs.VP8Packet
	frame        []byte
	timestamp    uint32
	started      bool
	keyframe     bool
	waitKeyframe bool
}

func (v *VP8Depay) SetCaps(d *BaseDepayload, _ *gst.Caps) error {
	caps := gst.NewCapsSimple("video/x-vp8")
	defer caps.Unref()
	if !d.SetSrcCaps(caps) {
		return fmt.Errorf("rtpvp8depay: downstream refused %s", caps)
	}
	return nil
}

func (v *VP8Depay) Reset(*BaseDepayload) {
	v.frame = v.frame[:0]
	v.started = false
	v.keyframe = false
}

func (v *VP8Depay) ProcessRTPPacket(d *BaseDepayload, rb *Buffer) *gst.Buffer {
	payload, err := v.packet.Unmarshal(rb.Payload())
	if err != nil {
		catDepayload.Warning(d.Element(), "invalid VP8 payload: %v", err)
		v.Reset(d)
		return nil
	}

	if d.IsDiscont() {
		if wait, _ := gst.PropertyAs[bool](d.Element(), "wait-for-keyframe"); wait {
			v.waitKeyframe = true
		}
	}
	if v.started && rb.Timestamp() != v.timestamp {
		catDepayload.Debug(d.Element(), "dropping incomplete frame at %d", v.timestamp)
		v.frame = v.frame[:0]
		v.started = false
	}

	// S set with partition 0 starts a frame
	if v.packet.S == 1 && v.packet.PID == 0 {
		v.frame = v.frame[:0]
		v.started = true
		v.timestamp = rb.Timestamp()
		v.keyframe = len(payload) > 0 && payload[0]&0x01 == 0
	}
	if !v.started {
		return nil
	}
	v.frame = append(v.frame, payload...)

	if !rb.Marker() {
		return nil
	}
	v.started = false
	if v.waitKeyframe && !v.keyframe {
		catDepayload.Log(d.Element(), "waiting for keyframe, dropping delta frame")
		return nil
	}
	v.waitKeyframe = false

	out := gst.NewBufferFromSlice(append([]byte(nil), v.frame...))
	if !v.keyframe {
		out.SetBufferFlags(gst.BufferFlagDeltaUnit)
	}
	v.frame = v.frame[:0]
	return out.Buffer
}
