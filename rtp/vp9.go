package rtp

import (
	"fmt"

	"github.com/pion/rtp/codecs"

	"github.com/thesyncim/gst"
)

var (
	vp9Caps    = gst.MustCapsFromString("video/x-vp9")
	vp9RTPCaps = gst.MustCapsFromString(
		"application/x-rtp, media=(string)video, clock-rate=(int)90000, encoding-name=(string){ VP9, VP9-DRAFT-IETF-01 }")
)

var vp9PayClass = func() *gst.ElementClass {
	c := NewPayloadClass("GstRtpVP9Pay",
		gst.ElementMetadata{
			LongName:       "RTP VP9 payloader",
			Classification: "Codec/Payloader/Network/RTP",
			Description:    "Puts VP9 video in RTP packets",
			Author:         "gst-go",
		},
		vp9Caps, vp9RTPCaps,
		gst.NewParamInt("picture-id-offset", "Picture ID offset",
			"First picture ID, -1 for random", -1, 0x7fff, -1, gst.ParamReadWrite|gst.ParamMutableReady),
	)
	c.New = func() gst.ElementImpl { return &VP9Pay{} }
	return c
}()

// VP9Pay payloads VP9 frames in flexible mode with a 15-bit picture ID.
type VP9Pay struct {
	BasePayload

	payloader *codecs.VP9Payloader
}

func (v *VP9Pay) SetCaps(p *BasePayload, _ *gst.Caps) error {
	v.payloader = &codecs.VP9Payloader{FlexibleMode: true}
	if off, _ := gst.PropertyAs[int32](p.Element(), "picture-id-offset"); off >= 0 {
		v.payloader.InitialPictureIDFn = func() uint16 { return uint16(off) }
	}
	p.SetOptions("video", true, "VP9", 90000)
	return p.SetOutCaps()
}

func (v *VP9Pay) HandleBuffer(p *BasePayload, buf *gst.Buffer) gst.FlowReturn {
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
	if len(payloads) == 0 {
		p.Element().PostWarning(gst.NewError(gst.StreamErrorEncode, "VP9 frame produced no packets"), "")
		return gst.FlowOK
	}
	list := gst.NewBufferList(len(payloads))
	for i, payload := range payloads {
		out, err := p.OutputBuffer(payload, buf, i == len(payloads)-1)
		if err != nil {
			list.Unref()
			p.Element().PostError(gst.NewError(gst.StreamErrorEncode, "packetizing VP9"), err.Error())
			return gst.FlowError
		}
		list.Add(out)
	}
	return p.PushList(list.BufferList)
}

var vp9DepayClass = func() *gst.ElementClass {
	c := NewDepayloadClass("GstRtpVP9Depay",
		gst.ElementMetadata{
			LongName:       "RTP VP9 depayloader",
			Classification: "Codec/Depayloader/Network/RTP",
			Description:    "Extracts VP9 video from RTP packets",
			Author:         "gst-go",
		},
		vp9RTPCaps, vp9Caps,
		gst.NewParamBool("wait-for-keyframe", "Wait for Keyframe",
			"Wait for the next keyframe after packet loss", false, gst.ParamReadWrite),
	)
	c.New = func() gst.ElementImpl { return &VP9Depay{} }
	return c
}()

// VP9Depay reassembles VP9 frames between the B and E bits of the payload
// descriptor.
type VP9Depay struct {
	BaseDepayload

	packet       codecs.VP9Packet
	frame        []byte
	timestamp    uint32
	inFrame      bool
	waitKeyframe bool
}

func (v *VP9Depay) SetCaps(d *BaseDepayload, _ *gst.Caps) error {
	caps := gst.NewCapsSimple("video/x-vp9")
	defer caps.Unref()
	if !d.SetSrcCaps(caps) {
		return fmt.Errorf("rtpvp9depay: downstream refused %s", caps)
	}
	return nil
}

func (v *VP9Depay) Reset(*BaseDepayload) {
	v.frame = v.frame[:0]
	v.inFrame = false
}

func (v *VP9Depay) ProcessRTPPacket(d *BaseDepayload, rb *Buffer) *gst.Buffer {
	payload, err := v.packet.Unmarshal(rb.Payload())
	if err != nil {
		catDepayload.Warning(d.Element(), "invalid VP9 payload: %v", err)
		v.Reset(d)
		return nil
	}
	if d.IsDiscont() {
		if wait, _ := gst.PropertyAs[bool](d.Element(), "wait-for-keyframe"); wait {
			v.waitKeyframe = true
		}
	}

	switch {
	case v.packet.B:
		if v.inFrame && rb.Timestamp() != v.timestamp {
			catDepayload.Debug(d.Element(), "dropping incomplete frame at %d", v.timestamp)
		}
		v.frame = v.frame[:0]
		v.inFrame = true
		v.timestamp = rb.Timestamp()
	case !v.inFrame:
		return nil
	case rb.Timestamp() != v.timestamp:
		catDepayload.Debug(d.Element(), "frame at %d lost its start", rb.Timestamp())
		v.Reset(d)
		return nil
	}
	v.frame = append(v.frame, payload...)

	if !v.packet.E && !rb.Marker() {
		return nil
	}
	v.inFrame = false
	key := vp9IsKeyframe(v.frame)
	if v.waitKeyframe && !key {
		catDepayload.Log(d.Element(), "waiting for keyframe, dropping delta frame")
		v.frame = v.frame[:0]
		return nil
	}
	v.waitKeyframe = false

	out := gst.NewBufferFromSlice(append([]byte(nil), v.frame...))
	if !key {
		out.SetBufferFlags(gst.BufferFlagDeltaUnit)
	}
	v.frame = v.frame[:0]
	return out.Buffer
}

// vp9IsKeyframe reads frame_type from the uncompressed frame header.
func vp9IsKeyframe(frame []byte) bool {
	if len(frame) == 0 || frame[0]>>6 != 0x2 {
		return false
	}
	profile := (frame[0]>>5)&1 | (frame[0]>>4)&1<<1
	bit := 3 // show_existing_frame, counted from the LSB
	if profile == 3 {
		bit-- // reserved_zero comes first
	}
	if frame[0]>>bit&1 == 1 {
		return false
	}
	return frame[0]>>(bit-1)&1 == 0
}
