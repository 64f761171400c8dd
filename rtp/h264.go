package rtp

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/thesyncim/gst"
)

// H.264 NAL unit types
const (
	nalTypeIDR   = 5
	nalTypeSPS   = 7
	nalTypePPS   = 8
	nalTypeSTAPA = 24
	nalTypeFUA   = 28
)

var (
	h264Caps = gst.MustCapsFromString(
		"video/x-h264, stream-format=(string)byte-stream, alignment=(string){ nal, au }")
	h264RTPCaps = gst.MustCapsFromString(
		"application/x-rtp, media=(string)video, clock-rate=(int)90000, encoding-name=(string)H264")
	h264DepayCaps = gst.MustCapsFromString(
		"video/x-h264, stream-format=(string)byte-stream, alignment=(string)au")
)

var annexBStartCode = []byte{0, 0, 0, 1}

var h264PayClass = func() *gst.ElementClass {
	c := NewPayloadClass("GstRtpH264Pay",
		gst.ElementMetadata{
			LongName:       "RTP H264 payloader",
			Classification: "Codec/Payloader/Network/RTP",
			Description:    "Payload-encode H264 video into RTP packets (RFC 3984)",
			Author:         "gst-go",
		},
		h264Caps, h264RTPCaps,
	)
	c.New = func() gst.ElementImpl { return &H264Pay{} }
	return c
}()

// H264Pay packetizes byte-stream H.264 in packetization-mode 1: NAL units that
// fit the MTU go out whole, larger ones as FU-A fragments. The marker bit is
// set on the last packet of an access unit.
type H264Pay struct {
	BasePayload

	sps, pps []byte
}

func (h *H264Pay) SetCaps(p *BasePayload, _ *gst.Caps) error {
	p.SetOptions("video", true, "H264", 90000)
	return p.SetOutCaps("packetization-mode", "1")
}

func (h *H264Pay) Reset(*BasePayload) {
	h.sps, h.pps = nil, nil
}

func (h *H264Pay) HandleBuffer(p *BasePayload, buf *gst.Buffer) gst.FlowReturn {
	defer buf.Unref()
	m, err := buf.MapReadable()
	if err != nil {
		return gst.FlowError
	}
	defer m.Unmap()

	nalus := splitAnnexB(m.Data)
	if len(nalus) == 0 {
		catPayload.Warning(p.Element(), "no NAL units in %s", buf)
		return gst.FlowOK
	}
	if err := h.updateParameterSets(p, nalus); err != nil {
		catPayload.Warning(p.Element(), "updating caps: %v", err)
		return gst.FlowNotNegotiated
	}

	// with alignment=nal the buffer flags mark the end of the access unit
	auEnd := true
	if caps := p.SinkPad().CurrentCaps(); caps != nil {
		if a, _ := caps.Structure(0).GetString("alignment"); a == "nal" {
			auEnd = buf.HasBufferFlags(gst.BufferFlagMarker)
		}
		caps.Unref()
	}

	maxPayload := p.MaxPayload()
	list := gst.NewBufferList(len(nalus))
	for i, nalu := range nalus {
		last := i == len(nalus)-1
		var payloads [][]byte
		if len(nalu) <= maxPayload {
			payloads = [][]byte{nalu}
		} else {
			payloads = fragmentFUA(nalu, maxPayload)
		}
		for j, payload := range payloads {
			marker := auEnd && last && j == len(payloads)-1
			out, err := p.OutputBuffer(payload, buf, marker)
			if err != nil {
				list.Unref()
				return gst.FlowError
			}
			list.Add(out)
		}
	}
	return p.PushList(list.BufferList)
}

// updateParameterSets renegotiates when the stream carries new SPS or PPS.
func (h *H264Pay) updateParameterSets(p *BasePayload, nalus [][]byte) error {
	changed := false
	for _, nalu := range nalus {
		switch nalu[0] & 0x1f {
		case nalTypeSPS:
			if !bytes.Equal(nalu, h.sps) {
				h.sps = append([]byte(nil), nalu...)
				changed = true
			}
		case nalTypePPS:
			if !bytes.Equal(nalu, h.pps) {
				h.pps = append([]byte(nil), nalu...)
				changed = true
			}
		}
	}
	if !changed || h.sps == nil || h.pps == nil || len(h.sps) < 4 {
		return nil
	}
	sprop := base64.StdEncoding.EncodeToString(h.sps) + "," + base64.StdEncoding.EncodeToString(h.pps)
	return p.SetOutCaps(
		"packetization-mode", "1",
		"profile-level-id", fmt.Sprintf("%02x%02x%02x", h.sps[1], h.sps[2], h.sps[3]),
		"sprop-parameter-sets", sprop,
	)
}

// fragmentFUA splits nalu into FU-A payloads of at most maxPayload bytes.
func fragmentFUA(nalu []byte, maxPayload int) [][]byte {
	header := nalu[0]
	nalType := header & 0x1f
	indicator := header&0x60 | nalTypeFUA
	data := nalu[1:]
	chunk := maxPayload - 2

	var payloads [][]byte
	for offset := 0; offset < len(data); offset += chunk {
		end := min(offset+chunk, len(data))
		fuHeader := nalType
		if offset == 0 {
			fuHeader |= 0x80
		}
		if end == len(data) {
			fuHeader |= 0x40
		}
		payload := make([]byte, 2+end-offset)
		payload[0] = indicator
		payload[1] = fuHeader
		copy(payload[2:], data[offset:end])
		payloads = append(payloads, payload)
	}
	return payloads
}

// splitAnnexB returns the NAL units of a byte-stream, without start codes.
func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		var scLen int
		switch {
		case data[i+2] == 1:
			scLen = 3
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			scLen = 4
		default:
			continue
		}
		if start >= 0 && i > start {
			nalus = append(nalus, data[start:i])
		}
		start = i + scLen
		i += scLen - 1
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

var h264DepayClass = func() *gst.ElementClass {
	c := NewDepayloadClass("GstRtpH264Depay",
		gst.ElementMetadata{
			LongName:       "RTP H264 depayloader",
			Classification: "Codec/Depayloader/Network/RTP",
			Description:    "Extracts H264 video from RTP packets (RFC 3984)",
			Author:         "gst-go",
		},
		h264RTPCaps, h264DepayCaps,
	)
	c.New = func() gst.ElementImpl { return &H264Depay{} }
	return c
}()

var errShortFUA = errors.New("FU-A packet too short")

// H264Depay reassembles access units from single NAL, STAP-A and FU-A packets
// and outputs them as byte-stream with 4-byte start codes.
type H264Depay struct {
	BaseDepayload

	au          []byte
	fua         []byte
	fragmenting bool
	timestamp   uint32
	keyframe    bool
	started     bool
}

func (h *H264Depay) SetCaps(d *BaseDepayload, caps *gst.Caps) error {
	out := h264DepayCaps.Copy()
	defer out.Unref()
	// parameter sets from SDP go in front of the first access unit
	if sprop, err := caps.Structure(0).GetString("sprop-parameter-sets"); err == nil {
		for _, ps := range bytes.Split([]byte(sprop), []byte(",")) {
			nalu, err := base64.StdEncoding.DecodeString(string(ps))
			if err != nil || len(nalu) == 0 {
				catDepayload.Warning(d.Element(), "invalid sprop-parameter-sets %q", sprop)
				continue
			}
			h.au = append(h.au, annexBStartCode...)
			h.au = append(h.au, nalu...)
		}
	}
	if !d.SetSrcCaps(out.Caps) {
		return fmt.Errorf("rtph264depay: downstream refused %s", out.Caps)
	}
	return nil
}

func (h *H264Depay) Reset(*BaseDepayload) {
	h.au = h.au[:0]
	h.fua = h.fua[:0]
	h.fragmenting = false
	h.keyframe = false
	h.started = false
}

func (h *H264Depay) ProcessRTPPacket(d *BaseDepayload, rb *Buffer) *gst.Buffer {
	payload := rb.Payload()
	if len(payload) == 0 {
		return nil
	}

	if h.started && rb.Timestamp() != h.timestamp {
		catDepayload.Debug(d.Element(), "timestamp changed without marker, dropping partial access unit")
		h.Reset(d)
	}
	if d.IsDiscont() && h.fragmenting {
		catDepayload.Debug(d.Element(), "packet loss inside FU-A, dropping fragment")
		h.fua = h.fua[:0]
		h.fragmenting = false
	}
	h.timestamp = rb.Timestamp()
	h.started = true

	var err error
	switch nalType := payload[0] & 0x1f; {
	case nalType >= 1 && nalType <= 23:
		h.appendNALU(payload)
	case nalType == nalTypeSTAPA:
		err = h.depayloadSTAPA(payload)
	case nalType == nalTypeFUA:
		err = h.depayloadFUA(payload)
	default:
		err = fmt.Errorf("unsupported NAL type %d", nalType)
	}
	if err != nil {
		catDepayload.Warning(d.Element(), "%v", err)
		return nil
	}

	if !rb.Marker() || len(h.au) == 0 {
		return nil
	}
	out := gst.NewBufferFromSlice(append([]byte(nil), h.au...))
	if !h.keyframe {
		out.SetBufferFlags(gst.BufferFlagDeltaUnit)
	}
	h.Reset(d)
	return out.Buffer
}

func (h *H264Depay) appendNALU(nalu []byte) {
	if nalu[0]&0x1f == nalTypeIDR {
		h.keyframe = true
	}
	h.au = append(h.au, annexBStartCode...)
	h.au = append(h.au, nalu...)
}

func (h *H264Depay) depayloadSTAPA(payload []byte) error {
	for offset := 1; offset+2 <= len(payload); {
		size := int(binary.BigEndian.Uint16(payload[offset:]))
		offset += 2
		if size == 0 || offset+size > len(payload) {
			return fmt.Errorf("STAP-A NAL unit of %d bytes overruns the packet", size)
		}
		h.appendNALU(payload[offset : offset+size])
		offset += size
	}
	return nil
}

func (h *H264Depay) depayloadFUA(payload []byte) error {
	if len(payload) < 2 {
		return errShortFUA
	}
	indicator, header := payload[0], payload[1]
	if header&0x80 != 0 {
		h.fua = append(h.fua[:0], indicator&0xe0|header&0x1f)
		h.fragmenting = true
	}
	if !h.fragmenting {
		return nil
	}
	h.fua = append(h.fua, payload[2:]...)
	if header&0x40 != 0 {
		h.appendNALU(h.fua)
		h.fua = h.fua[:0]
		h.fragmenting = false
	}
	return nil
}
