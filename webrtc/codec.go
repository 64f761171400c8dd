package webrtc

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/gst"
)

// ErrNotRTPCaps is returned for caps that do not describe an RTP stream.
var ErrNotRTPCaps = errors.New("webrtc: caps are not fixed application/x-rtp")

const rtcpFeedbackPrefix = "rtcp-fb-"

// fields with a meaning of their own in application/x-rtp caps, never fmtp
var reservedFields = []string{
	"media", "clock-rate", "encoding-name", "payload", "encoding-params",
	"ssrc", "timestamp-offset", "seqnum-offset", "a-framerate",
}

var mimeTypes = map[string]string{
	"VP8":  webrtc.MimeTypeVP8,
	"VP9":  webrtc.MimeTypeVP9,
	"H264": webrtc.MimeTypeH264,
	"H265": webrtc.MimeTypeH265,
	"AV1":  webrtc.MimeTypeAV1,
	"OPUS": webrtc.MimeTypeOpus,
	"PCMU": webrtc.MimeTypePCMU,
	"PCMA": webrtc.MimeTypePCMA,
	"G722": webrtc.MimeTypeG722,
}

// CapsFromCodec describes codec as application/x-rtp caps. Every fmtp
// parameter becomes a string field and every RTCP feedback a boolean
// "rtcp-fb-<type>[-<parameter>]" field.
func CapsFromCodec(codec webrtc.RTPCodecParameters) (*gst.Caps, error) {
	media, name, ok := strings.Cut(codec.MimeType, "/")
	if !ok || name == "" {
		return nil, fmt.Errorf("webrtc: invalid mime type %q", codec.MimeType)
	}
	media = strings.ToLower(media)
	if media != "audio" && media != "video" {
		return nil, fmt.Errorf("webrtc: unsupported media %q", media)
	}

	s := gst.NewStructureFromFields("application/x-rtp",
		"media", media,
		"encoding-name", strings.ToUpper(name),
		"clock-rate", int32(codec.ClockRate),
		"payload", int32(codec.PayloadType),
	)
	if media == "audio" && codec.Channels > 0 {
		s.Set("encoding-params", strconv.Itoa(int(codec.Channels)))
	}
	for _, param := range strings.Split(codec.SDPFmtpLine, ";") {
		key, value, _ := strings.Cut(strings.TrimSpace(param), "=")
		if key = strings.ToLower(strings.TrimSpace(key)); key == "" || slices.Contains(reservedFields, key) {
			continue
		}
		s.Set(key, strings.TrimSpace(value))
	}
	for _, fb := range codec.RTCPFeedback {
		key := rtcpFeedbackPrefix + fb.Type
		if fb.Parameter != "" {
			key += "-" + fb.Parameter
		}
		s.Set(key, true)
	}
	return gst.NewCaps(s), nil
}

// CodecFromCaps is the inverse of CapsFromCodec. The first structure of caps
// must be application/x-rtp with media, encoding-name, clock-rate and payload.
func CodecFromCaps(caps *gst.Caps) (webrtc.RTPCodecParameters, error) {
	var codec webrtc.RTPCodecParameters
	if caps == nil || caps.IsEmpty() || caps.IsAny() {
		return codec, ErrNotRTPCaps
	}
	s := caps.Structure(0)
	if s.Name() != "application/x-rtp" {
		return codec, fmt.Errorf("%w: %s", ErrNotRTPCaps, s.Name())
	}

	media, err := s.GetString("media")
	if err != nil {
		return codec, fmt.Errorf("webrtc: %w", err)
	}
	name, err := s.GetString("encoding-name")
	if err != nil {
		return codec, fmt.Errorf("webrtc: %w", err)
	}
	rate, err := s.GetInt("clock-rate")
	if err != nil {
		return codec, fmt.Errorf("webrtc: %w", err)
	}
	pt, err := s.GetInt("payload")
	if err != nil {
		return codec, fmt.Errorf("webrtc: %w", err)
	}
	if pt < 0 || pt > 127 {
		return codec, fmt.Errorf("webrtc: payload type %d out of range", pt)
	}

	name = strings.ToUpper(name)
	codec.MimeType = media + "/" + name
	if known, ok := mimeTypes[name]; ok && strings.HasPrefix(known, media+"/") {
		codec.MimeType = known
	}
	codec.ClockRate = uint32(rate)
	codec.PayloadType = webrtc.PayloadType(pt)
	if params, err := s.GetString("encoding-params"); err == nil {
		if channels, err := strconv.ParseUint(params, 10, 16); err == nil {
			codec.Channels = uint16(channels)
		}
	}

	var fmtp []string
	for field, value := range s.Fields() {
		if slices.Contains(reservedFields, field) {
			continue
		}
		if fb, ok := strings.CutPrefix(field, rtcpFeedbackPrefix); ok {
			if on, _ := value.(bool); on {
				codec.RTCPFeedback = append(codec.RTCPFeedback, feedbackFromField(fb))
			}
			continue
		}
		if str, ok := value.(string); ok {
			fmtp = append(fmtp, field+"="+str)
		}
	}
	slices.Sort(fmtp)
	codec.SDPFmtpLine = strings.Join(fmtp, ";")
	return codec, nil
}

// feedbackFromField splits "nack-pli" into type "nack" and parameter "pli".
// Types containing dashes are matched first.
func feedbackFromField(fb string) webrtc.RTCPFeedback {
	for _, typ := range []string{webrtc.TypeRTCPFBTransportCC, webrtc.TypeRTCPFBGoogREMB, webrtc.TypeRTCPFBCCM, webrtc.TypeRTCPFBNACK} {
		if fb == typ {
			return webrtc.RTCPFeedback{Type: typ}
		}
		if param, ok := strings.CutPrefix(fb, typ+"-"); ok {
			return webrtc.RTCPFeedback{Type: typ, Parameter: param}
		}
	}
	typ, param, _ := strings.Cut(fb, "-")
	return webrtc.RTCPFeedback{Type: typ, Parameter: param}
}
