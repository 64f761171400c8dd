// Package webrtc bridges pion PeerConnections to gst: the offer/answer
// exchange is driven through gst.Promise, codec parameters convert to and from
// application/x-rtp caps, and Track feeds RTP buffers from a pipeline to a
// PeerConnection.
package webrtc

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/gst"
)

var catWebRTC = gst.NewDebugCategory("webrtc", "WebRTC bridge")

// ReplyName names the structures replied to the promises of this package.
const ReplyName = "application/x-gst-promise"

// ErrNoReply is returned for promises that were replied without a structure.
var ErrNoReply = errors.New("webrtc: empty promise reply")

// CreateOffer creates an offer on pc in the background. The promise is
// replied with the "type" and "sdp" of the offer, or with an "error" field.
func CreateOffer(pc *webrtc.PeerConnection, opts *webrtc.OfferOptions) *gst.Promise {
	return describe(func() (webrtc.SessionDescription, error) { return pc.CreateOffer(opts) })
}

// CreateAnswer creates an answer on pc in the background, replied like
// CreateOffer.
func CreateAnswer(pc *webrtc.PeerConnection, opts *webrtc.AnswerOptions) *gst.Promise {
	return describe(func() (webrtc.SessionDescription, error) { return pc.CreateAnswer(opts) })
}

func describe(create func() (webrtc.SessionDescription, error)) *gst.Promise {
	p := gst.NewPromise()
	go func() {
		defer p.Unref()
		desc, err := create()
		if p.Result() != gst.PromisePending {
			return
		}
		if err != nil {
			catWebRTC.Warning(nil, "creating session description: %v", err)
			p.Reply(errorReply(err))
			return
		}
		p.Reply(SessionDescriptionReply(desc))
	}()
	return p.Ref()
}

// SetLocalDescription applies desc to pc in the background. The promise is
// replied with an empty structure or one carrying "error".
func SetLocalDescription(pc *webrtc.PeerConnection, desc webrtc.SessionDescription) *gst.Promise {
	return apply(func() error { return pc.SetLocalDescription(desc) })
}

// SetRemoteDescription applies the remote desc to pc in the background,
// replied like SetLocalDescription.
func SetRemoteDescription(pc *webrtc.PeerConnection, desc webrtc.SessionDescription) *gst.Promise {
	return apply(func() error { return pc.SetRemoteDescription(desc) })
}

func apply(fn func() error) *gst.Promise {
	p := gst.NewPromise()
	go func() {
		defer p.Unref()
		if err := fn(); err != nil {
			catWebRTC.Warning(nil, "setting session description: %v", err)
			p.Reply(errorReply(err))
			return
		}
		p.Reply(gst.NewStructure(ReplyName))
	}()
	return p.Ref()
}

// GatheringComplete returns a promise replied once pc finished gathering ICE
// candidates, with the local description including them. Closing pc expires
// the promise.
func GatheringComplete(pc *webrtc.PeerConnection) *gst.Promise {
	p := gst.NewPromise()
	done := webrtc.GatheringCompletePromise(pc)
	go func() {
		defer p.Unref()
		<-done
		desc := pc.LocalDescription()
		if desc == nil {
			p.Expire()
			return
		}
		p.Reply(SessionDescriptionReply(*desc))
	}()
	return p.Ref()
}

// SessionDescriptionReply returns the reply structure carrying desc.
func SessionDescriptionReply(desc webrtc.SessionDescription) *gst.Structure {
	return gst.NewStructureFromFields(ReplyName,
		"type", desc.Type.String(),
		"sdp", desc.SDP,
	)
}

func errorReply(err error) *gst.Structure {
	return gst.NewStructureFromFields(ReplyName, "error", err.Error())
}

// ReplyError returns the error carried by a reply, or nil.
func ReplyError(s *gst.Structure) error {
	if s == nil {
		return ErrNoReply
	}
	if msg, err := s.GetString("error"); err == nil {
		return errors.New(msg)
	}
	return nil
}

// SessionDescriptionFromReply returns the session description replied to a
// CreateOffer, CreateAnswer or GatheringComplete promise. The SDP is parsed to
// reject malformed descriptions.
func SessionDescriptionFromReply(s *gst.Structure) (webrtc.SessionDescription, error) {
	if err := ReplyError(s); err != nil {
		return webrtc.SessionDescription{}, err
	}
	typ, err := s.GetString("type")
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtc: reply without type: %w", err)
	}
	sdp, err := s.GetString("sdp")
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtc: reply without sdp: %w", err)
	}
	desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(typ), SDP: sdp}
	if desc.Type == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtc: unknown sdp type %q", typ)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("webrtc: invalid sdp: %w", err)
	}
	return desc, nil
}

// Await waits for p and returns its session description.
func Await(p *gst.Promise) (webrtc.SessionDescription, error) {
	p.Wait()
	s, err := p.Outcome()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return SessionDescriptionFromReply(s)
}
