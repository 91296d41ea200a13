package webrtcpeer

import "github.com/pion/webrtc/v3"

const (
	kindOffer  = "offer"
	kindAnswer = "answer"
	kindICE    = "ice"
)

// envelope is the negotiation blob relayed through the rendezvous broker.
// Media marks offers that carry (or request) audio/video, so the answering
// side can raise CallIncoming before any RTP flows.
type envelope struct {
	Kind      string                   `json:"kind"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Media     bool                     `json:"media,omitempty"`
}
