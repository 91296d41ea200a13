package transport

import (
	"context"
	"io"
)

// Signaler exchanges opaque session-negotiation blobs (SDP, ICE) between
// peer ids before a direct link exists. The rendezvous client implements it.
type Signaler interface {
	SendSignal(ctx context.Context, peerID string, payload []byte) error
	RecvSignal() <-chan Signal
	io.Closer
}

type Signal struct {
	PeerID  string
	Payload []byte
}
