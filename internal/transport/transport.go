// Package transport defines the peer-link capability the room coordinator
// is built on. Implementations (webrtcpeer for production, mem for tests)
// own the mechanics of dialing, answering and encrypting links; the
// coordinator only sees the events and handles declared here.
package transport

import "context"

// MediaStream is an opaque media handle. The coordinator never inspects it;
// it only stores the handle on roster entries for the UI layer to render.
type MediaStream any

// DataLink is an ordered, reliable message channel to one peer. Send is
// fire-and-forget: failures surface later as DataClosed or LinkFailure
// events.
type DataLink interface {
	PeerID() string
	Send(payload []byte) error
	Close() error
}

// MediaLink is the media half of a peer link. The remote stream is
// delivered through a StreamReady event once it is flowing.
type MediaLink interface {
	PeerID() string
	Close() error
}

// Provider is the top-level peer handle for one session. Open must be
// called exactly once before any dialing; Destroy releases the handle and
// every link it carries.
//
// All events for one Provider are delivered on a single channel and must be
// consumed by a single goroutine: this is what gives the coordinator its
// strict total-order processing without locks.
type Provider interface {
	Open(ctx context.Context, id string) error
	Events() <-chan Event

	// Connect opens a data link to the peer. The returned link is pending
	// until a DataOpen event names it.
	Connect(peerID string) (DataLink, error)

	// Call opens a media link carrying the local stream. The remote stream
	// arrives via StreamReady.
	Call(peerID string, local MediaStream) (MediaLink, error)

	// Answer accepts an inbound call with the local stream.
	Answer(call MediaLink, local MediaStream) error

	Destroy() error
}

// Event is the closed set of notifications a Provider emits.
type Event interface {
	event()
}

// HandleOpen fires once the provider's own peer handle is registered and
// dialing may begin.
type HandleOpen struct {
	ID string
}

// HandleError is fatal to the session: the peer handle could not be
// established (id taken, broker unreachable). No retry follows.
type HandleError struct {
	Err error
}

// DataOpen fires when a data link (dialed or inbound) reaches the open
// state and may carry messages.
type DataOpen struct {
	Link DataLink
}

// DataMessage is one signaling envelope received from a peer.
type DataMessage struct {
	PeerID  string
	Payload []byte
}

// DataClosed fires when a data link closes, for any reason. The link
// reference lets consumers ignore close events for links they already
// replaced.
type DataClosed struct {
	Link DataLink
}

// CallIncoming fires when a peer dials our media channel. The call stays
// pending until answered.
type CallIncoming struct {
	Call MediaLink
}

// StreamReady delivers the remote peer's media stream, on both the calling
// and the answering side.
type StreamReady struct {
	Link   MediaLink
	Stream MediaStream
}

// MediaClosed fires when a media link closes, for any reason.
type MediaClosed struct {
	Link MediaLink
}

// LinkFailure reports a per-link error. Consumers treat it as the link
// closing; cleanup follows the normal disconnect path.
type LinkFailure struct {
	PeerID string
	Err    error
}

func (HandleOpen) event()   {}
func (HandleError) event()  {}
func (DataOpen) event()     {}
func (DataMessage) event()  {}
func (DataClosed) event()   {}
func (CallIncoming) event() {}
func (StreamReady) event()  {}
func (MediaClosed) event()  {}
func (LinkFailure) event()  {}
