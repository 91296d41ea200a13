// Package protocol defines the signaling messages exchanged between room
// participants over their data channels, and the JSON wire codec for them.
package protocol

// MessageType identifies a signaling message kind on the wire.
type MessageType string

const (
	TypePeerList        MessageType = "peer-list"
	TypeNewPeer         MessageType = "new-peer"
	TypeRequestPeerList MessageType = "request-peer-list"
	TypePeerDisconnect  MessageType = "peer-disconnect"
	TypeChat            MessageType = "chat-message"
)

func (t MessageType) String() string { return string(t) }

type Message interface {
	Type() MessageType
}

// PeerList carries the full set of peer ids known to the sender.
type PeerList struct {
	Peers     []string
	Timestamp int64
}

func (PeerList) Type() MessageType { return TypePeerList }

// NewPeer announces a single newcomer to an already-connected peer.
type NewPeer struct {
	PeerID    string
	Timestamp int64
}

func (NewPeer) Type() MessageType { return TypeNewPeer }

// RequestPeerList asks the room creator to send back a PeerList.
type RequestPeerList struct {
	Timestamp int64
}

func (RequestPeerList) Type() MessageType { return TypeRequestPeerList }

// PeerDisconnect is an authoritative notice that a peer left the room.
type PeerDisconnect struct {
	PeerID    string
	Timestamp int64
}

func (PeerDisconnect) Type() MessageType { return TypePeerDisconnect }

// Chat is an application payload the coordinator passes through without
// interpreting.
type Chat struct {
	Sender    string
	Text      string
	Timestamp int64
}

func (Chat) Type() MessageType { return TypeChat }
