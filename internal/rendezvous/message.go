// Package rendezvous implements the addressing broker peers use to exchange
// session negotiation blobs before a direct link exists. The broker relays
// opaque payloads between registered peer ids; it never interprets roster
// or topology semantics.
package rendezvous

import "encoding/json"

// Message is the websocket frame shared by client and server.
type Message struct {
	Type    string          `json:"type"`
	PeerID  string          `json:"peer_id,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeSignal     = "signal"
	TypePeerGone   = "peer-gone"
	TypeError      = "error"
)

// ErrorPayload carries a broker-side failure description.
type ErrorPayload struct {
	Error string `json:"error"`
}
