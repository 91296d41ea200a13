package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownType marks a well-formed envelope whose type the coordinator
	// does not recognize. Callers are expected to drop the message.
	ErrUnknownType = errors.New("protocol: unknown message type")

	ErrMalformed = errors.New("protocol: malformed message")
)

// envelope is the flat JSON shape every signaling message shares.
type envelope struct {
	Type      string   `json:"type"`
	Peers     []string `json:"peers,omitempty"`
	PeerID    string   `json:"peerId,omitempty"`
	Sender    string   `json:"sender,omitempty"`
	Text      string   `json:"text,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

func Encode(msg Message) ([]byte, error) {
	var env envelope
	env.Type = msg.Type().String()

	switch m := msg.(type) {
	case PeerList:
		env.Peers = m.Peers
		env.Timestamp = m.Timestamp
	case NewPeer:
		env.PeerID = m.PeerID
		env.Timestamp = m.Timestamp
	case RequestPeerList:
		env.Timestamp = m.Timestamp
	case PeerDisconnect:
		env.PeerID = m.PeerID
		env.Timestamp = m.Timestamp
	case Chat:
		env.Sender = m.Sender
		env.Text = m.Text
		env.Timestamp = m.Timestamp
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", msg)
	}

	return json.Marshal(env)
}

// Decode parses a signaling envelope. Unrecognized types return
// ErrUnknownType so new message kinds can be rolled out without breaking
// old participants.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch MessageType(env.Type) {
	case TypePeerList:
		return PeerList{Peers: env.Peers, Timestamp: env.Timestamp}, nil
	case TypeNewPeer:
		return NewPeer{PeerID: env.PeerID, Timestamp: env.Timestamp}, nil
	case TypeRequestPeerList:
		return RequestPeerList{Timestamp: env.Timestamp}, nil
	case TypePeerDisconnect:
		return PeerDisconnect{PeerID: env.PeerID, Timestamp: env.Timestamp}, nil
	case TypeChat:
		return Chat{Sender: env.Sender, Text: env.Text, Timestamp: env.Timestamp}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
