package session

import (
	"errors"

	"github.com/roomcast/roomcast/internal/protocol"
	"github.com/roomcast/roomcast/internal/registry"
	"github.com/roomcast/roomcast/internal/roster"
	"github.com/roomcast/roomcast/internal/transport"
)

// handleTransportEvent applies one provider event to the roster and
// registry. A non-nil return is fatal to the session (transport handle
// failures only); every per-link problem is absorbed here.
func (s *Session) handleTransportEvent(ev transport.Event) error {
	switch e := ev.(type) {
	case transport.HandleOpen:
		s.log.Info("Peer handle open", "id", e.ID)
		if !s.isCreator {
			// A joiner's first move is always dialing the rendezvous
			// anchor.
			s.establishPeerConnection(roster.CreatorID(s.cfg.RoomID))
		}

	case transport.HandleError:
		return e.Err

	case transport.DataOpen:
		s.onDataOpen(e.Link)

	case transport.DataMessage:
		s.registry.Touch(e.PeerID)
		s.applyMessage(e.PeerID, e.Payload)

	case transport.DataClosed:
		s.onLinkClosed(e.Link.PeerID(), e.Link, nil)

	case transport.CallIncoming:
		// Always answer with the local stream; the roster is only touched
		// once the remote stream actually arrives, so caller and callee
		// converge on one record.
		s.registry.UpsertMedia(e.Call.PeerID(), e.Call)
		if err := s.provider.Answer(e.Call, s.cfg.LocalStream); err != nil {
			s.log.Warn("Failed to answer call", "peer", e.Call.PeerID(), "error", err)
		}

	case transport.StreamReady:
		s.onStreamReady(e.Link, e.Stream)

	case transport.MediaClosed:
		s.onLinkClosed(e.Link.PeerID(), nil, e.Link)

	case transport.LinkFailure:
		s.log.Warn("Link failure", "peer", e.PeerID, "error", e.Err)
		s.removePeer(e.PeerID)
	}
	return nil
}

// onDataOpen records the open channel and, on the creator, performs the
// introducer fan-out: the newcomer gets the full peer list, everyone else
// gets a new-peer announcement. This is the only way mesh joiners learn of
// each other.
func (s *Session) onDataOpen(link transport.DataLink) {
	peerID := link.PeerID()
	if !s.registry.UpsertData(peerID, link) {
		if l, ok := s.registry.Get(peerID); !ok || l.Data != link {
			// Lost a dial race: the first channel won, this one is a
			// registry-level no-op. It is left to idle rather than closed
			// so the winner on the far side is not torn down with it.
			return
		}
	}
	s.registry.MarkDataOpen(peerID)
	s.log.Debug("Data channel open", "peer", peerID)

	if !s.isCreator {
		return
	}

	if l, ok := s.registry.Get(peerID); ok {
		s.sendTo(l, protocol.PeerList{Peers: s.knownPeerIDs(), Timestamp: s.nowMillis()})
	}
	announcement := protocol.NewPeer{PeerID: peerID, Timestamp: s.nowMillis()}
	s.registry.ForEach(func(l *registry.Link) {
		if l.PeerID == peerID || !l.DataOpen {
			return
		}
		s.sendTo(l, announcement)
	})
}

// applyMessage decodes and dispatches one signaling envelope. Protocol
// anomalies are never fatal: malformed or unknown messages are dropped.
func (s *Session) applyMessage(from string, payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			s.log.Debug("Ignoring unknown message type", "peer", from)
		} else {
			s.log.Debug("Ignoring malformed message", "peer", from, "error", err)
		}
		return
	}

	switch m := msg.(type) {
	case protocol.PeerList:
		s.onPeerList(m)

	case protocol.NewPeer:
		if m.PeerID == s.cfg.PeerID {
			return
		}
		if s.topology == TopologyMesh || s.isCreator {
			s.establishPeerConnection(m.PeerID)
		}

	case protocol.RequestPeerList:
		if !s.isCreator {
			return
		}
		if l, ok := s.registry.Get(from); ok {
			s.sendTo(l, protocol.PeerList{Peers: s.knownPeerIDs(), Timestamp: s.nowMillis()})
		}

	case protocol.PeerDisconnect:
		// Authoritative, no liveness check.
		s.removePeer(m.PeerID)

	case protocol.Chat:
		s.emit(Event{Kind: ChatReceived, Chat: m})
	}
}

func (s *Session) onPeerList(m protocol.PeerList) {
	mayDial := s.topology == TopologyMesh || s.isCreator
	for _, id := range m.Peers {
		if id == s.cfg.PeerID {
			continue
		}
		if s.registry.Has(id, registry.KindData) {
			continue
		}
		if mayDial {
			s.establishPeerConnection(id)
		}
	}

	// A star-mode joiner treats the list as a reconciliation trigger: any
	// link to a non-creator peer is torn down.
	if s.topology == TopologyStar && !s.isCreator {
		for _, id := range s.registry.Peers() {
			if roster.IsCreatorID(id) {
				continue
			}
			s.removePeer(id)
		}
	}
}

// establishPeerConnection opens whichever halves of the link are missing.
// It is idempotent: dialing self or a peer with a live media link is a
// no-op, which is what resolves simultaneous-dial races.
func (s *Session) establishPeerConnection(peerID string) {
	if peerID == s.cfg.PeerID {
		return
	}
	if s.registry.Has(peerID, registry.KindMedia) {
		return
	}

	if !s.registry.Has(peerID, registry.KindData) {
		dl, err := s.provider.Connect(peerID)
		if err != nil {
			s.log.Warn("Failed to open data link", "peer", peerID, "error", err)
		} else {
			s.registry.UpsertData(peerID, dl)
		}
	}

	ml, err := s.provider.Call(peerID, s.cfg.LocalStream)
	if err != nil {
		s.log.Warn("Failed to call peer", "peer", peerID, "error", err)
		return
	}
	s.registry.UpsertMedia(peerID, ml)
}

// onStreamReady drives roster membership: a participant exists once its
// media stream is observed, regardless of which side initiated the call.
func (s *Session) onStreamReady(link transport.MediaLink, stream transport.MediaStream) {
	peerID := link.PeerID()
	s.registry.UpsertMedia(peerID, link)
	s.registry.Touch(peerID)

	p := roster.Participant{
		ID:        peerID,
		IsCreator: roster.IsCreatorID(peerID),
		Stream:    stream,
	}
	if s.roster.Add(p) {
		s.log.Info("Participant joined", "peer", peerID)
		s.emit(Event{Kind: PeerJoined, Participant: p})
	}
}

// onLinkClosed removes the peer when one of its registered channels closed.
// Close events for channels the registry never adopted (duplicates from
// dial races) are ignored.
func (s *Session) onLinkClosed(peerID string, data transport.DataLink, media transport.MediaLink) {
	l, ok := s.registry.Get(peerID)
	if !ok {
		return
	}
	if data != nil && l.Data != data {
		return
	}
	if media != nil && l.Media != media {
		return
	}
	s.log.Debug("Link closed", "peer", peerID)
	s.removePeer(peerID)
}

// removePeer deletes the peer everywhere and closes what is left of its
// link. Absent peers are a no-op.
func (s *Session) removePeer(peerID string) {
	if l := s.registry.Remove(peerID); l != nil {
		if l.Data != nil {
			_ = l.Data.Close()
		}
		if l.Media != nil {
			_ = l.Media.Close()
		}
	}

	if p, ok := s.roster.Get(peerID); ok {
		s.roster.Remove(peerID)
		s.log.Info("Participant left", "peer", peerID)
		s.emit(Event{Kind: PeerLeft, Participant: p})
	}
}

// knownPeerIDs is the creator's view for peer-list messages: self plus
// every roster member.
func (s *Session) knownPeerIDs() []string {
	ids := []string{s.cfg.PeerID}
	for p := range s.roster.All() {
		ids = append(ids, p.ID)
	}
	return ids
}

// broadcastPeerList is the periodic liveness compensation: missed
// announcements are repaired by the next full list, no acks required.
func (s *Session) broadcastPeerList() {
	s.broadcast(protocol.PeerList{Peers: s.knownPeerIDs(), Timestamp: s.nowMillis()})
}

func (s *Session) broadcast(msg protocol.Message) {
	s.registry.ForEach(func(l *registry.Link) {
		if !l.DataOpen {
			return
		}
		s.sendTo(l, msg)
	})
}

func (s *Session) sendTo(l *registry.Link, msg protocol.Message) {
	if l.Data == nil {
		return
	}
	payload, err := protocol.Encode(msg)
	if err != nil {
		s.log.Warn("Failed to encode message", "type", msg.Type().String(), "error", err)
		return
	}
	if err := l.Data.Send(payload); err != nil {
		// Fire-and-forget: the failure will come back as a close event.
		s.log.Debug("Send failed", "peer", l.PeerID, "error", err)
	}
}
