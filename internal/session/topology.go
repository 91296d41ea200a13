package session

import (
	"fmt"

	"github.com/roomcast/roomcast/internal/protocol"
	"github.com/roomcast/roomcast/internal/roster"
)

// Topology is the local connection policy. It is per-participant state with
// no consensus across the room: it constrains who this instance dials, not
// what others do.
type Topology int

const (
	// TopologyMesh has every peer dialing every other peer directly.
	TopologyMesh Topology = iota
	// TopologyStar keeps joiners connected to the creator only.
	TopologyStar
)

func (t Topology) String() string {
	switch t {
	case TopologyMesh:
		return "mesh"
	case TopologyStar:
		return "star"
	}
	return fmt.Sprintf("topology(%d)", int(t))
}

func ParseTopology(s string) (Topology, error) {
	switch s {
	case "mesh":
		return TopologyMesh, nil
	case "star":
		return TopologyStar, nil
	}
	return TopologyMesh, fmt.Errorf("unknown topology %q", s)
}

// applyTopology converges the link set toward the target mode. Called from
// the event loop on every explicit switch.
func (s *Session) applyTopology(mode Topology) {
	prev := s.topology
	s.topology = mode
	if mode == prev {
		return
	}
	s.log.Info("Switching topology", "from", prev.String(), "to", mode.String())

	// The creator's own mode never gates its introducer role; only joiners
	// reshape their links.
	if s.isCreator {
		return
	}

	switch mode {
	case TopologyStar:
		// Keep only the creator link.
		for _, id := range s.registry.Peers() {
			if roster.IsCreatorID(id) {
				continue
			}
			s.removePeer(id)
		}
	case TopologyMesh:
		// Recover the full view from the creator.
		s.requestPeerListFromCreator()
	}
}

// requestPeerListFromCreator asks the creator for the current peer list,
// re-dialing the creator first if that link is down.
func (s *Session) requestPeerListFromCreator() {
	creatorID := roster.CreatorID(s.cfg.RoomID)
	if l, ok := s.registry.Get(creatorID); ok {
		if l.DataOpen {
			s.sendTo(l, protocol.RequestPeerList{Timestamp: s.nowMillis()})
			return
		}
		// Stale half-open link: a reconnect always starts from fresh Link
		// objects.
		s.removePeer(creatorID)
	}
	s.establishPeerConnection(creatorID)
}
