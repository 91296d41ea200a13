package integration

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/roomcast/roomcast/internal/session"
	"github.com/roomcast/roomcast/internal/transport/mem"
)

// TestNetwork wires full sessions over the in-process transport so
// multi-peer scenarios run without sockets or ICE.
type TestNetwork struct {
	net   *mem.Network
	peers []*Peer
	t     *testing.T
}

func NewTestNetwork(t *testing.T) *TestNetwork {
	t.Helper()
	return &TestNetwork{
		net: mem.NewNetwork(),
		t:   t,
	}
}

// Peer is one running session plus a record of what it observed.
type Peer struct {
	ID      string
	Session *session.Session

	mu     sync.Mutex
	joins  map[string]int
	leaves map[string]int
	chats  []string
}

func (n *TestNetwork) StartPeer(peerID string, topo session.Topology) *Peer {
	n.t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	sess, err := session.New(session.Config{
		RoomID:            roomID(peerID),
		PeerID:            peerID,
		Topology:          topo,
		Provider:          n.net.NewProvider(),
		LocalStream:       "stream-" + peerID,
		Logger:            log,
		BroadcastInterval: 50 * time.Millisecond,
	})
	if err != nil {
		n.t.Fatalf("Failed to create session for %s: %v", peerID, err)
	}

	p := &Peer{
		ID:      peerID,
		Session: sess,
		joins:   make(map[string]int),
		leaves:  make(map[string]int),
	}

	go func() { _ = sess.Start(context.Background()) }()
	go func() {
		for ev := range sess.Events() {
			p.mu.Lock()
			switch ev.Kind {
			case session.PeerJoined:
				p.joins[ev.Participant.ID]++
			case session.PeerLeft:
				p.leaves[ev.Participant.ID]++
			case session.ChatReceived:
				p.chats = append(p.chats, ev.Chat.Text)
			}
			p.mu.Unlock()
		}
	}()

	n.peers = append(n.peers, p)
	return p
}

// Drop disconnects a peer abruptly, with no goodbye message.
func (n *TestNetwork) Drop(peerID string) {
	n.net.Drop(peerID)
}

func (n *TestNetwork) Close() {
	for _, p := range n.peers {
		p.Session.Close()
	}
}

// Sees reports whether the peer's roster holds exactly the given ids.
func (p *Peer) Sees(ids ...string) bool {
	current := make(map[string]bool)
	for _, part := range p.Session.Participants() {
		current[part.ID] = true
	}
	if len(current) != len(ids) {
		return false
	}
	for _, id := range ids {
		if !current[id] {
			return false
		}
	}
	return true
}

func (p *Peer) Chats() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.chats...)
}

func (p *Peer) JoinCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joins[id]
}

// roomID recovers the room from a peer id of the form {room}-{suffix}.
func roomID(peerID string) string {
	for i := len(peerID) - 1; i >= 0; i-- {
		if peerID[i] == '-' {
			return peerID[:i]
		}
	}
	return peerID
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
