package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/roomcast/roomcast/internal/protocol"
	"github.com/roomcast/roomcast/internal/roster"
	"github.com/roomcast/roomcast/internal/transport"
	"github.com/roomcast/roomcast/internal/transport/mem"
)

const testRoom = "testroom"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPeer wraps a running session and collects its emitted events.
type testPeer struct {
	sess *Session

	mu     sync.Mutex
	joins  map[string]int
	leaves map[string]int
	chats  []string
}

func startPeer(t *testing.T, network *mem.Network, peerID string, topo Topology) *testPeer {
	t.Helper()

	sess, err := New(Config{
		RoomID:            testRoom,
		PeerID:            peerID,
		Topology:          topo,
		Provider:          network.NewProvider(),
		LocalStream:       "stream-" + peerID,
		Logger:            discardLogger(),
		BroadcastInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New session for %s failed: %v", peerID, err)
	}

	tp := &testPeer{
		sess:   sess,
		joins:  make(map[string]int),
		leaves: make(map[string]int),
	}

	go func() { _ = sess.Start(context.Background()) }()
	go func() {
		for ev := range sess.Events() {
			tp.mu.Lock()
			switch ev.Kind {
			case PeerJoined:
				tp.joins[ev.Participant.ID]++
			case PeerLeft:
				tp.leaves[ev.Participant.ID]++
			case ChatReceived:
				tp.chats = append(tp.chats, ev.Chat.Text)
			}
			tp.mu.Unlock()
		}
	}()
	t.Cleanup(sess.Close)

	return tp
}

func (tp *testPeer) rosterIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, p := range tp.sess.Participants() {
		ids[p.ID] = true
	}
	return ids
}

func (tp *testPeer) joinCount(id string) int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.joins[id]
}

func (tp *testPeer) chatTexts() []string {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return append([]string{}, tp.chats...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasExactly(tp *testPeer, want ...string) bool {
	ids := tp.rosterIDs()
	if len(ids) != len(want) {
		return false
	}
	for _, id := range want {
		if !ids[id] {
			return false
		}
	}
	return true
}

func TestThreePeerMeshConvergence(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	creator := startPeer(t, network, creatorID, TopologyMesh)
	j1 := startPeer(t, network, testRoom+"-j1", TopologyMesh)

	waitFor(t, "creator and j1 to see each other", func() bool {
		return hasExactly(creator, testRoom+"-j1") && hasExactly(j1, creatorID)
	})

	j2 := startPeer(t, network, testRoom+"-j2", TopologyMesh)

	// The creator introduces j2 to j1 via new-peer; j1 and j2 dial each
	// other directly.
	waitFor(t, "full mesh convergence", func() bool {
		return hasExactly(creator, testRoom+"-j1", testRoom+"-j2") &&
			hasExactly(j1, creatorID, testRoom+"-j2") &&
			hasExactly(j2, creatorID, testRoom+"-j1")
	})
}

func TestStarTopologyJoinersLinkOnlyCreator(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	creator := startPeer(t, network, creatorID, TopologyStar)
	j1 := startPeer(t, network, testRoom+"-j1", TopologyStar)
	j2 := startPeer(t, network, testRoom+"-j2", TopologyStar)

	waitFor(t, "creator to hold both joiners", func() bool {
		return hasExactly(creator, testRoom+"-j1", testRoom+"-j2")
	})

	// Give re-broadcasts a few rounds to tempt the joiners into dialing.
	time.Sleep(200 * time.Millisecond)

	if !hasExactly(j1, creatorID) {
		t.Errorf("star j1: expected creator only, got %v", j1.rosterIDs())
	}
	if !hasExactly(j2, creatorID) {
		t.Errorf("star j2: expected creator only, got %v", j2.rosterIDs())
	}
}

func TestSwitchMeshToStarAndBack(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	creator := startPeer(t, network, creatorID, TopologyMesh)
	j1 := startPeer(t, network, testRoom+"-j1", TopologyMesh)
	j2 := startPeer(t, network, testRoom+"-j2", TopologyMesh)

	waitFor(t, "mesh convergence", func() bool {
		return hasExactly(j1, creatorID, testRoom+"-j2")
	})

	j1.sess.SwitchTopology(TopologyStar)

	waitFor(t, "j1 to drop non-creator links", func() bool {
		return hasExactly(j1, creatorID)
	})

	j1.sess.SwitchTopology(TopologyMesh)

	// Mesh entry re-requests the peer list from the creator; the reply
	// names j2 and j1 dials it again.
	waitFor(t, "j1 to restore the full mesh", func() bool {
		return hasExactly(j1, creatorID, testRoom+"-j2")
	})

	_ = creator
	_ = j2
}

func TestExplicitDisconnectPropagates(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	creator := startPeer(t, network, creatorID, TopologyMesh)
	j1 := startPeer(t, network, testRoom+"-j1", TopologyMesh)
	j2 := startPeer(t, network, testRoom+"-j2", TopologyMesh)

	waitFor(t, "mesh convergence", func() bool {
		return hasExactly(creator, testRoom+"-j1", testRoom+"-j2") &&
			hasExactly(j2, creatorID, testRoom+"-j1")
	})

	j1.sess.Close()

	waitFor(t, "j1 to vanish everywhere", func() bool {
		return hasExactly(creator, testRoom+"-j2") && hasExactly(j2, creatorID)
	})
}

func TestAbruptCloseDetected(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	creator := startPeer(t, network, creatorID, TopologyMesh)
	j1 := startPeer(t, network, testRoom+"-j1", TopologyMesh)
	j2 := startPeer(t, network, testRoom+"-j2", TopologyMesh)

	waitFor(t, "mesh convergence", func() bool {
		return hasExactly(creator, testRoom+"-j1", testRoom+"-j2") &&
			hasExactly(j2, creatorID, testRoom+"-j1")
	})

	// j1 goes offline without a goodbye.
	network.Drop(testRoom + "-j1")

	waitFor(t, "j1 removal after abrupt close", func() bool {
		return hasExactly(creator, testRoom+"-j2") && hasExactly(j2, creatorID)
	})
}

func TestDuplicateAnnouncementsJoinOnce(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	creator := startPeer(t, network, creatorID, TopologyMesh)
	j1 := startPeer(t, network, testRoom+"-j1", TopologyMesh)

	waitFor(t, "convergence", func() bool {
		return hasExactly(creator, testRoom+"-j1") && hasExactly(j1, creatorID)
	})

	// Several re-broadcast rounds deliver the same peer list over and over.
	time.Sleep(300 * time.Millisecond)

	if got := creator.joinCount(testRoom + "-j1"); got != 1 {
		t.Errorf("creator observed %d joins for j1, expected exactly 1", got)
	}
	if got := j1.joinCount(creatorID); got != 1 {
		t.Errorf("j1 observed %d joins for creator, expected exactly 1", got)
	}
}

func TestRosterCarriesRemoteStreams(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	creator := startPeer(t, network, creatorID, TopologyMesh)
	j1 := startPeer(t, network, testRoom+"-j1", TopologyMesh)

	waitFor(t, "convergence", func() bool {
		return hasExactly(creator, testRoom+"-j1") && hasExactly(j1, creatorID)
	})

	for _, p := range j1.sess.Participants() {
		if p.ID == creatorID {
			if p.Stream != "stream-"+creatorID {
				t.Errorf("expected creator stream handle, got %v", p.Stream)
			}
			if !p.IsCreator {
				t.Errorf("expected creator flag set")
			}
		}
	}
}

func TestChatPassThrough(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	creator := startPeer(t, network, creatorID, TopologyMesh)
	j1 := startPeer(t, network, testRoom+"-j1", TopologyMesh)

	waitFor(t, "convergence", func() bool {
		return hasExactly(creator, testRoom+"-j1") && hasExactly(j1, creatorID)
	})

	j1.sess.SendChat("hello room")

	waitFor(t, "chat delivery", func() bool {
		texts := creator.chatTexts()
		return len(texts) == 1 && texts[0] == "hello room"
	})
}

func TestReconnectAllAfterCreatorLinkLoss(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	creator := startPeer(t, network, creatorID, TopologyMesh)
	j1 := startPeer(t, network, testRoom+"-j1", TopologyMesh)

	waitFor(t, "convergence", func() bool {
		return hasExactly(creator, testRoom+"-j1") && hasExactly(j1, creatorID)
	})

	// Sever from the creator's side without a goodbye message reaching j1's
	// roster logic twice: j1 notices the close and drops the creator.
	creator.sess.Close()
	waitFor(t, "j1 to drop the creator", func() bool {
		return hasExactly(j1)
	})

	// Creator comes back under the same id; the manual trigger re-dials it.
	creator2 := startPeer(t, network, creatorID, TopologyMesh)
	j1.sess.ReconnectAll()

	waitFor(t, "j1 and the new creator to reconnect", func() bool {
		return hasExactly(j1, creatorID) && hasExactly(creator2, testRoom+"-j1")
	})
}

func TestRequestPeerListAnsweredExactlyOnce(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	// An hour-long interval keeps the re-broadcast ticker out of the count.
	creatorSess, err := New(Config{
		RoomID:            testRoom,
		PeerID:            creatorID,
		Topology:          TopologyMesh,
		Provider:          network.NewProvider(),
		LocalStream:       "stream-" + creatorID,
		Logger:            discardLogger(),
		BroadcastInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New session failed: %v", err)
	}
	go func() { _ = creatorSess.Start(context.Background()) }()
	go func() {
		for range creatorSess.Events() {
		}
	}()
	t.Cleanup(creatorSess.Close)

	// A bare transport peer stands in for a joiner so every inbound frame
	// can be counted without roster dedup hiding duplicates.
	joiner := network.NewProvider()
	if err := joiner.Open(context.Background(), testRoom+"-j1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = joiner.Destroy() })

	link, err := joiner.Connect(creatorID)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	isPeerList := func(ev transport.Event) bool {
		e, isMsg := ev.(transport.DataMessage)
		if !isMsg {
			return false
		}
		msg, err := protocol.Decode(e.Payload)
		return err == nil && msg.Type() == protocol.TypePeerList
	}

	// The creator greets the open link with one unsolicited peer list;
	// consume it before measuring.
	deadline := time.After(3 * time.Second)
greeting:
	for {
		select {
		case ev, ok := <-joiner.Events():
			if !ok {
				t.Fatal("transport closed before the opening peer list")
			}
			if isPeerList(ev) {
				break greeting
			}
		case <-deadline:
			t.Fatal("timed out waiting for the opening peer list")
		}
	}

	payload, err := protocol.Encode(protocol.RequestPeerList{Timestamp: time.Now().UnixMilli()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := link.Send(payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	lists := 0
	window := time.After(300 * time.Millisecond)
counting:
	for {
		select {
		case ev, ok := <-joiner.Events():
			if !ok {
				break counting
			}
			if isPeerList(ev) {
				lists++
			}
		case <-window:
			break counting
		}
	}
	if lists != 1 {
		t.Errorf("one request yielded %d peer-list replies, want exactly 1", lists)
	}
}

func TestOpenFailureIsTerminal(t *testing.T) {
	network := mem.NewNetwork()
	creatorID := roster.CreatorID(testRoom)

	startPeer(t, network, creatorID, TopologyMesh)

	// Second session claiming the same id must fail fatally, not retry.
	dup, err := New(Config{
		RoomID:      testRoom,
		PeerID:      creatorID,
		Provider:    network.NewProvider(),
		LocalStream: "stream-dup",
		Logger:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := dup.Start(context.Background()); err == nil {
		t.Fatalf("expected Start to fail for duplicate id")
	}
	if dup.ConnectionError() == "" {
		t.Errorf("expected ConnectionError to be set")
	}
}
