package store

import "testing"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestUpsertAndList(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertPeer("room1-creator", "room1"); err != nil {
		t.Fatalf("UpsertPeer failed: %v", err)
	}
	if err := s.UpsertPeer("room1-ab12", "room1"); err != nil {
		t.Fatalf("UpsertPeer failed: %v", err)
	}
	// Re-registering the same peer must not duplicate it.
	if err := s.UpsertPeer("room1-ab12", "room1"); err != nil {
		t.Fatalf("UpsertPeer failed: %v", err)
	}

	ids, err := s.PeersInRoom("room1")
	if err != nil {
		t.Fatalf("PeersInRoom failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 peers, got %d: %v", len(ids), ids)
	}
}

func TestDeleteLastPeerDropsRoom(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertPeer("room1-creator", "room1"); err != nil {
		t.Fatalf("UpsertPeer failed: %v", err)
	}
	if err := s.DeletePeer("room1-creator"); err != nil {
		t.Fatalf("DeletePeer failed: %v", err)
	}

	ids, err := s.PeersInRoom("room1")
	if err != nil {
		t.Fatalf("PeersInRoom failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty room, got %v", ids)
	}

	// Deleting an unknown peer is a no-op.
	if err := s.DeletePeer("room1-zz99"); err != nil {
		t.Errorf("expected nil for absent peer, got %v", err)
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t)

	_ = s.UpsertPeer("room1-creator", "room1")
	_ = s.UpsertPeer("room2-creator", "room2")

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	for _, room := range []string{"room1", "room2"} {
		ids, err := s.PeersInRoom(room)
		if err != nil {
			t.Fatalf("PeersInRoom failed: %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("expected %s empty after reset, got %v", room, ids)
		}
	}
}
