// Package store persists the broker's registry of rooms and registered
// peers. It keeps the rendezvous layer restartable; room contents and
// history are never recorded.
package store

import (
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type Room struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt int64
}

type Peer struct {
	PeerID   string `gorm:"primaryKey"`
	RoomID   string `gorm:"index"`
	LastSeen int64
}

type Store struct {
	db *gorm.DB
}

// Open creates or opens the broker database. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Room{}, &Peer{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// UpsertPeer records a registration, creating the room row on first sight.
func (s *Store) UpsertPeer(peerID, roomID string) error {
	now := time.Now().Unix()

	room := Room{ID: roomID, CreatedAt: now}
	if err := s.db.Where(Room{ID: roomID}).FirstOrCreate(&room).Error; err != nil {
		return err
	}

	peer := Peer{PeerID: peerID, RoomID: roomID, LastSeen: now}
	return s.db.Save(&peer).Error
}

// TouchPeer refreshes the peer's last-seen timestamp.
func (s *Store) TouchPeer(peerID string) error {
	return s.db.Model(&Peer{}).
		Where("peer_id = ?", peerID).
		Update("last_seen", time.Now().Unix()).Error
}

// DeletePeer removes a registration; the room row is dropped with its last
// peer.
func (s *Store) DeletePeer(peerID string) error {
	var peer Peer
	err := s.db.First(&peer, "peer_id = ?", peerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.db.Delete(&Peer{}, "peer_id = ?", peerID).Error; err != nil {
		return err
	}

	var remaining int64
	if err := s.db.Model(&Peer{}).Where("room_id = ?", peer.RoomID).Count(&remaining).Error; err != nil {
		return err
	}
	if remaining == 0 {
		return s.db.Delete(&Room{}, "id = ?", peer.RoomID).Error
	}
	return nil
}

// PeersInRoom lists registered peer ids for a room.
func (s *Store) PeersInRoom(roomID string) ([]string, error) {
	var peers []Peer
	if err := s.db.Where("room_id = ?", roomID).Order("last_seen").Find(&peers).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.PeerID)
	}
	return ids, nil
}

// Reset drops every registration. The broker calls it on startup: peers
// from a previous process are gone by definition.
func (s *Store) Reset() error {
	if err := s.db.Where("1 = 1").Delete(&Peer{}).Error; err != nil {
		return err
	}
	return s.db.Where("1 = 1").Delete(&Room{}).Error
}
