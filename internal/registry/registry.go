// Package registry tracks the active links per peer id: which channel
// handles exist, whether the data channel is open, and when the peer was
// last heard from. Like the roster, a Registry belongs to one session's
// event loop and needs no locking.
package registry

import (
	"time"

	"github.com/roomcast/roomcast/internal/transport"
)

// ChannelKind selects one half of a peer link.
type ChannelKind int

const (
	KindData ChannelKind = iota
	KindMedia
)

// Link is the registry's record of one peer. A link is complete when both
// channel handles are present; DataOpen additionally tracks whether the
// data channel has reached the open state and may carry messages.
type Link struct {
	PeerID   string
	Data     transport.DataLink
	Media    transport.MediaLink
	DataOpen bool
	LastSeen time.Time
}

type Registry struct {
	links map[string]*Link
	now   func() time.Time
}

func New() *Registry {
	return &Registry{
		links: make(map[string]*Link),
		now:   time.Now,
	}
}

func (r *Registry) entry(peerID string) *Link {
	l, ok := r.links[peerID]
	if !ok {
		l = &Link{PeerID: peerID}
		r.links[peerID] = l
	}
	return l
}

// UpsertData records the data channel handle for the peer. If a handle of
// that kind already exists the call is a no-op and returns false: when two
// peers race to dial each other, whichever channel lands first wins and the
// duplicate must be discarded by the caller.
func (r *Registry) UpsertData(peerID string, dl transport.DataLink) bool {
	l := r.entry(peerID)
	if l.Data != nil {
		return false
	}
	l.Data = dl
	l.LastSeen = r.now()
	return true
}

// UpsertMedia records the media channel handle, with the same win-first
// semantics as UpsertData.
func (r *Registry) UpsertMedia(peerID string, ml transport.MediaLink) bool {
	l := r.entry(peerID)
	if l.Media != nil {
		return false
	}
	l.Media = ml
	l.LastSeen = r.now()
	return true
}

// MarkDataOpen flags the peer's data channel as open. Unknown peers are
// ignored.
func (r *Registry) MarkDataOpen(peerID string) {
	if l, ok := r.links[peerID]; ok {
		l.DataOpen = true
		l.LastSeen = r.now()
	}
}

func (r *Registry) Has(peerID string, kind ChannelKind) bool {
	l, ok := r.links[peerID]
	if !ok {
		return false
	}
	switch kind {
	case KindData:
		return l.Data != nil
	case KindMedia:
		return l.Media != nil
	}
	return false
}

func (r *Registry) Get(peerID string) (*Link, bool) {
	l, ok := r.links[peerID]
	return l, ok
}

// Remove deletes and returns the peer's link so the caller can close its
// channels. Removing an unknown peer is a no-op returning nil. Entries are
// never reused: a reconnect always starts from a fresh Link.
func (r *Registry) Remove(peerID string) *Link {
	l, ok := r.links[peerID]
	if !ok {
		return nil
	}
	delete(r.links, peerID)
	return l
}

// Touch refreshes the peer's last-seen timestamp. The coordinator does not
// evict on staleness; the timestamp is a hook for a future liveness policy.
func (r *Registry) Touch(peerID string) {
	if l, ok := r.links[peerID]; ok {
		l.LastSeen = r.now()
	}
}

func (r *Registry) ForEach(fn func(*Link)) {
	for _, l := range r.links {
		fn(l)
	}
}

func (r *Registry) Len() int {
	return len(r.links)
}

func (r *Registry) Peers() []string {
	ids := make([]string, 0, len(r.links))
	for id := range r.links {
		ids = append(ids, id)
	}
	return ids
}
