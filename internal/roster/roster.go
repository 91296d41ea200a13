// Package roster holds the local, eventually-consistent view of room
// membership. A Roster is owned by exactly one session's event loop and is
// deliberately unsynchronized; see the session package for the ordering
// guarantees that make that safe.
package roster

import "iter"

// Participant is one room member as seen locally. Stream is the opaque
// media handle supplied by the transport provider.
type Participant struct {
	ID        string
	IsCreator bool
	Stream    any
}

type Roster struct {
	byID  map[string]Participant
	order []string
}

func New() *Roster {
	return &Roster{
		byID: make(map[string]Participant),
	}
}

// Add records a participant. It returns false and leaves the roster
// untouched when the id is already present: re-receiving a stream or a
// peer-list entry for a known peer must never create a second entry or
// re-fire a join notification.
func (r *Roster) Add(p Participant) bool {
	if _, exists := r.byID[p.ID]; exists {
		return false
	}
	r.byID[p.ID] = p
	r.order = append(r.order, p.ID)
	return true
}

// Remove deletes the participant if present and reports whether it did.
func (r *Roster) Remove(id string) bool {
	if _, exists := r.byID[id]; !exists {
		return false
	}
	delete(r.byID, id)
	for i, known := range r.order {
		if known == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Roster) Has(id string) bool {
	_, exists := r.byID[id]
	return exists
}

func (r *Roster) Get(id string) (Participant, bool) {
	p, exists := r.byID[id]
	return p, exists
}

func (r *Roster) Len() int {
	return len(r.byID)
}

// All yields current participants in insertion order. The order carries no
// semantic meaning; callers may re-sort. The sequence is restartable.
func (r *Roster) All() iter.Seq[Participant] {
	return func(yield func(Participant) bool) {
		for _, id := range r.order {
			if !yield(r.byID[id]) {
				return
			}
		}
	}
}

// IDs returns the participant ids in insertion order.
func (r *Roster) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}
