package roster

import (
	"strings"

	"github.com/pion/randutil"
)

// CreatorMarker is the substring that designates the room creator's peer id.
// Joiner suffixes must never contain it, so IsCreatorID stays a pure naming
// check that works for ids not yet present in any roster.
const CreatorMarker = "creator"

const (
	suffixLen   = 8
	suffixRunes = "abcdefghijklmnopqrstuvwxyz0123456789"
	idSeparator = "-"
)

// CreatorID returns the well-known peer id of a room's creator.
func CreatorID(roomID string) string {
	return roomID + idSeparator + CreatorMarker
}

// NewJoinerID derives a fresh joiner peer id for the room. The random
// suffix is unique per session and cannot collide with the creator marker.
func NewJoinerID(roomID string) (string, error) {
	for {
		suffix, err := randutil.GenerateCryptoRandomString(suffixLen, suffixRunes)
		if err != nil {
			return "", err
		}
		if strings.Contains(suffix, CreatorMarker) {
			continue
		}
		return roomID + idSeparator + suffix, nil
	}
}

// IsCreatorID reports whether the id names a room creator. It is a naming
// convention predicate, not a membership lookup: signaling messages can
// reference peers that are not in the roster yet.
func IsCreatorID(id string) bool {
	return strings.Contains(id, CreatorMarker)
}
