package match

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/nikhil-thb/hushh-online/internal/session"
)

// Room status values.
const (
	StatusTimedDate = "timed_date"
	StatusMatched   = "matched"
	StatusEnded     = "ended"
)

// roomIDPrefix namespaces room ids on the wire.
const roomIDPrefix = "hushh-video-"

// Occupant is one of the exactly two members of an active room.
type Occupant struct {
	SessionID  string
	IdentityID string
	IP         string
	Profile    session.Profile
}

// Room is one paired video session. A room always has exactly two occupants
// until it is deleted; its lifetime is owned jointly by the two occupants'
// connections, and whichever teardown event fires first wins.
type Room struct {
	ID        string
	Occupants [2]Occupant
	CreatedAt time.Time
	Status    string
	Prompt    string
	Decisions map[string]string // session handle -> "continue" | "end"
}

// Has reports whether the session handle belongs to one of the occupants.
func (r *Room) Has(sessionID string) bool {
	return r.Occupants[0].SessionID == sessionID || r.Occupants[1].SessionID == sessionID
}

// Partner returns the other occupant of the room. ok is false when the given
// session handle is not an occupant.
func (r *Room) Partner(sessionID string) (Occupant, bool) {
	switch sessionID {
	case r.Occupants[0].SessionID:
		return r.Occupants[1], true
	case r.Occupants[1].SessionID:
		return r.Occupants[0], true
	}
	return Occupant{}, false
}

// NewRoomID generates an unguessable room id from 8 bytes of crypto/rand.
func NewRoomID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// time-derived id rather than returning an error to the hot path.
		return roomIDPrefix + hex.EncodeToString([]byte(time.Now().Format("150405.000000")))[:16]
	}
	return roomIDPrefix + hex.EncodeToString(buf)
}
