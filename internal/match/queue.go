package match

import (
	"time"

	"github.com/nikhil-thb/hushh-online/internal/session"
)

// WaitingEntry is one user currently searching for a partner. At most one
// entry exists per session handle at any time.
type WaitingEntry struct {
	SessionID   string
	IdentityID  string
	IP          string
	Fingerprint string
	Profile     session.Profile
	EnqueuedAt  time.Time
}

// Queue holds the users waiting for a partner, in enqueue order (oldest
// first). It carries no lock of its own: the engine serializes access to the
// queue and the room table under one mutex, because a match mutates both.
type Queue struct {
	entries []*WaitingEntry
}

// NewQueue creates an empty waiting queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Len returns the number of waiting entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Remove deletes any entry for the given session handle and reports whether
// one was present.
func (q *Queue) Remove(sessionID string) bool {
	for i, entry := range q.entries {
		if entry.SessionID == sessionID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Push appends an entry. Callers must have removed any previous entry for
// the same session handle first (see Engine.FindMatch).
func (q *Queue) Push(entry *WaitingEntry) {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}
	q.entries = append(q.entries, entry)
}

// Search scans the queue from most-recently-enqueued to least, skipping
// candidates that share the caller's network address or identity id and
// candidates incompatible per the matcher. The running best is replaced only
// on a strictly greater score, so ties go to the most recently queued
// candidate. The best candidate is removed from the queue and returned; nil
// means no eligible candidate.
func (q *Queue) Search(caller *WaitingEntry) *WaitingEntry {
	bestScore := -1.0
	bestIdx := -1

	for i := len(q.entries) - 1; i >= 0; i-- {
		candidate := q.entries[i]

		// Anti-self-match / anti-sock-puppet rule.
		if candidate.IP == caller.IP || candidate.IdentityID == caller.IdentityID {
			continue
		}
		if !Compatible(caller.Profile, candidate.Profile) {
			continue
		}
		if !LocallyCompatible(caller.Profile, candidate.Profile) {
			continue
		}

		score := Score(caller.Profile, candidate.Profile)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx == -1 {
		return nil
	}

	best := q.entries[bestIdx]
	q.entries = append(q.entries[:bestIdx], q.entries[bestIdx+1:]...)
	return best
}
