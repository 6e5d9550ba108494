// Package session tracks the currently connected, authenticated users and
// their profile snapshots. The registry is the single owner of ConnectedUser
// records; every other component reads through it.
package session

import (
	"sync"
	"time"

	"github.com/nikhil-thb/hushh-online/internal/metrics"
)

// ConnectedUser is the registry record for one live connection. It is created
// on successful connect, replaced wholesale on reconnect, and destroyed on
// disconnect.
type ConnectedUser struct {
	SessionID    string // opaque per-connection handle, invalid after disconnect
	IdentityID   string // stable verified account id
	IP           string
	Fingerprint  string // stable across reconnects from the same browser/device
	Profile      Profile
	LastActivity time.Time
}

// Registry is the in-memory table of connected users. All mutations are
// serialized by a single mutex; contention is bounded by the rate of
// connection events, so the table is deliberately not partitioned.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*ConnectedUser
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*ConnectedUser),
	}
}

// Register inserts or overwrites the record for u.SessionID and stamps its
// last-activity time.
func (r *Registry) Register(u *ConnectedUser) {
	u.LastActivity = time.Now()

	r.mu.Lock()
	r.users[u.SessionID] = u
	n := len(r.users)
	r.mu.Unlock()

	metrics.Connections.Set(float64(n))
}

// Unregister removes the record for the given session handle. It is
// idempotent and reports whether a record was actually removed.
func (r *Registry) Unregister(sessionID string) bool {
	r.mu.Lock()
	_, ok := r.users[sessionID]
	if ok {
		delete(r.users, sessionID)
	}
	n := len(r.users)
	r.mu.Unlock()

	metrics.Connections.Set(float64(n))
	return ok
}

// Lookup returns a copy of the record for the given session handle, or nil
// if the session is not registered. Returning a copy keeps callers from
// mutating registry-owned state outside the lock.
func (r *Registry) Lookup(sessionID string) *ConnectedUser {
	r.mu.RLock()
	u, ok := r.users[sessionID]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	snapshot := *u
	r.mu.RUnlock()
	return &snapshot
}

// Touch updates the last-activity timestamp for a session, if registered.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	if u, ok := r.users[sessionID]; ok {
		u.LastActivity = time.Now()
	}
	r.mu.Unlock()
}

// Count returns the number of currently registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.users)
	r.mu.RUnlock()
	return n
}
