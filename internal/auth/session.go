// Package auth implements the session authenticator: handshake-token
// validation with constant-time comparison, CSPRNG session id generation,
// per-source rate limiting of failed handshakes, and idle-session sweeping.
//
// The expected handshake token is hashed once at construction time and
// never stored or logged in plaintext; [Authenticator.Handshake] compares
// against that hash.
package auth

import (
	"sync"
	"time"
)

// Token is a 256-bit session identifier, hex-encoded to 64 characters by
// [newSessionID]. It is opaque to callers beyond equality comparison.
type Token string

// Session is the server-side record for one authenticated connection.
type Session struct {
	ID         Token
	CreatedAt  time.Time
	LastActive time.Time

	// ConnectionCount is the number of live connections presenting this
	// session id. Nothing in this package increments or decrements it.
	ConnectionCount int
}

// sessionTable is the authenticator's session store: read-mostly, with
// writes (create/expire/touch) serialized behind mu, matching the spec's
// "shared read-mostly; writes serialized" threading model for §4.2.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[Token]*Session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[Token]*Session)}
}

func (t *sessionTable) put(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.ID] = s
}

func (t *sessionTable) get(id Token) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *sessionTable) delete(id Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// touch updates LastActive under the table's write lock, since last-activity
// refresh is itself a write per the spec's threading model. If the session
// is already idle-expired as of now, it is evicted immediately instead of
// being refreshed, rather than waiting for the next sweep to notice.
func (t *sessionTable) touch(id Token, now time.Time, idleTimeout time.Duration) (ok bool, expired bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, found := t.sessions[id]
	if !found {
		return false, false
	}
	if now.Sub(s.LastActive) > idleTimeout {
		delete(t.sessions, id)
		return false, true
	}
	s.LastActive = now
	return true, false
}

// sweepExpired removes every session whose LastActive is older than
// idleTimeout, as of now. Returns the number of sessions removed.
func (t *sessionTable) sweepExpired(now time.Time, idleTimeout time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, s := range t.sessions {
		if now.Sub(s.LastActive) > idleTimeout {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}

// count returns the current number of live sessions. Used by health/
// telemetry reporting.
func (t *sessionTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
