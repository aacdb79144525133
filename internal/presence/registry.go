// Package presence tracks which users currently own live transport
// sessions. It is the live source of truth for online state: durable
// status writes trail it and never gate broadcasts.
package presence

import "sync"

// Registry maps user identities to their connected sessions. The
// in-memory implementation below serves a single process; a
// multi-instance deployment would back this interface with a shared
// pub/sub store instead.
type Registry interface {
	// Register adds a session under a user and reports whether it is
	// the user's first, i.e. the user just came online.
	Register(sessionID string, userID int) (first bool)
	// Deregister removes a session and reports its owner and whether it
	// was the owner's last, i.e. the user just went offline. ok is
	// false for unknown sessions.
	Deregister(sessionID string) (userID int, last bool, ok bool)

	IsOnline(userID int) bool
	SessionsFor(userID int) []string
	OnlineUserIDs() []int
	UserFor(sessionID string) (int, bool)
}

// InMemoryRegistry keeps the session maps in process memory.
type InMemoryRegistry struct {
	mu            sync.RWMutex
	userSessions  map[int]map[string]struct{}
	sessionOwners map[string]int
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		userSessions:  make(map[int]map[string]struct{}),
		sessionOwners: make(map[string]int),
	}
}

// Register adds the session under the user.
func (r *InMemoryRegistry) Register(sessionID string, userID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.userSessions[userID]
	if !ok {
		sessions = make(map[string]struct{})
		r.userSessions[userID] = sessions
	}
	sessions[sessionID] = struct{}{}
	r.sessionOwners[sessionID] = userID
	return len(sessions) == 1
}

// Deregister removes the session. Only the owner's last session flips
// the user offline; earlier disconnects have no external effect.
func (r *InMemoryRegistry) Deregister(sessionID string) (int, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.sessionOwners[sessionID]
	if !ok {
		return 0, false, false
	}
	delete(r.sessionOwners, sessionID)

	sessions := r.userSessions[userID]
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.userSessions, userID)
		return userID, true, true
	}
	return userID, false, true
}

// IsOnline reports whether the user owns at least one session.
func (r *InMemoryRegistry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userSessions[userID]) > 0
}

// SessionsFor returns the user's session ids.
func (r *InMemoryRegistry) SessionsFor(userID int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.userSessions[userID]
	if len(sessions) == 0 {
		return nil
	}
	out := make([]string, 0, len(sessions))
	for id := range sessions {
		out = append(out, id)
	}
	return out
}

// OnlineUserIDs returns every user that owns at least one session.
func (r *InMemoryRegistry) OnlineUserIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.userSessions))
	for id := range r.userSessions {
		out = append(out, id)
	}
	return out
}

// UserFor returns the owner of a session.
func (r *InMemoryRegistry) UserFor(sessionID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.sessionOwners[sessionID]
	return userID, ok
}
