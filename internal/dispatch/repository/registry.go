package repository

import (
	"github.com/example/dispatchradio/internal/dispatch/domain"
)

// SessionRegistry keeps one driver session per connection. It is not safe for
// concurrent use; the dispatch engine serializes every access.
type SessionRegistry struct {
	sessions map[string]*domain.Session
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*domain.Session)}
}

// Register creates or replaces the session for connID.
func (r *SessionRegistry) Register(connID, driverCode, displayName string) domain.Session {
	s := &domain.Session{
		ConnectionID: connID,
		DriverCode:   driverCode,
		DisplayName:  displayName,
		Availability: domain.AvailabilityAvailable,
	}
	r.sessions[connID] = s
	return *s
}

// UpdateLocation reports false when no session exists for connID.
func (r *SessionRegistry) UpdateLocation(connID string, point domain.GeoPoint) bool {
	s, ok := r.sessions[connID]
	if !ok {
		return false
	}
	s.Location = &point
	return true
}

func (r *SessionRegistry) SetAvailability(connID string, availability domain.Availability) bool {
	s, ok := r.sessions[connID]
	if !ok {
		return false
	}
	s.Availability = availability
	return true
}

// Remove reports whether a session was deleted.
func (r *SessionRegistry) Remove(connID string) bool {
	if _, ok := r.sessions[connID]; !ok {
		return false
	}
	delete(r.sessions, connID)
	return true
}

func (r *SessionRegistry) Get(connID string) (domain.Session, bool) {
	s, ok := r.sessions[connID]
	if !ok {
		return domain.Session{}, false
	}
	return s.Clone(), true
}

// Snapshot returns a deep copy of the roster keyed by connection id.
func (r *SessionRegistry) Snapshot() map[string]domain.Session {
	out := make(map[string]domain.Session, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = s.Clone()
	}
	return out
}

func (r *SessionRegistry) Len() int { return len(r.sessions) }
