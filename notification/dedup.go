// Package notification decides when a message observed in a room deserves an
// external alert, and hands it to the platform sink.
package notification

import (
	"sync"

	"roomsync/domain"
)

// Session is the notification state of one observer session. It lives as long
// as the session and is never persisted nor shared with another session.
type Session struct {
	ObserverID string

	mu             sync.Mutex
	lastNotifiedID string
}

func NewSession(observerID string) *Session {
	return &Session{ObserverID: observerID}
}

func (s *Session) LastNotifiedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNotifiedID
}

// Deduplicator holds no state of its own: everything lives in the session.
type Deduplicator struct{}

// ShouldNotify reports whether message must raise an alert for the session,
// recording it when it does. Own messages and the last notified message never do.
func (Deduplicator) ShouldNotify(session *Session, message domain.Message) bool {
	if message.AuthorID == session.ObserverID {
		return false
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if message.ID == session.lastNotifiedID {
		return false
	}
	session.lastNotifiedID = message.ID
	return true
}
