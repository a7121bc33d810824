/**
 * @description
 * A Session represents one connected client of the notification hub. The hub
 * never writes to the wire itself: it enqueues events on the session's
 * buffered outbox and the transport layer drains it. A full outbox drops the
 * event instead of blocking, so a slow consumer can never stall the state
 * machine that produced the notification.
 */

package hub

import (
	"sync"

	"github.com/google/uuid"
)

// Event is the envelope every server-to-client message uses.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

const sessionQueueSize = 64

// Session is one connection's hub-side state.
type Session struct {
	id string

	mu            sync.Mutex
	userID        string
	authenticated bool
	closed        bool
	dropped       int

	send chan Event
}

func newSession() *Session {
	return &Session{
		id:   uuid.New().String(),
		send: make(chan Event, sessionQueueSize),
	}
}

// ID returns the connection identifier assigned by the hub.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user, empty until Authenticate succeeds.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Authenticated reports whether the session passed proof verification.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Outbox is drained by the transport layer (and by tests).
func (s *Session) Outbox() <-chan Event { return s.send }

func (s *Session) setAuthenticated(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.authenticated = true
	s.mu.Unlock()
}

// enqueue offers an event to the session without ever blocking. Returns false
// when the event was dropped (closed session or full queue).
func (s *Session) enqueue(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- ev:
		return true
	default:
		s.dropped++
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
