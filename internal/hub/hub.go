/**
 * @description
 * The notification hub routes lifecycle and balance events to subscribed
 * connections. It maintains logical rooms keyed "{channel}:{userId}" and is
 * never the source of truth for application state: delivering to zero
 * subscribers is not an error, and events to slow consumers are dropped.
 *
 * Broadcast takes a snapshot of room membership under a read lock and then
 * delivers outside any lock, so concurrent subscribe/disconnect calls are
 * never blocked by delivery.
 *
 * @dependencies
 * - sync: Room table guarded by an RWMutex.
 * - internal/metrics: Delivery counters.
 */

package hub

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bridgefarm/yield-service/internal/domain"
	"github.com/bridgefarm/yield-service/internal/metrics"
)

// Channel is a subscription category a connection can join for a user.
type Channel string

const (
	ChannelBalances     Channel = "balances"
	ChannelTransactions Channel = "transactions"
)

// Server-to-client event names.
const (
	EventConnected          = "connected"
	EventSubscribed         = "subscribed"
	EventAuthenticated      = "authenticated"
	EventAuthError          = "auth_error"
	EventPong               = "pong"
	EventBalanceUpdate      = "balance:update"
	EventTransactionUpdate  = "transaction:update"
	EventUserNotification   = "user:notification"
	EventSystemNotification = "system:notification"
)

// ProofVerifier validates an authentication proof and returns the user it
// belongs to.
type ProofVerifier interface {
	Verify(proof string) (userID string, err error)
}

// Hub owns session registration and room membership.
type Hub struct {
	verifier ProofVerifier

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session // room -> session id -> session
}

// New creates an empty hub.
func New(verifier ProofVerifier) *Hub {
	return &Hub{
		verifier: verifier,
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

func roomKey(ch Channel, userID string) string {
	return fmt.Sprintf("%s:%s", ch, domain.NormalizeUserID(userID))
}

// Connect registers a new session and acknowledges it with a connected event.
func (h *Hub) Connect() *Session {
	s := newSession()
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	s.enqueue(Event{Event: EventConnected, Data: map[string]string{"connection_id": s.id}})
	return s
}

// Disconnect removes the session from every room and closes its outbox. No
// notification is sent to other users.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		for key, members := range h.rooms {
			delete(members, sessionID)
			if len(members) == 0 {
				delete(h.rooms, key)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		s.close()
	}
}

// Subscribe adds the connection to the "{channel}:{userId}" room. Idempotent;
// every call is acknowledged with a subscribed event.
func (h *Hub) Subscribe(sessionID string, ch Channel, userID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		key := roomKey(ch, userID)
		members, exists := h.rooms[key]
		if !exists {
			members = make(map[string]*Session)
			h.rooms[key] = members
		}
		members[sessionID] = s
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	s.enqueue(Event{Event: EventSubscribed, Data: map[string]string{
		"channel": string(ch),
		"user_id": domain.NormalizeUserID(userID),
	}})
}

// Authenticate verifies the proof for a claimed user address. Failure is soft:
// the session stays connected and may keep using unauthenticated read paths.
func (h *Hub) Authenticate(sessionID, userAddress, proof string) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	claimed := domain.NormalizeUserID(userAddress)
	subject, err := h.verifier.Verify(proof)
	if err != nil || domain.NormalizeUserID(subject) != claimed {
		if err == nil {
			err = fmt.Errorf("proof subject does not match %s", claimed)
		}
		log.Printf("level=warn component=hub msg=\"authentication rejected\" connection_id=%s user_id=%s err=%v", sessionID, claimed, err)
		s.enqueue(Event{Event: EventAuthError, Data: map[string]string{"message": "authentication failed"}})
		return
	}

	s.setAuthenticated(claimed)
	s.enqueue(Event{Event: EventAuthenticated, Data: map[string]string{"user_id": claimed}})
}

// Ping answers a liveness probe without touching subscription state.
func (h *Hub) Ping(sessionID string) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	s.enqueue(Event{Event: EventPong, Data: map[string]int64{"timestamp": time.Now().UnixMilli()}})
}

// roomFor maps an event name to the channel whose subscribers should see it.
func roomFor(event string) Channel {
	if event == EventBalanceUpdate {
		return ChannelBalances
	}
	return ChannelTransactions
}

// BroadcastToUser delivers the payload to every connection subscribed to the
// room appropriate for the event kind. Zero subscribers is not an error.
func (h *Hub) BroadcastToUser(userID, event string, payload interface{}) {
	key := roomKey(roomFor(event), userID)

	h.mu.RLock()
	members := h.rooms[key]
	snapshot := make([]*Session, 0, len(members))
	for _, s := range members {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	ev := Event{Event: event, Data: payload}
	for _, s := range snapshot {
		if s.enqueue(ev) {
			metrics.NotificationsTotal.WithLabelValues(event).Inc()
		}
	}
}

// BroadcastSystem delivers to every connected session regardless of
// subscription.
func (h *Hub) BroadcastSystem(event string, payload interface{}) {
	h.mu.RLock()
	snapshot := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	ev := Event{Event: event, Data: payload}
	for _, s := range snapshot {
		if s.enqueue(ev) {
			metrics.NotificationsTotal.WithLabelValues(event).Inc()
		}
	}
}

// SessionCount reports how many connections are registered.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
