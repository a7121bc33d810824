/**
 * @description
 * This file contains the WebSocket transport for the notification hub. It
 * upgrades GET /ws, registers a hub session, and runs the read/write pumps
 * that bridge the connection to the session's outbox. All subscription and
 * fan-out logic lives in the hub; this layer only speaks the wire protocol.
 *
 * @dependencies
 * - encoding/json, log, net/http, time: Standard Go libraries.
 * - github.com/gorilla/websocket: Connection upgrade and frame handling.
 * - internal/hub: Session registry and room fan-out.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bridgefarm/yield-service/internal/hub"
)

const (
	wsWriteWait  = 10 * time.Second
	wsReadWait   = 90 * time.Second
	wsMaxMsgSize = 4096
)

// clientMessage is the envelope for every client -> server event.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type subscribePayload struct {
	UserID string `json:"userId"`
}

type authenticatePayload struct {
	UserAddress string `json:"userAddress"`
	Proof       string `json:"proof"`
}

// WSHandler upgrades HTTP connections and attaches them to the hub.
type WSHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the CORS middleware on the
			// HTTP layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("level=warn component=ws msg=\"upgrade failed\" err=%v", err)
		return
	}

	session := h.hub.Connect()
	log.Printf("level=info component=ws msg=\"connection established\" connection_id=%s", session.ID())

	go h.writePump(conn, session)
	h.readPump(conn, session)
}

// readPump dispatches client events to the hub until the connection drops.
// It owns the connection teardown.
func (h *WSHandler) readPump(conn *websocket.Conn, session *hub.Session) {
	defer func() {
		h.hub.Disconnect(session.ID())
		conn.Close()
		log.Printf("level=info component=ws msg=\"connection closed\" connection_id=%s", session.ID())
	}()

	conn.SetReadLimit(wsMaxMsgSize)
	conn.SetReadDeadline(time.Now().Add(wsReadWait))

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("level=warn component=ws msg=\"unexpected close\" connection_id=%s err=%v", session.ID(), err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadWait))

		switch msg.Event {
		case "subscribe:balances":
			var p subscribePayload
			if err := json.Unmarshal(msg.Data, &p); err == nil {
				h.hub.Subscribe(session.ID(), hub.ChannelBalances, p.UserID)
			}
		case "subscribe:transactions":
			var p subscribePayload
			if err := json.Unmarshal(msg.Data, &p); err == nil {
				h.hub.Subscribe(session.ID(), hub.ChannelTransactions, p.UserID)
			}
		case "authenticate":
			var p authenticatePayload
			if err := json.Unmarshal(msg.Data, &p); err == nil {
				h.hub.Authenticate(session.ID(), p.UserAddress, p.Proof)
			}
		case "ping":
			h.hub.Ping(session.ID())
		default:
			log.Printf("level=warn component=ws msg=\"unknown client event\" connection_id=%s event=%q", session.ID(), msg.Event)
		}
	}
}

// writePump drains the session outbox onto the wire. The hub closes the
// outbox on disconnect, which ends the loop.
func (h *WSHandler) writePump(conn *websocket.Conn, session *hub.Session) {
	for ev := range session.Outbox() {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("level=warn component=ws msg=\"write failed\" connection_id=%s err=%v", session.ID(), err)
			conn.Close()
			return
		}
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
