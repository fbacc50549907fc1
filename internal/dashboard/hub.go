// Package dashboard implements the outbound websocket surface that
// mirrors the Ledger's dashboardUpdate snapshot to any connected client:
// a register/unregister/broadcast hub with a ping/pong heartbeat, plus
// the read-only REST routes.
package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/predatortrading/perp-engine/internal/ledger"
)

const (
	broadcastInterval = 2 * time.Second
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 512
)

// Hub maintains the set of connected dashboard clients and broadcasts the
// Ledger's snapshot to all of them every broadcastInterval.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// NewHub constructs an empty client hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "dashboard-hub").Logger(),
	}
}

// envelope tags every broadcast payload with a type so thin JS clients can
// dispatch on it without a schema.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// HandleWebSocket upgrades an incoming request and keeps the connection
// registered until the client disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.register(conn)
	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	delete(h.clients, conn)
}

// Broadcast sends a typed envelope to every connected client, dropping
// any client whose write fails.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(envelope{Type: msgType, Data: data})
	if err != nil {
		h.log.Warn().Err(err).Msg("broadcast marshal failed")
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

// RunDashboardUpdates broadcasts the Ledger's dashboardUpdate snapshot
// every 2s until stop is closed.
func (h *Hub) RunDashboardUpdates(led *ledger.Ledger, stop <-chan struct{}) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.Broadcast("dashboardUpdate", led.GetDashboardUpdate())
		}
	}
}

// BroadcastPrice forwards a bookTicker mid-price as a priceUpdate event.
func (h *Hub) BroadcastPrice(symbol string, mid string) {
	h.Broadcast("priceUpdate", map[string]string{"symbol": symbol, "price": mid})
}
