package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket Heartbeat Config
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Hub maintains one set of dashboard clients and fans frames out to them.
// The server runs two: "public" (ticker, quotes, agent status) and "private"
// (positions, trades, analytics), the private one sits behind the gate.
type Hub struct {
	name      string
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	upgrader  websocket.Upgrader

	// joinSnapshot builds the frame a freshly connected client receives.
	// Wired once during startup, before the server accepts connections.
	joinSnapshot func() interface{}
}

func NewHub(name string) *Hub {
	return &Hub{
		name:    name,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Origin enforcement happens at the edge proxy
			},
		},
	}
}

// SetJoinSnapshot registers the builder for the initial frame.
func (h *Hub) SetJoinSnapshot(fn func() interface{}) {
	h.joinSnapshot = fn
}

// HandleWebSocket manages the full connection lifecycle for open endpoints.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.HandleUpgrade(w, r)
	if err != nil {
		return
	}
	h.RunClient(conn)
}

// HandleUpgrade upgrades the request, registers the client and delivers the
// join snapshot. Callers that need the conn (gated endpoints arm an expiry
// kick) follow up with RunClient.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[%s hub] Upgrade error: %v", h.name, err)
		return nil, err
	}

	h.register(conn)

	if h.joinSnapshot != nil {
		conn.WriteJSON(h.joinSnapshot())
	}
	return conn, nil
}

// RunClient blocks until the client goes away. Inbound frames are not
// processed, the read loop exists to detect disconnects and answer pings.
func (h *Hub) RunClient(conn *websocket.Conn) {
	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	// Start Pinger
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return // Stop Pinger if write fails
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
	metricHubClients.WithLabelValues(h.name).Set(float64(len(h.clients)))
	log.Printf("[%s hub] Client connected. Total clients: %d", h.name, len(h.clients))
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		metricHubClients.WithLabelValues(h.name).Set(float64(len(h.clients)))
		log.Printf("[%s hub] Client disconnected. Total clients: %d", h.name, len(h.clients))
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[%s hub] Broadcast marshal error: %v", h.name, err)
		return
	}
	h.BroadcastRaw(data)
}

// BroadcastRaw fans out a pre-marshaled frame, evicting clients whose
// writes fail.
func (h *Hub) BroadcastRaw(data []byte) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
	metricHubBroadcasts.WithLabelValues(h.name).Inc()
	metricHubClients.WithLabelValues(h.name).Set(float64(len(h.clients)))
}

// CloseClient sends a final frame to one client and drops it. Used when a
// gate session expires mid-connection.
func (h *Hub) CloseClient(conn *websocket.Conn, msg interface{}) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	if _, ok := h.clients[conn]; !ok {
		return
	}
	if data, err := json.Marshal(msg); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.Close()
	delete(h.clients, conn)
	metricHubClients.WithLabelValues(h.name).Set(float64(len(h.clients)))
}

// ClientCount reports connected clients, surfaced on /healthz.
func (h *Hub) ClientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// ============================================================================
// PRICE THROTTLER (Live Ticker)
// ============================================================================

type TickerMessage struct {
	Type   string  `json:"type"` // "ticker"
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// PriceThrottler coalesces the raw trade stream into at most one ticker
// frame per symbol every 200ms.
type PriceThrottler struct {
	hub        *Hub
	lastPrices map[string]float64
	dirty      map[string]bool
	mu         sync.Mutex
	done       chan struct{}
	stopOnce   sync.Once
}

func NewPriceThrottler(hub *Hub) *PriceThrottler {
	return &PriceThrottler{
		hub:        hub,
		lastPrices: make(map[string]float64),
		dirty:      make(map[string]bool),
		done:       make(chan struct{}),
	}
}

func (pt *PriceThrottler) UpdatePrice(symbol string, price float64) {
	pt.mu.Lock()
	pt.lastPrices[symbol] = price
	pt.dirty[symbol] = true
	pt.mu.Unlock()
}

func (pt *PriceThrottler) Start() {
	ticker := time.NewTicker(200 * time.Millisecond) // 5x per second
	defer ticker.Stop()

	for {
		select {
		case <-pt.done:
			return
		case <-ticker.C:
		}

		pt.mu.Lock()
		// Only symbols that moved since the last tick go out
		snapshot := make(map[string]float64, len(pt.dirty))
		for symbol := range pt.dirty {
			snapshot[symbol] = pt.lastPrices[symbol]
			delete(pt.dirty, symbol)
		}
		pt.mu.Unlock()

		for symbol, price := range snapshot {
			pt.hub.Broadcast(TickerMessage{
				Type:   "ticker",
				Symbol: symbol,
				Price:  price,
			})
		}
	}
}

func (pt *PriceThrottler) Stop() {
	pt.stopOnce.Do(func() { close(pt.done) })
}
