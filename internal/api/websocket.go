package api

import (
	"encoding/json"
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rawblock/factory-engine/internal/batch"
)

// Hub maintains the set of active websocket clients and broadcasts messages.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

// NewHub accepts upgrades from allowedOrigins, or from any origin when the
// list is empty or "*".
func NewHub(allowedOrigins []string) *Hub {
	anyOrigin := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return anyOrigin || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Run drains the broadcast queue. Writes happen outside the lock so a
// stalled client never blocks ClientCount or new subscriptions.
func (h *Hub) Run() {
	for message := range h.broadcast {
		for _, client := range h.snapshot() {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[API] Websocket write error: %v", err)
				client.Close()
				h.remove(client)
			}
		}
	}
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	return conns
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] Failed to upgrade websocket: %v", err)
		return
	}

	log.Printf("[API] WebSocket client connected. Total clients: %d", h.add(conn))

	// Only pushes go down, but reads are needed to notice disconnects.
	go func() {
		defer func() {
			conn.Close()
			log.Printf("[API] WebSocket client disconnected. Total clients: %d", h.remove(conn))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[API] WebSocket error: %v", err)
				}
				break
			}
		}
	}()
}

func (h *Hub) add(conn *websocket.Conn) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[conn] = true
	return len(h.clients)
}

func (h *Hub) remove(conn *websocket.Conn) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.clients, conn)
	return len(h.clients)
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Broadcast queues data for every connected client. Messages are dropped
// when the queue is full so solver workers never block on slow clients.
func (h *Hub) Broadcast(data []byte) bool {
	select {
	case h.broadcast <- data:
		return true
	default:
		return false
	}
}

// BroadcastSolveEvent sends per-machine solve events via the WebSocket hub.
// It is wired as the event callback of the batch solver.
func BroadcastSolveEvent(wsHub *Hub) func(batch.Event) {
	return func(event batch.Event) {
		payload := gin.H{
			"type":  "machine_solved",
			"event": event,
		}
		eventBytes, _ := json.Marshal(payload)
		if !wsHub.Broadcast(eventBytes) {
			log.Printf("[API] Event queue full, dropped event for machine %d of run %s", event.Index, event.RunID)
		}
	}
}
