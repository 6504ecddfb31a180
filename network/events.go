package network

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Size of each client's outbound buffer. Slow clients that fall this
	// far behind are dropped.
	sendQueueSize = 64
)

// RecoveryEvent is the wire form of one recovery lifecycle update.
type RecoveryEvent struct {
	OperationID string    `json:"operationId"`
	ShardID     uint64    `json:"shardId"`
	Stage       string    `json:"stage"`
	Mode        string    `json:"mode"`
	Action      string    `json:"action"`
	Note        string    `json:"note,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// EventHub broadcasts recovery lifecycle events to websocket subscribers.
// It implements the orchestrator's event publisher.
type EventHub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	upgrader websocket.Upgrader
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// PublishRecovery fans one recovery update out to every subscriber.
func (h *EventHub) PublishRecovery(op *types.RecoveryOperation, note string) {
	event := RecoveryEvent{
		OperationID: op.OperationID,
		ShardID:     uint64(op.ShardID),
		Stage:       op.Stage.String(),
		Mode:        op.Mode.String(),
		Action:      op.Action.String(),
		Note:        note,
		Timestamp:   time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to encode recovery event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("Dropping slow event subscriber %s", c.id)
			go h.removeClient(c.id)
		}
	}
}

// HandleSubscribe upgrades an HTTP request to a websocket subscription.
func (h *EventHub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	log.Printf("Event subscriber %s connected", c.id)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// SubscriberCount returns the number of connected subscribers.
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.removeClient(c.id)
			return
		}
	}
}

// readLoop drains incoming frames so pings are handled, and tears the
// client down when the peer goes away.
func (h *EventHub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.removeClient(c.id)
			return
		}
	}
}

func (h *EventHub) removeClient(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
		c.conn.Close()
	}
}
