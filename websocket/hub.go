// Package websocket pushes live comment updates to clients watching a report.
// Clients join a per-report room; new comments on that report are broadcast
// to the room.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"

	"seraph/models"
)

// BroadcastMessage is the envelope sent to clients.
type BroadcastMessage struct {
	Type      string         `json:"type"`
	ReportID  string         `json:"report_id"`
	Comment   models.Comment `json:"comment"`
	Timestamp time.Time      `json:"timestamp"`
}

type roomMessage struct {
	reportID string
	data     []byte
}

// Hub manages WebSocket connections grouped into per-report rooms.
type Hub struct {
	// Registered clients by report id
	rooms map[string]map[*Client]bool

	// Outbound messages to a room
	broadcast chan roomMessage

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Mutex for thread-safe operations
	mutex sync.RWMutex

	connectedClients int

	// roomSource opens the backing comment stream when the first client
	// joins a room; the returned func tears it down when the room empties.
	roomSource  func(reportID string) func()
	roomClosers map[string]func()
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		rooms:       make(map[string]map[*Client]bool),
		broadcast:   make(chan roomMessage, 256),
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		roomClosers: make(map[string]func()),
	}
}

// SetRoomSource registers the per-room stream opener. Must be called before
// Run.
func (h *Hub) SetRoomSource(open func(reportID string) func()) {
	h.roomSource = open
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mutex.Lock()
			room, ok := h.rooms[client.reportID]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.reportID] = room
				if h.roomSource != nil {
					h.roomClosers[client.reportID] = h.roomSource(client.reportID)
				}
			}
			room[client] = true
			h.connectedClients++
			total := h.connectedClients
			h.mutex.Unlock()
			log.Infof("Client connected to report %s. Total clients: %d", client.reportID, total)

		case client := <-h.Unregister:
			h.mutex.Lock()
			var closer func()
			if room, ok := h.rooms[client.reportID]; ok {
				if _, ok := room[client]; ok {
					delete(room, client)
					close(client.send)
					h.connectedClients--
					if len(room) == 0 {
						delete(h.rooms, client.reportID)
						closer = h.takeCloserLocked(client.reportID)
					}
				}
			}
			total := h.connectedClients
			h.mutex.Unlock()
			if closer != nil {
				closer()
			}
			log.Infof("Client disconnected. Total clients: %d", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			var closer func()
			room := h.rooms[message.reportID]
			for client := range room {
				select {
				case client.send <- message.data:
				default:
					close(client.send)
					delete(room, client)
					h.connectedClients--
				}
			}
			if room != nil && len(room) == 0 {
				delete(h.rooms, message.reportID)
				closer = h.takeCloserLocked(message.reportID)
			}
			h.mutex.Unlock()
			if closer != nil {
				closer()
			}
		}
	}
}

// takeCloserLocked removes and returns the room's stream closer, if any.
// Callers invoke it after releasing the mutex so the teardown cannot hold
// the hub up.
func (h *Hub) takeCloserLocked(reportID string) func() {
	closer, ok := h.roomClosers[reportID]
	if !ok {
		return nil
	}
	delete(h.roomClosers, reportID)
	return closer
}

// BroadcastComment sends a new comment to every client watching its report.
func (h *Hub) BroadcastComment(comment models.Comment) {
	message := BroadcastMessage{
		Type:      "comment",
		ReportID:  comment.PostID,
		Comment:   comment,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Errorf("Failed to marshal broadcast message: %v", err)
		return
	}

	h.broadcast <- roomMessage{reportID: comment.PostID, data: data}
}

// GetStats returns the number of connected clients and open rooms.
func (h *Hub) GetStats() (int, int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connectedClients, len(h.rooms)
}
