package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"seraph/feed"
	"seraph/models"
	"seraph/store"
	ws "seraph/websocket"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
)

// WebSocketHandler handles WebSocket connections for live comment streams
// and live feed sessions.
type WebSocketHandler struct {
	hub           *ws.Hub
	store         store.DocumentStore
	defaultRadius float64
	maxRadius     float64
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *ws.Hub, st store.DocumentStore, defaultRadius, maxRadius float64) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		store:         st,
		defaultRadius: defaultRadius,
		maxRadius:     maxRadius,
	}
}

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now
		// In production, you should implement proper origin checking
		return true
	},
}

// WatchComments upgrades the connection and joins the report's comment room.
func (h *WebSocketHandler) WatchComments(c *gin.Context) {
	reportID := c.Param("id")
	if reportID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing report id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, reportID)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	log.WithField("report_id", reportID).Info("WebSocket comment stream established")
}

// feedQueryMessage is the client command that activates or replaces the
// session's feed query.
type feedQueryMessage struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
	Category     string  `json:"category,omitempty"`
}

// feedEventMessage is the envelope pushed to the client after every feed
// change.
type feedEventMessage struct {
	Type    string             `json:"type"`
	State   string             `json:"state,omitempty"`
	Entries []models.FeedEntry `json:"entries,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// LiveFeed upgrades the connection into a feed session. The client sends
// query messages; the session answers with a feed snapshot after every
// settled query, and query changes supersede in-flight ones.
func (h *WebSocketHandler) LiveFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	session := newFeedSession(c.Request.Context(), h.store, conn, h.defaultRadius, h.maxRadius)
	go session.writePump()
	session.readPump()

	log.Info("WebSocket feed session closed")
}

// feedSession owns one client's feed controller for the lifetime of the
// connection.
type feedSession struct {
	ctx           context.Context
	controller    *feed.Controller
	conn          *gorilla.Conn
	send          chan []byte
	done          chan struct{}
	defaultRadius float64
	maxRadius     float64
}

func newFeedSession(ctx context.Context, st store.DocumentStore, conn *gorilla.Conn, defaultRadius, maxRadius float64) *feedSession {
	s := &feedSession{
		ctx:           ctx,
		controller:    feed.NewController(st),
		conn:          conn,
		send:          make(chan []byte, 16),
		done:          make(chan struct{}),
		defaultRadius: defaultRadius,
		maxRadius:     maxRadius,
	}

	s.controller.SetObserver(func(snapshot feed.Snapshot) {
		msg := feedEventMessage{
			Type:    "feed",
			State:   snapshot.State.String(),
			Entries: snapshot.Entries,
		}
		if snapshot.Err != nil {
			msg.Error = snapshot.Err.Error()
		}
		s.push(msg)
	})

	return s
}

func (s *feedSession) push(msg feedEventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Failed to marshal feed message: %v", err)
		return
	}
	select {
	case s.send <- data:
	default:
		log.Warn("Dropping feed snapshot for slow client")
	}
}

// readPump parses query messages and drives the controller. It runs on the
// request goroutine so the request context stays alive for in-flight
// queries until the connection closes.
func (s *feedSession) readPump() {
	defer func() {
		close(s.done)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(1024)
	s.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseGoingAway, gorilla.CloseAbnormalClosure) {
				log.Warnf("WebSocket read error: %v", err)
			}
			return
		}

		var msg feedQueryMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.push(feedEventMessage{Type: "error", Error: "malformed query"})
			continue
		}

		query := models.FeedQuery{
			Center:       models.Coordinate{Latitude: msg.Latitude, Longitude: msg.Longitude},
			RadiusMeters: msg.RadiusMeters,
			Category:     models.Category(msg.Category),
		}
		if query.RadiusMeters <= 0 {
			query.RadiusMeters = s.defaultRadius
		}
		if query.RadiusMeters > s.maxRadius {
			query.RadiusMeters = s.maxRadius
		}
		if err := query.Validate(); err != nil {
			s.push(feedEventMessage{Type: "error", Error: err.Error()})
			continue
		}

		s.controller.SetQuery(s.ctx, query)
	}
}

// writePump mirrors the comment client's write side: outbound messages plus
// keepalive pings, closing the connection when either direction fails.
func (s *feedSession) writePump() {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := s.conn.WriteMessage(gorilla.TextMessage, message); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			s.conn.WriteMessage(gorilla.CloseMessage, []byte{})
			return

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := s.conn.WriteMessage(gorilla.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WebSocketStats reports connected client and room counts.
func (h *WebSocketHandler) WebSocketStats(c *gin.Context) {
	clients, rooms := h.hub.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": clients,
		"open_rooms":        rooms,
	})
}
