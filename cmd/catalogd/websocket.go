package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mare-catalogo/backend/internal/logging"
	"github.com/mare-catalogo/backend/internal/netstate"
	"github.com/mare-catalogo/backend/internal/worker"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header and those whose
// Origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// =====================================================
// Control channel event and message types
// =====================================================

const (
	// EventWorkerActivated is broadcast when a cache generation claims clients.
	EventWorkerActivated = "worker.activated"

	// Page reports mirroring the browser online/offline/focus events.
	MessageOnline  = "ONLINE"
	MessageOffline = "OFFLINE"
	MessageFocus   = "FOCUS"

	// MessageVersion answers GET_VERSION.
	MessageVersion = "VERSION"
	// MessageError answers a message that could not be handled.
	MessageError = "ERROR"
)

// ControlHandler handles the cache controller's control messages.
type ControlHandler interface {
	HandleMessage(ctx context.Context, msg worker.Message) (*worker.VersionReply, error)
}

// Reporter receives page connectivity events.
type Reporter interface {
	Report(ev netstate.Event)
}

// Envelope wraps every server-pushed event.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// inbound is a page message. Control messages carry "type"; keepalives
// carry "action".
type inbound struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// Client is one connected page.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// closed is set under hub.mu once send is closed.
	closed bool
}

// Hub tracks connected pages, fans out events and dispatches page
// messages.
type Hub struct {
	control  ControlHandler
	reporter Reporter

	mu      sync.RWMutex
	clients map[string]*Client

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	log *logging.Logger
}

// NewHub creates a hub and starts its loop. Close stops it.
func NewHub(control ControlHandler, reporter Reporter) *Hub {
	h := &Hub{
		control:    control,
		reporter:   reporter,
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        logging.Named("ws"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("Client connected", logging.Fields{"client": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("Client disconnected", logging.Fields{"client": client.id, "total": total})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client; drop it.
					client.close()
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Close disconnects every client and stops the hub loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.quit)
		<-h.done
	})
}

// Clients returns the number of connected pages.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every connected page. It never blocks; the
// event is dropped when the hub is closed or saturated.
func (h *Hub) Broadcast(event string, payload interface{}) {
	data, err := json.Marshal(Envelope{Type: event, Data: payload, Timestamp: time.Now().Unix()})
	if err != nil {
		h.log.Error("Failed to marshal event", err, logging.Fields{"event": event})
		return
	}
	select {
	case <-h.quit:
	case h.broadcast <- data:
	default:
		h.log.Warn("Event dropped, hub saturated", logging.Fields{"event": event})
	}
}

// handle processes one page message and returns the reply for the sender,
// if any.
func (h *Hub) handle(ctx context.Context, msg inbound) interface{} {
	if msg.Action == "ping" {
		return map[string]interface{}{"action": "pong", "timestamp": time.Now().Unix()}
	}

	switch msg.Type {
	case MessageOnline:
		h.reporter.Report(netstate.EventOnline)
	case MessageOffline:
		h.reporter.Report(netstate.EventOffline)
	case MessageFocus:
		h.reporter.Report(netstate.EventFocus)
	case worker.MessageSkipWaiting, worker.MessageGetVersion:
		reply, err := h.control.HandleMessage(ctx, worker.Message{Type: msg.Type})
		if err != nil {
			return Envelope{Type: MessageError, Data: map[string]string{"error": err.Error()}, Timestamp: time.Now().Unix()}
		}
		if reply != nil {
			return Envelope{Type: MessageVersion, Data: reply, Timestamp: time.Now().Unix()}
		}
	default:
		h.log.Debug("Ignoring unknown message", logging.Fields{"type": msg.Type, "action": msg.Action})
	}
	return nil
}

// readPump reads page messages until the connection closes.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("Read error", logging.Fields{"client": c.id, "error": err.Error()})
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.Debug("Invalid message format", logging.Fields{"client": c.id, "error": err.Error()})
			continue
		}

		reply := c.hub.handle(context.Background(), msg)
		if reply == nil {
			continue
		}
		data, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		c.reply(data)
	}
}

// close closes the send channel. Callers hold hub.mu for writing.
func (c *Client) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// reply queues a message for this client only.
func (c *Client) reply(data []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump writes queued messages and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket upgrades a page connection onto the control channel.
func HandleWebSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("Failed to upgrade", logging.Fields{"error": err.Error()})
			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan []byte, sendBuffer),
			hub:  hub,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
