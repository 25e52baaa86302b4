package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Channels a client can subscribe to.
const (
	ChannelBlocks   = "blocks"
	ChannelEvents   = "events"
	contractChannel = "contract:"
	eventChannel    = "event:"
)

// Hub maintains active WebSocket connections and fans committed events out
// to subscribers. It implements events.Publisher.
type Hub struct {
	log *zap.SugaredLogger

	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed once Run has returned
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. After it returns, new connections are
// closed at once and departing clients no longer wait on the loop.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("ws_client_connected", "client", client.id, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("ws_client_disconnected", "client", client.id, "total", total)
		}
	}
}

// Publish pushes a block notice and every event to subscribed clients.
// An event goes out on "events", "contract:<address>" and "event:<name>".
func (h *Hub) Publish(_ context.Context, height uint64, evs []ledger.Event) error {
	h.BroadcastToChannel(ChannelBlocks, WSBlock{Type: "block", Height: height, Events: len(evs)})
	for _, ev := range evs {
		for _, ch := range []string{
			ChannelEvents,
			contractChannel + strings.ToLower(ev.Contract.Hex()),
			eventChannel + ev.Name,
		} {
			h.BroadcastToChannel(ch, WSEvent{Type: "event", Channel: ch, Event: ev})
		}
	}
	return nil
}

// BroadcastToChannel sends a message to all clients subscribed to a channel
func (h *Hub) BroadcastToChannel(channel string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var message []byte
	for client := range h.clients {
		if !client.IsSubscribed(channel) {
			continue
		}
		if message == nil {
			var err error
			if message, err = json.Marshal(data); err != nil {
				h.log.Warnw("ws_marshal_failed", "channel", channel, "err", err)
				return
			}
		}
		select {
		case client.send <- message:
		default:
			// Buffer full, skip this client
			h.log.Debugw("ws_client_slow", "client", client.id, "channel", channel)
		}
	}
}

// subscribers counts clients on channel.
func (h *Hub) subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.IsSubscribed(channel) {
			n++
		}
	}
	return n
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// Subscribed channels
	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

// Subscribe adds a channel subscription. Contract channels are matched on
// the lowercase address.
func (c *Client) Subscribe(channel string) {
	if strings.HasPrefix(channel, contractChannel) {
		channel = strings.ToLower(channel)
	}
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
	c.hub.log.Debugw("ws_subscribed", "client", c.id, "channel", channel)
}

// Unsubscribe removes a channel subscription
func (c *Client) Unsubscribe(channel string) {
	if strings.HasPrefix(channel, contractChannel) {
		channel = strings.ToLower(channel)
	}
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
	c.hub.log.Debugw("ws_unsubscribed", "client", c.id, "channel", channel)
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("ws_read_failed", "client", c.id, "err", err)
			}
			break
		}

		// Handle subscription requests
		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Debugw("ws_invalid_message", "client", c.id, "err", err)
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				c.Subscribe(channel)
			}
		case "unsubscribe":
			for _, channel := range req.Channels {
				c.Unsubscribe(channel)
			}
		default:
			c.hub.log.Debugw("ws_unknown_op", "client", c.id, "op", req.Op)
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            uuid.NewString(),
		subscriptions: make(map[string]bool),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
