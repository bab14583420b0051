package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/blockhaven/server/internal/serverlogs"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
	tailBatch      = 100
)

// ErrHubClosed is returned by Register once the hub has stopped.
var ErrHubClosed = errors.New("log hub closed")

// Message types
const (
	MsgTypeLogs  = "logs"
	MsgTypeError = "error"
)

// Message is the frame sent to dashboard clients.
type Message struct {
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Entries   []serverlogs.Entry `json:"entries,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// LogSource supplies the newest log entries, oldest first.
type LogSource interface {
	Recent(ctx context.Context, limit int) ([]serverlogs.Entry, error)
}

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	username string
}

// Hub fans new game-server log lines out to connected dashboards. The log
// source is only polled while at least one client is connected.
type Hub struct {
	clients map[*Client]struct{}

	// Channels
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	mu sync.RWMutex

	source   LogSource
	interval time.Duration
	// lastSeen is the newest broadcast timestamp; seenAtLast counts the
	// entries carrying it that were already sent.
	lastSeen   time.Time
	seenAtLast int
	recent     []serverlogs.Entry
	log        logrus.FieldLogger
}

func NewHub(source LogSource, interval time.Duration, log logrus.FieldLogger) *Hub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte),
		done:       make(chan struct{}),
		source:     source,
		interval:   interval,
		log:        log.WithField("component", "log-hub"),
	}
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go h.tail(ctx)

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
			h.clients[client] = struct{}{}
			snapshot := h.snapshotLocked()
			h.mu.Unlock()
			if snapshot != nil {
				client.send <- snapshot
			}
			h.log.WithField("user", client.username).Info("log stream client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.WithField("user", client.username).Info("log stream client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than stall the stream.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// snapshotLocked encodes the most recent entries for a new client.
func (h *Hub) snapshotLocked() []byte {
	if len(h.recent) == 0 {
		return nil
	}
	data, err := json.Marshal(Message{Type: MsgTypeLogs, Timestamp: time.Now().UTC(), Entries: h.recent})
	if err != nil {
		return nil
	}
	return data
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) tail(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			h.poll(ctx)
		}
	}
}

// poll fetches the newest entries and broadcasts those not yet sent.
func (h *Hub) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()

	entries, err := h.source.Recent(pollCtx, tailBatch)
	if err != nil {
		h.log.WithError(err).Warn("log stream poll failed")
		msg := Message{Type: MsgTypeError, Timestamp: time.Now().UTC(), Error: "Failed to fetch logs"}
		if errors.Is(err, serverlogs.ErrNotConfigured) {
			msg.Error = "CloudWatch logs not configured. See setup documentation."
		}
		h.send(ctx, msg)
		return
	}

	fresh := h.advance(entries)
	if len(fresh) == 0 {
		return
	}
	h.send(ctx, Message{Type: MsgTypeLogs, Timestamp: time.Now().UTC(), Entries: fresh})
}

// advance returns entries not yet broadcast and moves the cursor. entries
// must be oldest first. Entries sharing the cursor timestamp are told apart
// by how many of them were already sent.
func (h *Hub) advance(entries []serverlogs.Entry) []serverlogs.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	var fresh []serverlogs.Entry
	atCursor := 0
	for _, e := range entries {
		switch {
		case e.Timestamp.After(h.lastSeen):
			fresh = append(fresh, e)
		case e.Timestamp.Equal(h.lastSeen):
			atCursor++
			if atCursor > h.seenAtLast {
				fresh = append(fresh, e)
			}
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	newest := fresh[len(fresh)-1].Timestamp
	if newest.Equal(h.lastSeen) {
		h.seenAtLast = atCursor
	} else {
		h.lastSeen = newest
		h.seenAtLast = 0
		for _, e := range fresh {
			if e.Timestamp.Equal(newest) {
				h.seenAtLast++
			}
		}
	}

	h.recent = append(h.recent, fresh...)
	if len(h.recent) > tailBatch {
		h.recent = h.recent[len(h.recent)-tailBatch:]
	}
	return fresh
}

func (h *Hub) send(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("failed to encode log stream message")
		return
	}
	select {
	case h.broadcast <- data:
	case <-ctx.Done():
	}
}

// Register attaches conn as a new client. The caller runs its pumps.
func (h *Hub) Register(conn *websocket.Conn, username string) (*Client, error) {
	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		username: username,
	}
	select {
	case h.register <- client:
		return client, nil
	case <-h.done:
		return nil, ErrHubClosed
	}
}

// ReadPump consumes control frames until the peer goes away. Dashboard
// clients do not send data; anything they send is discarded.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		case <-ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := c.conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.hub.log.WithError(err).Debug("websocket read error")
				}
				return
			}
		}
	}
}

func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
