package panel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/espctl/espctl/internal/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size accepted from a browser
	maxMessageSize = 512

	// Queued messages per client before it is dropped
	sendBuffer = 64
)

// Event types pushed over /ws
const (
	MessageHello    = "hello"
	MessageEndpoint = "endpoint"
	MessageOTA      = "ota"
	MessageRestart  = "restart"
)

// Message is the JSON frame written to every websocket client.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	TS   string      `json:"ts"`
}

type client struct {
	conn       *websocket.Conn
	remoteAddr string
	send       chan []byte
}

// Hub fans messages out to connected websocket clients. A client whose
// queue is full is disconnected rather than allowed to stall the sender.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	wg      sync.WaitGroup
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Broadcast sends a message of type typ to every client
func (h *Hub) Broadcast(typ string, data interface{}) {
	b, err := encodeMessage(typ, data)
	if err != nil {
		logging.Error("Failed to encode websocket message", zap.String("type", typ), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			logging.Warn("Dropping slow websocket client", zap.String("remote_addr", c.remoteAddr))
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// serve registers conn, queues hello and runs its pumps until the peer
// goes away or Close is called.
func (h *Hub) serve(conn *websocket.Conn, remoteAddr string, hello interface{}) {
	c := &client{conn: conn, remoteAddr: remoteAddr, send: make(chan []byte, sendBuffer)}

	if b, err := encodeMessage(MessageHello, hello); err == nil {
		c.send <- b
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logging.Info("Websocket client connected", zap.String("remote_addr", remoteAddr))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.writePump(c)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(c)
	}()
}

// Close disconnects every client and waits for their pumps to exit
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	logging.Info("Websocket client disconnected", zap.String("remote_addr", c.remoteAddr))
}

// readPump discards browser messages; it exists to process control frames
// and notice when the peer leaves.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("Websocket read error", zap.String("remote_addr", c.remoteAddr), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func encodeMessage(typ string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{
		Type: typ,
		Data: data,
		TS:   time.Now().UTC().Format(time.RFC3339),
	})
}
