package hub

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/relay/src/types"
)

// Client wraps a WebSocket connection and manages message flow.
type Client struct {
	ID          string
	conn        types.Conn
	hub         *Hub
	send        chan types.Message
	connectedAt time.Time
	remoteAddr  string
	userAgent   string
	clientID    string
	mu          sync.RWMutex
	closed      bool
}

// NewClient creates a new WebSocket client wrapper. id is the transport
// connection id; the dashboard clientID is only known after "register".
func NewClient(id string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:          id,
		conn:        conn,
		hub:         h,
		send:        make(chan types.Message, h.sendBuffer),
		connectedAt: time.Now(),
	}
}

// SetRemote records where the connection came from, for presence views.
func (c *Client) SetRemote(addr, userAgent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteAddr = addr
	c.userAgent = userAgent
}

// Info returns metadata about this connection.
func (c *Client) Info() types.ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.ConnectionInfo{
		ID:          c.ID,
		ClientID:    c.clientID,
		ConnectedAt: c.connectedAt,
		RemoteAddr:  c.remoteAddr,
		UserAgent:   c.userAgent,
	}
}

// ClientID returns the registered dashboard id, or "" before registration.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

func (c *Client) setClientID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientID = id
}

// enqueue queues msg for the writer. It never blocks and never sends on a
// closed channel; false means the message was dropped.
func (c *Client) enqueue(msg types.Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ReadPump reads messages from the WebSocket and routes to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		var msg types.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		msg.ConnectionID = c.ID
		msg.ClientID = ""
		msg.Timestamp = time.Now()
		if !c.hub.deliverIncoming(msg) {
			return
		}
	}
}

// WritePump writes messages from the send channel to the WebSocket and
// keeps the connection alive with pings. After Close it flushes what is
// already queued, then closes the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	var tick <-chan time.Time
	if c.hub.pingEvery > 0 {
		ticker := time.NewTicker(c.hub.pingEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-tick:
			if err := c.conn.Ping(); err != nil {
				return
			}
		}
	}
}

// Close stops accepting messages. The write pump drains the queue and
// closes the connection, which ends the read pump.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
