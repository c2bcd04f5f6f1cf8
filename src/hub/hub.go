package hub

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

// MessageBridge publishes messages to other server instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(msg types.Message) error
	Available() bool
}

// Registry is the subset of the client registry the hub drives.
type Registry interface {
	Register(clientID, connectionID string)
	Unregister(connectionID string) (string, bool)
	ClientFor(connectionID string) (string, bool)
	Touch(connectionID string)
}

// Hub manages all WebSocket connections and routes their messages.
type Hub struct {
	clients  map[string]*Client // connectionID -> client
	registry Registry

	register   chan *Client
	unregister chan *Client
	incoming   chan types.Message
	broadcast  chan types.Message
	localCast  chan types.Message // messages from bridge, no re-publish

	handlers  map[string]types.MessageHandler
	onConnect []func(string)
	onDisconn []func(string)
	onError   []func(types.ConnectionInfo, string)

	sendBuffer int
	pingEvery  time.Duration

	bridge   MessageBridge
	running  bool
	mu       sync.RWMutex
	logger   zerolog.Logger
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// Option configures a Hub.
type Option func(*Hub)

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPingInterval enables keepalive pings on every connection.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) { h.pingEvery = d }
}

// New creates a new Hub instance.
func New(reg Registry, logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		registry:   reg,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan types.Message, 256),
		broadcast:  make(chan types.Message, 256),
		localCast:  make(chan types.Message, 256),
		handlers:   make(map[string]types.MessageHandler),
		sendBuffer: 256,
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, broadcasts are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// BroadcastToLocal delivers a message from the bridge to local connections only.
// It does not re-publish to Redis, preventing infinite loops.
func (h *Hub) BroadcastToLocal(msg types.Message) {
	select {
	case h.localCast <- msg:
	case <-h.done:
	}
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	defer close(h.stopped)
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	h.logger.Info().Msg("hub started")

	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.incoming:
			h.handleMessage(msg)
		case msg := <-h.broadcast:
			h.publishToBridge(msg)
			h.broadcastToAll(msg)
		case msg := <-h.localCast:
			h.broadcastToAll(msg)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop halts the hub event loop and closes every connection. When the loop
// is running, Stop returns only after it has unregistered every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		wasRunning := h.running
		h.running = false
		h.mu.Unlock()
		close(h.done)
		if wasRunning {
			<-h.stopped
		}
	})
}

// Available reports whether the event loop is running.
func (h *Hub) Available() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Register queues a connection for registration. It returns false once the
// hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister queues a connection for removal.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) deliverIncoming(msg types.Message) bool {
	select {
	case h.incoming <- msg:
		return true
	case <-h.done:
		return false
	}
}

// CloseConnection tells a connection it has been replaced and closes it.
// The read pump notices and unregisters it through the event loop, so this
// is safe to call from inside the loop.
func (h *Hub) CloseConnection(connectionID string) {
	h.mu.RLock()
	c, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.enqueue(types.Message{
		Event:     types.EventError,
		Data:      map[string]any{"reason": types.ReasonReplaced},
		Timestamp: time.Now(),
	})
	c.Close()
	h.logger.Info().Str("connection_id", connectionID).Msg("connection closed by server")
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	cbs := h.onConnect
	h.mu.Unlock()

	h.logger.Info().Str("connection_id", c.ID).Int("connections", total).Msg("connection opened")

	for _, cb := range cbs {
		cb(c.ID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if current, ok := h.clients[c.ID]; !ok || current != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	cbs := h.onDisconn
	h.mu.Unlock()

	c.Close()
	if h.registry != nil {
		h.registry.Unregister(c.ID)
	}
	h.logger.Info().Str("connection_id", c.ID).Msg("connection closed")

	for _, cb := range cbs {
		cb(c.ID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
		c.conn.Close()
		if h.registry != nil {
			h.registry.Unregister(c.ID)
		}
	}
	h.logger.Info().Int("connections", len(clients)).Msg("hub stopped")
}
