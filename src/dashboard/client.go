package dashboard

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orchestra-mcp/relay/src/command"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	heartbeatInterval  = 30 * time.Second
	writeTimeout       = 10 * time.Second
)

var (
	// ErrKilled is returned by Run after a killSwitch command.
	ErrKilled = errors.New("dashboard stopped by kill switch")
	// ErrReplaced is returned by Run when another connection registered the
	// same clientId. Reconnecting would only evict that connection in turn.
	ErrReplaced = errors.New("dashboard replaced by a newer connection")
)

// Client keeps one dashboard registered with the relay server. Commands are
// passed to the interpreter in the order they arrive.
type Client struct {
	url      string
	clientID string
	interp   *Interpreter
	logger   zerolog.Logger
	dialer   *websocket.Dialer
	header   http.Header

	baseDelay time.Duration
	maxDelay  time.Duration
	heartbeat time.Duration

	onRegistered func(connectionID string)

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBackoff sets the reconnect delay range.
func WithBackoff(base, limit time.Duration) ClientOption {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = limit
	}
}

// WithHeartbeat sets how often presence heartbeats are sent.
func WithHeartbeat(d time.Duration) ClientOption {
	return func(c *Client) { c.heartbeat = d }
}

// WithHeader adds headers (e.g. Origin) to the websocket handshake.
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) { c.header = h }
}

// OnRegistered is called each time the server acknowledges registration.
func OnRegistered(fn func(connectionID string)) ClientOption {
	return func(c *Client) { c.onRegistered = fn }
}

// NewClient creates a client for the websocket at url (ws://host:8080/ws).
func NewClient(url, clientID string, interp *Interpreter, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		url:       url,
		clientID:  clientID,
		interp:    interp,
		logger:    logger.With().Str("component", "dashboard").Str("client_id", clientID).Logger(),
		dialer:    websocket.DefaultDialer,
		baseDelay: reconnectBaseDelay,
		maxDelay:  reconnectMaxDelay,
		heartbeat: heartbeatInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the id this client registers as.
func (c *Client) ClientID() string { return c.clientID }

// Run connects, registers and processes commands until ctx ends, a
// killSwitch arrives or the server reports the client was replaced,
// reconnecting with exponential backoff in between.
func (c *Client) Run(ctx context.Context) error {
	delay := c.baseDelay
	for {
		registered, err := c.session(ctx)
		if errors.Is(err, ErrKilled) || errors.Is(err, ErrReplaced) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if registered {
			delay = c.baseDelay
		}
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("connection lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, c.maxDelay)
	}
}

// Report sends an activity event over the socket. It is dropped when not
// connected.
func (c *Client) Report(eventType string, data map[string]any) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["eventType"] = eventType

	if err := c.write(types.Message{Event: types.EventActivity, Data: payload}); err != nil {
		c.logger.Debug().Err(err).Str("event_type", eventType).Msg("report dropped")
	}
}

// session runs one connection. It reports whether the server acknowledged
// registration before the connection ended.
func (c *Client) session(ctx context.Context) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	// Unblock ReadJSON when the caller gives up.
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	if err := c.write(types.Message{
		Event: types.EventRegister,
		Data:  map[string]any{"clientId": c.clientID},
	}); err != nil {
		return false, err
	}

	go c.heartbeatLoop(sessionCtx, conn)

	registered := false
	for {
		var msg types.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return registered, err
		}

		switch msg.Event {
		case types.EventRegistered:
			registered = true
			connID, _ := msg.Data["connectionId"].(string)
			c.logger.Info().Str("connection_id", connID).Msg("registered")
			if c.onRegistered != nil {
				c.onRegistered(connID)
			}
		case types.EventError:
			if reason, _ := msg.Data["reason"].(string); reason == types.ReasonReplaced {
				c.logger.Warn().Msg("replaced by another connection")
				return registered, ErrReplaced
			}
			c.logger.Error().Interface("data", msg.Data).Msg("server rejected message")
		default:
			_ = c.interp.Handle(msg.Event, msg.Data)
			if msg.Event == string(command.KillSwitch) {
				return registered, ErrKilled
			}
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	if c.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}
			if err := c.write(types.Message{Event: types.EventHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(msg types.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}
