package hub

import (
	"strings"
	"time"

	"github.com/orchestra-mcp/relay/src/types"
)

func (h *Hub) handleMessage(msg types.Message) {
	h.mu.RLock()
	client, alive := h.clients[msg.ConnectionID]
	h.mu.RUnlock()
	if !alive || client.IsClosed() {
		// The connection closed while this message was queued. A replaced
		// connection stays in h.clients until its read pump exits, so the
		// closed flag is what keeps it from registering again.
		h.logger.Debug().Str("connection_id", msg.ConnectionID).Str("event", msg.Event).Msg("message from closed connection dropped")
		return
	}

	if h.registry != nil {
		h.registry.Touch(msg.ConnectionID)
	}

	switch msg.Event {
	case types.EventRegister:
		h.handleRegister(client, msg)
		return
	case types.EventHeartbeat:
		return
	}

	msg.ClientID = client.ClientID()

	h.mu.RLock()
	handler, ok := h.handlers[msg.Event]
	h.mu.RUnlock()

	if !ok {
		h.logger.Debug().Str("event", msg.Event).Str("connection_id", msg.ConnectionID).Msg("no handler")
		return
	}
	if err := handler(msg.ClientID, msg); err != nil {
		h.logger.Error().Err(err).Str("event", msg.Event).Msg("handler error")
	}
}

// handleRegister binds a connection to the clientID it announces. A
// connection that has not registered cannot receive targeted commands.
func (h *Hub) handleRegister(c *Client, msg types.Message) {
	clientID, _ := msg.Data["clientId"].(string)
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		h.logger.Warn().Str("connection_id", c.ID).Msg("register without clientId")
		c.enqueue(types.Message{
			Event:     types.EventError,
			Data:      map[string]any{"reason": types.ReasonClientIDRequired},
			Timestamp: time.Now(),
		})
		h.reportError(c, types.ReasonClientIDRequired)
		return
	}

	if h.registry != nil {
		if prev := c.ClientID(); prev != "" && prev != clientID {
			h.registry.Unregister(c.ID)
		}
		h.registry.Register(clientID, c.ID)
	}
	c.setClientID(clientID)

	c.enqueue(types.Message{
		Event:     types.EventRegistered,
		ClientID:  clientID,
		Data:      map[string]any{"clientId": clientID, "connectionId": c.ID},
		Timestamp: time.Now(),
	})
}

func (h *Hub) reportError(c *Client, reason string) {
	h.mu.RLock()
	cbs := h.onError
	h.mu.RUnlock()

	info := c.Info()
	for _, cb := range cbs {
		cb(info, reason)
	}
}

func (h *Hub) broadcastToAll(msg types.Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(msg) {
			h.logger.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping")
		}
	}
}

// publishToBridge forwards a message to the bridge if one is attached.
func (h *Hub) publishToBridge(msg types.Message) {
	h.mu.RLock()
	b := h.bridge
	h.mu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	if err := b.Publish(msg); err != nil {
		h.logger.Error().Err(err).Msg("bridge publish failed")
	}
}

// Broadcast pushes an event to every open connection on this instance and,
// through the bridge, on every other instance.
func (h *Hub) Broadcast(event string, payload map[string]any) {
	msg := types.Message{
		Channel:   "broadcast",
		Event:     event,
		Data:      payload,
		Timestamp: time.Now(),
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// SendTo pushes an event to one connection. It is a silent no-op (false)
// when the connection is gone or its buffer is full.
func (h *Hub) SendTo(connectionID, event string, payload map[string]any) bool {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.enqueue(types.Message{
		Channel:   "command",
		Event:     event,
		Data:      payload,
		ClientID:  client.ClientID(),
		Timestamp: time.Now(),
	})
}
