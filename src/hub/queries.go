package hub

import (
	"sort"

	"github.com/orchestra-mcp/relay/src/types"
)

// RegisterHandler registers a handler for an inbound event name.
func (h *Hub) RegisterHandler(event string, handler types.MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = handler
}

// OnConnection registers a callback for new connections.
func (h *Hub) OnConnection(cb func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, cb)
}

// OnDisconnection registers a callback for disconnections.
func (h *Hub) OnDisconnection(cb func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconn = append(h.onDisconn, cb)
}

// OnClientError registers a callback for protocol errors a connection
// caused, such as registering without a clientId. It runs on the event loop.
func (h *Hub) OnClientError(cb func(info types.ConnectionInfo, reason string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, cb)
}

// Connections returns metadata for every open connection, oldest first.
func (h *Hub) Connections() []types.ConnectionInfo {
	h.mu.RLock()
	infos := make([]types.ConnectionInfo, 0, len(h.clients))
	for _, c := range h.clients {
		infos = append(infos, c.Info())
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// ConnectionInfo returns info for an open connection, or nil.
func (h *Hub) ConnectionInfo(connectionID string) *types.ConnectionInfo {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	info := client.Info()
	return &info
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
