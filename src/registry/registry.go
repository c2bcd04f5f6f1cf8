package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

// Closer force-closes a transport connection. The registry never owns
// connections; it asks the transport to drop a displaced one.
type Closer interface {
	CloseConnection(connectionID string)
}

// Hook observes presence changes.
type Hook func(p types.Presence)

// ReplaceHook observes a clientID moving to a new connection.
type ReplaceHook func(old types.Presence, current types.Presence)

type entry struct {
	connectionID string
	registeredAt time.Time
	lastSeenAt   time.Time
}

// Registry maps dashboard client IDs to the transport connection serving them.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry // clientID -> entry
	closer  Closer
	now     func() time.Time
	logger  zerolog.Logger

	onRegister   []Hook
	onUnregister []Hook
	onReplace    []ReplaceHook
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// SetCloser attaches the transport used to close displaced connections.
func (r *Registry) SetCloser(c Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closer = c
}

// OnRegister registers a callback for new registrations.
func (r *Registry) OnRegister(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRegister = append(r.onRegister, h)
}

// OnUnregister registers a callback for removals.
func (r *Registry) OnUnregister(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnregister = append(r.onUnregister, h)
}

// OnReplace registers a callback for last-registration-wins replacements.
func (r *Registry) OnReplace(h ReplaceHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReplace = append(r.onReplace, h)
}

// Register maps clientID to connectionID. A different connection previously
// holding clientID is closed through the Closer. Registering the same pair
// again only refreshes lastSeenAt and fires no hooks.
func (r *Registry) Register(clientID, connectionID string) {
	now := r.now()

	r.mu.Lock()
	old, existed := r.entries[clientID]
	var displaced types.Presence
	replaced := existed && old.connectionID != connectionID
	if replaced {
		displaced = presence(clientID, old)
	}
	e := &entry{connectionID: connectionID, registeredAt: now, lastSeenAt: now}
	if existed && !replaced {
		// Same connection registering again keeps its original timestamp.
		e.registeredAt = old.registeredAt
	}
	r.entries[clientID] = e
	current := presence(clientID, e)
	closer := r.closer
	onRegister := r.onRegister
	onReplace := r.onReplace
	total := len(r.entries)
	r.mu.Unlock()

	// Close outside the lock: the transport may call back into Unregister.
	if replaced {
		r.logger.Warn().
			Str("client_id", clientID).
			Str("old_connection_id", displaced.ConnectionID).
			Str("connection_id", connectionID).
			Msg("client re-registered, closing previous connection")
		if closer != nil {
			closer.CloseConnection(displaced.ConnectionID)
		}
		for _, h := range onReplace {
			h(displaced, current)
		}
	}

	if existed && !replaced {
		// A repeated register is not a new session.
		return
	}

	r.logger.Info().
		Str("client_id", clientID).
		Str("connection_id", connectionID).
		Int("total", total).
		Msg("client registered")

	for _, h := range onRegister {
		h(current)
	}
}

// Unregister removes whichever clientID is mapped to connectionID.
// Unknown connections are a no-op.
func (r *Registry) Unregister(connectionID string) (string, bool) {
	r.mu.Lock()
	var (
		clientID string
		removed  types.Presence
		found    bool
	)
	for id, e := range r.entries {
		if e.connectionID == connectionID {
			clientID = id
			removed = presence(id, e)
			found = true
			delete(r.entries, id)
			break
		}
	}
	onUnregister := r.onUnregister
	total := len(r.entries)
	r.mu.Unlock()

	if !found {
		return "", false
	}

	r.logger.Info().
		Str("client_id", clientID).
		Str("connection_id", connectionID).
		Int("total", total).
		Msg("client unregistered")

	for _, h := range onUnregister {
		h(removed)
	}
	return clientID, true
}

// Resolve returns the connection currently serving clientID.
// ok is false when the client is offline.
func (r *Registry) Resolve(clientID string) (connectionID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[clientID]
	if !ok {
		return "", false
	}
	return e.connectionID, true
}

// ClientFor returns the clientID registered on connectionID.
func (r *Registry) ClientFor(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.connectionID == connectionID {
			return id, true
		}
	}
	return "", false
}

// Touch refreshes lastSeenAt for the client on connectionID.
func (r *Registry) Touch(connectionID string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.connectionID == connectionID {
			e.lastSeenAt = now
			return
		}
	}
}

// ListConnected returns a snapshot of registered clients sorted by ID.
func (r *Registry) ListConnected() []types.Presence {
	r.mu.Lock()
	out := make([]types.Presence, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, presence(id, e))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func presence(clientID string, e *entry) types.Presence {
	return types.Presence{
		ClientID:     clientID,
		ConnectionID: e.connectionID,
		RegisteredAt: e.registeredAt,
		LastSeenAt:   e.lastSeenAt,
	}
}
