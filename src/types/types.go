package types

import "time"

// BroadcastTarget is the Command target that addresses every connected client.
const BroadcastTarget = "ALL"

// Inbound event names sent by dashboards.
const (
	EventRegister  = "register"
	EventHeartbeat = "heartbeat"
	EventActivity  = "event"
)

// Outbound event names sent by the server that are not admin commands.
const (
	EventRegistered = "registered"
	EventError      = "error"
)

// Message is a WebSocket message.
type Message struct {
	Channel      string         `json:"channel,omitempty"`
	Event        string         `json:"event"`
	Data         map[string]any `json:"data,omitempty"`
	ClientID     string         `json:"client_id,omitempty"`
	ConnectionID string         `json:"-"`
	Timestamp    time.Time      `json:"timestamp"`
}

// MessageHandler handles an inbound message. clientID is empty for
// connections that have not registered yet.
type MessageHandler func(clientID string, msg Message) error

// Presence describes one registered dashboard.
type Presence struct {
	ClientID     string    `json:"clientId"`
	ConnectionID string    `json:"connectionId"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// ConnectionInfo holds metadata about one open WebSocket connection.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	RemoteAddr  string    `json:"remoteAddr,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
}

// Command is an admin-issued instruction for one dashboard or for all of them.
type Command struct {
	TargetClientID string         `json:"targetClientId"`
	Name           string         `json:"command"`
	Payload        map[string]any `json:"payload,omitempty"`
	IssuedBy       string         `json:"-"`
}

// IsBroadcast reports whether the command addresses every client.
func (c Command) IsBroadcast() bool { return c.TargetClientID == BroadcastTarget }

// DispatchResult is the outcome of routing a Command.
type DispatchResult struct {
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason,omitempty"`
}

// Reasons carried by DispatchResult and by server "error" events.
const (
	// ReasonClientOffline is reported when the target is not in the registry.
	ReasonClientOffline = "client_offline"
	// ReasonClientIDRequired rejects a register without a clientId.
	ReasonClientIDRequired = "client_id_required"
	// ReasonReplaced is sent to a connection before it is closed because the
	// same clientId registered elsewhere.
	ReasonReplaced = "replaced"
)

// ActivityEvent is a fact reported by a dashboard.
type ActivityEvent struct {
	EventType string         `json:"eventType"`
	ClientID  string         `json:"clientId"`
	UserID    string         `json:"userId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Ping() error
	Close() error
}
