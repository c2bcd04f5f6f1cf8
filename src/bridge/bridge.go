// Package bridge carries broadcast commands between relay instances.
// Targeted commands never cross it: the registry is per instance.
package bridge

import "github.com/orchestra-mcp/relay/src/types"

// Bridge relays broadcast commands between relay instances so that a
// dashboard connected to any instance receives "ALL" commands.
type Bridge interface {
	// Publish sends a broadcast command to all other instances.
	Publish(msg types.Message) error

	// Start begins listening for commands from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool

	// Stats reports traffic since Start.
	Stats() Stats
}

// BroadcastTarget is implemented by the Hub to receive messages from the bridge.
type BroadcastTarget interface {
	BroadcastToLocal(msg types.Message)
}

var _ Bridge = (*RedisBridge)(nil)
