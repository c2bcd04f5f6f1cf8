package providers

import (
	"github.com/orchestra-mcp/relay/src/bridge"
	"github.com/orchestra-mcp/relay/src/dispatch"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/registry"
	"github.com/orchestra-mcp/relay/src/service"
	"github.com/orchestra-mcp/relay/src/store"
	"github.com/orchestra-mcp/relay/src/uplink"
)

// Compile-time interface assertions.
var (
	_ hub.Registry           = (*registry.Registry)(nil)
	_ registry.Closer        = (*hub.Hub)(nil)
	_ dispatch.Resolver      = (*registry.Registry)(nil)
	_ dispatch.Transport     = (*hub.Hub)(nil)
	_ dispatch.Auditor       = (*store.Store)(nil)
	_ bridge.BroadcastTarget = (*hub.Hub)(nil)
	_ service.History        = (*store.Store)(nil)
	_ uplink.ActivityWriter  = (*store.Store)(nil)
	_ uplink.SessionWriter   = (*store.Store)(nil)
	_ uplink.Sink            = (*uplink.DiscordSink)(nil)
)
