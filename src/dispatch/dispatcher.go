package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/orchestra-mcp/relay/src/command"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrTransportUnavailable means the realtime server is not running yet
	// (or any more). Callers map it to 503.
	ErrTransportUnavailable = errors.New("realtime transport unavailable")
	ErrMissingTarget        = errors.New("targetClientId is required")
)

// Resolver looks up the connection serving a client.
type Resolver interface {
	Resolve(clientID string) (connectionID string, ok bool)
}

// Transport delivers events to connections.
type Transport interface {
	Available() bool
	SendTo(connectionID, event string, payload map[string]any) bool
	Broadcast(event string, payload map[string]any)
}

// Auditor records issued commands. Failures never affect the dispatch.
type Auditor interface {
	RecordCommand(ctx context.Context, cmd types.Command, result types.DispatchResult) error
}

// Dispatcher routes admin commands to dashboards. Delivery is best effort
// and immediate: nothing is queued for offline clients and nothing is retried.
type Dispatcher struct {
	registry  Resolver
	transport Transport
	auditor   Auditor
	logger    zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAuditor records every dispatch through a.
func WithAuditor(a Auditor) Option {
	return func(d *Dispatcher) { d.auditor = a }
}

// New creates a dispatcher over a registry and a transport.
func New(reg Resolver, t Transport, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  reg,
		transport: t,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates cmd against the command catalog and hands it to the
// transport. An offline target is a normal result (Delivered=false), not an
// error. Delivered=true means handed to the transport, not acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd types.Command) (types.DispatchResult, error) {
	cmd.TargetClientID = strings.TrimSpace(cmd.TargetClientID)
	if cmd.TargetClientID == "" {
		return types.DispatchResult{}, ErrMissingTarget
	}

	payload, err := command.Decode(cmd.Name, cmd.Payload)
	if err != nil {
		return types.DispatchResult{}, err
	}
	wire, err := command.Encode(payload)
	if err != nil {
		return types.DispatchResult{}, fmt.Errorf("%w: %v", command.ErrInvalidPayload, err)
	}

	if d.transport == nil || !d.transport.Available() {
		d.logger.Error().Str("command", cmd.Name).Msg("dispatch before transport is ready")
		return types.DispatchResult{}, ErrTransportUnavailable
	}

	result := d.route(cmd, wire)
	d.audit(ctx, cmd, result)
	return result, nil
}

func (d *Dispatcher) route(cmd types.Command, wire map[string]any) types.DispatchResult {
	log := d.logger.With().
		Str("command", cmd.Name).
		Str("target", cmd.TargetClientID).
		Str("issued_by", cmd.IssuedBy).
		Logger()

	if cmd.IsBroadcast() {
		d.transport.Broadcast(cmd.Name, wire)
		log.Info().Msg("command broadcast")
		return types.DispatchResult{Delivered: true}
	}

	connectionID, ok := d.registry.Resolve(cmd.TargetClientID)
	if !ok {
		log.Warn().Msg("target client offline, command dropped")
		return types.DispatchResult{Delivered: false, Reason: types.ReasonClientOffline}
	}

	if !d.transport.SendTo(connectionID, cmd.Name, wire) {
		// Lost to a disconnect race or a full buffer after a successful
		// lookup; still reported as handed off.
		log.Warn().Str("connection_id", connectionID).Msg("transport dropped command")
	} else {
		log.Info().Str("connection_id", connectionID).Msg("command sent")
	}
	return types.DispatchResult{Delivered: true}
}

func (d *Dispatcher) audit(ctx context.Context, cmd types.Command, result types.DispatchResult) {
	if d.auditor == nil {
		return
	}
	if err := d.auditor.RecordCommand(ctx, cmd, result); err != nil {
		d.logger.Error().Err(err).Str("command", cmd.Name).Msg("command audit failed")
	}
}
