package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/orchestra-mcp/relay/src/dispatch"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/registry"
	"github.com/orchestra-mcp/relay/src/store"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/orchestra-mcp/relay/src/uplink"
	"github.com/rs/zerolog"
)

// ErrNoStore is returned by history queries when persistence is disabled.
var ErrNoStore = errors.New("activity store disabled")

// History is the read side of the activity store.
type History interface {
	RecentActivity(ctx context.Context, f store.ActivityFilter) ([]store.ActivityRecord, error)
	RecentCommands(ctx context.Context, limit int) ([]store.CommandAudit, error)
	Sessions(ctx context.Context, clientID string, limit int) ([]store.ConnectionLog, error)
}

// Service is the relay API used by the HTTP layer: command dispatch,
// presence and activity.
type Service struct {
	hub        *hub.Hub
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	ingestor   *uplink.Ingestor
	history    History
	logger     zerolog.Logger
}

// New creates a service. history may be nil.
func New(h *hub.Hub, reg *registry.Registry, d *dispatch.Dispatcher, ing *uplink.Ingestor, history History, logger zerolog.Logger) *Service {
	return &Service{
		hub:        h,
		registry:   reg,
		dispatcher: d,
		ingestor:   ing,
		history:    history,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// Available reports whether the realtime transport is running.
func (s *Service) Available() bool { return s.hub.Available() }

// Dispatch routes an admin command.
func (s *Service) Dispatch(ctx context.Context, cmd types.Command) (types.DispatchResult, error) {
	return s.dispatcher.Dispatch(ctx, cmd)
}

// Online returns every registered dashboard. A positive window keeps only
// dashboards seen within it.
func (s *Service) Online(window time.Duration) []types.Presence {
	all := s.registry.ListConnected()
	if window <= 0 {
		return all
	}
	cutoff := time.Now().Add(-window)
	online := make([]types.Presence, 0, len(all))
	for _, p := range all {
		if p.LastSeenAt.After(cutoff) {
			online = append(online, p)
		}
	}
	return online
}

// Connections returns every open socket, registered or not.
func (s *Service) Connections() []types.ConnectionInfo {
	return s.hub.Connections()
}

// RegisteredCount returns the number of registered dashboards.
func (s *Service) RegisteredCount() int { return s.registry.Count() }

// Ingest accepts an activity event from the uplink. It never blocks.
func (s *Service) Ingest(ev types.ActivityEvent) bool {
	return s.ingestor.Ingest(ev)
}

// HandleActivityMessage is the hub handler for activity events sent over
// the socket instead of POST /events.
func (s *Service) HandleActivityMessage(clientID string, msg types.Message) error {
	data := make(map[string]any, len(msg.Data))
	for k, v := range msg.Data {
		data[k] = v
	}
	eventType, _ := data["eventType"].(string)
	userID, _ := data["userId"].(string)
	delete(data, "eventType")
	delete(data, "userId")

	if clientID == "" {
		s.logger.Debug().Str("connection_id", msg.ConnectionID).Str("event_type", eventType).Msg("activity from unregistered connection")
	}
	s.Ingest(types.ActivityEvent{
		EventType: strings.TrimSpace(eventType),
		ClientID:  clientID,
		UserID:    userID,
		Timestamp: msg.Timestamp,
		Data:      data,
	})
	return nil
}

// RecentActivity returns stored activity, newest first.
func (s *Service) RecentActivity(ctx context.Context, f store.ActivityFilter) ([]store.ActivityRecord, error) {
	if s.history == nil {
		return nil, ErrNoStore
	}
	return s.history.RecentActivity(ctx, f)
}

// RecentCommands returns the command audit trail, newest first.
func (s *Service) RecentCommands(ctx context.Context, limit int) ([]store.CommandAudit, error) {
	if s.history == nil {
		return nil, ErrNoStore
	}
	return s.history.RecentCommands(ctx, limit)
}

// Sessions returns the connection history of a dashboard.
func (s *Service) Sessions(ctx context.Context, clientID string, limit int) ([]store.ConnectionLog, error) {
	if s.history == nil {
		return nil, ErrNoStore
	}
	return s.history.Sessions(ctx, clientID, limit)
}
