package uplink

import (
	"context"

	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

// ActivityWriter persists activity events.
type ActivityWriter interface {
	RecordActivity(ctx context.Context, ev types.ActivityEvent) error
}

// StoreSink writes events to the activity store.
type StoreSink struct {
	w ActivityWriter
}

func NewStoreSink(w ActivityWriter) *StoreSink { return &StoreSink{w: w} }

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Write(ctx context.Context, ev types.ActivityEvent) error {
	return s.w.RecordActivity(ctx, ev)
}

// LogSink logs every event.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "activity").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, ev types.ActivityEvent) error {
	s.logger.Info().
		Str("event_type", ev.EventType).
		Str("client_id", ev.ClientID).
		Str("user_id", ev.UserID).
		Time("occurred_at", ev.Timestamp).
		Interface("data", ev.Data).
		Msg("activity")
	return nil
}

// SessionWriter keeps the per-connection session log.
type SessionWriter interface {
	RecordConnect(ctx context.Context, clientID, connectionID string) error
	RecordDisconnect(ctx context.Context, clientID, connectionID string) error
}

// SessionSink turns presence events into session log entries. Other events
// are ignored.
type SessionSink struct {
	w SessionWriter
}

func NewSessionSink(w SessionWriter) *SessionSink { return &SessionSink{w: w} }

func (s *SessionSink) Name() string { return "sessions" }

func (s *SessionSink) Write(ctx context.Context, ev types.ActivityEvent) error {
	connectionID, _ := ev.Data["connectionId"].(string)
	switch ev.EventType {
	case EventClientConnected:
		return s.w.RecordConnect(ctx, ev.ClientID, connectionID)
	case EventClientDisconnected, EventClientReplaced:
		return s.w.RecordDisconnect(ctx, ev.ClientID, connectionID)
	}
	return nil
}

// PresenceEvent builds the activity event reported for a presence change.
func PresenceEvent(eventType string, p types.Presence) types.ActivityEvent {
	return types.ActivityEvent{
		EventType: eventType,
		ClientID:  p.ClientID,
		Data: map[string]any{
			"connectionId": p.ConnectionID,
			"registeredAt": p.RegisteredAt,
		},
	}
}
