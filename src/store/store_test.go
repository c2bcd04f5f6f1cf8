package store

import (
	"context"
	"testing"
	"time"

	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.StoreConfig{Driver: "sqlite", DSN: ":memory:"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenDrivers(t *testing.T) {
	_, err := Open(config.StoreConfig{Driver: "none"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Open(config.StoreConfig{Driver: "mongo"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRecordActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordActivity(ctx, types.ActivityEvent{
		EventType: "login", ClientID: "c-1", UserID: "u-1", Timestamp: base,
		Data: map[string]any{"page": "home"},
	}))
	require.NoError(t, s.RecordActivity(ctx, types.ActivityEvent{
		EventType: "click", ClientID: "c-2", Timestamp: base.Add(time.Minute),
	}))
	require.NoError(t, s.RecordActivity(ctx, types.ActivityEvent{
		EventType: "login", ClientID: "c-2", Timestamp: base.Add(2 * time.Minute),
	}))

	all, err := s.RecentActivity(ctx, ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c-2", all[0].ClientID, "newest first")
	assert.Equal(t, `{"page":"home"}`, all[2].Data)

	logins, err := s.RecentActivity(ctx, ActivityFilter{EventType: "login"})
	require.NoError(t, err)
	assert.Len(t, logins, 2)

	c2, err := s.RecentActivity(ctx, ActivityFilter{ClientID: "c-2", Limit: 1})
	require.NoError(t, err)
	require.Len(t, c2, 1)
	assert.Equal(t, "login", c2[0].EventType)
}

func TestRecordActivityDefaultsTimestamp(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.RecordActivity(context.Background(), types.ActivityEvent{EventType: "x", ClientID: "c"}))
	recs, err := s.RecentActivity(context.Background(), ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, fixed.Equal(recs[0].OccurredAt))
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return start }
	require.NoError(t, s.RecordConnect(ctx, "c-1", "conn-1"))

	s.now = func() time.Time { return start.Add(90 * time.Second) }
	require.NoError(t, s.RecordDisconnect(ctx, "c-1", "conn-1"))

	// Already closed, and unknown: both fine.
	require.NoError(t, s.RecordDisconnect(ctx, "c-1", "conn-1"))
	require.NoError(t, s.RecordDisconnect(ctx, "c-9", "conn-9"))

	sessions, err := s.Sessions(ctx, "c-1", 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].DisconnectedAt)
	require.NotNil(t, sessions[0].OnlineSeconds)
	assert.Equal(t, int64(90), *sessions[0].OnlineSeconds)
}

func TestCloseOpenSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }

	require.NoError(t, s.RecordConnect(ctx, "c-1", "conn-1"))
	require.NoError(t, s.RecordConnect(ctx, "c-2", "conn-2"))
	require.NoError(t, s.RecordDisconnect(ctx, "c-2", "conn-2"))

	n, err := s.CloseOpenSessions(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sessions, err := s.Sessions(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, sess := range sessions {
		assert.NotNil(t, sess.DisconnectedAt, sess.ClientID)
	}
}

func TestRecordCommand(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordCommand(ctx,
		types.Command{TargetClientID: "c-1", Name: "setZoom", Payload: map[string]any{"level": 1.5}, IssuedBy: "admin"},
		types.DispatchResult{Delivered: true}))
	require.NoError(t, s.RecordCommand(ctx,
		types.Command{TargetClientID: "c-2", Name: "logout"},
		types.DispatchResult{Delivered: false, Reason: types.ReasonClientOffline}))

	audits, err := s.RecentCommands(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "logout", audits[0].Command)
	assert.False(t, audits[0].Delivered)
	assert.Equal(t, types.ReasonClientOffline, audits[0].Reason)
	assert.Equal(t, `{"level":1.5}`, audits[1].Payload)
	assert.Equal(t, "admin", audits[1].IssuedBy)
}

func TestLimitOrDefault(t *testing.T) {
	assert.Equal(t, defaultLimit, limitOrDefault(0))
	assert.Equal(t, 5, limitOrDefault(5))
	assert.Equal(t, maxLimit, limitOrDefault(5000))
}
