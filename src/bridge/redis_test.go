package bridge

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcastTarget records messages forwarded from the bridge.
type mockBroadcastTarget struct {
	mu       sync.Mutex
	received []types.Message
}

func (m *mockBroadcastTarget) BroadcastToLocal(msg types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, msg)
}

func newTestBridge(t *testing.T) (*RedisBridge, *mockBroadcastTarget) {
	t.Helper()
	target := &mockBroadcastTarget{}
	return NewRedisBridge(config.Default().Redis, target, zerolog.Nop()), target
}

func envelope(t *testing.T, env commandEnvelope) string {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return string(data)
}

func TestRelayForwardsCommandsFromOtherInstances(t *testing.T) {
	rb, target := newTestBridge(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rb.relay(envelope(t, commandEnvelope{
		Origin:   "node-2",
		Command:  "setAnnouncement",
		Payload:  map[string]any{"text": "maintenance at noon", "isActive": true},
		IssuedAt: issued,
	}))

	require.Len(t, target.received, 1)
	msg := target.received[0]
	assert.Equal(t, "setAnnouncement", msg.Event)
	assert.Equal(t, "broadcast", msg.Channel)
	assert.Equal(t, "maintenance at noon", msg.Data["text"])
	assert.True(t, issued.Equal(msg.Timestamp))
	assert.Equal(t, Stats{Relayed: 1}, rb.Stats())
}

func TestRelaySkipsOwnInstance(t *testing.T) {
	rb, target := newTestBridge(t)

	rb.relay(envelope(t, commandEnvelope{Origin: rb.instanceID, Command: "restart"}))

	assert.Empty(t, target.received)
	assert.Equal(t, Stats{}, rb.Stats())
}

func TestRelayRejectsUnknownAndMalformed(t *testing.T) {
	rb, target := newTestBridge(t)

	rb.relay("not json")
	rb.relay(envelope(t, commandEnvelope{Origin: "node-2", Command: "formatDisk"}))
	rb.relay(envelope(t, commandEnvelope{Origin: "node-2", Command: "setZoom", Payload: map[string]any{"level": 9.0}}))

	assert.Empty(t, target.received)
	assert.Equal(t, int64(3), rb.Stats().Rejected)
}

func TestRelayFillsMissingTimestamp(t *testing.T) {
	rb, target := newTestBridge(t)

	rb.relay(envelope(t, commandEnvelope{Origin: "node-2", Command: "logout"}))

	require.Len(t, target.received, 1)
	assert.False(t, target.received[0].Timestamp.IsZero())
	assert.Nil(t, target.received[0].Data)
}

func TestEnvelopeCarriesOnlyTheCommand(t *testing.T) {
	data, err := json.Marshal(commandEnvelope{Origin: "node-1", Command: "logout"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"origin":"node-1","command":"logout","issuedAt":"0001-01-01T00:00:00Z"}`, string(data))
}

func TestRedisBridgeChannelUsesPrefix(t *testing.T) {
	cfg := config.Default().Redis
	cfg.Prefix = "test:relay:"
	rb := NewRedisBridge(cfg, &mockBroadcastTarget{}, zerolog.Nop())
	assert.Equal(t, "test:relay:commands", rb.channel)
}

func TestRedisBridgeAvailableFalseBeforeStart(t *testing.T) {
	rb, _ := newTestBridge(t)
	assert.False(t, rb.Available())
}

func TestRedisBridgeInstanceIDUnique(t *testing.T) {
	b1, _ := newTestBridge(t)
	b2, _ := newTestBridge(t)
	assert.NotEqual(t, b1.instanceID, b2.instanceID)
}

func TestRedisBridgeStartFailsWithoutServer(t *testing.T) {
	cfg := config.Default().Redis
	cfg.Addr = "127.0.0.1:1"
	rb := NewRedisBridge(cfg, &mockBroadcastTarget{}, zerolog.Nop())
	t.Cleanup(func() { _ = rb.Stop() })

	assert.Error(t, rb.Start())
	assert.False(t, rb.Available())
}
