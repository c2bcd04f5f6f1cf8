package hub_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/registry"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn implements types.Conn for testing without a real WebSocket.
type mockConn struct {
	mu       sync.Mutex
	written  []types.Message
	pings    int
	readCh   chan types.Message
	closed   bool
	closedCh chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:   make(chan types.Message, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	if msg, ok := v.(types.Message); ok {
		m.written = append(m.written, msg)
	}
	return nil
}

func (m *mockConn) ReadJSON(v any) error {
	select {
	case msg := <-m.readCh:
		if ptr, ok := v.(*types.Message); ok {
			*ptr = msg
		}
		return nil
	case <-m.closedCh:
		return errClosed
	}
}

func (m *mockConn) Ping() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) getWritten() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]types.Message, len(m.written))
	copy(cp, m.written)
	return cp
}

func (m *mockConn) eventsNamed(event string) []types.Message {
	var out []types.Message
	for _, msg := range m.getWritten() {
		if msg.Event == event {
			out = append(out, msg)
		}
	}
	return out
}

var errClosed = errors.New("connection closed")

// newTestHub creates a hub with a real registry and starts its event loop.
func newTestHub(t *testing.T, opts ...hub.Option) (*hub.Hub, *registry.Registry) {
	t.Helper()
	logger := zerolog.Nop()
	reg := registry.New(logger)
	h := hub.New(reg, logger, opts...)
	reg.SetCloser(h)
	go h.Run()
	require.Eventually(t, h.Available, time.Second, 5*time.Millisecond)
	t.Cleanup(h.Stop)
	return h, reg
}

// connect creates a connection, registers it with the hub and runs both pumps.
func connect(t *testing.T, h *hub.Hub, id string) (*hub.Client, *mockConn) {
	t.Helper()
	conn := newMockConn()
	client := hub.NewClient(id, conn, h)
	require.True(t, h.Register(client))
	go client.WritePump()
	go client.ReadPump()
	require.Eventually(t, func() bool { return h.ConnectionInfo(id) != nil }, time.Second, 5*time.Millisecond)
	return client, conn
}

func announce(conn *mockConn, clientID string) {
	conn.readCh <- types.Message{Event: types.EventRegister, Data: map[string]any{"clientId": clientID}}
}

func waitResolved(t *testing.T, reg *registry.Registry, clientID, connectionID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := reg.Resolve(clientID)
		return ok && got == connectionID
	}, time.Second, 5*time.Millisecond)
}

func TestHubConnectAndDisconnect(t *testing.T) {
	h, reg := newTestHub(t)

	_, conn1 := connect(t, h, "conn-1")
	_, _ = connect(t, h, "conn-2")
	assert.Equal(t, 2, h.ConnectionCount())

	announce(conn1, "u1")
	waitResolved(t, reg, "u1", "conn-1")

	conn1.Close()
	require.Eventually(t, func() bool { return h.ConnectionInfo("conn-1") == nil }, time.Second, 5*time.Millisecond)

	_, ok := reg.Resolve("u1")
	assert.False(t, ok, "registry must not report a closed connection as live")
	assert.Equal(t, 1, h.ConnectionCount())
}

func TestRegisterBindsClientAndAcks(t *testing.T) {
	h, reg := newTestHub(t)
	client, conn := connect(t, h, "conn-1")

	announce(conn, "u42")
	waitResolved(t, reg, "u42", "conn-1")

	require.Eventually(t, func() bool { return len(conn.eventsNamed(types.EventRegistered)) == 1 }, time.Second, 5*time.Millisecond)
	ack := conn.eventsNamed(types.EventRegistered)[0]
	assert.Equal(t, "u42", ack.Data["clientId"])
	assert.Equal(t, "conn-1", ack.Data["connectionId"])
	assert.Equal(t, "u42", client.ClientID())
}

func TestRegisterWithoutClientIDStaysAnonymous(t *testing.T) {
	h, reg := newTestHub(t)
	_, conn := connect(t, h, "conn-1")

	conn.readCh <- types.Message{Event: types.EventRegister, Data: map[string]any{}}

	require.Eventually(t, func() bool { return len(conn.eventsNamed(types.EventError)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "client_id_required", conn.eventsNamed(types.EventError)[0].Data["reason"])
	assert.Equal(t, 0, reg.Count())
}

func TestSecondTabReplacesFirst(t *testing.T) {
	h, reg := newTestHub(t)

	_, first := connect(t, h, "tab-1")
	announce(first, "u42")
	waitResolved(t, reg, "u42", "tab-1")

	_, second := connect(t, h, "tab-2")
	announce(second, "u42")
	waitResolved(t, reg, "u42", "tab-2")

	require.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.ConnectionInfo("tab-1") == nil }, time.Second, 5*time.Millisecond)
	notices := first.eventsNamed(types.EventError)
	require.Len(t, notices, 1)
	assert.Equal(t, types.ReasonReplaced, notices[0].Data["reason"])

	connID, ok := reg.Resolve("u42")
	require.True(t, ok)
	assert.True(t, h.SendTo(connID, "setTheme", map[string]any{"theme": "dark"}))

	require.Eventually(t, func() bool { return len(second.eventsNamed("setTheme")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, first.eventsNamed("setTheme"))
	assert.False(t, second.isClosed())
}

func TestReplacedConnectionCannotRegisterAgain(t *testing.T) {
	h, reg := newTestHub(t)

	// tab-1 has no write pump, so its socket stays open after the server
	// closes it, like a slow peer whose read pump has not noticed yet.
	first := newMockConn()
	stalled := hub.NewClient("tab-1", first, h)
	require.True(t, h.Register(stalled))
	go stalled.ReadPump()
	announce(first, "u42")
	waitResolved(t, reg, "u42", "tab-1")

	_, second := connect(t, h, "tab-2")
	announce(second, "u42")
	waitResolved(t, reg, "u42", "tab-2")
	require.Eventually(t, stalled.IsClosed, time.Second, 5*time.Millisecond)

	announce(first, "u42")
	require.Eventually(t, func() bool { return len(first.readCh) == 0 }, time.Second, 5*time.Millisecond)

	assert.Never(t, func() bool {
		got, ok := reg.Resolve("u42")
		return !ok || got != "tab-2"
	}, 100*time.Millisecond, 5*time.Millisecond)
	assert.False(t, second.isClosed())
	assert.Empty(t, second.eventsNamed(types.EventError))
}

func TestRegisterWithoutClientIDReportsError(t *testing.T) {
	h, _ := newTestHub(t)

	reasons := make(chan string, 1)
	var from string
	h.OnClientError(func(info types.ConnectionInfo, reason string) {
		from = info.ID
		reasons <- reason
	})

	_, conn := connect(t, h, "conn-1")
	conn.readCh <- types.Message{Event: types.EventRegister, Data: map[string]any{"clientId": " "}}

	select {
	case reason := <-reasons:
		assert.Equal(t, types.ReasonClientIDRequired, reason)
		assert.Equal(t, "conn-1", from)
	case <-time.After(time.Second):
		t.Fatal("no client error reported")
	}
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	h, _ := newTestHub(t)
	_, conn1 := connect(t, h, "c1")
	_, conn2 := connect(t, h, "c2")

	h.Broadcast("setAnnouncement", map[string]any{"text": "hello", "isActive": true})

	require.Eventually(t, func() bool {
		return len(conn1.eventsNamed("setAnnouncement")) == 1 && len(conn2.eventsNamed("setAnnouncement")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", conn1.eventsNamed("setAnnouncement")[0].Data["text"])
}

func TestBroadcastWithNoConnections(t *testing.T) {
	h, _ := newTestHub(t)
	assert.NotPanics(t, func() {
		h.Broadcast("logout", nil)
	})
	assert.Equal(t, 0, h.ConnectionCount())
}

func TestSendToPreservesOrder(t *testing.T) {
	h, _ := newTestHub(t)
	_, conn := connect(t, h, "c1")

	for i := 0; i < 10; i++ {
		require.True(t, h.SendTo("c1", "setClickCount", map[string]any{"count": i}))
	}

	require.Eventually(t, func() bool { return len(conn.eventsNamed("setClickCount")) == 10 }, time.Second, 5*time.Millisecond)
	for i, msg := range conn.eventsNamed("setClickCount") {
		assert.Equal(t, i, msg.Data["count"])
	}
}

func TestSendToUnknownConnection(t *testing.T) {
	h, _ := newTestHub(t)
	assert.False(t, h.SendTo("nonexistent", "logout", nil))
}

func TestHandlerInvocation(t *testing.T) {
	h, reg := newTestHub(t)

	var mu sync.Mutex
	var receivedFrom string
	var received types.Message
	h.RegisterHandler(types.EventActivity, func(clientID string, msg types.Message) error {
		mu.Lock()
		defer mu.Unlock()
		receivedFrom = clientID
		received = msg
		return nil
	})

	_, conn := connect(t, h, "sender")
	announce(conn, "u7")
	waitResolved(t, reg, "u7", "sender")

	conn.readCh <- types.Message{
		Event: types.EventActivity,
		Data:  map[string]any{"eventType": "buttonClick"},
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return receivedFrom != ""
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "u7", receivedFrom)
	assert.Equal(t, "sender", received.ConnectionID)
	assert.Equal(t, "buttonClick", received.Data["eventType"])
}

func TestHeartbeatTouchesPresence(t *testing.T) {
	h, reg := newTestHub(t)
	_, conn := connect(t, h, "c1")
	announce(conn, "u1")
	waitResolved(t, reg, "u1", "c1")

	before := reg.ListConnected()[0].LastSeenAt
	time.Sleep(10 * time.Millisecond)
	conn.readCh <- types.Message{Event: types.EventHeartbeat}

	require.Eventually(t, func() bool {
		return reg.ListConnected()[0].LastSeenAt.After(before)
	}, time.Second, 5*time.Millisecond)
}

func TestConnectionCallbacks(t *testing.T) {
	h, _ := newTestHub(t)

	var mu sync.Mutex
	var connectedID, disconnectedID string
	h.OnConnection(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		connectedID = id
	})
	h.OnDisconnection(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		disconnectedID = id
	})

	client, _ := connect(t, h, "cb-client")
	h.Unregister(client)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connectedID == "cb-client" && disconnectedID == "cb-client"
	}, time.Second, 5*time.Millisecond)
}

func TestCloseConnectionUnregisters(t *testing.T) {
	h, reg := newTestHub(t)
	_, conn := connect(t, h, "c1")
	announce(conn, "u1")
	waitResolved(t, reg, "u1", "c1")

	h.CloseConnection("c1")

	require.Eventually(t, func() bool {
		_, ok := reg.Resolve("u1")
		return !ok && h.ConnectionCount() == 0
	}, time.Second, 5*time.Millisecond)
	assert.True(t, conn.isClosed())
}

func TestPingsSentOnInterval(t *testing.T) {
	h, _ := newTestHub(t, hub.WithPingInterval(10*time.Millisecond))
	_, conn := connect(t, h, "c1")

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.pings >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestAvailableFollowsLifecycle(t *testing.T) {
	logger := zerolog.Nop()
	h := hub.New(registry.New(logger), logger)
	assert.False(t, h.Available())

	go h.Run()
	require.Eventually(t, h.Available, time.Second, 5*time.Millisecond)

	h.Stop()
	assert.False(t, h.Available())
	assert.NotPanics(t, h.Stop)
}

func TestStopClosesConnections(t *testing.T) {
	logger := zerolog.Nop()
	reg := registry.New(logger)
	h := hub.New(reg, logger)
	reg.SetCloser(h)
	go h.Run()
	require.Eventually(t, h.Available, time.Second, 5*time.Millisecond)

	_, conn := connect(t, h, "c1")
	announce(conn, "u1")
	waitResolved(t, reg, "u1", "c1")

	var unregistered []string
	reg.OnUnregister(func(p types.Presence) { unregistered = append(unregistered, p.ClientID) })

	h.Stop()
	// Stop returns only once the loop has unregistered every connection.
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, []string{"u1"}, unregistered)
	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
}

type mockBridge struct {
	mu        sync.Mutex
	published []types.Message
}

func (b *mockBridge) Publish(msg types.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return nil
}

func (b *mockBridge) Available() bool { return true }

func (b *mockBridge) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func TestBroadcastPublishesToBridgeButLocalCastDoesNot(t *testing.T) {
	h, _ := newTestHub(t)
	b := &mockBridge{}
	h.SetBridge(b)
	_, conn := connect(t, h, "c1")

	h.Broadcast("toggleTheme", nil)
	require.Eventually(t, func() bool { return b.count() == 1 }, time.Second, 5*time.Millisecond)

	h.BroadcastToLocal(types.Message{Event: "restart"})
	require.Eventually(t, func() bool { return len(conn.eventsNamed("restart")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, b.count())
}
