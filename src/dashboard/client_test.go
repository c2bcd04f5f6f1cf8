package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts dashboard connections and runs script on each.
func fakeServer(t *testing.T, script func(conn *websocket.Conn, n int)) string {
	t.Helper()
	var sessions atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn, int(sessions.Add(1)))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func expectRegister(t *testing.T, conn *websocket.Conn, clientID string) {
	t.Helper()
	var msg types.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, types.EventRegister, msg.Event)
	assert.Equal(t, clientID, msg.Data["clientId"])
	require.NoError(t, conn.WriteJSON(types.Message{
		Event: types.EventRegistered,
		Data:  map[string]any{"clientId": clientID, "connectionId": "conn-1"},
	}))
}

func TestClientAppliesCommandsUntilKillSwitch(t *testing.T) {
	url := fakeServer(t, func(conn *websocket.Conn, _ int) {
		expectRegister(t, conn, "u42")
		conn.WriteJSON(types.Message{Event: "setZoom", Data: map[string]any{"level": 1.25}})
		conn.WriteJSON(types.Message{Event: "setTheme", Data: map[string]any{"theme": "light"}})
		conn.WriteJSON(types.Message{Event: "killSwitch"})
		var ignored types.Message
		conn.ReadJSON(&ignored)
	})

	state := NewState()
	var registeredAs atomic.Value
	c := NewClient(url, "u42", NewInterpreter(state, nil, zerolog.Nop()), zerolog.Nop(),
		OnRegistered(func(connID string) { registeredAs.Store(connID) }))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Run(ctx)

	assert.ErrorIs(t, err, ErrKilled)
	assert.Equal(t, "conn-1", registeredAs.Load())
	assert.Equal(t, 1.25, state.Zoom())
	assert.Equal(t, "light", state.Theme())
	assert.True(t, state.Killed())
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	url := fakeServer(t, func(conn *websocket.Conn, n int) {
		expectRegister(t, conn, "u42")
		if n == 1 {
			return // drop the first connection
		}
		conn.WriteJSON(types.Message{Event: "setClickCount", Data: map[string]any{"count": 3}})
		conn.WriteJSON(types.Message{Event: "killSwitch"})
		var ignored types.Message
		conn.ReadJSON(&ignored)
	})

	state := NewState()
	var registrations atomic.Int32
	c := NewClient(url, "u42", NewInterpreter(state, nil, zerolog.Nop()), zerolog.Nop(),
		WithBackoff(10*time.Millisecond, 50*time.Millisecond),
		OnRegistered(func(string) { registrations.Add(1) }))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Run(ctx)

	assert.ErrorIs(t, err, ErrKilled)
	assert.Equal(t, int32(2), registrations.Load())
	assert.Equal(t, 3, state.ClickCount())
}

func TestClientStopsWhenReplaced(t *testing.T) {
	url := fakeServer(t, func(conn *websocket.Conn, _ int) {
		expectRegister(t, conn, "u42")
		conn.WriteJSON(types.Message{Event: types.EventError, Data: map[string]any{"reason": types.ReasonReplaced}})
	})

	c := NewClient(url, "u42", NewInterpreter(NewState(), nil, zerolog.Nop()), zerolog.Nop(),
		WithBackoff(10*time.Millisecond, 10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, c.Run(ctx), ErrReplaced)
}

func TestClientSendsHeartbeatsAndReports(t *testing.T) {
	events := make(chan types.Message, 16)
	url := fakeServer(t, func(conn *websocket.Conn, _ int) {
		expectRegister(t, conn, "u42")
		for {
			var msg types.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case events <- msg:
			default:
			}
		}
	})

	registered := make(chan struct{}, 1)
	c := NewClient(url, "u42", NewInterpreter(NewState(), nil, zerolog.Nop()), zerolog.Nop(),
		WithHeartbeat(20*time.Millisecond),
		OnRegistered(func(string) { registered <- struct{}{} }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-registered:
	case <-time.After(5 * time.Second):
		t.Fatal("never registered")
	}
	c.Report("buttonClick", map[string]any{"button": "save"})

	var sawHeartbeat, sawEvent bool
	deadline := time.After(5 * time.Second)
	for !sawHeartbeat || !sawEvent {
		select {
		case msg := <-events:
			switch msg.Event {
			case types.EventHeartbeat:
				sawHeartbeat = true
			case types.EventActivity:
				sawEvent = true
				assert.Equal(t, "buttonClick", msg.Data["eventType"])
				assert.Equal(t, "save", msg.Data["button"])
			}
		case <-deadline:
			t.Fatal("missing heartbeat or event")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClientReportWhileDisconnected(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws", "u42", NewInterpreter(NewState(), nil, zerolog.Nop()), zerolog.Nop())
	assert.NotPanics(t, func() { c.Report("login", nil) })
}
