package providers

import (
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/valyala/fasthttp"
)

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
// Handler mounts it at "/ws".
func (s *Server) FastHTTPHandler() fasthttp.RequestHandler {
	sc := s.cfg.Socket
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  sc.ReadBufferSize,
		WriteBufferSize: sc.WriteBufferSize,
		CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
			return sc.OriginAllowed(string(ctx.Request.Header.Peek("Origin")))
		},
	}

	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		h := s.hub
		if !h.Available() || h.ConnectionCount() >= sc.MaxConnections {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"unavailable","message":"realtime transport unavailable"}`)
			return
		}

		// The request context is gone once the handler below runs.
		connectionID := uuid.New().String()
		remoteAddr := ctx.RemoteAddr().String()
		userAgent := string(ctx.UserAgent())

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := hub.NewClient(connectionID, newFasthttpConn(conn, sc), h)
			client.SetRemote(remoteAddr, userAgent)
			if !h.Register(client) {
				conn.Close()
				return
			}
			go client.WritePump()
			client.ReadPump()
		})
		if err != nil {
			s.logger.Error().Err(err).Str("remote_addr", remoteAddr).Msg("websocket upgrade failed")
		}
	}
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	pongWait  time.Duration
}

func newFasthttpConn(conn *websocket.Conn, sc config.SocketConfig) *fasthttpConn {
	f := &fasthttpConn{conn: conn, writeWait: sc.WriteWait(), pongWait: sc.PongWait()}
	if sc.MaxMessageBytes > 0 {
		conn.SetReadLimit(sc.MaxMessageBytes)
	}
	if f.pongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(f.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(f.pongWait))
		})
	}
	return f
}

func (f *fasthttpConn) WriteJSON(v any) error {
	if f.writeWait > 0 {
		_ = f.conn.SetWriteDeadline(time.Now().Add(f.writeWait))
	}
	return f.conn.WriteJSON(v)
}

// ReadJSON extends the read deadline on every message, so heartbeats keep a
// connection alive as well as pongs.
func (f *fasthttpConn) ReadJSON(v any) error {
	if err := f.conn.ReadJSON(v); err != nil {
		return err
	}
	if f.pongWait > 0 {
		_ = f.conn.SetReadDeadline(time.Now().Add(f.pongWait))
	}
	return nil
}

func (f *fasthttpConn) Ping() error {
	var deadline time.Time
	if f.writeWait > 0 {
		deadline = time.Now().Add(f.writeWait)
	}
	return f.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (f *fasthttpConn) Close() error { return f.conn.Close() }
