package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/bridge"
	"github.com/orchestra-mcp/relay/src/dispatch"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/registry"
	"github.com/orchestra-mcp/relay/src/service"
	"github.com/orchestra-mcp/relay/src/store"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/orchestra-mcp/relay/src/uplink"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Server wires the relay together: registry, hub, dispatcher, uplink and
// the HTTP surface.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	store    *store.Store
	registry *registry.Registry
	hub      *hub.Hub
	ingestor *uplink.Ingestor
	service  *service.Service
	bridge   bridge.Bridge
	app      *fiber.App
	secret   string

	active bool
}

// New creates a server. Nothing runs until Activate.
func New(cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Activate opens the store, starts the hub event loop and the uplink
// worker, and builds the routes.
func (s *Server) Activate() error {
	if s.active {
		return nil
	}

	if err := s.openStore(); err != nil {
		return err
	}

	s.registry = registry.New(s.logger)
	s.hub = hub.New(s.registry, s.logger,
		hub.WithSendBuffer(s.cfg.Socket.SendBuffer),
		hub.WithPingInterval(s.cfg.Socket.PingEvery()),
	)
	s.registry.SetCloser(s.hub)

	s.ingestor = uplink.NewIngestor(s.cfg.Uplink.QueueSize, s.logger, s.sinks()...)
	s.ingestor.Start()

	var opts []dispatch.Option
	var history service.History
	if s.store != nil {
		opts = append(opts, dispatch.WithAuditor(s.store))
		history = s.store
	}
	d := dispatch.New(s.registry, s.hub, s.logger, opts...)
	s.service = service.New(s.hub, s.registry, d, s.ingestor, history, s.logger)

	s.watchPresence()
	s.hub.RegisterHandler(types.EventActivity, s.service.HandleActivityMessage)

	go s.hub.Run()

	// Attempt Redis bridge connection (non-fatal if unavailable).
	if s.cfg.Redis.Enabled {
		s.initBridge()
	}

	s.secret = s.cfg.Auth.JWTSecret
	if s.secret == "" {
		s.secret = uuid.New().String()
		s.logger.Warn().Msg("auth.jwt_secret is empty, using a random secret; tokens will not survive a restart")
	}

	s.app = fiber.New()
	s.RegisterRoutes(s.app)

	s.active = true
	s.logger.Info().Str("addr", s.cfg.Server.Addr).Msg("relay activated")
	return nil
}

func (s *Server) openStore() error {
	st, err := store.Open(s.cfg.Store, s.logger)
	if errors.Is(err, store.ErrDisabled) {
		s.logger.Info().Msg("activity store disabled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = st

	// Sessions left open by a crash or restart end now.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := st.CloseOpenSessions(ctx, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("close stale sessions")
	} else if n > 0 {
		s.logger.Info().Int("sessions", n).Msg("closed stale sessions")
	}
	return nil
}

func (s *Server) sinks() []uplink.Sink {
	sinks := []uplink.Sink{uplink.NewLogSink(s.logger)}
	if s.store != nil {
		sinks = append(sinks, uplink.NewStoreSink(s.store), uplink.NewSessionSink(s.store))
	}
	if discord := uplink.NewDiscordSink(s.cfg.Discord, s.logger); discord.Enabled() {
		sinks = append(sinks, discord)
	}
	return sinks
}

// watchPresence turns registry changes into presence events. The hooks run
// on the hub loop, so they only enqueue.
func (s *Server) watchPresence() {
	s.registry.OnRegister(func(p types.Presence) {
		s.ingestor.Ingest(uplink.PresenceEvent(uplink.EventClientConnected, p))
	})
	s.registry.OnUnregister(func(p types.Presence) {
		s.ingestor.Ingest(uplink.PresenceEvent(uplink.EventClientDisconnected, p))
	})
	s.registry.OnReplace(func(old, _ types.Presence) {
		s.ingestor.Ingest(uplink.PresenceEvent(uplink.EventClientReplaced, old))
	})
	s.hub.OnClientError(func(info types.ConnectionInfo, reason string) {
		s.ingestor.Ingest(types.ActivityEvent{
			EventType: uplink.EventRegisterWithoutClientID,
			Data: map[string]any{
				"connectionId": info.ID,
				"reason":       reason,
				"remoteAddr":   info.RemoteAddr,
				"userAgent":    info.UserAgent,
			},
		})
	})
}

// initBridge tries to start the Redis pub/sub bridge.
// If Redis is not reachable, the hub runs in standalone mode.
func (s *Server) initBridge() {
	rb := bridge.NewRedisBridge(s.cfg.Redis, s.hub, s.logger)
	if err := rb.Start(); err != nil {
		s.logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		return
	}
	s.bridge = rb
	s.hub.SetBridge(rb)
	s.logger.Info().Str("redis_addr", s.cfg.Redis.Addr).Msg("redis bridge connected")
}

// Deactivate stops the bridge, the hub and the uplink, then closes the store.
// hub.Stop waits for the final disconnects, so their presence events are
// queued before the uplink flushes and stops.
func (s *Server) Deactivate() error {
	if !s.active {
		return nil
	}
	if s.bridge != nil {
		if err := s.bridge.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("bridge stop error")
		}
	}
	s.hub.Stop()
	s.ingestor.Stop()

	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	s.active = false
	s.logger.Info().Msg("relay deactivated")
	return err
}

// Service exposes the relay API.
func (s *Server) Service() *service.Service { return s.service }

// App returns the fiber application serving everything except /ws.
func (s *Server) App() *fiber.App { return s.app }

// Handler routes /ws to the websocket upgrader and every other path to
// fiber.
func (s *Server) Handler() fasthttp.RequestHandler {
	ws := s.FastHTTPHandler()
	api := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/ws" {
			ws(ctx)
			return
		}
		api(ctx)
	}
}
