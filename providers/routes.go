package providers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/relay/src/auth"
	"github.com/orchestra-mcp/relay/src/command"
	"github.com/orchestra-mcp/relay/src/dispatch"
	"github.com/orchestra-mcp/relay/src/service"
	"github.com/orchestra-mcp/relay/src/store"
	"github.com/orchestra-mcp/relay/src/types"
)

const (
	dispatchTimeout = 5 * time.Second
	queryTimeout    = 10 * time.Second
)

// RegisterRoutes registers the HTTP API. The websocket upgrade itself is
// served by FastHTTPHandler, since Fiber v3 does not hand out the raw
// *fasthttp.RequestCtx the upgrader needs.
func (s *Server) RegisterRoutes(router fiber.Router) {
	router.Get("/health", s.handleHealth)
	router.Get("/ws/info", s.handleInfo)
	router.Post("/events", s.handleEvent)
	router.Post("/auth/login", s.handleLogin)

	admin := router.Group("/admin", auth.Middleware(s.secret, auth.RoleAdmin))
	admin.Post("/command", s.handleCommand)
	admin.Get("/online", s.handleOnline)
	admin.Get("/connections", s.handleConnections)
	admin.Get("/activity", s.handleActivity)
	admin.Get("/commands", s.handleCommands)
	admin.Get("/sessions/:clientId", s.handleSessions)
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	resp := fiber.Map{
		"status":    "ok",
		"transport": s.service.Available(),
	}
	if s.bridge != nil {
		resp["bridge"] = s.bridge.Stats()
	}
	return c.JSON(resp)
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket":   true,
		"endpoint":    "/ws",
		"connections": s.hub.ConnectionCount(),
		"clients":     s.service.RegisteredCount(),
	})
}

// eventRequest is the uplink body. The timestamp stays a string so a bad
// value cannot fail the whole request.
type eventRequest struct {
	EventType string         `json:"eventType"`
	ClientID  string         `json:"clientId"`
	UserID    string         `json:"userId"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// handleEvent always answers 200. Dashboards must never wait on, or fail
// because of, the sinks.
func (s *Server) handleEvent(c fiber.Ctx) error {
	var req eventRequest
	if err := c.Bind().JSON(&req); err != nil {
		s.logger.Warn().Err(err).Msg("unreadable activity event")
		return c.JSON(fiber.Map{"status": "ok"})
	}

	ev := types.ActivityEvent{
		EventType: strings.TrimSpace(req.EventType),
		ClientID:  strings.TrimSpace(req.ClientID),
		UserID:    req.UserID,
		Data:      req.Data,
	}
	if req.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, req.Timestamp); err == nil {
			ev.Timestamp = ts
		}
	}
	s.service.Ingest(ev)
	return c.JSON(fiber.Map{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c fiber.Ctx) error {
	var req loginRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	a := s.cfg.Auth
	if req.Username != a.AdminUsername || !auth.CheckPassword(a.AdminPasswordHash, req.Password) {
		s.logger.Warn().Str("username", req.Username).Str("ip", c.IP()).Msg("admin login failed")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	}

	token, err := auth.IssueToken(s.secret, req.Username, auth.RoleAdmin, a.TokenTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"token": token})
}

func (s *Server) handleCommand(c fiber.Ctx) error {
	var cmd types.Command
	if err := c.Bind().JSON(&cmd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	cmd.IssuedBy = auth.Username(c)

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	result, err := s.service.Dispatch(ctx, cmd)
	switch {
	case errors.Is(err, dispatch.ErrTransportUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, command.ErrInvalidPayload),
		errors.Is(err, dispatch.ErrMissingTarget):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(result)
}

type onlineEntry struct {
	ClientID   string    `json:"clientId"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// handleOnline lists registered dashboards. ?within=90s keeps only those
// heard from recently.
func (s *Server) handleOnline(c fiber.Ctx) error {
	var window time.Duration
	if raw := c.Query("within"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "within must be a duration such as 90s"})
		}
		window = d
	}

	presences := s.service.Online(window)
	out := make([]onlineEntry, 0, len(presences))
	for _, p := range presences {
		out = append(out, onlineEntry{ClientID: p.ClientID, LastSeenAt: p.LastSeenAt})
	}
	return c.JSON(out)
}

func (s *Server) handleConnections(c fiber.Ctx) error {
	return c.JSON(s.service.Connections())
}

func (s *Server) handleActivity(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	records, err := s.service.RecentActivity(ctx, store.ActivityFilter{
		ClientID:  c.Query("clientId"),
		EventType: c.Query("eventType"),
		Limit:     queryLimit(c),
	})
	if err != nil {
		return historyError(c, err)
	}
	return c.JSON(records)
}

func (s *Server) handleCommands(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	audits, err := s.service.RecentCommands(ctx, queryLimit(c))
	if err != nil {
		return historyError(c, err)
	}
	return c.JSON(audits)
}

func (s *Server) handleSessions(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	sessions, err := s.service.Sessions(ctx, c.Params("clientId"), queryLimit(c))
	if err != nil {
		return historyError(c, err)
	}
	return c.JSON(sessions)
}

// queryLimit reads ?limit. Anything unparseable means the store default.
func queryLimit(c fiber.Ctx) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}

func historyError(c fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrNoStore) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
