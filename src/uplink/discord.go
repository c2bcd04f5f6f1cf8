package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Webhook categories. Each may have its own URL in config; CategoryDefault
// catches the rest.
const (
	CategoryConnection = "connection_information"
	CategoryDisconnect = "disconnected_status"
	CategoryErrors     = "user_errors"
	CategoryActivity   = "activity"
	CategoryDefault    = "default"
)

// MaxContentLength is Discord's limit for message content.
const MaxContentLength = 2000

// Category maps an event type to its webhook category.
func Category(eventType string) string {
	switch eventType {
	case EventClientConnected:
		return CategoryConnection
	case EventClientDisconnected, EventClientReplaced:
		return CategoryDisconnect
	case "unhandledCommand", "invalidCommandPayload", EventRegisterWithoutClientID:
		return CategoryErrors
	}
	if strings.Contains(strings.ToLower(eventType), "error") {
		return CategoryErrors
	}
	return CategoryActivity
}

// DiscordSink posts events to Discord webhooks. Each event is attempted
// once; rate limiting and retries are left to Discord's side.
type DiscordSink struct {
	client   *fasthttp.Client
	webhooks map[string]string
	username string
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewDiscordSink creates a sink from cfg.
func NewDiscordSink(cfg config.DiscordConfig, logger zerolog.Logger) *DiscordSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hooks := make(map[string]string, len(cfg.Webhooks))
	for k, v := range cfg.Webhooks {
		hooks[strings.ToLower(k)] = v
	}
	return &DiscordSink{
		client: &fasthttp.Client{
			Name:         "relay-webhook",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		webhooks: hooks,
		username: cfg.Username,
		timeout:  timeout,
		logger:   logger.With().Str("component", "discord").Logger(),
	}
}

// Enabled reports whether any webhook is configured.
func (d *DiscordSink) Enabled() bool { return len(d.webhooks) > 0 }

func (d *DiscordSink) Name() string { return "discord" }

// Write posts ev to the webhook of its category. Events with no matching
// webhook are skipped.
func (d *DiscordSink) Write(ctx context.Context, ev types.ActivityEvent) error {
	url := d.webhookFor(Category(ev.EventType))
	if url == "" {
		return nil
	}

	body, err := json.Marshal(webhookMessage{
		Username: d.username,
		Content:  FormatContent(ev),
	})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := d.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("discord webhook: status %d", code)
	}
	d.logger.Debug().Str("event_type", ev.EventType).Msg("webhook sent")
	return nil
}

func (d *DiscordSink) webhookFor(category string) string {
	if url, ok := d.webhooks[category]; ok && url != "" {
		return url
	}
	return d.webhooks[CategoryDefault]
}

type webhookMessage struct {
	Username string `json:"username,omitempty"`
	Content  string `json:"content"`
}

// FormatContent renders ev as Discord message content, capped at
// MaxContentLength characters.
func FormatContent(ev types.ActivityEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** from `%s`", ev.EventType, ev.ClientID)
	if ev.UserID != "" {
		fmt.Fprintf(&b, " (user `%s`)", ev.UserID)
	}
	if !ev.Timestamp.IsZero() {
		fmt.Fprintf(&b, " at %s", ev.Timestamp.UTC().Format(time.RFC3339))
	}

	if len(ev.Data) > 0 {
		keys := make([]string, 0, len(ev.Data))
		for k := range ev.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %v", k, ev.Data[k])
		}
	}
	return truncate(b.String(), MaxContentLength)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
