package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/command"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// commandEnvelope is one broadcast command on the wire. Origin lets an
// instance skip what it published itself; it already delivered locally.
type commandEnvelope struct {
	Origin   string         `json:"origin"`
	Command  string         `json:"command"`
	Payload  map[string]any `json:"payload,omitempty"`
	IssuedAt time.Time      `json:"issuedAt"`
}

// Stats counts bridge traffic since start.
type Stats struct {
	Published int64 `json:"published"`
	Relayed   int64 `json:"relayed"`
	Rejected  int64 `json:"rejected"`
}

// RedisBridge relays broadcast commands between relay instances via Redis
// pub/sub, so "ALL" reaches dashboards connected to any instance.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	hub        BroadcastTarget
	logger     zerolog.Logger

	published atomic.Int64
	relayed   atomic.Int64
	rejected  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisBridge creates a bridge publishing on <prefix>commands.
func NewRedisBridge(cfg config.RedisConfig, hub BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     client,
		channel:    cfg.Prefix + "commands",
		instanceID: uuid.New().String(),
		hub:        hub,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the command channel and begins relaying.
func (b *RedisBridge) Start() error {
	pingCtx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()
	if err := b.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	sub := b.client.Subscribe(b.ctx, b.channel)
	// Wait for subscription confirmation.
	if _, err := sub.Receive(b.ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.channel).
		Msg("redis bridge started")
	return nil
}

// Publish forwards a broadcast command to the other instances.
func (b *RedisBridge) Publish(msg types.Message) error {
	data, err := json.Marshal(commandEnvelope{
		Origin:   b.instanceID,
		Command:  msg.Event,
		Payload:  msg.Data,
		IssuedAt: msg.Timestamp,
	})
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", msg.Event, err)
	}
	b.published.Add(1)
	return nil
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// Stats returns traffic counters.
func (b *RedisBridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Relayed:   b.relayed.Load(),
		Rejected:  b.rejected.Load(),
	}
}

func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.relay(msg.Payload)
		case <-b.ctx.Done():
			return
		}
	}
}

// relay validates a command from another instance against the local
// catalog before it reaches any dashboard. Instances running an older
// catalog drop commands they do not know.
func (b *RedisBridge) relay(raw string) {
	var env commandEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.rejected.Add(1)
		b.logger.Error().Err(err).Msg("undecodable bridge message")
		return
	}
	if env.Origin == b.instanceID {
		return
	}

	payload, err := command.Decode(env.Command, env.Payload)
	if err != nil {
		b.rejected.Add(1)
		b.logger.Warn().Err(err).Str("from_instance", env.Origin).Msg("bridge command rejected")
		return
	}
	wire, err := command.Encode(payload)
	if err != nil {
		b.rejected.Add(1)
		return
	}

	issuedAt := env.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	b.relayed.Add(1)
	b.logger.Debug().
		Str("from_instance", env.Origin).
		Str("command", env.Command).
		Msg("relaying broadcast from redis")

	b.hub.BroadcastToLocal(types.Message{
		Channel:   "broadcast",
		Event:     env.Command,
		Data:      wire,
		Timestamp: issuedAt,
	})
}
