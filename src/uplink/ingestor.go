// Package uplink receives activity events reported by dashboards and fans
// them out to sinks (Discord webhooks, the activity store, the log).
//
// Ingest never blocks the caller: events go onto a bounded queue drained by
// a single worker, and a full queue drops the event with a warning.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

// Server-side presence events, reported through the same pipeline.
const (
	EventClientConnected    = "clientConnected"
	EventClientDisconnected = "clientDisconnected"
	EventClientReplaced     = "clientReplaced"

	EventRegisterWithoutClientID = "registerWithoutClientId"
)

var ErrInvalidEvent = errors.New("invalid activity event")

const sinkTimeout = 10 * time.Second

// Sink consumes activity events.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev types.ActivityEvent) error
}

// Ingestor queues events and delivers them to every sink.
type Ingestor struct {
	queue   chan types.ActivityEvent
	sinks   []Sink
	logger  zerolog.Logger
	now     func() time.Time
	dropped atomic.Int64

	done     chan struct{}
	wg       sync.WaitGroup
	start    sync.Once
	stopOnce sync.Once
}

// NewIngestor creates an ingestor with a queue of queueSize events.
func NewIngestor(queueSize int, logger zerolog.Logger, sinks ...Sink) *Ingestor {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Ingestor{
		queue:  make(chan types.ActivityEvent, queueSize),
		sinks:  sinks,
		logger: logger.With().Str("component", "uplink").Logger(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Start launches the worker. Calling it more than once is a no-op.
func (i *Ingestor) Start() {
	i.start.Do(func() {
		i.wg.Add(1)
		go i.run()
	})
}

// Stop stops the worker after it has flushed what is already queued.
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() { close(i.done) })
	i.wg.Wait()
}

// Ingest queues ev. It reports false when the event was dropped.
func (i *Ingestor) Ingest(ev types.ActivityEvent) bool {
	if err := Validate(ev); err != nil {
		i.logger.Warn().Err(err).Str("client_id", ev.ClientID).Msg("activity event failed validation")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = i.now()
	}

	select {
	case <-i.done:
		return false
	default:
	}

	select {
	case i.queue <- ev:
		return true
	default:
		i.dropped.Add(1)
		i.logger.Warn().Str("event_type", ev.EventType).Msg("uplink queue full, event dropped")
		return false
	}
}

// Dropped returns how many events were dropped on a full queue.
func (i *Ingestor) Dropped() int64 { return i.dropped.Load() }

func (i *Ingestor) run() {
	defer i.wg.Done()
	for {
		select {
		case ev := <-i.queue:
			i.deliver(ev)
		case <-i.done:
			for {
				select {
				case ev := <-i.queue:
					i.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (i *Ingestor) deliver(ev types.ActivityEvent) {
	for _, sink := range i.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := sink.Write(ctx, ev)
		cancel()
		if err != nil {
			i.logger.Error().Err(err).
				Str("sink", sink.Name()).
				Str("event_type", ev.EventType).
				Msg("sink write failed")
		}
	}
}

// Validate checks the fields every event needs. Invalid events are still
// delivered; the error is only reported.
func Validate(ev types.ActivityEvent) error {
	var missing []string
	if strings.TrimSpace(ev.EventType) == "" {
		missing = append(missing, "eventType")
	}
	if strings.TrimSpace(ev.ClientID) == "" {
		missing = append(missing, "clientId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	return nil
}
