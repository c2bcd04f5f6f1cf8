// Package store persists activity events, dashboard sessions and the admin
// command audit trail with gorm. SQLite is the default, Postgres is supported
// for shared deployments.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrDisabled is returned by Open when the store driver is "none".
var ErrDisabled = errors.New("store disabled")

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Store wraps a gorm connection.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Open connects using cfg and migrates the schema.
func Open(cfg config.StoreConfig, logger zerolog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "none", "":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite allows one writer; in-memory databases are per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, logger)
}

// New wraps an open gorm connection and migrates the schema.
func New(db *gorm.DB, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		now:    time.Now,
	}
	if err := db.AutoMigrate(&ActivityRecord{}, &ConnectionLog{}, &CommandAudit{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordActivity appends an activity event.
func (s *Store) RecordActivity(ctx context.Context, ev types.ActivityEvent) error {
	rec := ActivityRecord{
		EventType:  ev.EventType,
		ClientID:   ev.ClientID,
		UserID:     ev.UserID,
		OccurredAt: ev.Timestamp,
		Data:       encodeJSON(ev.Data),
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = s.now()
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// ActivityFilter narrows RecentActivity. Zero values match everything.
type ActivityFilter struct {
	ClientID  string
	EventType string
	Limit     int
}

// RecentActivity returns activity records, newest first.
func (s *Store) RecentActivity(ctx context.Context, f ActivityFilter) ([]ActivityRecord, error) {
	q := s.db.WithContext(ctx).Model(&ActivityRecord{})
	if f.ClientID != "" {
		q = q.Where("client_id = ?", f.ClientID)
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	var out []ActivityRecord
	err := q.Order("occurred_at DESC, id DESC").Limit(limitOrDefault(f.Limit)).Find(&out).Error
	return out, err
}

// RecordConnect opens a session for a registered client.
func (s *Store) RecordConnect(ctx context.Context, clientID, connectionID string) error {
	entry := ConnectionLog{
		ClientID:     clientID,
		ConnectionID: connectionID,
		ConnectedAt:  s.now(),
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}

// RecordDisconnect closes the open session of clientID on connectionID. A
// session that is unknown or already closed is not an error.
func (s *Store) RecordDisconnect(ctx context.Context, clientID, connectionID string) error {
	var entry ConnectionLog
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND connection_id = ? AND disconnected_at IS NULL", clientID, connectionID).
		Order("id DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.closeSession(ctx, entry, s.now())
}

// CloseOpenSessions closes every session left open by a previous run, using
// at as the disconnect time.
func (s *Store) CloseOpenSessions(ctx context.Context, at time.Time) (int, error) {
	var open []ConnectionLog
	if err := s.db.WithContext(ctx).Where("disconnected_at IS NULL").Find(&open).Error; err != nil {
		return 0, err
	}
	closed := 0
	for _, entry := range open {
		if err := s.closeSession(ctx, entry, at); err != nil {
			s.logger.Error().Err(err).Uint("id", entry.ID).Msg("close stale session failed")
			continue
		}
		closed++
	}
	return closed, nil
}

func (s *Store) closeSession(ctx context.Context, entry ConnectionLog, at time.Time) error {
	online := int64(at.Sub(entry.ConnectedAt).Seconds())
	if online < 0 {
		online = 0
	}
	return s.db.WithContext(ctx).Model(&ConnectionLog{}).
		Where("id = ? AND disconnected_at IS NULL", entry.ID).
		Updates(map[string]any{
			"disconnected_at": at,
			"online_seconds":  online,
		}).Error
}

// Sessions returns the connection history of clientID, newest first. An
// empty clientID returns every client.
func (s *Store) Sessions(ctx context.Context, clientID string, limit int) ([]ConnectionLog, error) {
	q := s.db.WithContext(ctx).Model(&ConnectionLog{})
	if clientID != "" {
		q = q.Where("client_id = ?", clientID)
	}
	var out []ConnectionLog
	err := q.Order("connected_at DESC, id DESC").Limit(limitOrDefault(limit)).Find(&out).Error
	return out, err
}

// RecordCommand stores an admin command with its dispatch result.
func (s *Store) RecordCommand(ctx context.Context, cmd types.Command, result types.DispatchResult) error {
	audit := CommandAudit{
		Command:   cmd.Name,
		Target:    cmd.TargetClientID,
		IssuedBy:  cmd.IssuedBy,
		Payload:   encodeJSON(cmd.Payload),
		Delivered: result.Delivered,
		Reason:    result.Reason,
	}
	return s.db.WithContext(ctx).Create(&audit).Error
}

// RecentCommands returns audited commands, newest first.
func (s *Store) RecentCommands(ctx context.Context, limit int) ([]CommandAudit, error) {
	var out []CommandAudit
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limitOrDefault(limit)).Find(&out).Error
	return out, err
}

func encodeJSON(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func limitOrDefault(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}
