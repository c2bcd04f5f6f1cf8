package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full relay configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Socket  SocketConfig  `yaml:"socket"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Discord DiscordConfig `yaml:"discord"`
	Uplink  UplinkConfig  `yaml:"uplink"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds connection settings for the Redis pub/sub bridge.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	AdminUsername     string        `yaml:"admin_username"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
}

// StoreConfig selects the activity/connection log database.
// Driver is "sqlite", "postgres" or "none".
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// DiscordConfig maps event categories to webhook URLs. The "default"
// entry receives every category without its own webhook.
type DiscordConfig struct {
	Webhooks map[string]string `yaml:"webhooks"`
	Username string            `yaml:"username"`
	Timeout  time.Duration     `yaml:"timeout"`
}

type UplinkConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Socket: DefaultSocketConfig(),
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "relay:ws:",
		},
		Auth: AuthConfig{
			AdminUsername: "admin",
			TokenTTL:      12 * time.Hour,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "relay.db",
		},
		Discord: DiscordConfig{
			Webhooks: map[string]string{},
			Username: "Relay Monitor",
			Timeout:  5 * time.Second,
		},
		Uplink: UplinkConfig{QueueSize: 1024},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables. Unparseable numbers keep the
// current value.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("RELAY_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RELAY_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("RELAY_ADMIN_USERNAME"); v != "" {
		c.Auth.AdminUsername = v
	}
	if v := os.Getenv("RELAY_ADMIN_PASSWORD_HASH"); v != "" {
		c.Auth.AdminPasswordHash = v
	}
	if v := os.Getenv("RELAY_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("RELAY_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("RELAY_DISCORD_WEBHOOK"); v != "" {
		if c.Discord.Webhooks == nil {
			c.Discord.Webhooks = map[string]string{}
		}
		c.Discord.Webhooks["default"] = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("RELAY_ALLOWED_ORIGINS"); v != "" {
		c.Socket.AllowedOrigins = strings.Split(v, ",")
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_WS_PREFIX"); prefix != "" {
		c.Redis.Prefix = prefix
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Socket.MaxConnections <= 0 {
		return errors.New("socket.max_connections must be positive")
	}
	if c.Socket.PingInterval <= 0 {
		return errors.New("socket.ping_interval_seconds must be positive")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "none", "":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
