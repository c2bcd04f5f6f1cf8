package config

import "time"

// SocketConfig holds WebSocket server configuration.
type SocketConfig struct {
	MaxConnections  int      `yaml:"max_connections" json:"max_connections"`
	PingInterval    int      `yaml:"ping_interval_seconds" json:"ping_interval_seconds"`
	WriteTimeout    int      `yaml:"write_timeout_seconds" json:"write_timeout_seconds"`
	ReadBufferSize  int      `yaml:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize int      `yaml:"write_buffer_size" json:"write_buffer_size"`
	MaxMessageBytes int64    `yaml:"max_message_bytes" json:"max_message_bytes"`
	SendBuffer      int      `yaml:"send_buffer" json:"send_buffer"`
	AllowedOrigins  []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// DefaultSocketConfig returns the default WebSocket configuration.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		MaxConnections:  1000,
		PingInterval:    30,
		WriteTimeout:    10,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageBytes: 512 * 1024,
		SendBuffer:      256,
		AllowedOrigins:  []string{"*"},
	}
}

func (s SocketConfig) PingEvery() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

func (s SocketConfig) WriteWait() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// PongWait is how long a connection may stay silent before it is dropped.
func (s SocketConfig) PongWait() time.Duration {
	return s.PingEvery() * 2
}

// OriginAllowed reports whether a browser origin may open a socket.
// An empty origin (non-browser clients) is always allowed.
func (s SocketConfig) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range s.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
