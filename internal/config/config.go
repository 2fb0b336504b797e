package config

import (
	"time"

	"github.com/lumaworks/pulse/internal/logging"
)

// Auth verification modes
const (
	AuthModeJWT      = "jwt"
	AuthModeEndpoint = "endpoint"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Realtime RealtimeConfig `json:"realtime" yaml:"realtime"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
	Logging  logging.Config `json:"logging" yaml:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// RealtimeConfig represents connection fabric configuration
type RealtimeConfig struct {
	// HeartbeatInterval is how often the monitor sweeps and pings live
	// connections
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`

	// HeartbeatTimeout is how long a connection may go without a confirmed
	// liveness signal before it is evicted
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`

	SendBuffer     int           `json:"send_buffer" yaml:"send_buffer"`
	MaxMessageSize int64         `json:"max_message_size" yaml:"max_message_size"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// AuthConfig represents authentication gate configuration
type AuthConfig struct {
	Mode          string        `json:"mode" yaml:"mode"`
	JWTSecret     string        `json:"jwt_secret" yaml:"jwt_secret"`
	Endpoint      string        `json:"endpoint" yaml:"endpoint"`
	VerifyTimeout time.Duration `json:"verify_timeout" yaml:"verify_timeout"`
}

// NATSConfig represents the optional event ingress bridge configuration
type NATSConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	URL           string `json:"url" yaml:"url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: 15 * time.Second,
			HeartbeatTimeout:  30 * time.Second,
			SendBuffer:        256,
			MaxMessageSize:    512 * 1024,
			WriteTimeout:      10 * time.Second,
		},
		Auth: AuthConfig{
			Mode:          AuthModeJWT,
			VerifyTimeout: 5 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "pulse",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Realtime.HeartbeatInterval <= 0 {
		return NewConfigError("realtime.heartbeat_interval", "interval must be positive")
	}

	if c.Realtime.HeartbeatTimeout < c.Realtime.HeartbeatInterval {
		return NewConfigError("realtime.heartbeat_timeout", "timeout must be at least the monitor interval")
	}

	if c.Realtime.SendBuffer <= 0 {
		return NewConfigError("realtime.send_buffer", "buffer size must be positive")
	}

	switch c.Auth.Mode {
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return NewConfigError("auth.jwt_secret", "secret is required in jwt mode")
		}
	case AuthModeEndpoint:
		if c.Auth.Endpoint == "" {
			return NewConfigError("auth.endpoint", "endpoint is required in endpoint mode")
		}
	default:
		return NewConfigError("auth.mode", "unknown auth mode")
	}

	if c.Auth.VerifyTimeout <= 0 {
		return NewConfigError("auth.verify_timeout", "timeout must be positive")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return NewConfigError("nats.url", "url is required when the bridge is enabled")
	}

	return nil
}
