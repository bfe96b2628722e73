// Package config loads server configuration from TOML.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// DefaultSearchPaths are tried in order when no --config path is given.
var DefaultSearchPaths = []string{"app-config.toml", "config.toml"}

// Config holds all application configuration.
// We use a struct (not globals) so it's testable and explicit.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Logging  LoggingConfig  `toml:"logging"`
	Session  SessionConfig  `toml:"session"`
	Security SecurityConfig `toml:"security"`
	Database DatabaseConfig `toml:"database"`
	Events   EventsConfig   `toml:"events"`
	SFU      SFUConfig      `toml:"sfu"`
	Archive  ArchiveConfig  `toml:"archive"`
}

type ServerConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	MaxConnections    int    `toml:"max_connections"`
	HeartbeatInterval int    `toml:"heartbeat_interval"` // seconds
	TLSEnabled        bool   `toml:"tls_enabled"`
	TLSCertPath       string `toml:"tls_cert_path"`
	TLSKeyPath        string `toml:"tls_key_path"`
	ReadBufferSize    int    `toml:"read_buffer_size"`
	WriteBufferSize   int    `toml:"write_buffer_size"`
	MaxMessageSize    int64  `toml:"max_message_size"`
}

type AuthConfig struct {
	AuthMethod string   `toml:"auth_method"` // "token" or "api_key"
	APIKeys    []string `toml:"api_keys"`    // each entry "client_id:token"
}

type LoggingConfig struct {
	Level string `toml:"level"` // "debug", "info", "warn", "error"
}

type SessionConfig struct {
	SessionTimeout       int `toml:"session_timeout"`  // seconds
	CleanupInterval      int `toml:"cleanup_interval"` // seconds
	MaxSessionsPerClient int `toml:"max_sessions_per_client"`
	ChannelCapacity      int `toml:"channel_capacity"`
}

type SecurityConfig struct {
	RateLimitEnabled     bool     `toml:"rate_limit_enabled"`
	MaxMessagesPerMinute int      `toml:"max_messages_per_minute"`
	MaxConnectionsPerIP  int      `toml:"max_connections_per_ip"`
	AllowedOrigins       []string `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	Backend string `toml:"backend"` // "memory" or "postgres"
	URL     string `toml:"url"`
}

type EventsConfig struct {
	Backend  string `toml:"backend"` // "memory" or "redis"
	RedisURL string `toml:"redis_url"`
}

type SFUConfig struct {
	AppID          string `toml:"app_id"`
	AppSecret      string `toml:"app_secret"`
	BaseURL        string `toml:"base_url"`
	StunURL        string `toml:"stun_url"`
	RequestTimeout int    `toml:"request_timeout"` // seconds
}

// ArchiveConfig optionally exports terminated-room snapshots to an
// S3-compatible bucket (R2). Disabled unless all fields are set.
type ArchiveConfig struct {
	AccountID       string `toml:"account_id"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Bucket          string `toml:"bucket"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			MaxConnections:    1000,
			HeartbeatInterval: 30,
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			MaxMessageSize:    65536 + 64, // one max payload plus framing headroom
		},
		Auth: AuthConfig{
			AuthMethod: "token",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Session: SessionConfig{
			SessionTimeout:       3600,
			CleanupInterval:      300,
			MaxSessionsPerClient: 1,
			ChannelCapacity:      100,
		},
		Security: SecurityConfig{
			RateLimitEnabled:     false,
			MaxMessagesPerMinute: 600,
			MaxConnectionsPerIP:  0, // unlimited
		},
		Database: DatabaseConfig{
			Backend: "memory",
		},
		Events: EventsConfig{
			Backend: "memory",
		},
		SFU: SFUConfig{
			BaseURL:        "https://rtc.live.cloudflare.com/v1",
			StunURL:        "stun:stun.cloudflare.com:3478",
			RequestTimeout: 30,
		},
	}
}

// Load reads configuration from path. An empty path walks
// DefaultSearchPaths and falls back to the built-in defaults when no file
// exists.
func Load(path string) (*Config, error) {
	if path == "" {
		for _, candidate := range DefaultSearchPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertPath == "" || c.Server.TLSKeyPath == "") {
		return fmt.Errorf("server.tls_cert_path and server.tls_key_path are required when TLS is enabled")
	}
	switch c.Auth.AuthMethod {
	case "token", "api_key":
	default:
		return fmt.Errorf("auth.auth_method must be \"token\" or \"api_key\", got %q", c.Auth.AuthMethod)
	}
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("database.backend must be \"memory\" or \"postgres\", got %q", c.Database.Backend)
	}
	switch c.Events.Backend {
	case "memory":
	case "redis":
		if c.Events.RedisURL == "" {
			return fmt.Errorf("events.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("events.backend must be \"memory\" or \"redis\", got %q", c.Events.Backend)
	}
	return nil
}

// Addr returns the host:port the server binds.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ArchiveEnabled reports whether the snapshot exporter is configured.
func (c *Config) ArchiveEnabled() bool {
	a := c.Archive
	return a.AccountID != "" && a.AccessKeyID != "" && a.SecretAccessKey != "" && a.Bucket != ""
}
