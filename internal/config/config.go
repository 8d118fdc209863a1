package config

import (
	"log/slog"
	"time"

	"github.com/plumbline/chat-client/internal/chat"
	"github.com/plumbline/chat-client/internal/version"
)

// ClientConfig is the root configuration for the chat client.
type ClientConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Chat       ChatConfig       `yaml:"chat"`
	Connection ConnectionConfig `yaml:"connection"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds backend settings.
type ServerConfig struct {
	BaseURL string `yaml:"base_url"` // ws(s):// or http(s):// root of the backend
}

// ChatConfig identifies the conversation to join. Either field may be empty,
// in which case the client stays disconnected until both are known.
type ChatConfig struct {
	ChannelID string `yaml:"channel_id"`
	Token     string `yaml:"token"` // Bearer token issued by the backend
}

// ConnectionConfig holds connection manager and transport settings.
type ConnectionConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// MetricsConfig holds Prometheus and health endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ManagerConfig converts the config into connection manager settings.
func (c *ClientConfig) ManagerConfig() chat.ManagerConfig {
	return chat.ManagerConfig{
		BaseURL:              c.Server.BaseURL,
		MaxReconnectAttempts: c.Connection.MaxReconnectAttempts,
		ReconnectBaseDelay:   c.Connection.ReconnectBaseDelay,
		ReconnectMaxDelay:    c.Connection.ReconnectMaxDelay,
	}
}

// WSConfig converts the config into transport settings.
func (c *ClientConfig) WSConfig() chat.WSConfig {
	return chat.WSConfig{
		HandshakeTimeout: c.Connection.HandshakeTimeout,
		PingInterval:     c.Connection.PingInterval,
		PongTimeout:      c.Connection.PongTimeout,
		WriteTimeout:     c.Connection.WriteTimeout,
		UserAgent:        version.UserAgent(),
	}
}

// SlogLevel returns the configured log level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
