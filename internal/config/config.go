package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultSocketBaseURL is the production await endpoint; the client id is
// appended to it.
const DefaultSocketBaseURL = "wss://prod-nginz-ssl.wire.com/await?client="

// Config represents the global ~/.wire/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	Socket         SocketConfig  `toml:"socket"`
	Account        AccountConfig `toml:"account"`
	Managed        ManagedConfig `toml:"managed"`
	Work           WorkConfig    `toml:"work"`
	Health         HealthConfig  `toml:"health"`
	Metrics        MetricsConfig `toml:"metrics"`
	Log            LogConfig     `toml:"log"`
}

// SocketConfig controls the event websocket.
type SocketConfig struct {
	BaseURL                 string `toml:"base_url"`
	HandshakeTimeoutSeconds int    `toml:"handshake_timeout_seconds"`
}

// AccountConfig identifies the self user and client of the session.
type AccountConfig struct {
	UserID              string `toml:"user_id"`
	ClientID            string `toml:"client_id"`
	AccessToken         string `toml:"access_token,omitempty"`
	PersistentWebSocket bool   `toml:"persistent_websocket"`
}

// ManagedConfig holds settings pushed by a device management profile. They
// win over user preferences.
type ManagedConfig struct {
	PersistentWebSocketEnforced bool `toml:"persistent_websocket_enforced"`
}

// WorkConfig tunes the reconnect scheduler's retry backoff.
type WorkConfig struct {
	InitialBackoffSeconds int `toml:"initial_backoff_seconds"`
	MaxBackoffSeconds     int `toml:"max_backoff_seconds"`
	MaxAttempts           int `toml:"max_attempts"`
}

// HealthConfig tunes socket health checks.
type HealthConfig struct {
	UnhealthyAfterHours      int `toml:"unhealthy_after_hours"`
	ObservationTimeoutMillis int `toml:"observation_timeout_millis"`
}

// MetricsConfig enables the HTTP health and metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig sets the daemon log level (debug, info, warn, error).
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a config with every field at its default.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{
			BaseURL:                 DefaultSocketBaseURL,
			HandshakeTimeoutSeconds: 15,
		},
		Work: WorkConfig{
			InitialBackoffSeconds: 10,
			MaxBackoffSeconds:     300,
		},
		Health: HealthConfig{
			UnhealthyAfterHours:      12,
			ObservationTimeoutMillis: 1000,
		},
		Log: LogConfig{Level: "info"},
	}
}

// HandshakeTimeout returns the websocket handshake timeout.
func (s SocketConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutSeconds) * time.Second
}

// InitialBackoff returns the first retry delay.
func (w WorkConfig) InitialBackoff() time.Duration {
	return time.Duration(w.InitialBackoffSeconds) * time.Second
}

// MaxBackoff returns the retry delay cap.
func (w WorkConfig) MaxBackoff() time.Duration {
	return time.Duration(w.MaxBackoffSeconds) * time.Second
}

// UnhealthyAfter returns how long a persistent socket may stay silent.
func (h HealthConfig) UnhealthyAfter() time.Duration {
	return time.Duration(h.UnhealthyAfterHours) * time.Hour
}

// ObservationTimeout bounds a single health check.
func (h HealthConfig) ObservationTimeout() time.Duration {
	return time.Duration(h.ObservationTimeoutMillis) * time.Millisecond
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is like Load but treats a missing file as the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadEnv loads KEY=VALUE pairs from an env file into the process
// environment. Variables already set are not overridden and a missing file
// is not an error.
func LoadEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides config fields from WIRE_* environment variables. Empty
// variables are ignored.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("WIRE_DEFAULT_SESSION"); v != "" {
		cfg.DefaultSession = v
	}
	if v := os.Getenv("WIRE_SOCKET_URL"); v != "" {
		cfg.Socket.BaseURL = v
	}
	if v := os.Getenv("WIRE_USER_ID"); v != "" {
		cfg.Account.UserID = v
	}
	if v := os.Getenv("WIRE_CLIENT_ID"); v != "" {
		cfg.Account.ClientID = v
	}
	if v := os.Getenv("WIRE_ACCESS_TOKEN"); v != "" {
		cfg.Account.AccessToken = v
	}
	if v := os.Getenv("WIRE_PERSISTENT_WEBSOCKET"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WIRE_PERSISTENT_WEBSOCKET: %w", err)
		}
		cfg.Account.PersistentWebSocket = b
	}
	if v := os.Getenv("WIRE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("WIRE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}
