// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendRedis    = "redis"
	BackendLog      = "log"
)

// defaultDataDir returns the default directory for local call data.
// Uses ~/.call-coordinator/ so data is in a fixed location regardless of CWD.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./store"
	}
	return filepath.Join(home, ".call-coordinator")
}

// Config holds all configuration for the call coordinator.
type Config struct {
	// Identity
	UserID      string `mapstructure:"user_id"`
	DisplayName string `mapstructure:"display_name"`

	// Paths
	StorePath string `mapstructure:"store_path"`

	// Backends
	RecordBackend   string `mapstructure:"record_backend"`
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	RelayBackend    string `mapstructure:"relay_backend"`
	PresenceBackend string `mapstructure:"presence_backend"`
	PushBackend     string `mapstructure:"push_backend"`
	RedisAddr       string `mapstructure:"redis_addr"`

	// Call timing
	RingTimeout        time.Duration `mapstructure:"ring_timeout"`
	AnswerWaitTimeout  time.Duration `mapstructure:"answer_wait_timeout"`
	AnswerPollInterval time.Duration `mapstructure:"answer_poll_interval"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	OpTimeout          time.Duration `mapstructure:"op_timeout"`

	// Presence
	PresenceTTL       time.Duration `mapstructure:"presence_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// Feed resubscription
	ResubscribeBaseDelay time.Duration `mapstructure:"resubscribe_base_delay"`
	ResubscribeMaxDelay  time.Duration `mapstructure:"resubscribe_max_delay"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// HTTP
	HTTPEnabled bool   `mapstructure:"http_enabled"`
	HTTPHost    string `mapstructure:"http_host"`
	HTTPPort    int    `mapstructure:"http_port"`

	// MCP
	MCPEnabled bool `mapstructure:"mcp_enabled"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		StorePath:            filepath.Join(dataDir, "calls.db"),
		RecordBackend:        BackendSQLite,
		RelayBackend:         BackendLocal,
		PresenceBackend:      BackendLocal,
		PushBackend:          BackendLog,
		RedisAddr:            "localhost:6379",
		RingTimeout:          45 * time.Second,
		AnswerWaitTimeout:    10 * time.Second,
		AnswerPollInterval:   500 * time.Millisecond,
		ConnectTimeout:       30 * time.Second,
		OpTimeout:            10 * time.Second,
		PresenceTTL:          60 * time.Second,
		HeartbeatInterval:    20 * time.Second,
		ResubscribeBaseDelay: 1 * time.Second,
		ResubscribeMaxDelay:  1 * time.Minute,
		LogLevel:             "info",
		LogFormat:            "json",
		HTTPEnabled:          true,
		HTTPHost:             "127.0.0.1",
		HTTPPort:             8080,
		MCPEnabled:           true,
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("user_id", defaults.UserID)
	v.SetDefault("display_name", defaults.DisplayName)
	v.SetDefault("store_path", defaults.StorePath)
	v.SetDefault("record_backend", defaults.RecordBackend)
	v.SetDefault("postgres_dsn", defaults.PostgresDSN)
	v.SetDefault("relay_backend", defaults.RelayBackend)
	v.SetDefault("presence_backend", defaults.PresenceBackend)
	v.SetDefault("push_backend", defaults.PushBackend)
	v.SetDefault("redis_addr", defaults.RedisAddr)
	v.SetDefault("ring_timeout", defaults.RingTimeout)
	v.SetDefault("answer_wait_timeout", defaults.AnswerWaitTimeout)
	v.SetDefault("answer_poll_interval", defaults.AnswerPollInterval)
	v.SetDefault("connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("op_timeout", defaults.OpTimeout)
	v.SetDefault("presence_ttl", defaults.PresenceTTL)
	v.SetDefault("heartbeat_interval", defaults.HeartbeatInterval)
	v.SetDefault("resubscribe_base_delay", defaults.ResubscribeBaseDelay)
	v.SetDefault("resubscribe_max_delay", defaults.ResubscribeMaxDelay)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("http_enabled", defaults.HTTPEnabled)
	v.SetDefault("http_host", defaults.HTTPHost)
	v.SetDefault("http_port", defaults.HTTPPort)
	v.SetDefault("mcp_enabled", defaults.MCPEnabled)

	// Environment variables with CALLCOORD_ prefix
	v.SetEnvPrefix("CALLCOORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config.yaml means built-in defaults.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user id is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.HTTPEnabled && c.HTTPHost == "" {
		return fmt.Errorf("http host is required when http is enabled")
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d (must be 0-65535)", c.HTTPPort)
	}

	switch c.RecordBackend {
	case BackendSQLite:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres dsn is required for the postgres record backend")
		}
	default:
		return fmt.Errorf("invalid record backend: %s (must be sqlite or postgres)", c.RecordBackend)
	}

	for name, backend := range map[string]string{
		"relay":    c.RelayBackend,
		"presence": c.PresenceBackend,
	} {
		if backend != BackendLocal && backend != BackendRedis {
			return fmt.Errorf("invalid %s backend: %s (must be local or redis)", name, backend)
		}
	}
	if c.PushBackend != BackendLog && c.PushBackend != BackendRedis {
		return fmt.Errorf("invalid push backend: %s (must be log or redis)", c.PushBackend)
	}
	if c.UsesRedis() && c.RedisAddr == "" {
		return fmt.Errorf("redis addr is required for redis backends")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"ring timeout", c.RingTimeout},
		{"answer wait timeout", c.AnswerWaitTimeout},
		{"answer poll interval", c.AnswerPollInterval},
		{"connect timeout", c.ConnectTimeout},
		{"op timeout", c.OpTimeout},
		{"presence ttl", c.PresenceTTL},
		{"heartbeat interval", c.HeartbeatInterval},
		{"resubscribe base delay", c.ResubscribeBaseDelay},
		{"resubscribe max delay", c.ResubscribeMaxDelay},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if c.ResubscribeBaseDelay > c.ResubscribeMaxDelay {
		return fmt.Errorf("resubscribe base delay must be less than or equal to max delay")
	}

	if c.HeartbeatInterval >= c.PresenceTTL {
		return fmt.Errorf("heartbeat interval must be shorter than presence ttl")
	}

	return nil
}

// UsesRedis reports whether any backend needs the Redis connection.
func (c *Config) UsesRedis() bool {
	return c.RelayBackend == BackendRedis || c.PresenceBackend == BackendRedis || c.PushBackend == BackendRedis
}
