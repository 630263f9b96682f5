// Package config loads the relay's runtime configuration from the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultPort           = "8080"
	DefaultDBPath         = "data/relay.db"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultSendBuffer     = 256
	DefaultMaxMessageSize = 1 << 20
)

// Config holds all runtime configuration for the relay.
type Config struct {
	Host           string
	Port           string
	DBPath         string
	LogLevel       string
	LogFormat      string
	SendBuffer     int
	MaxMessageSize int64
	MDNS           bool
	MDNSName       string
}

// Load reads configuration from environment variables, falling back to
// defaults for anything unset.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Host:           getenv("RELAY_HOST"),
		Port:           getEnv(getenv, "RELAY_PORT", DefaultPort),
		DBPath:         getEnv(getenv, "RELAY_DB_PATH", DefaultDBPath),
		LogLevel:       strings.ToLower(getEnv(getenv, "RELAY_LOG_LEVEL", DefaultLogLevel)),
		LogFormat:      strings.ToLower(getEnv(getenv, "RELAY_LOG_FORMAT", DefaultLogFormat)),
		SendBuffer:     DefaultSendBuffer,
		MaxMessageSize: DefaultMaxMessageSize,
		MDNSName:       getenv("RELAY_MDNS_NAME"),
	}

	if v := getenv("RELAY_SEND_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RELAY_SEND_BUFFER: %w", err)
		}
		cfg.SendBuffer = n
	}

	if v := getenv("RELAY_MAX_MESSAGE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RELAY_MAX_MESSAGE_SIZE: %w", err)
		}
		cfg.MaxMessageSize = n
	}

	if v := getenv("RELAY_MDNS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RELAY_MDNS: %w", err)
		}
		cfg.MDNS = enabled
	}

	if cfg.MDNS && cfg.MDNSName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.MDNSName = host
		} else {
			cfg.MDNSName = "relay"
		}
	}

	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("RELAY_PORT must be a port number, got %q", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("RELAY_DB_PATH must not be empty")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("RELAY_SEND_BUFFER must be positive, got %d", c.SendBuffer)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("RELAY_MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("RELAY_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Address returns the host:port address for the HTTP server.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// PortNumber returns the numeric port. Only meaningful after Validate.
func (c *Config) PortNumber() int {
	port, _ := strconv.Atoi(c.Port)
	return port
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}
