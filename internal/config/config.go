// Package config loads the sheets-ws runtime configuration.
//
// Values come from the environment, optionally seeded from a .env file in
// the working directory, and may then be overridden by command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Broadcast modes of the sample application.
const (
	ModeEcho      = "echo"
	ModeBroadcast = "broadcast"
)

// Config holds everything the CLI needs to start a server.
type Config struct {
	Host           string
	Port           int
	IndexPath      string
	Mode           string
	LogMode        string
	MetricsAddr    string
	MaxMessageSize int
	ReadBufferSize int
}

// Load reads .env (if present) and the SHEETS_* environment variables.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Host:           getEnv("SHEETS_HOST", "localhost"),
		Port:           getEnvAsInt("SHEETS_PORT", 8000),
		IndexPath:      getEnv("SHEETS_INDEX", ""),
		Mode:           getEnv("SHEETS_MODE", ModeBroadcast),
		LogMode:        getEnv("SHEETS_LOG_MODE", "development"),
		MetricsAddr:    getEnv("SHEETS_METRICS_ADDR", ""),
		MaxMessageSize: getEnvAsInt("SHEETS_MAX_MESSAGE_SIZE", 16<<20),
		ReadBufferSize: getEnvAsInt("SHEETS_READ_BUFFER", 4096),
	}
	return cfg, nil
}

// BindFlags registers flags that override the loaded values.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "interface to listen on")
	fs.IntVarP(&c.Port, "port", "p", c.Port, "TCP port to listen on")
	fs.StringVar(&c.IndexPath, "index", c.IndexPath, "HTML file served to plain HTTP requests (built-in page when empty)")
	fs.StringVar(&c.Mode, "mode", c.Mode, "what to do with received messages: echo or broadcast")
	fs.StringVar(&c.LogMode, "log-mode", c.LogMode, "production or development logging")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "address for the Prometheus /metrics endpoint (disabled when empty)")
	fs.IntVar(&c.MaxMessageSize, "max-message-size", c.MaxMessageSize, "largest accepted frame payload in bytes (0 = 4 GiB codec limit)")
	fs.IntVar(&c.ReadBufferSize, "read-buffer", c.ReadBufferSize, "socket read chunk size in bytes")
}

// Validate checks the values after flags were applied.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Mode != ModeEcho && c.Mode != ModeBroadcast {
		return fmt.Errorf("invalid mode %q: must be %s or %s", c.Mode, ModeEcho, ModeBroadcast)
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("invalid max message size %d", c.MaxMessageSize)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("invalid read buffer size %d", c.ReadBufferSize)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
