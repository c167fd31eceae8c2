package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the relay process.
type Config struct {
	// Network
	ListenAddr     string
	AllowedOrigins []string // empty means any origin

	// Secrets
	TokenSecret string // HS256 secret for connection tokens
	PushSecret  string // static bearer for /internal/push; empty = push disabled

	// Delivery
	SendBuffer int // per-connection outbound queue depth

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		ListenAddr:     getEnvOrDefault("RELAY_LISTEN_ADDR", "127.0.0.1:4000"),
		AllowedOrigins: splitList(os.Getenv("RELAY_ALLOWED_ORIGINS")),
		TokenSecret:    os.Getenv("RELAY_TOKEN_SECRET"),
		PushSecret:     os.Getenv("RELAY_PUSH_SECRET"),
		SendBuffer:     getEnvIntOrDefault("RELAY_SEND_BUFFER", 32),
		LogLevel:       getEnvOrDefault("RELAY_LOG_LEVEL", "info"),
		LogFile:        getEnvOrDefault("RELAY_LOG_FILE", "logs/relayd.log"),
	}

	if cfg.TokenSecret == "" {
		return nil, errors.New("RELAY_TOKEN_SECRET must be set")
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 1
	}

	return cfg, nil
}

// OriginAllowed reports whether the given Origin header value may open a
// websocket connection. An empty allowlist admits everything.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
