package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultDBPath = "tidemark.db"

	envDBPath      = "TIDEMARK_DB_PATH"
	envMaxInflight = "TIDEMARK_MAX_INFLIGHT_COMPONENTS"
	envLogLevel    = "TIDEMARK_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	DBPath      string
	MaxInflight int64 // 0 = engine default
	LogLevel    slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		DBPath:   defaultDBPath,
		LogLevel: slog.LevelInfo,
	}

	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envMaxInflight); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxInflight = n
		}
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
