package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// envPrefix is prepended to every variable name below.
const envPrefix = "XXFUNC_"

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:":3000"`
	DBPath         string        `env:"DB_PATH" envDefault:"module.db"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	Workers        int           `env:"WORKERS" envDefault:"0"`
	ModuleDir      string        `env:"MODULE_DIR" envDefault:"modules"`
	ExecTimeout    time.Duration `env:"EXEC_TIMEOUT" envDefault:"0s"`
	FeedURL        string        `env:"FEED_URL"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"67108864"`
	Tracing        bool          `env:"TRACING" envDefault:"false"`
	TraceFile      string        `env:"TRACE_FILE"`
}

// Load reads configuration from environment variables with sensible defaults.
// Empty variables count as unset.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Workers < 0 {
		return Config{}, fmt.Errorf("%sWORKERS must not be negative, got %d", envPrefix, cfg.Workers)
	}
	if cfg.ExecTimeout < 0 {
		return Config{}, fmt.Errorf("%sEXEC_TIMEOUT must not be negative, got %s", envPrefix, cfg.ExecTimeout)
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("%sMAX_UPLOAD_BYTES must be positive, got %d", envPrefix, cfg.MaxUploadBytes)
	}
	return cfg, nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
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
