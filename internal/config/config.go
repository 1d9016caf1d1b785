// Package config loads engine settings from the environment
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DefaultManifestURL is where release manifests are published
const DefaultManifestURL = "https://api.github.com/repos/Monika-After-Story/MonikaModDev/releases/latest/manifest.json"

// Config holds all engine configuration settings
type Config struct {
	ManifestURL string `validate:"required,url"`

	Concurrency    int           `validate:"min=1,max=16"`
	Retries        int           `validate:"min=0,max=10"`
	Backoff        time.Duration `validate:"min=0"`
	FetchTimeout   time.Duration `validate:"min=0"`
	RequestTimeout time.Duration `validate:"min=0"`

	TempDir   string `validate:"required"`
	StateFile string `validate:"required"`
	TargetDir string

	VolumeDB float64
	Quiet    bool

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`
}

// Load reads configuration from the environment with MAS_-prefixed
// variables, applying defaults and validating the result. A .env file in
// the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // Optional, absence is fine

	cfg := &Config{
		ManifestURL:    envString("MAS_MANIFEST_URL", DefaultManifestURL),
		Concurrency:    envInt("MAS_CONCURRENCY", 3),
		Retries:        envInt("MAS_RETRIES", 3),
		Backoff:        envDuration("MAS_BACKOFF", 500*time.Millisecond),
		FetchTimeout:   envDuration("MAS_FETCH_TIMEOUT", 30*time.Second),
		RequestTimeout: envDuration("MAS_REQUEST_TIMEOUT", 30*time.Minute),
		TempDir:        envString("MAS_TEMP_DIR", defaultTempDir()),
		StateFile:      envString("MAS_STATE_FILE", defaultStateFile()),
		TargetDir:      envString("MAS_TARGET_DIR", ""),
		VolumeDB:       envFloat("MAS_VOLUME_DB", 0),
		Quiet:          envBool("MAS_QUIET", false),
		LogLevel:       envString("MAS_LOG_LEVEL", "info"),
		LogFormat:      envString("MAS_LOG_FORMAT", "text"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// SetupLogger configures the default slog logger from the configuration
func SetupLogger(cfg *Config) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func defaultTempDir() string {
	return os.TempDir()
}

func defaultStateFile() string {
	cache, err := os.UserCacheDir()
	if err != nil {
		return ".mas-installer-state.json"
	}
	return cache + string(os.PathSeparator) + "mas-installer" + string(os.PathSeparator) + "state.json"
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer", "var", key, "value", v)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring invalid duration", "var", key, "value", v)
		return def
	}
	return d
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring invalid float", "var", key, "value", v)
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean", "var", key, "value", v)
		return def
	}
	return b
}
