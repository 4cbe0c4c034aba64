// Package config loads and validates engine configuration from environment
// variables, with an optional TOML file overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all engine configuration.
type Config struct {
	// Producer endpoint settings.
	BaseURL   string `toml:"base_url"`
	Transport string `toml:"transport"` // "sse" or "websocket"

	// Backfill settings.
	BackfillLimit   int           `toml:"backfill_limit"`
	BackfillTimeout time.Duration `toml:"backfill_timeout"`

	// Reconnect settings. Fixed selects the constant-delay policy instead
	// of the default jittered exponential backoff.
	ReconnectBaseDelay time.Duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `toml:"reconnect_max_delay"`
	ReconnectFixed     bool          `toml:"reconnect_fixed"`

	// View retention settings.
	DedupCapacity int `toml:"dedup_capacity"`
	EventLogCap   int `toml:"event_log_cap"`
	RunCap        int `toml:"run_cap"` // 0 = unbounded

	// Read model settings.
	PollInterval time.Duration `toml:"poll_interval"`
	HistoryLimit int           `toml:"history_limit"`

	// OTEL settings.
	OTELEndpoint string `toml:"otel_endpoint"`
	OTELInsecure bool   `toml:"otel_insecure"`
	ServiceName  string `toml:"service_name"`

	// Operational settings.
	LogLevel string `toml:"log_level"`
}

// Load reads configuration from environment variables with sensible
// defaults, then overlays the TOML file named by NAGARE_CONFIG if set.
func Load() (Config, error) {
	cfg := Config{
		BaseURL:            envStr("NAGARE_BASE_URL", "http://localhost:8080"),
		Transport:          envStr("NAGARE_TRANSPORT", "sse"),
		BackfillLimit:      envInt("NAGARE_BACKFILL_LIMIT", 100),
		BackfillTimeout:    envDuration("NAGARE_BACKFILL_TIMEOUT", 5*time.Second),
		ReconnectBaseDelay: envDuration("NAGARE_RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:  envDuration("NAGARE_RECONNECT_MAX_DELAY", 30*time.Second),
		ReconnectFixed:     envBool("NAGARE_RECONNECT_FIXED", false),
		DedupCapacity:      envInt("NAGARE_DEDUP_CAPACITY", 2000),
		EventLogCap:        envInt("NAGARE_EVENT_LOG_CAP", 5000),
		RunCap:             envInt("NAGARE_RUN_CAP", 0),
		PollInterval:       envDuration("NAGARE_POLL_INTERVAL", 10*time.Second),
		HistoryLimit:       envInt("NAGARE_HISTORY_LIMIT", 50),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:       envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "nagare"),
		LogLevel:           envStr("NAGARE_LOG_LEVEL", "info"),
	}

	if path := os.Getenv("NAGARE_CONFIG"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyFile overlays values from a TOML file. Only keys present in the file
// override the current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: NAGARE_BASE_URL is required")
	}
	if c.Transport != "sse" && c.Transport != "websocket" {
		return fmt.Errorf("config: NAGARE_TRANSPORT must be \"sse\" or \"websocket\", got %q", c.Transport)
	}
	if c.BackfillLimit <= 0 {
		return fmt.Errorf("config: NAGARE_BACKFILL_LIMIT must be positive")
	}
	if c.DedupCapacity <= 0 {
		return fmt.Errorf("config: NAGARE_DEDUP_CAPACITY must be positive")
	}
	if c.EventLogCap <= 0 {
		return fmt.Errorf("config: NAGARE_EVENT_LOG_CAP must be positive")
	}
	if c.RunCap < 0 {
		return fmt.Errorf("config: NAGARE_RUN_CAP must be zero or positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
