package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/loxone-mcp/control-plane/internal/deviceclient"
	"github.com/loxone-mcp/control-plane/internal/journal"
	"github.com/loxone-mcp/control-plane/internal/models"
)

// Config is the typed configuration the server runs on. Environment
// variables are read here, at the binary edge, and nowhere else; every
// component past this point receives a typed struct.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogJSON    bool

	Device  deviceclient.Config
	Journal journal.Config
	Rate    models.RateLimitConfig

	PatternFile string // optional sanitizer pattern file, hot-reloaded
}

// loadConfig assembles Config from the environment. It returns an error
// only for values that are present but unparseable; missing optional
// values fall back to defaults. A missing LOXONE_HOST is a configuration
// error because nothing downstream can work without a controller.
func loadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: envOr("LOXMCP_LISTEN", ":8077"),
		LogLevel:   envOr("LOXMCP_LOG_LEVEL", "info"),
		LogJSON:    os.Getenv("LOXMCP_LOG_JSON") == "true",
		Device: deviceclient.Config{
			BaseURL:      os.Getenv("LOXONE_HOST"),
			Username:     os.Getenv("LOXONE_USER"),
			Password:     os.Getenv("LOXONE_PASS"),
			WebSocketURL: os.Getenv("LOXONE_WS_URL"),
		},
		Journal: journal.Config{
			LogFile: envOr("LOXMCP_JOURNAL_FILE", "sensor_journal.json"),
		},
		PatternFile: os.Getenv("LOXMCP_PATTERN_FILE"),
	}

	if cfg.Device.BaseURL == "" {
		return cfg, fmt.Errorf("LOXONE_HOST is required")
	}

	var err error
	if cfg.Device.CommandTimeout, err = envDuration("LOXONE_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Journal.SyncInterval, err = envDuration("LOXMCP_JOURNAL_SYNC", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Journal.MaxEventsPerSensor, err = envInt("LOXMCP_JOURNAL_MAX_EVENTS", 100); err != nil {
		return cfg, err
	}
	if cfg.Journal.MaxSensors, err = envInt("LOXMCP_JOURNAL_MAX_SENSORS", 1000); err != nil {
		return cfg, err
	}
	if cfg.Rate.MaxRequests, err = envInt("LOXMCP_RATE_MAX", 60); err != nil {
		return cfg, err
	}
	if cfg.Rate.BurstSize, err = envInt("LOXMCP_RATE_BURST", 10); err != nil {
		return cfg, err
	}
	if cfg.Rate.WindowDuration, err = envDuration("LOXMCP_RATE_WINDOW", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.Rate.CleanupInterval, err = envDuration("LOXMCP_RATE_CLEANUP", 5*time.Minute); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
