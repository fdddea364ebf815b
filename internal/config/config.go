// Package config holds the engine's runtime configuration: the JSON file
// schema, a hot-reloadable Store, and helpers for the operator CLI. Inventory
// lives elsewhere; this file carries only the influxdb, logging, and pushover
// sections.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

const (
	DefaultRetentionLines = 200
	DefaultAlertThreshold = 5
	DefaultAlertWindow    = 60
)

// InfluxDB selects and configures the time-series sink.
type InfluxDB struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// Configured reports whether the section carries enough detail to build a
// client.
func (c InfluxDB) Configured() bool {
	return c.Enabled && c.URL != "" && c.Token != "" && c.Org != "" && c.Bucket != ""
}

// Logging configures the append-only file sink and the process log level.
type Logging struct {
	FileEnabled    bool   `json:"file_enabled"`
	FilePath       string `json:"file_path"`
	RetentionLines int    `json:"retention_lines"`
	LogLevel       string `json:"log_level"`
}

// Pushover configures the notification sink and the DOWN-alert storm control.
type Pushover struct {
	Enabled           bool   `json:"enabled"`
	Token             string `json:"token"`
	UserKey           string `json:"user_key"`
	Priority          int    `json:"priority"`
	MessageTemplate   string `json:"message_template"`
	MaintenanceMode   bool   `json:"maintenance_mode"`
	ThrottlingEnabled bool   `json:"throttling_enabled"`
	AlertThreshold    int    `json:"alert_threshold"`
	AlertWindow       int    `json:"alert_window"`
}

// Config is one parsed snapshot of the configuration file. Snapshots are
// immutable once published by the Store; mutate a copy, never a shared one.
type Config struct {
	InfluxDB InfluxDB `json:"influxdb"`
	Logging  Logging  `json:"logging"`
	Pushover Pushover `json:"pushover"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		Logging: Logging{
			FileEnabled:    true,
			FilePath:       "data/monitoring.log",
			RetentionLines: DefaultRetentionLines,
			LogLevel:       "info",
		},
		Pushover: Pushover{
			ThrottlingEnabled: true,
			AlertThreshold:    DefaultAlertThreshold,
			AlertWindow:       DefaultAlertWindow,
		},
	}
}

// Sanitize replaces out-of-range values with defaults, logging a warning for
// each replacement. A bad knob never rejects the whole file.
func (c *Config) Sanitize(log *slog.Logger) {
	if c.Logging.RetentionLines <= 0 {
		log.Warn("config: invalid retention_lines, using default", "value", c.Logging.RetentionLines, "default", DefaultRetentionLines)
		c.Logging.RetentionLines = DefaultRetentionLines
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = Default().Logging.FilePath
	}
	if c.Pushover.Priority < -2 || c.Pushover.Priority > 2 {
		log.Warn("config: invalid pushover priority, using 0", "value", c.Pushover.Priority)
		c.Pushover.Priority = 0
	}
	if c.Pushover.AlertThreshold < 1 {
		log.Warn("config: invalid alert_threshold, using default", "value", c.Pushover.AlertThreshold, "default", DefaultAlertThreshold)
		c.Pushover.AlertThreshold = DefaultAlertThreshold
	}
	if c.Pushover.AlertWindow < 1 {
		log.Warn("config: invalid alert_window, using default", "value", c.Pushover.AlertWindow, "default", DefaultAlertWindow)
		c.Pushover.AlertWindow = DefaultAlertWindow
	}
}

// Level maps the configured log level token onto a slog level, defaulting to
// info for unknown tokens.
func (c *Config) Level() slog.Level {
	switch c.Logging.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the configuration file, applies environment
// overrides, and sanitizes knob values. A missing file yields the defaults;
// a present-but-unparseable file yields an error.
func Load(log *slog.Logger, path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Warn("config: file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("error reading config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.Sanitize(log)
	return cfg, nil
}

// applyEnvOverrides layers the Influx connection environment variables over
// the file values, so a deployment can keep credentials out of the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INFLUX_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("INFLUX_ORG"); v != "" {
		cfg.InfluxDB.Org = v
	}
	if v := os.Getenv("INFLUX_BUCKET"); v != "" {
		cfg.InfluxDB.Bucket = v
	}
}
