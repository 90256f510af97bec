// Package config loads runtime settings for the medtrack client.
package config

import "time"

// Config holds runtime settings for the medtrack client core.
//
// Fields:
//   - ServerBaseURL: base URL of the backend REST API.
//   - DatabasePath: path of the local SQLite file.
//   - SyncInterval: how often the background auto-sync runs while logged in.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - QueueMaxRetries: attempts per mutation queue entry before it is dropped.
type Config struct {
	ServerBaseURL       string
	DatabasePath        string
	SyncInterval        time.Duration
	OnlineCheckInterval time.Duration
	QueueMaxRetries     int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = "medtrack.db"
	c.SyncInterval = 30 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.QueueMaxRetries = 5
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
