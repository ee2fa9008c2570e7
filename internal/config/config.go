// Package config loads kernald's configuration through layered koanf
// providers: compiled-in defaults, then an optional YAML file, then
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every tunable the kernel reads at startup. Each value is
// read once when the config is loaded; a change takes effect on the
// next restart.
type Config struct {
	k *koanf.Koanf

	BindAddr string
	DataDir  string
	DBPath   string

	PortRangeMin int
	PortRangeMax int
	ReservedPorts []int

	DefaultAgentID string

	StaleAfter time.Duration
	DeadAfter  time.Duration

	ReaperInterval time.Duration

	MessageRetentionCount int
	MessageRetentionAge   time.Duration

	ActivityRetentionAge   time.Duration
	ActivityRetentionCount int

	SalvageSnapshotNotes int

	RateLimitRequests int
	RateLimitWindow   time.Duration
	MaxSSEStreams     int
	MaxBodyBytes      int64

	PortClaimMaxRetries int
}

const envPrefix = "KERNALD_"

func defaults() map[string]any {
	return map[string]any{
		"bind_addr":                "127.0.0.1:9876",
		"data_dir":                 defaultDataDir(),
		"port_range_min":           10000,
		"port_range_max":           20000,
		"reserved_ports":           []int{},
		"default_agent_id":         "default",
		"stale_after_seconds":      600,
		"dead_after_seconds":       1200,
		"reaper_interval_seconds":  300,
		"message_retention_count":  1000,
		"message_retention_age_seconds": 7 * 24 * 3600,
		"activity_retention_age_seconds": 30 * 24 * 3600,
		"activity_retention_count": 100000,
		"salvage_snapshot_notes":   20,
		"rate_limit_requests":      100,
		"rate_limit_window_seconds": 60,
		"max_sse_streams":          10,
		"max_body_bytes":           10 * 1024,
		"port_claim_max_retries":   5,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".kernald")
	}
	return filepath.Join(home, ".kernald")
}

// Load builds a Config from defaults, an optional YAML file at
// yamlPath (skipped silently if it does not exist), and environment
// variables prefixed KERNALD_.
func Load(yamlPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if yamlPath != "" {
		if _, err := os.Stat(yamlPath); err == nil {
			if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", yamlPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMap), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{
		k:                      k,
		BindAddr:               k.String("bind_addr"),
		DataDir:                k.String("data_dir"),
		PortRangeMin:           k.Int("port_range_min"),
		PortRangeMax:           k.Int("port_range_max"),
		ReservedPorts:          k.Ints("reserved_ports"),
		DefaultAgentID:         k.String("default_agent_id"),
		StaleAfter:             time.Duration(k.Int64("stale_after_seconds")) * time.Second,
		DeadAfter:              time.Duration(k.Int64("dead_after_seconds")) * time.Second,
		ReaperInterval:         time.Duration(k.Int64("reaper_interval_seconds")) * time.Second,
		MessageRetentionCount:  k.Int("message_retention_count"),
		MessageRetentionAge:    time.Duration(k.Int64("message_retention_age_seconds")) * time.Second,
		ActivityRetentionAge:   time.Duration(k.Int64("activity_retention_age_seconds")) * time.Second,
		ActivityRetentionCount: k.Int("activity_retention_count"),
		SalvageSnapshotNotes:   k.Int("salvage_snapshot_notes"),
		RateLimitRequests:      k.Int("rate_limit_requests"),
		RateLimitWindow:        time.Duration(k.Int64("rate_limit_window_seconds")) * time.Second,
		MaxSSEStreams:          k.Int("max_sse_streams"),
		MaxBodyBytes:           k.Int64("max_body_bytes"),
		PortClaimMaxRetries:    k.Int("port_claim_max_retries"),
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, "kernald.db")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PortRangeMin <= 0 || c.PortRangeMax <= c.PortRangeMin {
		return fmt.Errorf("invalid port range [%d, %d]", c.PortRangeMin, c.PortRangeMax)
	}
	if c.StaleAfter <= 0 || c.DeadAfter <= c.StaleAfter {
		return fmt.Errorf("invalid agent thresholds: stale=%s dead=%s", c.StaleAfter, c.DeadAfter)
	}
	return nil
}

// envKeyMap converts KERNALD_BIND_ADDR -> bind_addr.
func envKeyMap(s string) string {
	s = s[len(envPrefix):]
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			out = append(out, byte(r-'A'+'a'))
		} else {
			out = append(out, byte(r))
		}
	}
	return string(out)
}
