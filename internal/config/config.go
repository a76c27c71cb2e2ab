// Package config provides YAML-based configuration loading for Switchyard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchyard configuration, loaded from switchyard.yaml.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Server       ServerConfig       `yaml:"server"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Retry        RetryConfig        `yaml:"retry"`
	Enrich       EnrichConfig       `yaml:"enrich"`
	Notify       NotifyConfig       `yaml:"notify"`
	Reaper       ReaperConfig       `yaml:"reaper"`
	Log          LogConfig          `yaml:"log"`
}

// DatabaseConfig selects the storage driver and how to reach it. When DSN is
// empty for mysql/postgres, one is built from the discrete fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql, postgres, sqlite
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port        int `yaml:"port"`
	EventBuffer int `yaml:"event_buffer"` // per-subscriber channel size
}

// IngestConfig tunes the packet sequencer.
type IngestConfig struct {
	LatePackets string `yaml:"late_packets"` // accept, reject
	MaxMissing  int    `yaml:"max_missing"`
}

// OrchestratorConfig tunes the completion flow.
type OrchestratorConfig struct {
	GracePeriod  time.Duration `yaml:"grace_period"`
	FastPath     bool          `yaml:"fast_path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RetryConfig bounds enrichment retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MaxTimeout  time.Duration `yaml:"max_timeout"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// EnrichConfig selects the transcription/sentiment provider.
type EnrichConfig struct {
	Provider    string        `yaml:"provider"` // mock, openai, anthropic
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	FailureRate *float64      `yaml:"failure_rate"` // mock only; nil means 0.25
	MinLatency  time.Duration `yaml:"min_latency"`
	MaxLatency  time.Duration `yaml:"max_latency"`
}

// NotifyConfig routes selected lifecycle events to chat platforms.
type NotifyConfig struct {
	Events  []string      `yaml:"events"`
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig identifies a bot and the channel it posts into.
type ChannelConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (c ChannelConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// ReaperConfig controls the stale-call sweep. An empty schedule disables it.
// The reaper only knows about orchestrations running in its own process, so
// with several instances sharing a database stale_after must exceed the
// longest grace period plus enrichment retry budget, or the reaper should
// run on one instance only.
type ReaperConfig struct {
	Schedule   string        `yaml:"schedule"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

const (
	LatePacketsAccept = "accept"
	LatePacketsReject = "reject"
)

// DefaultMockFailureRate is the mock provider's failure probability.
const DefaultMockFailureRate = 0.25

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated Config with every default applied, suitable
// for running against a local SQLite file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" {
			c.Database.DSN = "switchyard.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	case "postgres":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.User == "" {
			c.Database.User = "postgres"
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "switchyard"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.EventBuffer == 0 {
		c.Server.EventBuffer = 64
	}

	if c.Ingest.LatePackets == "" {
		c.Ingest.LatePackets = LatePacketsAccept
	}
	if c.Ingest.MaxMissing == 0 {
		c.Ingest.MaxMissing = 100
	}

	if c.Orchestrator.GracePeriod == 0 {
		c.Orchestrator.GracePeriod = 3 * time.Second
	}
	if c.Orchestrator.PollInterval == 0 {
		c.Orchestrator.PollInterval = 250 * time.Millisecond
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.MaxTimeout == 0 {
		c.Retry.MaxTimeout = 60 * time.Second
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}

	if c.Enrich.Provider == "" {
		c.Enrich.Provider = "mock"
	}
	if c.Enrich.Provider == "mock" {
		if c.Enrich.FailureRate == nil {
			rate := DefaultMockFailureRate
			c.Enrich.FailureRate = &rate
		}
		if c.Enrich.MinLatency == 0 && c.Enrich.MaxLatency == 0 {
			c.Enrich.MinLatency = time.Second
			c.Enrich.MaxLatency = 3 * time.Second
		}
	}

	if c.Notify.Events == nil {
		c.Notify.Events = []string{"ai_failed"}
	}

	if c.Reaper.StaleAfter == 0 {
		c.Reaper.StaleAfter = 15 * time.Minute
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, mysql, postgres", c.Database.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.EventBuffer < 0 {
		errs = append(errs, "server.event_buffer must not be negative")
	}
	switch c.Ingest.LatePackets {
	case LatePacketsAccept, LatePacketsReject:
	default:
		errs = append(errs, fmt.Sprintf("ingest.late_packets %q is not one of accept, reject", c.Ingest.LatePackets))
	}
	if c.Ingest.MaxMissing < 0 {
		errs = append(errs, "ingest.max_missing must not be negative")
	}
	if c.Orchestrator.GracePeriod < 0 {
		errs = append(errs, "orchestrator.grace_period must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	if c.Retry.MaxTimeout < 0 || c.Retry.BaseDelay < 0 {
		errs = append(errs, "retry durations must not be negative")
	}
	switch c.Enrich.Provider {
	case "mock", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("enrich.provider %q is not one of mock, openai, anthropic", c.Enrich.Provider))
	}
	if r := c.Enrich.FailureRate; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, "enrich.failure_rate must be between 0 and 1")
	}
	if c.Enrich.MaxLatency < c.Enrich.MinLatency {
		errs = append(errs, "enrich.max_latency must not be less than enrich.min_latency")
	}
	for i, e := range c.Notify.Events {
		switch e {
		case "packet_received", "state_changed", "ai_completed", "ai_failed":
		default:
			errs = append(errs, fmt.Sprintf("notify.events[%d] %q is not a lifecycle event", i, e))
		}
	}
	if c.Reaper.StaleAfter < 0 {
		errs = append(errs, "reaper.stale_after must not be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
