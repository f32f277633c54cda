package config

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Config is the root configuration for personate.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Proxy     ProxyConfig     `json:"proxy,omitempty"`
	Janitor   JanitorConfig   `json:"janitor,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// DiscordConfig configures the bot connection.
// Token is NEVER read from the config file — only from env PERSONATE_DISCORD_TOKEN.
type DiscordConfig struct {
	Token       string `json:"-"`
	WebhookName string `json:"webhook_name,omitempty"` // name for bot-created proxy webhooks
}

// DatabaseConfig selects the store backend.
// PostgresDSN comes from env PERSONATE_POSTGRES_DSN only (secret).
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "standalone" (default, SQLite) or "managed" (Postgres)
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// IsManagedMode reports whether the Postgres backend should be used.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// ProxyConfig holds pipeline knobs.
type ProxyConfig struct {
	MaxNameLength int `json:"max_name_length,omitempty"` // webhook username cap, runes
	DeleteDelayMS int `json:"delete_delay_ms,omitempty"` // pause before deleting the trigger message
}

// DeleteDelay returns the configured trigger-deletion delay.
func (p ProxyConfig) DeleteDelay() time.Duration {
	return time.Duration(p.DeleteDelayMS) * time.Millisecond
}

// JanitorConfig schedules the message-link retention sweep.
// RetentionDays 0 disables the janitor entirely.
type JanitorConfig struct {
	Schedule      string `json:"schedule,omitempty"` // cron expression
	RetentionDays int    `json:"retention_days,omitempty"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Endpoint string `json:"endpoint,omitempty"` // host:port; empty disables tracing
	Protocol string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure bool   `json:"insecure,omitempty"`
}

// Validate checks cross-field constraints not expressible as defaults.
func (c *Config) Validate() error {
	if c.Proxy.MaxNameLength < 2 {
		return fmt.Errorf("proxy.max_name_length must be at least 2, got %d", c.Proxy.MaxNameLength)
	}
	if c.Janitor.RetentionDays < 0 {
		return fmt.Errorf("janitor.retention_days must not be negative, got %d", c.Janitor.RetentionDays)
	}
	if c.Janitor.RetentionDays > 0 && !gronx.New().IsValid(c.Janitor.Schedule) {
		return fmt.Errorf("janitor.schedule %q is not a valid cron expression", c.Janitor.Schedule)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be \"grpc\" or \"http\", got %q", c.Telemetry.Protocol)
	}
	return nil
}
