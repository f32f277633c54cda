package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Discord: DiscordConfig{
			WebhookName: "personate proxy",
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.personate/personate.db",
		},
		Proxy: ProxyConfig{
			MaxNameLength: 80,
			DeleteDelayMS: 1000,
		},
		Janitor: JanitorConfig{
			Schedule: "0 4 * * *",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("PERSONATE_DISCORD_TOKEN", &c.Discord.Token)
	envStr("PERSONATE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("PERSONATE_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("PERSONATE_DB_MODE", &c.Database.Mode)
	envStr("PERSONATE_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
}

// SQLitePathExpanded returns the SQLite path with a leading ~ expanded.
func (c *Config) SQLitePathExpanded() string {
	p := c.Database.SQLitePath
	if strings.HasPrefix(p, "~/") || p == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
