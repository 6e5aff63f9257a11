// Package config provides configuration loading and defaults for the Oracle
// presence service.
//
// Configuration is loaded from a TOML file in the data directory, layered over
// [DefaultConfig], and then overridden by environment variables through
// [Config.ApplyEnv].
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/oracle/internal/atomicfile"
	"tools.zach/dev/oracle/internal/paths"
)

// Built-in identity defaults.
const (
	DefaultUserID        = "1046834138583412856"
	DefaultDisplayName   = `!" Kura`
	DefaultAvatarURL     = "https://cdn.discordapp.com/embed/avatars/0.png"
	DefaultPort          = 3030
	DefaultEnvironment   = "development"
	DefaultRefreshPeriod = 300
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level service configuration.
type Config struct {
	// Environment names the deployment environment (NODE_ENV).
	Environment string `toml:"environment"`
	// Discord holds the tracked user and gateway credentials.
	Discord DiscordConfig `toml:"discord"`
	// Server holds HTTP listener and route settings.
	Server ServerConfig `toml:"server"`
	// Refresh holds background job timing.
	Refresh RefreshConfig `toml:"refresh"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
	// Update holds the release check settings.
	Update UpdateConfig `toml:"update"`
}

// DiscordConfig holds the tracked user and bot credentials.
type DiscordConfig struct {
	// UserID is the snowflake of the single tracked user.
	UserID string `toml:"user_id"`
	// Token is the bot token. Empty disables the gateway.
	Token string `toml:"token"`
	// DisplayName replaces the platform username when non-empty.
	DisplayName string `toml:"display_name"`
	// DefaultAvatarURL is served when the user has no avatar hash.
	DefaultAvatarURL string `toml:"default_avatar_url"`
}

// ServerConfig holds HTTP listener and route settings.
type ServerConfig struct {
	Port int `toml:"port"`
	// AllowedOrigins lists CORS origins. Entries may be doublestar globs; "*" allows all.
	AllowedOrigins []string `toml:"allowed_origins"`
	DataPath       string   `toml:"data_path"`
	StatusPath     string   `toml:"status_path"`
	StatsPath      string   `toml:"stats_path"`
	// MetricsPath serves Prometheus metrics. Empty disables the route.
	MetricsPath string `toml:"metrics_path"`
}

// RefreshConfig holds background job timing.
type RefreshConfig struct {
	// IntervalSeconds is the period of the profile refresh.
	IntervalSeconds int `toml:"interval_seconds"`
	// StatsLogMinutes is the period of the interaction statistics log. 0 disables it.
	StatsLogMinutes int `toml:"stats_log_minutes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// Console mirrors records to stdout and stderr.
	Console bool `toml:"console"`
}

// UpdateConfig holds the release check settings.
type UpdateConfig struct {
	// ManifestURL points at a JSON release manifest. Empty disables the check.
	ManifestURL string `toml:"manifest_url"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Environment: DefaultEnvironment,
		Discord: DiscordConfig{
			UserID:           DefaultUserID,
			DisplayName:      DefaultDisplayName,
			DefaultAvatarURL: DefaultAvatarURL,
		},
		Server: ServerConfig{
			Port:           DefaultPort,
			AllowedOrigins: []string{"http://localhost:3001", "https://kuraz.vercel.app", "http://144.24.207.208:3030"},
			DataPath:       "/api/discord/discord-data",
			StatusPath:     "/api/discord/status",
			StatsPath:      "/api/stats",
			MetricsPath:    "/metrics",
		},
		Refresh: RefreshConfig{
			IntervalSeconds: DefaultRefreshPeriod,
			StatsLogMinutes: 60,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
			Console:   true,
		},
	}
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses dataDir/config.toml over [DefaultConfig].
// If the file doesn't exist, returns DefaultConfig. Environment overrides
// are not applied here; see [Config.ApplyEnv].
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes data to path unless a file already exists there.
func WriteDefault(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return atomicfile.Write(path, data, 0o644)
}

// ///////////////////////////////////////////////
// Environment Overrides
// ///////////////////////////////////////////////

// Environment variable names consulted by [Config.ApplyEnv].
const (
	EnvUserID      = "USER_ID"
	EnvToken       = "DISCORD_BOT_TOKEN"
	EnvPort        = "PORT"
	EnvEnvironment = "NODE_ENV"
	EnvLogLevel    = "ORACLE_LOG_LEVEL"
)

// ApplyEnv overrides fields from non-empty environment variables read through
// getenv, then re-validates. An unparsable PORT is an error.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvUserID); v != "" {
		c.Discord.UserID = v
	}
	if v := getenv(EnvToken); v != "" {
		c.Discord.Token = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Server.Port = port
	}
	if v := getenv(EnvEnvironment); v != "" {
		c.Environment = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return c.Validate()
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Discord.UserID == "" {
		return errors.New("discord.user_id must not be empty")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be within 0-65535, got %d", c.Server.Port)
	}
	if c.Refresh.IntervalSeconds <= 0 {
		return fmt.Errorf("refresh.interval_seconds must be > 0, got %d", c.Refresh.IntervalSeconds)
	}
	if c.Refresh.StatsLogMinutes < 0 {
		return fmt.Errorf("refresh.stats_log_minutes must be >= 0, got %d", c.Refresh.StatsLogMinutes)
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}

	routes := map[string]string{}
	for name, p := range map[string]string{
		"data_path":    c.Server.DataPath,
		"status_path":  c.Server.StatusPath,
		"stats_path":   c.Server.StatsPath,
		"metrics_path": c.Server.MetricsPath,
	} {
		if p == "" && name == "metrics_path" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("server.%s %q must start with /", name, p)
		}
		if other, dup := routes[p]; dup {
			return fmt.Errorf("server.%s and server.%s share the route %q", name, other, p)
		}
		routes[p] = name
	}

	for _, o := range c.Server.AllowedOrigins {
		if !doublestar.ValidatePattern(o) {
			return fmt.Errorf("invalid server.allowed_origins pattern %q", o)
		}
	}
	return nil
}

// ///////////////////////////////////////////////
// Reload
// ///////////////////////////////////////////////

// RestartRequired lists the settings that differ between c and next but only
// take effect after a restart.
func (c *Config) RestartRequired(next *Config) []string {
	var keys []string
	if c.Discord.UserID != next.Discord.UserID {
		keys = append(keys, "discord.user_id")
	}
	if c.Discord.Token != next.Discord.Token {
		keys = append(keys, "discord.token")
	}
	if c.Server.Port != next.Server.Port {
		keys = append(keys, "server.port")
	}
	if c.Server.DataPath != next.Server.DataPath ||
		c.Server.StatusPath != next.Server.StatusPath ||
		c.Server.StatsPath != next.Server.StatsPath ||
		c.Server.MetricsPath != next.Server.MetricsPath {
		keys = append(keys, "server routes")
	}
	if c.Refresh != next.Refresh {
		keys = append(keys, "refresh")
	}
	return keys
}
