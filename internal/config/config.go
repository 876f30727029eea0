package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/elonfeng/gearrank/pkg/popularity"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Rollup   RollupConfig   `yaml:"rollup"`
	Weights  map[string]int `yaml:"weights"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Redis    RedisConfig    `yaml:"redis"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         int             `yaml:"port"`
	RollupSecret string          `yaml:"rollup_secret"`
	Cookie       CookieConfig    `yaml:"cookie"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// CookieConfig configures the signed anonymous visitor cookie.
type CookieConfig struct {
	Secret string `yaml:"secret"`
	TTL    string `yaml:"ttl"`
	Secure bool   `yaml:"secure"`
}

// ParseTTL returns the cookie lifetime, one year when unset or invalid.
func (c CookieConfig) ParseTTL() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return 365 * 24 * time.Hour
	}
	return d
}

// RateLimitConfig limits POST /events per client IP.
type RateLimitConfig struct {
	Events int    `yaml:"events"`
	Window string `yaml:"window"`
}

// ParseWindow returns the rate limit window, one minute by default.
func (r RateLimitConfig) ParseWindow() time.Duration {
	d, err := time.ParseDuration(r.Window)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// RollupConfig tunes the daily rollup job.
type RollupConfig struct {
	LookbackDays int    `yaml:"lookback_days"`
	Timeout      string `yaml:"timeout"`
}

// ParseTimeout returns the run budget, 300s by default.
func (r RollupConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return 300 * time.Second
	}
	return d
}

// ScheduleConfig configures the optional in-process daily trigger.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	RunAt   string `yaml:"run_at"` // HH:MM, UTC
}

// RedisConfig enables the view dedupe fast path when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./gearrank.db"},
		Server: ServerConfig{
			Port:      8080,
			Cookie:    CookieConfig{TTL: "8760h"},
			RateLimit: RateLimitConfig{Events: 120, Window: "1m"},
		},
		Rollup: RollupConfig{
			LookbackDays: 7,
			Timeout:      "300s",
		},
		Weights:  popularity.DefaultWeights().Map(),
		Schedule: ScheduleConfig{RunAt: "00:10"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the YAML decoder cannot.
func (c *Config) Validate() error {
	if c.Rollup.LookbackDays < 0 || c.Rollup.LookbackDays > 90 {
		return fmt.Errorf("rollup.lookback_days must be between 0 and 90, got %d", c.Rollup.LookbackDays)
	}
	if _, err := popularity.NewWeights(c.Weights); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Schedule.Enabled {
		if _, _, err := ParseClock(c.Schedule.RunAt); err != nil {
			return fmt.Errorf("schedule.run_at: %w", err)
		}
	}
	return nil
}

// PopularityWeights builds the weight table.
func (c *Config) PopularityWeights() (popularity.Weights, error) {
	return popularity.NewWeights(c.Weights)
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GEARRANK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GEARRANK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GEARRANK_ROLLUP_SECRET"); v != "" {
		cfg.Server.RollupSecret = v
	}
	if v := os.Getenv("GEARRANK_COOKIE_SECRET"); v != "" {
		cfg.Server.Cookie.Secret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
	if v := os.Getenv("ALERT_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
}
