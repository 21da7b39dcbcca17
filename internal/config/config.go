// Package config loads daemon configuration from a JSON file backend with
// environment-variable overrides. Secrets (the Telegram bot token) are never
// written to the backend and come from the environment only.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

type Config struct {
	Server    ServerConfig
	Account   AccountConfig
	Instagram InstagramConfig
	Telegram  TelegramConfig
	Storage   StorageConfig
	Scheduler SchedulerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

// AccountConfig identifies the automation account whose session backs all
// Instagram calls. SessionPath points at a file holding the session cookie;
// the daemon re-reads it when the stored session expires.
type AccountConfig struct {
	ID          string
	SessionPath string
}

type InstagramConfig struct {
	BaseURL string
}

type TelegramConfig struct {
	Token  string
	ChatID string
}

type StorageConfig struct {
	DataDir string
}

type SchedulerConfig struct {
	Workers       int
	PollInterval  string
	BaseBackoff   string
	MaxBackoff    string
	MaxAttempts   int
	RetentionDays int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Account: AccountConfig{
			SessionPath: filepath.Join(dataDir, "session.txt"),
		},
		Instagram: InstagramConfig{
			BaseURL: "https://www.instagram.com",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Scheduler: SchedulerConfig{
			Workers:       4,
			PollInterval:  "500ms",
			BaseBackoff:   "5s",
			MaxBackoff:    "10m",
			MaxAttempts:   3,
			RetentionDays: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/icactl/config.json and applies ICA_* environment
// overrides on top. The Telegram token is environment-only; when it is
// unset, job notifications are disabled rather than failing startup.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Account.ID == "" {
		return Config{}, fmt.Errorf("missing required config: account.id. " +
			"Set it with `icactl config set account.id <username>` or environment variable ICA_ACCOUNT_ID")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be at least 1, got %d", c.Scheduler.MaxAttempts)
	}
	for _, d := range []struct{ key, val string }{
		{"scheduler.poll_interval", c.Scheduler.PollInterval},
		{"scheduler.base_backoff", c.Scheduler.BaseBackoff},
		{"scheduler.max_backoff", c.Scheduler.MaxBackoff},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
	}
	return nil
}

// Duration accessors parse validated string fields; Load rejects configs
// whose durations do not parse, so the fallbacks only cover zero values.

func (c SchedulerConfig) PollDuration() time.Duration {
	return parseDuration(c.PollInterval, 500*time.Millisecond)
}

func (c SchedulerConfig) BaseBackoffDuration() time.Duration {
	return parseDuration(c.BaseBackoff, 5*time.Second)
}

func (c SchedulerConfig) MaxBackoffDuration() time.Duration {
	return parseDuration(c.MaxBackoff, 10*time.Minute)
}

func (c SchedulerConfig) RetentionDuration() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
