package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ICA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "account.id", typ: kString, env: "ICA_ACCOUNT_ID",
		apply:   func(cfg *Config, v any) { cfg.Account.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.Account.ID },
	},
	{
		key: "account.session_path", typ: kString, env: "ICA_ACCOUNT_SESSION_PATH",
		apply:   func(cfg *Config, v any) { cfg.Account.SessionPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Account.SessionPath },
	},
	{
		key: "instagram.base_url", typ: kString, env: "ICA_INSTAGRAM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Instagram.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Instagram.BaseURL },
	},
	{
		key: "telegram.token", typ: kString, env: "ICA_TELEGRAM_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Telegram.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.Token },
	},
	{
		key: "telegram.chat_id", typ: kString, env: "ICA_TELEGRAM_CHAT_ID",
		apply:   func(cfg *Config, v any) { cfg.Telegram.ChatID = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.ChatID },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ICA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "scheduler.workers", typ: kInt, env: "ICA_SCHEDULER_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Scheduler.Workers },
	},
	{
		key: "scheduler.poll_interval", typ: kString, env: "ICA_SCHEDULER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Scheduler.PollInterval },
	},
	{
		key: "scheduler.base_backoff", typ: kString, env: "ICA_SCHEDULER_BASE_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.BaseBackoff = v.(string) },
		extract: func(cfg Config) any { return cfg.Scheduler.BaseBackoff },
	},
	{
		key: "scheduler.max_backoff", typ: kString, env: "ICA_SCHEDULER_MAX_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.MaxBackoff = v.(string) },
		extract: func(cfg Config) any { return cfg.Scheduler.MaxBackoff },
	},
	{
		key: "scheduler.max_attempts", typ: kInt, env: "ICA_SCHEDULER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Scheduler.MaxAttempts },
	},
	{
		key: "scheduler.retention_days", typ: kInt, env: "ICA_SCHEDULER_RETENTION_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.RetentionDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Scheduler.RetentionDays },
	},
	{
		key: "log.level", typ: kString, env: "ICA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
