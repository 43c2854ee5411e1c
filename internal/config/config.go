// Package config holds the gateway configuration: channel credentials,
// CustomGPT project settings, store backend selection, and the rate-limit,
// dedup, conversation, and thread tunables.
package config

import (
	"fmt"
	"time"

	"github.com/zriyansh/customgpt-bots/internal/ratelimit"
)

// Config is the root configuration for the bot gateway.
type Config struct {
	CustomGPT     CustomGPTConfig     `json:"customgpt"`
	Store         StoreConfig         `json:"store"`
	Limits        LimitsConfig        `json:"limits"`
	Dedup         DedupConfig         `json:"dedup"`
	Conversations ConversationsConfig `json:"conversations"`
	Threads       ThreadsConfig       `json:"threads"`
	Channels      ChannelsConfig      `json:"channels"`

	// StarterQuestions are offered when a user addresses the bot with an
	// empty message.
	StarterQuestions []string `json:"starter_questions,omitempty"`
}

// CustomGPTConfig configures the knowledge-base API client.
// APIKey comes from env CUSTOMGPT_API_KEY only — never persisted.
type CustomGPTConfig struct {
	BaseURL           string  `json:"base_url,omitempty"`
	APIKey            string  `json:"-"`
	ProjectID         string  `json:"project_id"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // 0 = unpaced
}

// StoreConfig selects the expiring-store backend.
// RedisPassword comes from env REDIS_PASSWORD only.
type StoreConfig struct {
	Backend       string `json:"backend"` // "memory" (default), "redis", "sqlite"
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisPassword string `json:"-"`
	SQLitePath    string `json:"sqlite_path,omitempty"`
}

// WindowConfig is one rate-limit window in file form.
type WindowConfig struct {
	Name    string `json:"name"`
	Seconds int    `json:"seconds"`
	Limit   int64  `json:"limit"`
}

// LimitsConfig configures per-principal rate limiting.
type LimitsConfig struct {
	Windows []WindowConfig `json:"windows"`

	// FailOpen allows requests through on store outage. Default false:
	// unlimited requests against a paid API is the worse failure mode.
	FailOpen bool `json:"fail_open,omitempty"`
}

// RateWindows converts the file form to limiter windows.
func (l LimitsConfig) RateWindows() []ratelimit.Window {
	out := make([]ratelimit.Window, 0, len(l.Windows))
	for _, w := range l.Windows {
		out = append(out, ratelimit.Window{
			Name:  w.Name,
			Size:  time.Duration(w.Seconds) * time.Second,
			Limit: w.Limit,
		})
	}
	return out
}

// DedupConfig configures webhook event deduplication.
type DedupConfig struct {
	// TTLSeconds must exceed the platform webhook-retry span.
	TTLSeconds int `json:"ttl_seconds"`

	// FailClosed drops events on store outage instead of risking a
	// duplicate reply. Default false (fail open).
	FailClosed bool `json:"fail_closed,omitempty"`
}

// ConversationsConfig configures the remote-conversation cache.
type ConversationsConfig struct {
	// TTLSeconds is the sliding idle expiry of a cached conversation id.
	TTLSeconds int `json:"ttl_seconds"`
}

// ThreadsConfig configures thread follow-up participation.
type ThreadsConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
	MaxMessages    int `json:"max_messages"`
}

// ChannelsConfig holds per-platform adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
}

// TelegramConfig configures the Telegram adapter.
// Token comes from env TELEGRAM_BOT_TOKEN only.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled,omitempty"`
	Token     string   `json:"-"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// DiscordConfig configures the Discord adapter.
// Token comes from env DISCORD_BOT_TOKEN only.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled,omitempty"`
	Token     string   `json:"-"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// SlackConfig configures the Slack adapter (Socket Mode).
// BotToken/AppToken come from env SLACK_BOT_TOKEN / SLACK_APP_TOKEN only.
type SlackConfig struct {
	Enabled   bool     `json:"enabled,omitempty"`
	BotToken  string   `json:"-"`
	AppToken  string   `json:"-"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.CustomGPT.ProjectID == "" {
		return fmt.Errorf("customgpt.project_id is required")
	}
	if c.CustomGPT.APIKey == "" {
		return fmt.Errorf("CUSTOMGPT_API_KEY is not set")
	}
	switch c.Store.Backend {
	case "", "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis backend")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	for _, w := range c.Limits.Windows {
		if w.Name == "" || w.Seconds <= 0 || w.Limit <= 0 {
			return fmt.Errorf("invalid rate window %+v", w)
		}
	}
	if c.Threads.MaxMessages <= 0 || c.Threads.TimeoutSeconds <= 0 {
		return fmt.Errorf("threads.timeout_seconds and threads.max_messages must be positive")
	}
	if c.Dedup.TTLSeconds <= 0 {
		return fmt.Errorf("dedup.ttl_seconds must be positive")
	}
	return nil
}
