package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults. Rate windows mirror the
// original bot deployments: a short per-minute burst cap, an hourly cap, and
// a daily budget.
func Default() *Config {
	return &Config{
		CustomGPT: CustomGPTConfig{
			BaseURL:           "https://app.customgpt.ai/api/v1",
			RequestsPerSecond: 2,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Limits: LimitsConfig{
			Windows: []WindowConfig{
				{Name: "minute", Seconds: 60, Limit: 10},
				{Name: "hour", Seconds: 3600, Limit: 100},
				{Name: "day", Seconds: 86400, Limit: 500},
			},
		},
		Dedup: DedupConfig{
			TTLSeconds: 300, // Slack retries for ~3 minutes; 5 gives headroom
		},
		Conversations: ConversationsConfig{
			TTLSeconds: 86400,
		},
		Threads: ThreadsConfig{
			TimeoutSeconds: 3600,
			MaxMessages:    50,
		},
		StarterQuestions: []string{
			"What can you help me with?",
			"How do I get started?",
			"Where can I find documentation?",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Secrets are env-only;
// non-secret env values take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("CUSTOMGPT_API_KEY", &c.CustomGPT.APIKey)
	envStr("CUSTOMGPT_PROJECT_ID", &c.CustomGPT.ProjectID)
	envStr("CUSTOMGPT_BASE_URL", &c.CustomGPT.BaseURL)

	envStr("REDIS_ADDR", &c.Store.RedisAddr)
	envStr("REDIS_PASSWORD", &c.Store.RedisPassword)

	envStr("TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.Token)
	envStr("DISCORD_BOT_TOKEN", &c.Channels.Discord.Token)
	envStr("SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("SLACK_APP_TOKEN", &c.Channels.Slack.AppToken)

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Slack.BotToken != "" && c.Channels.Slack.AppToken != "" {
		c.Channels.Slack.Enabled = true
	}
}
