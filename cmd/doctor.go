package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zriyansh/customgpt-bots/internal/config"
	"github.com/zriyansh/customgpt-bots/internal/store/sqlitestore"
)

// doctorCmd checks the configuration and store connectivity without
// starting any channel.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and store connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			fmt.Printf("config: ok (%s)\n", configPath())

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			fmt.Println("config validation: ok")

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			kv, closeStore, err := buildStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("store (%s): %w", storeName(cfg), err)
			}
			if closeStore != nil {
				defer closeStore()
			}

			// Round-trip probe under a throwaway key.
			probe := "doctor:probe:" + uuid.NewString()
			if err := kv.Put(ctx, probe, []byte("ok"), 10*time.Second); err != nil {
				return fmt.Errorf("store put: %w", err)
			}
			if _, ok, err := kv.Get(ctx, probe); err != nil || !ok {
				return fmt.Errorf("store get: ok=%v err=%v", ok, err)
			}
			if err := kv.Delete(ctx, probe); err != nil {
				return fmt.Errorf("store delete: %w", err)
			}
			fmt.Printf("store (%s): ok\n", storeName(cfg))

			if s, ok := kv.(*sqlitestore.SQLite); ok {
				purged, err := s.PurgeExpired(ctx)
				if err != nil {
					return fmt.Errorf("sqlite purge: %w", err)
				}
				fmt.Printf("sqlite purge: %d expired rows removed\n", purged)
			}

			enabled := []string{}
			if cfg.Channels.Telegram.Enabled {
				enabled = append(enabled, "telegram")
			}
			if cfg.Channels.Discord.Enabled {
				enabled = append(enabled, "discord")
			}
			if cfg.Channels.Slack.Enabled {
				enabled = append(enabled, "slack")
			}
			if len(enabled) == 0 {
				fmt.Println("channels: none enabled (set TELEGRAM_BOT_TOKEN, DISCORD_BOT_TOKEN, or SLACK_BOT_TOKEN + SLACK_APP_TOKEN)")
			} else {
				fmt.Printf("channels: %v\n", enabled)
			}
			return nil
		},
	}
}
