package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zriyansh/customgpt-bots/internal/config"
	"github.com/zriyansh/customgpt-bots/internal/conversations"
	"github.com/zriyansh/customgpt-bots/internal/ratelimit"
	"github.com/zriyansh/customgpt-bots/internal/threads"
)

// resetCmd clears cached state for a scope, thread, or principal directly
// against the configured store. Useful when a user reports being stuck
// rate-limited or glued to a stale conversation.
func resetCmd() *cobra.Command {
	var (
		scopeKey     string
		threadKey    string
		principalKey string
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear cached conversation, thread, or rate-limit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if scopeKey == "" && threadKey == "" && principalKey == "" {
				return fmt.Errorf("nothing to reset: pass --scope, --thread, or --principal")
			}

			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			kv, closeStore, err := buildStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			if closeStore != nil {
				defer closeStore()
			}

			if scopeKey != "" {
				registry := conversations.New(kv, time.Duration(cfg.Conversations.TTLSeconds)*time.Second)
				if err := registry.Reset(ctx, scopeKey); err != nil {
					return fmt.Errorf("reset conversation %s: %w", scopeKey, err)
				}
				fmt.Printf("conversation reset: %s\n", scopeKey)
			}
			if threadKey != "" {
				tracker := threads.New(kv,
					time.Duration(cfg.Threads.TimeoutSeconds)*time.Second, cfg.Threads.MaxMessages)
				if err := tracker.Reset(ctx, threadKey); err != nil {
					return fmt.Errorf("reset thread %s: %w", threadKey, err)
				}
				fmt.Printf("thread reset: %s\n", threadKey)
			}
			if principalKey != "" {
				limiter := ratelimit.New(kv, cfg.Limits.RateWindows())
				if err := limiter.Reset(ctx, principalKey, time.Now()); err != nil {
					return fmt.Errorf("reset limits for %s: %w", principalKey, err)
				}
				fmt.Printf("rate limits reset: %s\n", principalKey)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scopeKey, "scope", "", "conversation scope key (e.g. telegram:12345:67890)")
	cmd.Flags().StringVar(&threadKey, "thread", "", "thread key (e.g. C123:1712345678.000200)")
	cmd.Flags().StringVar(&principalKey, "principal", "", "principal key (e.g. slack:U123)")
	return cmd
}
