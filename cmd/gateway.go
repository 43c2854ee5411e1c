package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zriyansh/customgpt-bots/internal/bus"
	"github.com/zriyansh/customgpt-bots/internal/channels"
	"github.com/zriyansh/customgpt-bots/internal/channels/discord"
	slackchannel "github.com/zriyansh/customgpt-bots/internal/channels/slack"
	"github.com/zriyansh/customgpt-bots/internal/channels/telegram"
	"github.com/zriyansh/customgpt-bots/internal/config"
	"github.com/zriyansh/customgpt-bots/internal/conversations"
	"github.com/zriyansh/customgpt-bots/internal/customgpt"
	"github.com/zriyansh/customgpt-bots/internal/dedup"
	"github.com/zriyansh/customgpt-bots/internal/ratelimit"
	"github.com/zriyansh/customgpt-bots/internal/router"
	"github.com/zriyansh/customgpt-bots/internal/store"
	"github.com/zriyansh/customgpt-bots/internal/store/redisstore"
	"github.com/zriyansh/customgpt-bots/internal/store/sqlitestore"
	"github.com/zriyansh/customgpt-bots/internal/threads"
)

// runGateway loads config, assembles the router and channel adapters, and
// runs until interrupted.
func runGateway() {
	setupLogging()

	cfg, err := config.Load(configPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := customgpt.New(cfg.CustomGPT.BaseURL, cfg.CustomGPT.APIKey,
		cfg.CustomGPT.ProjectID, cfg.CustomGPT.RequestsPerSecond)

	rtr := buildRouter(cfg, kv, client.CreateConversation)

	msgBus := bus.New()
	manager := channels.NewManager()
	registerChannels(cfg, msgBus, manager)

	manager.StartAll(ctx)
	defer manager.StopAll(context.Background())

	go manager.RunOutbound(ctx, msgBus)
	go consumeInbound(ctx, cfg, msgBus, rtr, client, manager)

	slog.Info("gateway running",
		"channels", manager.Names(),
		"store", storeName(cfg),
		"project", cfg.CustomGPT.ProjectID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")
	cancel()
}

// buildStore opens the configured expiring-store backend.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Store.Backend {
	case "redis":
		s, err := redisstore.New(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sqlite":
		s, err := sqlitestore.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return store.NewMemory(), nil, nil
	}
}

// buildRouter assembles the routing core from config.
func buildRouter(cfg *config.Config, kv store.Store, createFn conversations.CreateFunc) *router.Router {
	var dedupOpts []dedup.Option
	if cfg.Dedup.FailClosed {
		dedupOpts = append(dedupOpts, dedup.WithFailClosed())
	}
	deduper := dedup.New(kv, time.Duration(cfg.Dedup.TTLSeconds)*time.Second, dedupOpts...)

	var limitOpts []ratelimit.Option
	if cfg.Limits.FailOpen {
		limitOpts = append(limitOpts, ratelimit.WithFailOpen())
	}
	limiter := ratelimit.New(kv, cfg.Limits.RateWindows(), limitOpts...)

	tracker := threads.New(kv,
		time.Duration(cfg.Threads.TimeoutSeconds)*time.Second, cfg.Threads.MaxMessages)
	registry := conversations.New(kv,
		time.Duration(cfg.Conversations.TTLSeconds)*time.Second)

	return router.New(deduper, limiter, tracker, registry, createFn)
}

// registerChannels constructs every enabled adapter.
func registerChannels(cfg *config.Config, msgBus *bus.MessageBus, manager *channels.Manager) {
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("telegram channel init failed", "error", err)
		} else {
			manager.Register(ch)
		}
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("discord channel init failed", "error", err)
		} else {
			manager.Register(ch)
		}
	}
	if cfg.Channels.Slack.Enabled {
		ch, err := slackchannel.New(cfg.Channels.Slack, msgBus)
		if err != nil {
			slog.Error("slack channel init failed", "error", err)
		} else {
			manager.Register(ch)
		}
	}
}

func storeName(cfg *config.Config) string {
	if cfg.Store.Backend == "" {
		return "memory"
	}
	return cfg.Store.Backend
}
