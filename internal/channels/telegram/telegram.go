// Package telegram connects the gateway to Telegram via the Bot API using
// long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/zriyansh/customgpt-bots/internal/bus"
	"github.com/zriyansh/customgpt-bots/internal/channels"
	"github.com/zriyansh/customgpt-bots/internal/config"
)

// Channel receives Telegram updates and normalizes them for the router.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update)
				}
			}
		}
	}()

	return nil
}

// Stop cancels the long polling context and waits for the polling goroutine
// to exit so Telegram releases the getUpdates lock.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// handleMessage normalizes one Telegram message into an InboundEvent.
func (c *Channel) handleMessage(update telego.Update) {
	msg := update.Message
	if msg.From == nil {
		return
	}

	isDM := msg.Chat.Type == telego.ChatTypePrivate
	botUsername := c.bot.Username()

	mentioned := isDM || c.detectMention(msg, botUsername)

	// Forum topics give a stable thread identity; plain group chats have no
	// per-thread key, so follow-up tracking applies to forum topics only.
	threadKey := ""
	if msg.MessageThreadID != 0 && !isDM {
		threadKey = fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageThreadID)
	}

	text := stripMention(msg.Text, botUsername)

	c.Publish(bus.InboundEvent{
		EventID:     fmt.Sprintf("telegram:%d", update.UpdateID),
		PrincipalID: strconv.FormatInt(msg.From.ID, 10),
		ScopeID:     strconv.FormatInt(msg.Chat.ID, 10),
		ThreadKey:   threadKey,
		Mentioned:   mentioned,
		FromBot:     msg.From.IsBot,
		Text:        text,
		Timestamp:   time.Unix(msg.Date, 0),
		Metadata: map[string]string{
			"message_id": strconv.Itoa(msg.MessageID),
			"chat_type":  string(msg.Chat.Type),
		},
	})
}

// detectMention checks for an explicit @bot mention or a reply to one of
// the bot's own messages (which counts as an implicit mention).
func (c *Channel) detectMention(msg *telego.Message, botUsername string) bool {
	for _, entity := range msg.Entities {
		if entity.Type != telego.EntityTypeMention {
			continue
		}
		end := entity.Offset + entity.Length
		if end > len(msg.Text) {
			continue
		}
		if strings.EqualFold(msg.Text[entity.Offset:end], "@"+botUsername) {
			return true
		}
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		reply := msg.ReplyToMessage.From
		if reply.IsBot && strings.EqualFold(reply.Username, botUsername) {
			return true
		}
	}
	return false
}

func stripMention(text, botUsername string) string {
	cleaned := strings.ReplaceAll(text, "@"+botUsername, "")
	return strings.TrimSpace(cleaned)
}

// Send delivers an outbound message, threading into the forum topic when
// the reply belongs to one.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	text := msg.Text
	if len(msg.Starter) > 0 {
		text = renderStarter(msg.Starter)
	}
	if len(msg.Citations) > 0 {
		text += "\n\nSources:\n" + strings.Join(msg.Citations, "\n")
	}

	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	}
	if msg.ThreadKey != "" {
		if topicID := topicFromThreadKey(msg.ThreadKey); topicID > 0 {
			params.MessageThreadID = topicID
		}
	}

	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// SendTyping shows the "typing..." chat action.
func (c *Channel) SendTyping(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return c.bot.SendChatAction(ctx, &telego.SendChatActionParams{
		ChatID: telego.ChatID{ID: id},
		Action: telego.ChatActionTyping,
	})
}

// topicFromThreadKey extracts the topic id from a "{chatID}:{topicID}" key.
func topicFromThreadKey(threadKey string) int {
	idx := strings.LastIndex(threadKey, ":")
	if idx < 0 {
		return 0
	}
	topicID, err := strconv.Atoi(threadKey[idx+1:])
	if err != nil {
		return 0
	}
	return topicID
}

func renderStarter(questions []string) string {
	var b strings.Builder
	b.WriteString("Here are some things you can ask me:\n")
	for _, q := range questions {
		b.WriteString("\n• ")
		b.WriteString(q)
	}
	return b.String()
}
