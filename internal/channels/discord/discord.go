// Package discord connects the gateway to Discord via gateway events.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zriyansh/customgpt-bots/internal/bus"
	"github.com/zriyansh/customgpt-bots/internal/channels"
	"github.com/zriyansh/customgpt-bots/internal/config"
)

// Channel receives Discord messages and normalizes them for the router.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID string // populated on start
}

// New creates a Discord channel from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

// Start opens the Discord gateway connection.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// handleMessage normalizes one Discord message into an InboundEvent.
func (c *Channel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID {
		return
	}

	isDM := false
	isThread := false
	if ch, err := s.State.Channel(m.ChannelID); err == nil {
		isDM = ch.Type == discordgo.ChannelTypeDM
		isThread = ch.IsThread()
	} else if ch, err := s.Channel(m.ChannelID); err == nil {
		isDM = ch.Type == discordgo.ChannelTypeDM
		isThread = ch.IsThread()
	}

	mentioned := isDM
	for _, u := range m.Mentions {
		if u.ID == c.botUserID {
			mentioned = true
			break
		}
	}

	// A Discord thread is its own channel, so the channel id is the
	// stable thread key.
	threadKey := ""
	if isThread {
		threadKey = m.ChannelID
	}

	ts := time.Now()
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp
	}

	c.Publish(bus.InboundEvent{
		EventID:     "discord:" + m.ID,
		PrincipalID: m.Author.ID,
		ScopeID:     m.ChannelID,
		ThreadKey:   threadKey,
		Mentioned:   mentioned,
		FromBot:     m.Author.Bot,
		Text:        stripMention(m.Content, c.botUserID),
		Timestamp:   ts,
		Metadata: map[string]string{
			"guild_id": m.GuildID,
		},
	})
}

// stripMention removes <@id> and <@!id> mention markup for the bot user.
func stripMention(content, botUserID string) string {
	content = strings.ReplaceAll(content, "<@"+botUserID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botUserID+">", "")
	return strings.TrimSpace(content)
}

// Send delivers an outbound message. Discord threads are channels, so the
// thread key, when set, is the delivery target.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if msg.ThreadKey != "" {
		channelID = msg.ThreadKey
	}
	if channelID == "" {
		return fmt.Errorf("empty chat id for discord send")
	}

	text := msg.Text
	if len(msg.Starter) > 0 {
		text = renderStarter(msg.Starter)
	}
	if len(msg.Citations) > 0 {
		text += "\n\nSources:\n" + strings.Join(msg.Citations, "\n")
	}

	// Discord caps messages at 2000 chars.
	for _, chunk := range splitMessage(text, 2000) {
		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// SendTyping shows the typing indicator.
func (c *Channel) SendTyping(_ context.Context, chatID string) error {
	return c.session.ChannelTyping(chatID)
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

// splitMessage breaks text into chunks of at most limit runes, preferring
// newline boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
