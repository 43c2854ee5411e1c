// Package slack connects the gateway to Slack via Socket Mode, so no
// public webhook endpoint is needed.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/zriyansh/customgpt-bots/internal/bus"
	"github.com/zriyansh/customgpt-bots/internal/channels"
	"github.com/zriyansh/customgpt-bots/internal/config"
)

// Channel receives Slack Events API payloads over Socket Mode and
// normalizes them for the router.
type Channel struct {
	*channels.BaseChannel
	api       *slack.Client
	socket    *socketmode.Client
	config    config.SlackConfig
	botUserID string
	runCancel context.CancelFunc
	runDone   chan struct{}
}

// New creates a Slack channel from config.
func New(cfg config.SlackConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, fmt.Errorf("slack app token must start with xapp-")
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Channel{
		BaseChannel: channels.NewBaseChannel("slack", msgBus, cfg.AllowFrom),
		api:         api,
		socket:      socketmode.New(api),
		config:      cfg,
	}, nil
}

// Start opens the Socket Mode connection and begins consuming events.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting slack bot (socket mode)")

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.runDone = make(chan struct{})

	go func() {
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode exited", "error", err)
		}
	}()

	go func() {
		defer close(c.runDone)
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-c.socket.Events:
				if !ok {
					return
				}
				c.handleSocketEvent(evt)
			}
		}
	}()

	c.SetRunning(true)
	slog.Info("slack bot connected", "user_id", c.botUserID)
	return nil
}

// Stop closes the Socket Mode connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping slack bot")
	c.SetRunning(false)
	if c.runCancel != nil {
		c.runCancel()
	}
	if c.runDone != nil {
		select {
		case <-c.runDone:
		case <-time.After(5 * time.Second):
			slog.Warn("slack event loop did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleSocketEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	// Ack immediately: Slack redelivers un-acked envelopes, and the
	// deduplicator already guards against double processing.
	if evt.Request != nil {
		c.socket.Ack(*evt.Request)
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		c.publishMention(ev)
	case *slackevents.MessageEvent:
		c.publishMessage(ev)
	}
}

// publishMention handles explicit @bot mentions. A mention outside any
// thread starts one rooted at the mention itself, matching how the replies
// are delivered.
func (c *Channel) publishMention(ev *slackevents.AppMentionEvent) {
	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}
	c.Publish(bus.InboundEvent{
		// A mention also arrives as a message event with the same ts;
		// keying on channel:ts lets the deduplicator collapse the pair.
		EventID:     "slack:" + ev.Channel + ":" + ev.TimeStamp,
		PrincipalID: ev.User,
		ScopeID:     ev.Channel,
		ThreadKey:   ev.Channel + ":" + threadTS,
		Mentioned:   true,
		FromBot:     ev.BotID != "",
		Text:        stripMention(ev.Text, c.botUserID),
		Timestamp:   parseSlackTS(ev.TimeStamp),
	})
}

// publishMessage handles DMs and un-mentioned thread replies.
func (c *Channel) publishMessage(ev *slackevents.MessageEvent) {
	if ev.SubType != "" && ev.SubType != "thread_broadcast" {
		return // edits, joins, etc.
	}

	isDM := ev.ChannelType == "im"
	threadKey := ""
	if ev.ThreadTimeStamp != "" {
		threadKey = ev.Channel + ":" + ev.ThreadTimeStamp
	}

	mentioned := isDM || strings.Contains(ev.Text, "<@"+c.botUserID+">")

	c.Publish(bus.InboundEvent{
		EventID:     "slack:" + ev.Channel + ":" + ev.TimeStamp,
		PrincipalID: ev.User,
		ScopeID:     ev.Channel,
		ThreadKey:   threadKey,
		Mentioned:   mentioned,
		FromBot:     ev.BotID != "" || ev.User == c.botUserID,
		Broadcast:   ev.SubType == "thread_broadcast",
		Text:        stripMention(ev.Text, c.botUserID),
		Timestamp:   parseSlackTS(ev.TimeStamp),
	})
}

func stripMention(text, botUserID string) string {
	text = strings.ReplaceAll(text, "<@"+botUserID+">", "")
	return strings.TrimSpace(text)
}

// parseSlackTS converts a Slack "1712345678.000200" timestamp.
func parseSlackTS(ts string) time.Time {
	secs, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(n, 0)
}

// Send delivers an outbound message into the originating thread.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("slack bot not running")
	}

	text := msg.Text
	if len(msg.Starter) > 0 {
		text = renderStarter(msg.Starter)
	}
	if len(msg.Citations) > 0 {
		text += "\n\n*Sources:*\n" + strings.Join(msg.Citations, "\n")
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if ts := tsFromThreadKey(msg.ThreadKey); ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}

	if _, _, err := c.api.PostMessageContext(ctx, msg.ChatID, opts...); err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// SendTyping is a no-op: the typing indicator is not available to Events
// API bots.
func (c *Channel) SendTyping(context.Context, string) error { return nil }

// tsFromThreadKey extracts the thread_ts from a "{channel}:{ts}" key.
func tsFromThreadKey(threadKey string) string {
	idx := strings.LastIndex(threadKey, ":")
	if idx < 0 {
		return ""
	}
	return threadKey[idx+1:]
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
