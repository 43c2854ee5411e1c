package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zriyansh/customgpt-bots/internal/bus"
	"github.com/zriyansh/customgpt-bots/internal/channels"
	"github.com/zriyansh/customgpt-bots/internal/config"
	"github.com/zriyansh/customgpt-bots/internal/customgpt"
	"github.com/zriyansh/customgpt-bots/internal/router"
)

// maxConcurrentDispatches bounds in-flight provider calls so a burst of
// accepted messages cannot exhaust the process.
const maxConcurrentDispatches = 16

const (
	rateLimitedReply = "You've reached the message limit. Please try again in %s."
	apologyReply     = "Sorry, I couldn't process your request right now. Please try again later."
	resetReply       = "Conversation cleared. Your next message starts fresh."
)

// consumeInbound reads normalized events from the bus, routes them, and
// dispatches accepted ones to CustomGPT. Each event is processed in its own
// goroutine so one slow provider call does not stall the queue.
func consumeInbound(ctx context.Context, cfg *config.Config, msgBus *bus.MessageBus, rtr *router.Router, client *customgpt.Client, manager *channels.Manager) {
	slog.Info("inbound event consumer started")

	sem := make(chan struct{}, maxConcurrentDispatches)
	for {
		ev, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		sem <- struct{}{}
		go func(ev bus.InboundEvent) {
			defer func() { <-sem }()
			processEvent(ctx, cfg, msgBus, rtr, client, manager, ev)
		}(ev)
	}
}

// processEvent routes one event and acts on the decision.
func processEvent(ctx context.Context, cfg *config.Config, msgBus *bus.MessageBus, rtr *router.Router, client *customgpt.Client, manager *channels.Manager, ev bus.InboundEvent) {
	// User-facing reset command, honored before routing so it works even
	// for rate-limited principals. Still deduplicated: platforms redeliver
	// command messages like any other webhook.
	if isResetCommand(ev.Text) && !ev.FromBot {
		if !rtr.MarkEventSeen(ctx, ev.EventID) {
			return
		}
		if err := rtr.ResetScope(ctx, ev.ScopeKey(), ev.ThreadKey); err != nil {
			slog.Error("reset command failed", "scope", ev.ScopeKey(), "error", err)
			// Nothing happened yet; let a redelivery retry the reset.
			if err := rtr.ForgetEvent(ctx, ev.EventID); err != nil {
				slog.Warn("failed to release event id", "event_id", ev.EventID, "error", err)
			}
			return
		}
		msgBus.PublishOutbound(reply(ev, resetReply))
		return
	}

	dec := rtr.Handle(ctx, ev)
	slog.Debug("routing decision",
		"channel", ev.Channel,
		"event_id", ev.EventID,
		"outcome", dec.Outcome,
		"reason", dec.Reason,
		"text", channels.Truncate(ev.Text, 80))

	switch dec.Outcome {
	case router.OutcomeDrop:
		// Silent by design: surfacing duplicates or unaddressed chatter
		// would itself be spam.

	case router.OutcomeShowStarter:
		out := reply(ev, "")
		out.Starter = cfg.StarterQuestions
		msgBus.PublishOutbound(out)

	case router.OutcomeReject:
		switch dec.Reason {
		case router.ReasonRateLimited:
			msgBus.PublishOutbound(reply(ev, fmt.Sprintf(rateLimitedReply, humanizeWait(dec.RetryAfter))))
		case router.ReasonProviderUnavailable:
			msgBus.PublishOutbound(reply(ev, apologyReply))
		}

	case router.OutcomeAccept:
		dispatch(ctx, msgBus, rtr, client, manager, ev, dec)
	}
}

// dispatch forwards an accepted event to CustomGPT and delivers the answer.
func dispatch(ctx context.Context, msgBus *bus.MessageBus, rtr *router.Router, client *customgpt.Client, manager *channels.Manager, ev bus.InboundEvent, dec router.Decision) {
	manager.SendTyping(ctx, ev.Channel, ev.ScopeID)

	answer, err := client.Ask(ctx, dec.ConversationID, ev.Text)
	if err != nil {
		slog.Error("provider ask failed",
			"conversation", dec.ConversationID,
			"rate_limited", errors.Is(err, customgpt.ErrProviderRateLimited),
			"error", err)
		msgBus.PublishOutbound(reply(ev, apologyReply))
		return
	}

	out := reply(ev, answer.Content)
	out.Citations = answer.Citations
	msgBus.PublishOutbound(out)

	// Follow-up budget is consumed only by answers actually delivered.
	rtr.CommitDispatch(ctx, ev, dec)
}

func reply(ev bus.InboundEvent, text string) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel:   ev.Channel,
		ChatID:    ev.ScopeID,
		ThreadKey: ev.ThreadKey,
		Text:      text,
	}
}

// isResetCommand matches the per-platform clear commands.
func isResetCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/reset", "/clear", "!reset", "reset conversation":
		return true
	}
	return false
}

// humanizeWait renders a retry hint a person can act on.
func humanizeWait(d time.Duration) string {
	switch {
	case d <= 0:
		return "a moment"
	case d < time.Minute:
		secs := int(d.Round(time.Second).Seconds())
		if secs <= 1 {
			return "a second"
		}
		return fmt.Sprintf("%d seconds", secs)
	case d < time.Hour:
		mins := int(d.Round(time.Minute).Minutes())
		if mins <= 1 {
			return "a minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	default:
		hours := int(d.Round(time.Hour).Hours())
		if hours <= 1 {
			return "an hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
}
