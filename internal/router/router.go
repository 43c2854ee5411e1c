// Package router decides, for each normalized inbound event, whether to
// drop it, reject it, or accept it with a resolved conversation id.
//
// The checks run in a fixed order — dedup, content filters, rate limit,
// addressing, conversation resolution — cheapest and most discriminating
// first, the external conversation-create call last, so wasted downstream
// work is minimized under load.
package router

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/zriyansh/customgpt-bots/internal/bus"
	"github.com/zriyansh/customgpt-bots/internal/conversations"
	"github.com/zriyansh/customgpt-bots/internal/dedup"
	"github.com/zriyansh/customgpt-bots/internal/ratelimit"
	"github.com/zriyansh/customgpt-bots/internal/threads"
)

// Outcome classifies a routing decision.
type Outcome string

const (
	// OutcomeAccept dispatches the event to the answer provider.
	OutcomeAccept Outcome = "accept"
	// OutcomeDrop discards the event silently.
	OutcomeDrop Outcome = "drop"
	// OutcomeReject discards the event with a user-visible explanation.
	OutcomeReject Outcome = "reject"
	// OutcomeShowStarter replies with the starter-question list instead of
	// forwarding anything to the provider.
	OutcomeShowStarter Outcome = "show_starter"
)

// Reason explains a Drop or Reject.
type Reason string

const (
	ReasonDuplicate           Reason = "duplicate"
	ReasonFiltered            Reason = "filtered"
	ReasonNotAddressed        Reason = "not_addressed"
	ReasonRateLimited         Reason = "rate_limited"
	ReasonProviderUnavailable Reason = "provider_unavailable"
)

// Decision is the router's verdict on one inbound event.
type Decision struct {
	Outcome        Outcome
	Reason         Reason
	ConversationID string // set on Accept

	// RetryAfter and LimitingWindow accompany rate_limited rejections.
	RetryAfter     time.Duration
	LimitingWindow string

	// AutoResponse marks an Accept that matched via thread follow-up rather
	// than an explicit address. The dispatcher must report a successful send
	// back through CommitDispatch so the thread counter stays monotonic with
	// actual bot replies.
	AutoResponse bool
}

// Router owns the lifecycle of conversation and thread state and wires the
// dedup and rate-limit checks in front of them.
type Router struct {
	dedup   *dedup.Deduplicator
	limiter *ratelimit.Limiter
	threads *threads.Tracker
	convs   *conversations.Registry
	create  conversations.CreateFunc
	nowFn   func() time.Time
}

// New assembles a Router. createFn is the downstream conversation factory,
// invoked only when no live cached id exists for the event's scope.
func New(d *dedup.Deduplicator, l *ratelimit.Limiter, t *threads.Tracker, c *conversations.Registry, createFn conversations.CreateFunc) *Router {
	return &Router{
		dedup:   d,
		limiter: l,
		threads: t,
		convs:   c,
		create:  createFn,
		nowFn:   time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (r *Router) SetNowFunc(fn func() time.Time) { r.nowFn = fn }

// Handle routes one inbound event. Each step can short-circuit to a
// terminal decision; replaying the same event yields the same outcome class
// unless state was reset in between.
func (r *Router) Handle(ctx context.Context, ev bus.InboundEvent) Decision {
	now := r.nowFn()

	// State writes must complete even if the caller's request is abandoned
	// mid-flight; a cancelled increment would under-count the rate window.
	storeCtx := context.WithoutCancel(ctx)

	// 1. At-most-once: platforms redeliver webhooks for minutes.
	if !r.dedup.MarkIfNew(storeCtx, ev.EventID) {
		slog.Debug("duplicate event dropped", "channel", ev.Channel, "event_id", ev.EventID)
		return Decision{Outcome: OutcomeDrop, Reason: ReasonDuplicate}
	}

	// 2. Content filters. Bot-origin messages (our own echoes included) are
	// dropped to prevent response loops; broadcast thread replies are
	// excluded from thread handling entirely.
	if ev.FromBot || ev.Broadcast {
		return Decision{Outcome: OutcomeDrop, Reason: ReasonFiltered}
	}
	if strings.TrimSpace(ev.Text) == "" {
		if ev.Mentioned {
			return Decision{Outcome: OutcomeShowStarter}
		}
		return Decision{Outcome: OutcomeDrop, Reason: ReasonFiltered}
	}

	// 3. Rate limit. All windows count this request even when one rejects.
	if res := r.limiter.TryConsume(storeCtx, ev.PrincipalKey(), now); !res.Allowed {
		slog.Info("rate limited",
			"principal", ev.PrincipalKey(), "window", res.Window, "retry_after", res.RetryAfter)
		return Decision{
			Outcome:        OutcomeReject,
			Reason:         ReasonRateLimited,
			RetryAfter:     res.RetryAfter,
			LimitingWindow: res.Window,
		}
	}

	// 4. Addressing: explicit mention/DM joins (or rejoins) the thread;
	// otherwise only live thread participation earns an auto-response.
	auto := false
	switch {
	case ev.Mentioned:
		if ev.ThreadKey != "" {
			r.threads.RecordExplicitAddress(storeCtx, ev.ThreadKey, now)
		}
	case ev.ThreadKey != "" && r.threads.ShouldAutoRespond(storeCtx, ev.ThreadKey, now):
		auto = true
	default:
		return Decision{Outcome: OutcomeDrop, Reason: ReasonNotAddressed}
	}

	// 5. Conversation id, creating remotely on first contact. A failure here
	// downgrades to a reject; the event stays marked seen so webhook retries
	// do not produce duplicate user-visible errors.
	convID, err := r.convs.Resolve(ctx, ev.ScopeKey(), r.create)
	if err != nil {
		slog.Error("conversation resolve failed", "scope", ev.ScopeKey(), "error", err)
		return Decision{Outcome: OutcomeReject, Reason: ReasonProviderUnavailable}
	}

	return Decision{Outcome: OutcomeAccept, ConversationID: convID, AutoResponse: auto}
}

// MarkEventSeen records an event id with the deduplicator, returning false
// when it was already seen. Command handling that short-circuits Handle uses
// this so redelivered webhooks stay at-most-once.
func (r *Router) MarkEventSeen(ctx context.Context, eventID string) bool {
	return r.dedup.MarkIfNew(context.WithoutCancel(ctx), eventID)
}

// ForgetEvent releases a seen event id so a platform redelivery can retry it,
// for commands that failed before producing any user-visible effect.
func (r *Router) ForgetEvent(ctx context.Context, eventID string) error {
	return r.dedup.Forget(context.WithoutCancel(ctx), eventID)
}

// CommitDispatch records a successfully delivered reply. Only auto-response
// accepts consume the thread follow-up budget; explicitly addressed messages
// were already counted by RecordExplicitAddress.
func (r *Router) CommitDispatch(ctx context.Context, ev bus.InboundEvent, dec Decision) {
	if dec.Outcome != OutcomeAccept || !dec.AutoResponse || ev.ThreadKey == "" {
		return
	}
	if !r.threads.RecordFollowUp(context.WithoutCancel(ctx), ev.ThreadKey, r.nowFn()) {
		slog.Debug("thread lapsed before follow-up commit", "thread", ev.ThreadKey)
	}
}

// ResetScope clears the cached conversation for a scope and, when a thread
// key is given, the thread participation state. Backs the user-facing
// reset command.
func (r *Router) ResetScope(ctx context.Context, scopeKey, threadKey string) error {
	if err := r.convs.Reset(ctx, scopeKey); err != nil {
		return err
	}
	if threadKey != "" {
		return r.threads.Reset(ctx, threadKey)
	}
	return nil
}
