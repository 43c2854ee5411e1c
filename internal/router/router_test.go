package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zriyansh/customgpt-bots/internal/bus"
	"github.com/zriyansh/customgpt-bots/internal/conversations"
	"github.com/zriyansh/customgpt-bots/internal/dedup"
	"github.com/zriyansh/customgpt-bots/internal/ratelimit"
	"github.com/zriyansh/customgpt-bots/internal/store"
	"github.com/zriyansh/customgpt-bots/internal/threads"
)

type fixture struct {
	router      *Router
	store       *store.Memory
	now         time.Time
	createCalls int
	createErr   error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: store.NewMemory(),
		now:   time.Unix(1_700_000_000, 0),
	}
	f.store.SetNowFunc(func() time.Time { return f.now })

	createFn := func(context.Context) (string, error) {
		if f.createErr != nil {
			return "", f.createErr
		}
		f.createCalls++
		return fmt.Sprintf("conv-%d", f.createCalls), nil
	}

	f.router = New(
		dedup.New(f.store, 5*time.Minute),
		ratelimit.New(f.store, []ratelimit.Window{{Name: "minute", Size: time.Minute, Limit: 5}}),
		threads.New(f.store, time.Hour, 50),
		conversations.New(f.store, 24*time.Hour),
		createFn,
	)
	f.router.SetNowFunc(func() time.Time { return f.now })
	return f
}

func event(id, principal, thread, text string, mentioned bool) bus.InboundEvent {
	return bus.InboundEvent{
		EventID:     id,
		Channel:     "slack",
		PrincipalID: principal,
		ScopeID:     "C1",
		ThreadKey:   thread,
		Mentioned:   mentioned,
		Text:        text,
	}
}

func TestMentionThenDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := event("e1", "U1", "T1", "hello", true)
	dec := f.router.Handle(ctx, ev)
	if dec.Outcome != OutcomeAccept {
		t.Fatalf("decision = %s/%s, want accept", dec.Outcome, dec.Reason)
	}
	if dec.ConversationID == "" {
		t.Fatal("accept carries no conversation id")
	}

	// Redelivery of the identical event id is dropped silently.
	dup := f.router.Handle(ctx, ev)
	if dup.Outcome != OutcomeDrop || dup.Reason != ReasonDuplicate {
		t.Fatalf("replay decision = %s/%s, want drop/duplicate", dup.Outcome, dup.Reason)
	}
}

func TestThreadFollowUpReusesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.router.Handle(ctx, event("e1", "U1", "T1", "hello", true))
	if first.Outcome != OutcomeAccept {
		t.Fatalf("mention decision = %s, want accept", first.Outcome)
	}
	f.router.CommitDispatch(ctx, event("e1", "U1", "T1", "hello", true), first)

	f.now = f.now.Add(10 * time.Minute)
	followUp := event("e2", "U1", "T1", "follow up", false)
	second := f.router.Handle(ctx, followUp)
	if second.Outcome != OutcomeAccept {
		t.Fatalf("follow-up decision = %s/%s, want accept", second.Outcome, second.Reason)
	}
	if !second.AutoResponse {
		t.Error("follow-up accept not flagged as auto-response")
	}
	if second.ConversationID != first.ConversationID {
		t.Errorf("follow-up conversation %q, want %q", second.ConversationID, first.ConversationID)
	}
	if f.createCalls != 1 {
		t.Errorf("createFn called %d times, want 1", f.createCalls)
	}
}

func TestRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		dec := f.router.Handle(ctx, event(fmt.Sprintf("e%d", i), "U2", "", fmt.Sprintf("q%d", i), true))
		if dec.Outcome != OutcomeAccept {
			t.Fatalf("request %d decision = %s/%s, want accept", i, dec.Outcome, dec.Reason)
		}
	}

	dec := f.router.Handle(ctx, event("e6", "U2", "", "q6", true))
	if dec.Outcome != OutcomeReject || dec.Reason != ReasonRateLimited {
		t.Fatalf("6th decision = %s/%s, want reject/rate_limited", dec.Outcome, dec.Reason)
	}
	if dec.LimitingWindow != "minute" {
		t.Errorf("limiting window = %q, want minute", dec.LimitingWindow)
	}
	if dec.RetryAfter <= 0 || dec.RetryAfter > time.Minute {
		t.Errorf("retry after = %v, want in (0, 60s]", dec.RetryAfter)
	}

	// Replaying the rejected event stays rejected (new id, same window).
	again := f.router.Handle(ctx, event("e7", "U2", "", "q6", true))
	if again.Outcome != OutcomeReject {
		t.Fatalf("replay decision = %s, want reject", again.Outcome)
	}
}

func TestFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		ev      bus.InboundEvent
		outcome Outcome
		reason  Reason
	}{
		{
			name: "bot origin",
			ev: bus.InboundEvent{
				EventID: "b1", Channel: "slack", PrincipalID: "B9",
				ScopeID: "C1", Mentioned: true, FromBot: true, Text: "hi",
			},
			outcome: OutcomeDrop, reason: ReasonFiltered,
		},
		{
			name: "thread broadcast",
			ev: bus.InboundEvent{
				EventID: "b2", Channel: "slack", PrincipalID: "U1",
				ScopeID: "C1", ThreadKey: "T1", Broadcast: true, Text: "hi",
			},
			outcome: OutcomeDrop, reason: ReasonFiltered,
		},
		{
			name: "unaddressed channel chatter",
			ev: bus.InboundEvent{
				EventID: "b3", Channel: "slack", PrincipalID: "U1",
				ScopeID: "C1", Text: "hi",
			},
			outcome: OutcomeDrop, reason: ReasonNotAddressed,
		},
		{
			name: "empty unaddressed",
			ev: bus.InboundEvent{
				EventID: "b4", Channel: "slack", PrincipalID: "U1",
				ScopeID: "C1", Text: "   ",
			},
			outcome: OutcomeDrop, reason: ReasonFiltered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := f.router.Handle(ctx, tt.ev)
			if dec.Outcome != tt.outcome || dec.Reason != tt.reason {
				t.Errorf("decision = %s/%s, want %s/%s", dec.Outcome, dec.Reason, tt.outcome, tt.reason)
			}
		})
	}
}

func TestEmptyMentionShowsStarter(t *testing.T) {
	f := newFixture(t)

	dec := f.router.Handle(context.Background(), event("e1", "U1", "", "  ", true))
	if dec.Outcome != OutcomeShowStarter {
		t.Fatalf("decision = %s/%s, want show_starter", dec.Outcome, dec.Reason)
	}
}

func TestFilteredEventsDoNotConsumeRateBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A flood of bot chatter must not eat the user's budget: filters run
	// before the rate limiter.
	for i := 0; i < 20; i++ {
		f.router.Handle(ctx, bus.InboundEvent{
			EventID: fmt.Sprintf("bot%d", i), Channel: "slack",
			PrincipalID: "U1", ScopeID: "C1", FromBot: true, Text: "spam",
		})
	}
	dec := f.router.Handle(ctx, event("real", "U1", "", "hello", true))
	if dec.Outcome != OutcomeAccept {
		t.Fatalf("decision after bot flood = %s/%s, want accept", dec.Outcome, dec.Reason)
	}
}

func TestProviderFailureStaysSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createErr = errors.New("customgpt down")
	dec := f.router.Handle(ctx, event("e1", "U1", "", "hello", true))
	if dec.Outcome != OutcomeReject || dec.Reason != ReasonProviderUnavailable {
		t.Fatalf("decision = %s/%s, want reject/provider_unavailable", dec.Outcome, dec.Reason)
	}

	// The event was marked seen before the provider call, so the webhook
	// retry is dropped instead of producing a second visible error.
	f.createErr = nil
	replay := f.router.Handle(ctx, event("e1", "U1", "", "hello", true))
	if replay.Outcome != OutcomeDrop || replay.Reason != ReasonDuplicate {
		t.Fatalf("replay decision = %s/%s, want drop/duplicate", replay.Outcome, replay.Reason)
	}
}

func TestFollowUpBudgetCountsOnlyDispatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Tight budget: address (1) + two follow-ups.
	f.router = New(
		dedup.New(f.store, 5*time.Minute),
		ratelimit.New(f.store, []ratelimit.Window{{Name: "minute", Size: time.Minute, Limit: 100}}),
		threads.New(f.store, time.Hour, 3),
		conversations.New(f.store, 24*time.Hour),
		func(context.Context) (string, error) { return "conv-1", nil },
	)
	f.router.SetNowFunc(func() time.Time { return f.now })

	f.router.Handle(ctx, event("e1", "U1", "T1", "hello", true))

	// Accepted but never dispatched: no CommitDispatch, no budget consumed.
	for i := 0; i < 5; i++ {
		dec := f.router.Handle(ctx, event(fmt.Sprintf("lost%d", i), "U1", "T1", "q", false))
		if dec.Outcome != OutcomeAccept {
			t.Fatalf("undispatched follow-up %d = %s, want accept", i, dec.Outcome)
		}
	}

	// Two dispatched follow-ups exhaust the budget of 3.
	for i := 0; i < 2; i++ {
		ev := event(fmt.Sprintf("sent%d", i), "U1", "T1", "q", false)
		dec := f.router.Handle(ctx, ev)
		if dec.Outcome != OutcomeAccept {
			t.Fatalf("dispatched follow-up %d = %s, want accept", i, dec.Outcome)
		}
		f.router.CommitDispatch(ctx, ev, dec)
	}

	dec := f.router.Handle(ctx, event("over", "U1", "T1", "q", false))
	if dec.Outcome != OutcomeDrop || dec.Reason != ReasonNotAddressed {
		t.Fatalf("over-budget follow-up = %s/%s, want drop/not_addressed", dec.Outcome, dec.Reason)
	}
}

func TestMarkEventSeenOncePerID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if !f.router.MarkEventSeen(ctx, "e1") {
		t.Fatal("first MarkEventSeen returned false")
	}
	if f.router.MarkEventSeen(ctx, "e1") {
		t.Fatal("replayed MarkEventSeen returned true")
	}

	// An id marked outside Handle still dedups inside it.
	dec := f.router.Handle(ctx, event("e1", "U1", "", "hello", true))
	if dec.Outcome != OutcomeDrop || dec.Reason != ReasonDuplicate {
		t.Fatalf("Handle after MarkEventSeen = %s/%s, want drop/duplicate", dec.Outcome, dec.Reason)
	}

	if err := f.router.ForgetEvent(ctx, "e1"); err != nil {
		t.Fatalf("ForgetEvent failed: %v", err)
	}
	if !f.router.MarkEventSeen(ctx, "e1") {
		t.Fatal("MarkEventSeen after ForgetEvent returned false")
	}
}

func TestResetScopeForcesFreshConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := event("e1", "U1", "T1", "hello", true)
	first := f.router.Handle(ctx, ev)

	if err := f.router.ResetScope(ctx, ev.ScopeKey(), ev.ThreadKey); err != nil {
		t.Fatalf("ResetScope failed: %v", err)
	}

	second := f.router.Handle(ctx, event("e2", "U1", "T1", "again", true))
	if second.Outcome != OutcomeAccept {
		t.Fatalf("decision after reset = %s, want accept", second.Outcome)
	}
	if second.ConversationID == first.ConversationID {
		t.Error("conversation id survived a reset")
	}
}
