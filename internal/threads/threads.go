// Package threads tracks whether the bot has joined a reply-thread and may
// answer un-mentioned follow-ups inside it.
//
// State machine: Inactive → Active → expired (by timeout or message cap) or
// reset. Expiry is evaluated lazily on lookup — an expired thread behaves
// exactly like an inactive one and its state is deleted at that point, so no
// background sweeper is needed.
package threads

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/zriyansh/customgpt-bots/internal/store"
)

const keyPrefix = "thread:"

// State is the stored participation record for one thread.
type State struct {
	FirstJoinedAt  time.Time `json:"first_joined_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	MessageCount   int       `json:"message_count"`
}

// Tracker manages thread participation records.
type Tracker struct {
	store       store.Store
	timeout     time.Duration
	maxMessages int
}

// New creates a Tracker. timeout bounds the gap between messages before
// participation lapses; maxMessages caps how many messages (the addressed
// one included) the bot contributes to a single thread.
func New(s store.Store, timeout time.Duration, maxMessages int) *Tracker {
	return &Tracker{store: s, timeout: timeout, maxMessages: maxMessages}
}

// ShouldAutoRespond reports whether an un-mentioned follow-up in the thread
// should be answered. Expired-by-timeout and expired-by-count states are
// deleted here, so the next explicit address starts with fresh counters.
func (t *Tracker) ShouldAutoRespond(ctx context.Context, threadKey string, now time.Time) bool {
	st, ok := t.get(ctx, threadKey)
	if !ok {
		return false
	}
	if now.Sub(st.LastActivityAt) > t.timeout || st.MessageCount >= t.maxMessages {
		if err := t.store.Delete(ctx, keyPrefix+threadKey); err != nil {
			slog.Warn("expired thread state delete failed", "thread", threadKey, "error", err)
		}
		return false
	}
	return true
}

// RecordExplicitAddress marks the bot as joined (or re-joined) to the thread.
// Re-addressing an active thread refreshes its counters rather than erroring.
// Must be called whenever the bot is explicitly addressed in a thread,
// regardless of what ShouldAutoRespond said.
func (t *Tracker) RecordExplicitAddress(ctx context.Context, threadKey string, now time.Time) {
	st := State{FirstJoinedAt: now, LastActivityAt: now, MessageCount: 1}
	t.put(ctx, threadKey, st)
}

// RecordFollowUp counts an auto-answered follow-up against the thread and
// refreshes its activity time. Returns false if participation has lapsed in
// the meantime. Only call this for messages the bot actually answered —
// ignored traffic (other bots, broadcasts) must not consume the count.
func (t *Tracker) RecordFollowUp(ctx context.Context, threadKey string, now time.Time) bool {
	st, ok := t.get(ctx, threadKey)
	if !ok {
		return false
	}
	if now.Sub(st.LastActivityAt) > t.timeout {
		if err := t.store.Delete(ctx, keyPrefix+threadKey); err != nil {
			slog.Warn("expired thread state delete failed", "thread", threadKey, "error", err)
		}
		return false
	}
	st.MessageCount++
	st.LastActivityAt = now
	t.put(ctx, threadKey, st)
	return true
}

// Reset drops the thread's participation state.
func (t *Tracker) Reset(ctx context.Context, threadKey string) error {
	return t.store.Delete(ctx, keyPrefix+threadKey)
}

func (t *Tracker) get(ctx context.Context, threadKey string) (State, bool) {
	raw, ok, err := t.store.Get(ctx, keyPrefix+threadKey)
	if err != nil {
		slog.Error("thread store unavailable", "thread", threadKey, "error", err)
		return State{}, false
	}
	if !ok {
		return State{}, false
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		slog.Warn("corrupt thread state dropped", "thread", threadKey, "error", err)
		_ = t.store.Delete(ctx, keyPrefix+threadKey)
		return State{}, false
	}
	return st, true
}

func (t *Tracker) put(ctx context.Context, threadKey string, st State) {
	raw, _ := json.Marshal(st)
	// Store TTL doubles as a backstop for the lazy timeout check.
	if err := t.store.Put(ctx, keyPrefix+threadKey, raw, t.timeout); err != nil {
		slog.Error("thread state write failed", "thread", threadKey, "error", err)
	}
}
