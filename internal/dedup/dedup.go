// Package dedup rejects reprocessing of previously seen webhook event ids.
// Platforms redeliver events for minutes when a webhook responds slowly, so
// a short-TTL seen marker is enough for at-most-once processing.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/zriyansh/customgpt-bots/internal/store"
)

const keyPrefix = "event:"

// Deduplicator marks inbound event ids as seen via an atomic set-if-absent.
type Deduplicator struct {
	store store.Store
	ttl   time.Duration

	// failOpen controls behavior when the store is unreachable: true
	// processes the event (risking a duplicate reply), false drops it.
	// Default true — a duplicate answer beats a lost one.
	failOpen bool
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithFailClosed drops events instead of processing them when the store is
// unreachable.
func WithFailClosed() Option {
	return func(d *Deduplicator) { d.failOpen = false }
}

// New creates a Deduplicator. ttl must exceed the platform's webhook retry
// span; it is a tunable, not a correctness parameter, above that floor.
func New(s store.Store, ttl time.Duration, opts ...Option) *Deduplicator {
	d := &Deduplicator{store: s, ttl: ttl, failOpen: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MarkIfNew returns true exactly once per event id within the TTL window.
// A store outage resolves according to the fail-open policy and is logged
// at error level since it silently weakens the at-most-once guarantee.
func (d *Deduplicator) MarkIfNew(ctx context.Context, eventID string) bool {
	isNew, err := d.store.SetIfAbsent(ctx, keyPrefix+eventID, []byte{1}, d.ttl)
	if err != nil {
		slog.Error("dedup store unavailable", "event_id", eventID, "fail_open", d.failOpen, "error", err)
		return d.failOpen
	}
	return isNew
}

// Forget removes the seen marker, allowing the event id to be processed
// again, for events whose handling failed before any user-visible effect.
func (d *Deduplicator) Forget(ctx context.Context, eventID string) error {
	return d.store.Delete(ctx, keyPrefix+eventID)
}
