// Package store defines the expiring key/value store that backs event
// deduplication, rate limiting, conversation caching, and thread tracking.
//
// Keys are namespaced by owner component:
//
//	event:{eventId}                       — seen-event markers (dedup)
//	principal:{key}:{window}:{windowId}   — rate-limit counters
//	conv:{principalScopeKey}              — remote conversation ids
//	thread:{threadKey}                    — thread participation state
//
// Components never touch another component's namespace; all access goes
// through each component's public operations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached.
// Callers decide fail-open vs fail-closed per their own policy.
var ErrUnavailable = errors.New("store: unavailable")

// Store is a key/value store with per-key TTL.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a value. Returns ok=false if the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Put stores a value, overwriting any existing entry and resetting its TTL.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores a value only if the key does not exist (or has
	// expired). Returns true if the value was stored.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Increment atomically adds by to the counter at key and returns the new
	// value. The TTL is set only when the key is created; later increments do
	// NOT push the expiry forward, so fixed-window counters expire at the
	// boundary established by their first hit.
	Increment(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
