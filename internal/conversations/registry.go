// Package conversations caches remote conversation ids per (principal, scope)
// so follow-up messages keep their context on the knowledge-base side.
package conversations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zriyansh/customgpt-bots/internal/store"
)

const keyPrefix = "conv:"

// CreateFunc creates a fresh remote conversation and returns its id.
// It is the caller's collaborator that talks to the downstream API.
type CreateFunc func(ctx context.Context) (string, error)

// Registry maps a principal-scope key to a remote conversation id with
// sliding expiry: unlike rate windows, conversation continuity should
// extend with activity, so every hit refreshes the TTL.
type Registry struct {
	store store.Store
	ttl   time.Duration
}

// New creates a Registry. ttl bounds how long an idle conversation keeps
// its remote id before the next message starts a fresh one.
func New(s store.Store, ttl time.Duration) *Registry {
	return &Registry{store: s, ttl: ttl}
}

// Resolve returns the live conversation id for the key, invoking createFn on
// a miss and caching the result. Two concurrent misses may both create remote
// conversations; the last put wins and the orphan is abandoned. Creation is
// deliberately not serialized — downstream conversation creation is cheap and
// commutative, and a lock would trade availability for nothing the user sees.
func (r *Registry) Resolve(ctx context.Context, principalScopeKey string, createFn CreateFunc) (string, error) {
	key := keyPrefix + principalScopeKey

	cached, ok, err := r.store.Get(ctx, key)
	if err != nil {
		slog.Error("conversation store unavailable", "key", principalScopeKey, "error", err)
		// Degrade to a fresh conversation rather than failing the message.
	}
	if ok {
		// Sliding expiry: refresh on use. A failed refresh only shortens
		// continuity, so the error is not surfaced.
		if err := r.store.Put(ctx, key, cached, r.ttl); err != nil {
			slog.Warn("conversation ttl refresh failed", "key", principalScopeKey, "error", err)
		}
		return string(cached), nil
	}

	id, err := createFn(ctx)
	if err != nil {
		return "", fmt.Errorf("create conversation for %s: %w", principalScopeKey, err)
	}

	if err := r.store.Put(ctx, key, []byte(id), r.ttl); err != nil {
		slog.Warn("conversation cache write failed", "key", principalScopeKey, "error", err)
	}
	return id, nil
}

// Reset deletes the cached id, forcing a fresh remote conversation on the
// next message. This is what the user-facing clear/reset command maps to.
func (r *Registry) Reset(ctx context.Context, principalScopeKey string) error {
	return r.store.Delete(ctx, keyPrefix+principalScopeKey)
}
