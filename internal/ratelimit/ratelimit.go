// Package ratelimit enforces fixed-window request caps per principal across
// multiple concurrent window granularities (per-minute, per-hour, per-day).
//
// Counter keys follow the canonical format:
//
//	principal:{principalKey}:{window}:{windowId}
//
// windowId is the current time floor-divided by the window size, so counters
// for distinct windows never collide and expire independently.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/zriyansh/customgpt-bots/internal/store"
)

const keyPrefix = "principal:"

// Window is one fixed-window cap.
type Window struct {
	Name  string        `json:"name"`
	Size  time.Duration `json:"-"`
	Limit int64         `json:"limit"`
}

// Result is the outcome of a TryConsume call.
type Result struct {
	Allowed bool

	// Window names the tightest (smallest-size) violated window, since that
	// is the one the caller can wait out soonest. Empty when allowed.
	Window string

	// RetryAfter is the remaining time until that window rolls over.
	RetryAfter time.Duration
}

// Limiter increments all configured windows together and rejects the request
// if any of them is over its limit. Windows are independent counters, not
// nested: a request violating only the daily cap still increments (and
// rejects on) the daily counter even though the minute cap has room.
type Limiter struct {
	store   store.Store
	windows []Window

	// failOpen controls behavior on store outage. Default false: silently
	// allowing unlimited requests against a paid downstream API is the worse
	// failure mode, so rate limiting fails closed.
	failOpen bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithFailOpen allows requests through when the store is unreachable.
func WithFailOpen() Option {
	return func(l *Limiter) { l.failOpen = true }
}

// New creates a Limiter over the given windows. Windows are kept sorted by
// size ascending so violation reporting picks the tightest one first.
func New(s store.Store, windows []Window, opts ...Option) *Limiter {
	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	l := &Limiter{store: s, windows: sorted}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryConsume counts one request for the principal against every window and
// reports whether it is allowed. Principals with elevated limits are handled
// by constructing a separate Limiter per principal class, not by
// special-casing here.
//
// The increments must complete even if the caller's request is abandoned:
// pass a context that is not cancelled mid-flight, or counters under-count.
func (l *Limiter) TryConsume(ctx context.Context, principalKey string, now time.Time) Result {
	res := Result{Allowed: true}

	for _, w := range l.windows {
		windowID := now.UnixNano() / int64(w.Size)
		key := fmt.Sprintf("%s%s:%s:%d", keyPrefix, principalKey, w.Name, windowID)

		count, err := l.store.Increment(ctx, key, 1, w.Size)
		if err != nil {
			slog.Error("rate limit store unavailable",
				"principal", principalKey, "window", w.Name, "fail_open", l.failOpen, "error", err)
			if l.failOpen {
				continue
			}
			return Result{Allowed: false, Window: w.Name, RetryAfter: w.Size}
		}

		if count > w.Limit && res.Allowed {
			// First violation wins: windows are sorted tightest-first.
			windowEnd := time.Unix(0, (windowID+1)*int64(w.Size))
			res = Result{
				Allowed:    false,
				Window:     w.Name,
				RetryAfter: windowEnd.Sub(now),
			}
			// Keep iterating: remaining windows must still count this request.
		}
	}

	return res
}

// Reset clears the principal's counters in every window that covers now.
// Maps to the admin "reset limits" command.
func (l *Limiter) Reset(ctx context.Context, principalKey string, now time.Time) error {
	for _, w := range l.windows {
		windowID := now.UnixNano() / int64(w.Size)
		key := fmt.Sprintf("%s%s:%s:%d", keyPrefix, principalKey, w.Name, windowID)
		if err := l.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("reset %s window for %s: %w", w.Name, principalKey, err)
		}
	}
	return nil
}

// Windows exposes the configured windows, tightest first.
func (l *Limiter) Windows() []Window { return l.windows }
