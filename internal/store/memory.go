package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// maxTrackedKeys caps the number of live entries to prevent memory
// exhaustion from attackers rotating principals or event ids.
const maxTrackedKeys = 65536

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Store backed by a map. Expiry is evaluated
// lazily on read; a prune pass runs when the entry cap is reached.
// Suitable for tests and single-instance deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	nowFn   func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*entry),
		nowFn:   time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (m *Memory) SetNowFunc(fn func() time.Time) { m.nowFn = fn }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.nowFn()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()
	m.entries[key] = &entry{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *Memory) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && !e.expired(m.nowFn()) {
		return false, nil
	}
	m.pruneLocked()
	m.entries[key] = &entry{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Increment(_ context.Context, key string, by int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if ok && !e.expired(m.nowFn()) {
		n, _ := strconv.ParseInt(string(e.value), 10, 64)
		n += by
		e.value = []byte(strconv.FormatInt(n, 10))
		// TTL deliberately untouched: the window's expiry is fixed at first hit.
		return n, nil
	}

	m.pruneLocked()
	m.entries[key] = &entry{
		value:     []byte(strconv.FormatInt(by, 10)),
		expiresAt: m.expiry(ttl),
	}
	return by, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Len reports the number of tracked entries, including not-yet-pruned
// expired ones.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.nowFn().Add(ttl)
}

// pruneLocked drops expired entries when approaching the cap, then falls
// back to hard eviction so the map never exceeds maxTrackedKeys.
func (m *Memory) pruneLocked() {
	if len(m.entries) < maxTrackedKeys {
		return
	}
	now := m.nowFn()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
	for len(m.entries) >= maxTrackedKeys {
		for k := range m.entries {
			delete(m.entries, k)
			break
		}
	}
}
