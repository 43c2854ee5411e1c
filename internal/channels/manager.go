package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zriyansh/customgpt-bots/internal/bus"
)

// Manager owns the set of configured channel adapters: it starts and stops
// them together and dispatches outbound messages to the right one by name.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// Register adds a channel. Registering a duplicate name replaces the
// previous adapter.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns the channel with the given name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names lists registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every registered channel. A channel that fails to start
// is logged and skipped; the gateway runs with whatever connected.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return
	}
	for name, ch := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
}

// StopAll stops every running channel.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(ctx); err != nil {
			slog.Error("failed to stop channel", "channel", name, "error", err)
		}
	}
}

// Dispatch delivers one outbound message to its channel.
func (m *Manager) Dispatch(ctx context.Context, msg bus.OutboundMessage) error {
	ch, ok := m.Get(msg.Channel)
	if !ok {
		return fmt.Errorf("unknown channel %q", msg.Channel)
	}
	return ch.Send(ctx, msg)
}

// SendTyping signals typing on the named channel, if it is registered.
func (m *Manager) SendTyping(ctx context.Context, channel, chatID string) {
	ch, ok := m.Get(channel)
	if !ok {
		return
	}
	if err := ch.SendTyping(ctx, chatID); err != nil {
		slog.Debug("typing indicator failed", "channel", channel, "error", err)
	}
}

// RunOutbound consumes outbound messages from the bus and dispatches them
// until ctx is cancelled. Intended to run as a goroutine.
func (m *Manager) RunOutbound(ctx context.Context, msgBus *bus.MessageBus) {
	for {
		msg, ok := msgBus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		if err := m.Dispatch(ctx, msg); err != nil {
			slog.Error("outbound dispatch failed",
				"channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		}
	}
}
