// Package channels provides the adapter layer between messaging platforms
// and the router. Each adapter normalizes platform payloads into
// bus.InboundEvent and delivers bus.OutboundMessage replies; everything
// platform-specific stays behind the Channel interface.
package channels

import (
	"context"

	"github.com/zriyansh/customgpt-bots/internal/bus"
)

// Channel is implemented by every platform adapter.
type Channel interface {
	// Name returns the channel identifier ("telegram", "discord", "slack").
	Name() string

	// Start begins receiving platform events. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter.
	Stop(ctx context.Context) error

	// Send delivers an outbound message, threading the reply where the
	// platform supports it.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// SendTyping signals that an answer is being prepared. Platforms
	// without a typing affordance may no-op.
	SendTyping(ctx context.Context, chatID string) error

	// IsRunning reports whether the adapter is actively processing events.
	IsRunning() bool
}

// BaseChannel provides shared functionality for adapter implementations.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	running   bool
	allowList []string
}

// NewBaseChannel creates a BaseChannel.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus, allowList: allowList}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning reports whether the adapter is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// IsAllowed checks the sender against the allowlist. An empty allowlist
// admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if senderID == allowed {
			return true
		}
	}
	return false
}

// Publish forwards a normalized event to the bus after the allowlist check.
// This is the standard path for adapters to hand off received messages.
func (c *BaseChannel) Publish(ev bus.InboundEvent) {
	if !c.IsAllowed(ev.PrincipalID) {
		return
	}
	ev.Channel = c.name
	c.bus.PublishInbound(ev)
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
