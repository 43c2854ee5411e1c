// Package bus carries normalized events between channel adapters and the
// gateway consumer loop. Channels publish inbound events and subscribe to
// outbound messages; the router never talks to a platform SDK directly.
package bus

import (
	"context"
	"log/slog"
)

const defaultQueueSize = 256

// MessageBus is an in-process queue pair connecting channels to the gateway.
type MessageBus struct {
	inbound  chan InboundEvent
	outbound chan OutboundMessage
}

// New creates a MessageBus with bounded queues.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundEvent, defaultQueueSize),
		outbound: make(chan OutboundMessage, defaultQueueSize),
	}
}

// PublishInbound enqueues an event from a channel adapter. If the queue is
// full the event is dropped with a log line — platforms redeliver, and
// blocking a platform callback is worse than losing one delivery attempt.
func (b *MessageBus) PublishInbound(ev InboundEvent) {
	select {
	case b.inbound <- ev:
	default:
		slog.Warn("inbound queue full, dropping event",
			"channel", ev.Channel, "event_id", ev.EventID)
	}
}

// ConsumeInbound blocks until an event is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case <-ctx.Done():
		return InboundEvent{}, false
	case ev := <-b.inbound:
		return ev, true
	}
}

// PublishOutbound enqueues a reply for channel delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("outbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// ConsumeOutbound blocks until a reply is available or ctx is done.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}
