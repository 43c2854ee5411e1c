package bus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishInbound(InboundEvent{EventID: "e1", Channel: "telegram"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("ConsumeInbound returned no event")
	}
	if ev.EventID != "e1" || ev.Channel != "telegram" {
		t.Errorf("event = %+v", ev)
	}
}

func TestConsumeStopsOnContextCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("ConsumeInbound delivered after cancel")
	}
	if _, ok := b.ConsumeOutbound(ctx); ok {
		t.Error("ConsumeOutbound delivered after cancel")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	// Overfill without a consumer; publishes must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultQueueSize+10; i++ {
			b.PublishInbound(InboundEvent{EventID: fmt.Sprintf("e%d", i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishInbound blocked on a full queue")
	}
}

func TestPrincipalKey(t *testing.T) {
	ev := InboundEvent{Channel: "slack", PrincipalID: "U1"}
	if got := ev.PrincipalKey(); got != "slack:U1" {
		t.Errorf("PrincipalKey = %q, want slack:U1", got)
	}
}

func TestScopeKey(t *testing.T) {
	tests := []struct {
		name string
		ev   InboundEvent
		want string
	}{
		{
			name: "channel scope",
			ev:   InboundEvent{Channel: "slack", PrincipalID: "U1", ScopeID: "C1"},
			want: "slack:U1:C1",
		},
		{
			name: "thread scope",
			ev:   InboundEvent{Channel: "slack", PrincipalID: "U1", ScopeID: "C1", ThreadKey: "171.002"},
			want: "slack:U1:C1:171.002",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.ScopeKey(); got != tt.want {
				t.Errorf("ScopeKey = %q, want %q", got, tt.want)
			}
		})
	}
}
