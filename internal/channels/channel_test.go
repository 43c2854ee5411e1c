package channels

import (
	"context"
	"testing"
	"time"

	"github.com/zriyansh/customgpt-bots/internal/bus"
)

// fakeChannel records sends for Manager tests.
type fakeChannel struct {
	*BaseChannel
	sent []bus.OutboundMessage
}

func newFakeChannel(name string, msgBus *bus.MessageBus) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, msgBus, nil)}
}

func (f *fakeChannel) Start(context.Context) error { f.SetRunning(true); return nil }
func (f *fakeChannel) Stop(context.Context) error  { f.SetRunning(false); return nil }
func (f *fakeChannel) SendTyping(context.Context, string) error { return nil }
func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestIsAllowed(t *testing.T) {
	open := NewBaseChannel("t", bus.New(), nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allowlist rejected a sender")
	}

	restricted := NewBaseChannel("t", bus.New(), []string{"alice", "bob"})
	if !restricted.IsAllowed("alice") {
		t.Error("listed sender rejected")
	}
	if restricted.IsAllowed("mallory") {
		t.Error("unlisted sender admitted")
	}
}

func TestPublishSetsChannelAndFilters(t *testing.T) {
	msgBus := bus.New()
	ch := NewBaseChannel("telegram", msgBus, []string{"alice"})

	ch.Publish(bus.InboundEvent{EventID: "e1", PrincipalID: "alice"})
	ch.Publish(bus.InboundEvent{EventID: "e2", PrincipalID: "mallory"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("allowed event not published")
	}
	if ev.EventID != "e1" || ev.Channel != "telegram" {
		t.Errorf("event = %+v", ev)
	}

	// The disallowed event must not be queued behind it.
	shortCtx, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if ev, ok := msgBus.ConsumeInbound(shortCtx); ok {
		t.Errorf("disallowed event published: %+v", ev)
	}
}

func TestManagerDispatch(t *testing.T) {
	msgBus := bus.New()
	m := NewManager()
	tg := newFakeChannel("telegram", msgBus)
	m.Register(tg)

	err := m.Dispatch(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "1", Text: "hi"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(tg.sent) != 1 || tg.sent[0].Text != "hi" {
		t.Errorf("sent = %+v", tg.sent)
	}

	if err := m.Dispatch(context.Background(), bus.OutboundMessage{Channel: "matrix"}); err == nil {
		t.Error("Dispatch to unknown channel succeeded")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("Truncate = %q", got)
	}
}
