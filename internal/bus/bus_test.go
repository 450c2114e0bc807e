package bus

import (
	"errors"
	"testing"
)

// TestPublishDeliversToAllSubscribers verifies synchronous fan-out: every
// handler registered for a kind sees the event before Publish returns.
func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := NewMessageBus()
	var got []string

	for _, name := range []string{"a", "b", "c"} {
		name := name
		if _, err := b.Subscribe(KindInbound, func(ev Event) error {
			got = append(got, name+":"+ev.Inbound.Content)
			return nil
		}); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	b.PublishInbound(InboundMessage{Channel: "terminal", ChatID: "c", Content: "hi"})

	if len(got) != 3 {
		t.Fatalf("expected 3 deliveries, got %d: %v", len(got), got)
	}
}

// TestHandlerErrorDoesNotStopDelivery verifies that a failing handler is
// isolated: remaining handlers still run and the publisher never sees the error.
func TestHandlerErrorDoesNotStopDelivery(t *testing.T) {
	b := NewMessageBus()
	delivered := 0

	b.Subscribe(KindOutbound, func(Event) error { return errors.New("boom") })
	b.Subscribe(KindOutbound, func(Event) error { delivered++; return nil })
	b.Subscribe(KindOutbound, func(Event) error { panic("handler panic") })
	b.Subscribe(KindOutbound, func(Event) error { delivered++; return nil })

	b.PublishOutbound(OutboundMessage{Channel: "terminal", ChatID: "c", Content: "x"})

	if delivered != 2 {
		t.Fatalf("expected 2 healthy handlers to run, got %d", delivered)
	}
}

// TestKindIsolation verifies handlers only see events of their kind.
func TestKindIsolation(t *testing.T) {
	b := NewMessageBus()
	inbound, outbound := 0, 0
	b.Subscribe(KindInbound, func(Event) error { inbound++; return nil })
	b.Subscribe(KindOutbound, func(Event) error { outbound++; return nil })

	b.PublishInbound(InboundMessage{Content: "one"})
	b.PublishInbound(InboundMessage{Content: "two"})
	b.PublishOutbound(OutboundMessage{Content: "three"})

	if inbound != 2 || outbound != 1 {
		t.Fatalf("inbound=%d outbound=%d, want 2/1", inbound, outbound)
	}
}

// TestUnsubscribeStopsDelivery verifies removal by subscription id.
func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMessageBus()
	calls := 0
	id, _ := b.Subscribe(KindInbound, func(Event) error { calls++; return nil })

	b.PublishInbound(InboundMessage{Content: "a"})
	b.Unsubscribe(KindInbound, id)
	b.PublishInbound(InboundMessage{Content: "b"})

	if calls != 1 {
		t.Fatalf("expected 1 call after unsubscribe, got %d", calls)
	}
}

// TestCloseSemantics verifies Publish becomes a no-op and Subscribe fails
// with ErrBusClosed after Close.
func TestCloseSemantics(t *testing.T) {
	b := NewMessageBus()
	calls := 0
	b.Subscribe(KindInbound, func(Event) error { calls++; return nil })

	b.Close()
	b.PublishInbound(InboundMessage{Content: "late"})
	if calls != 0 {
		t.Fatalf("publish after close delivered %d events", calls)
	}

	if _, err := b.Subscribe(KindInbound, func(Event) error { return nil }); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

// TestSessionKey verifies the channel:chatId composite key format.
func TestSessionKey(t *testing.T) {
	if got := SessionKey("telegram", "12345"); got != "telegram:12345" {
		t.Fatalf("SessionKey = %q", got)
	}
}
