package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/piyushgupta53/featherbot-sub000/internal/bus"
)

type fakeChannel struct {
	AllowAll
	name     string
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
	sent    []bus.OutboundMessage
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.started = true
	return nil
}

func (c *fakeChannel) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

func (c *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	m := NewManager()
	if err := m.Register(&fakeChannel{name: "telegram"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(&fakeChannel{name: "telegram"}); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestStartAllAndStopAll(t *testing.T) {
	m := NewManager()
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	m.Register(a)
	m.Register(b)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !a.started || !b.started {
		t.Fatal("not all channels started")
	}

	m.StopAll(context.Background())
	if !a.stopped || !b.stopped {
		t.Fatal("not all channels stopped")
	}
}

func TestStartAllPropagatesFailure(t *testing.T) {
	m := NewManager()
	m.Register(&fakeChannel{name: "ok"})
	m.Register(&fakeChannel{name: "broken", startErr: errors.New("no token")})

	err := m.StartAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("err = %v", err)
	}
}

func TestDispatchRoutesByChannelName(t *testing.T) {
	m := NewManager()
	tg := &fakeChannel{name: "telegram"}
	m.Register(tg)

	m.Dispatch(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "c", Content: "hi"})
	m.Dispatch(context.Background(), bus.OutboundMessage{Channel: "missing", ChatID: "c", Content: "dropped"})
	m.Dispatch(context.Background(), bus.OutboundMessage{Channel: "subagent", ChatID: "c", Content: "internal"})

	if len(tg.sent) != 1 || tg.sent[0].Content != "hi" {
		t.Fatalf("sent = %+v", tg.sent)
	}
}

func TestAllowList(t *testing.T) {
	a := NewAllowList([]string{"42", "99"})
	if !a.IsAllowed("42") || a.IsAllowed("7") {
		t.Fatal("allow-list misbehaves")
	}
	empty := NewAllowList(nil)
	if empty.IsAllowed("42") {
		t.Fatal("empty allow-list must reject")
	}
}
