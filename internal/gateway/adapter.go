// Package gateway is the composition root: it wires the bus, the
// session queue, the agent loop, the scheduler, the heartbeat, the
// sub-agent supervisor and the memory extractor into one runtime.
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/piyushgupta53/featherbot-sub000/internal/agent"
	"github.com/piyushgupta53/featherbot-sub000/internal/bus"
	"github.com/piyushgupta53/featherbot-sub000/internal/channels"
)

// FallbackText is sent when a turn produced no usable text.
const FallbackText = "I couldn't generate a response. Please try again."

// Processor is the queue side of the adapter.
type Processor func(ctx context.Context, msg bus.InboundMessage) (*agent.Result, error)

// Adapter bridges the bus and the session queue: it consumes inbound
// events, runs them through the processor, and publishes the outbound
// reply (including error and batched fallbacks).
type Adapter struct {
	bus     *bus.MessageBus
	process Processor
	owners  *channels.AllowList // nil means no sender restriction

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // sessionKey → outbound limiter
	limit    rate.Limit
	burst    int

	subID int
	wg    sync.WaitGroup
}

// NewAdapter creates an adapter publishing at most ratePerMinute
// outbound messages per chat (0 disables limiting). When owners is
// non-empty, inbound messages from any other sender are dropped.
func NewAdapter(b *bus.MessageBus, process Processor, ratePerMinute int, owners []string) *Adapter {
	a := &Adapter{
		bus:      b,
		process:  process,
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Inf,
		burst:    1,
	}
	if ratePerMinute > 0 {
		a.limit = rate.Limit(float64(ratePerMinute) / 60.0)
		a.burst = ratePerMinute
	}
	if len(owners) > 0 {
		a.owners = channels.NewAllowList(owners)
	}
	return a
}

// Start subscribes to inbound events. Each message is handled on its
// own goroutine; the queue serializes per session.
func (a *Adapter) Start() error {
	id, err := a.bus.Subscribe(bus.KindInbound, func(ev bus.Event) error {
		if ev.Inbound == nil {
			return nil
		}
		msg := *ev.Inbound
		if a.owners != nil && !a.owners.IsAllowed(msg.SenderID) {
			slog.Warn("inbound from unauthorized sender dropped",
				"channel", msg.Channel, "sender", msg.SenderID)
			return nil
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handle(msg)
		}()
		return nil
	})
	if err != nil {
		return err
	}
	a.subID = id
	return nil
}

// Stop unsubscribes and waits for in-flight handlers.
func (a *Adapter) Stop() {
	a.bus.Unsubscribe(bus.KindInbound, a.subID)
	a.wg.Wait()
}

func (a *Adapter) handle(msg bus.InboundMessage) {
	res, err := a.process(context.Background(), msg)

	out := bus.OutboundMessage{
		Channel:            msg.Channel,
		ChatID:             msg.ChatID,
		InReplyToMessageID: msg.MessageID,
	}
	switch {
	case err != nil:
		out.Content = "Error: " + err.Error()
		out.Metadata = map[string]string{"error": "true"}
	case res.IsBatched():
		// Empty content lets the channel clear its typing indicator
		// without sending a duplicate reply.
		out.Content = ""
		out.InReplyToMessageID = ""
		out.Metadata = map[string]string{"batched": "true"}
	case strings.TrimSpace(res.Text) == "":
		out.Content = FallbackText
	default:
		out.Content = strings.TrimSpace(res.Text)
	}

	a.publish(out)
}

// publish rate-limits real outbound messages per session; control
// messages (batched) pass through.
func (a *Adapter) publish(out bus.OutboundMessage) {
	if out.Content != "" {
		limiter := a.limiterFor(bus.SessionKey(out.Channel, out.ChatID))
		if err := limiter.Wait(context.Background()); err != nil {
			slog.Warn("outbound rate limiter interrupted", "channel", out.Channel, "error", err)
			return
		}
	}
	a.bus.PublishOutbound(out)
}

func (a *Adapter) limiterFor(key string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[key]
	if !ok {
		l = rate.NewLimiter(a.limit, a.burst)
		a.limiters[key] = l
	}
	return l
}
