package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/piyushgupta53/featherbot-sub000/internal/bus"
)

// Manager owns the registered channels: it starts and stops them
// together and routes outbound messages to the right adapter.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// Register adds a channel. Registering a duplicate name is an error.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := ch.Name()
	if _, ok := m.channels[name]; ok {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	return nil
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.channels))
	for name := range m.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StartAll starts every channel concurrently; the first failure stops
// the rest and is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, ch := range channels {
		g.Go(func() error {
			if err := ch.Start(ctx); err != nil {
				return fmt.Errorf("start channel %q: %w", ch.Name(), err)
			}
			slog.Info("channel started", "channel", ch.Name())
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every channel; failures are logged, not returned, so
// one stuck adapter cannot block shutdown of the others.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.Stop(ctx); err != nil {
				slog.Warn("channel stop failed", "channel", ch.Name(), "error", err)
			}
		}()
	}
	wg.Wait()
}

// Dispatch delivers an outbound message to its channel. Internal
// channels are dropped silently.
func (m *Manager) Dispatch(ctx context.Context, msg bus.OutboundMessage) {
	if IsInternalChannel(msg.Channel) {
		return
	}
	ch, ok := m.Get(msg.Channel)
	if !ok {
		slog.Warn("outbound for unknown channel dropped", "channel", msg.Channel, "chat", msg.ChatID)
		return
	}
	if err := ch.Send(ctx, msg); err != nil {
		slog.Error("outbound delivery failed", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
	}
}
