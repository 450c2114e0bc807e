// Package channels provides the channel abstraction layer: adapters
// that connect messaging surfaces (terminal, chat platforms) to the
// agent runtime via the message bus.
package channels

import (
	"context"

	"github.com/piyushgupta53/featherbot-sub000/internal/bus"
)

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"system":    true,
	"subagent":  true,
	"heartbeat": true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel is one messaging surface. Implementations publish inbound
// messages on the bus and deliver outbound ones handed to Send.
type Channel interface {
	// Name returns the channel identifier (e.g. "terminal", "telegram").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsAllowed checks if a sender is permitted by the channel's allow-list.
	IsAllowed(senderID string) bool
}

// AllowAll is the allow-list behavior of channels without sender
// restrictions; embed it to accept everyone.
type AllowAll struct{}

func (AllowAll) IsAllowed(string) bool { return true }

// AllowList permits only the configured sender ids. An empty list
// rejects everyone.
type AllowList struct {
	ids map[string]bool
}

// NewAllowList builds an allow-list from configured sender ids.
func NewAllowList(ids []string) *AllowList {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return &AllowList{ids: m}
}

func (a *AllowList) IsAllowed(senderID string) bool {
	return a.ids[senderID]
}
