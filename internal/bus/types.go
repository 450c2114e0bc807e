package bus

import "time"

// Event kinds carried by the message bus.
const (
	KindInbound  = "message:inbound"
	KindOutbound = "message:outbound"
)

// InboundMessage represents a message received from a channel
// (Telegram, WhatsApp, terminal, etc.). Immutable after creation.
type InboundMessage struct {
	MessageID string            `json:"message_id"`
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Media     []string          `json:"media,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel             string            `json:"channel"`
	ChatID              string            `json:"chat_id"`
	Content             string            `json:"content"`
	InReplyToMessageID  string            `json:"in_reply_to_message_id,omitempty"`
	Media               []string          `json:"media,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"` // may carry "error" or "batched"
}

// Event is one bus event: a kind plus its payload. Exactly one of Inbound
// or Outbound is set, matching Kind.
type Event struct {
	Kind     string
	Inbound  *InboundMessage
	Outbound *OutboundMessage
}

// SessionKey builds the routing key for a conversation: "channel:chatId".
// It doubles as the identity of the conversation history.
func SessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}
