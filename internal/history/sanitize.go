package history

import (
	"log/slog"

	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
)

// Sanitize repairs a message sequence before it is handed to the LLM:
// every tool message must follow an assistant message carrying the same
// tool call id, and every assistant tool call must have a tool response.
// Orphans are dropped; missing responses get a synthetic interruption
// record. Pure function; the input slice is not modified.
func Sanitize(msgs []providers.Message) []providers.Message {
	if len(msgs) == 0 {
		return msgs
	}

	// Skip leading orphaned tool messages.
	start := 0
	for start < len(msgs) && msgs[start].Role == "tool" {
		slog.Warn("dropping orphaned tool message at history start",
			"tool_call_id", msgs[start].ToolCallID)
		start++
	}
	if start >= len(msgs) {
		return nil
	}

	var result []providers.Message
	for i := start; i < len(msgs); i++ {
		msg := msgs[i]

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			expected := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				expected[tc.ID] = true
			}

			result = append(result, msg)

			// Consume the tool results that follow, keeping only matches.
			for i+1 < len(msgs) && msgs[i+1].Role == "tool" {
				i++
				toolMsg := msgs[i]
				if expected[toolMsg.ToolCallID] {
					result = append(result, toolMsg)
					delete(expected, toolMsg.ToolCallID)
				} else {
					slog.Warn("dropping mismatched tool result",
						"tool_call_id", toolMsg.ToolCallID)
				}
			}

			// Synthesize missing results in declaration order.
			for _, tc := range msg.ToolCalls {
				if !expected[tc.ID] {
					continue
				}
				slog.Warn("synthesizing missing tool result", "tool_call_id", tc.ID)
				result = append(result, providers.Message{
					Role:       "tool",
					Content:    "[Tool result missing — conversation was interrupted]",
					ToolCallID: tc.ID,
				})
			}
		} else if msg.Role == "tool" {
			slog.Warn("dropping orphaned tool message mid-history",
				"tool_call_id", msg.ToolCallID)
		} else {
			result = append(result, msg)
		}
	}

	return result
}
